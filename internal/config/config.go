// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the full environment surface of the service. Secrets come
// only from the environment; everything else carries a workable default.
type Config struct {
	Addr string `env:"LISTEN_ADDR" env-default:":8080"`
	Env  string `env:"ENVIRONMENT" env-default:"production"`

	// Relational store
	PostgresDSN    string `env:"PG_DSN"`
	PoolMinConns   int32  `env:"PG_POOL_MIN_CONNS" env-default:"2"`
	PoolMaxConns   int32  `env:"PG_POOL_MAX_CONNS" env-default:"10"`
	UserTable      string `env:"USER_DETAILS_TABLE" env-default:"user_detail"`
	EnrolmentTable string `env:"USER_ENROLMENTS_TABLE" env-default:"user_enrolments"`
	FetchChunkSize int    `env:"FETCH_CHUNK_SIZE" env-default:"1000"`

	// Analytical warehouse
	WarehouseProject        string `env:"WAREHOUSE_PROJECT"`
	WarehouseDataset        string `env:"WAREHOUSE_DATASET" env-default:"cumulative_master_data"`
	WarehouseEnrolmentTable string `env:"WAREHOUSE_ENROLMENT_TABLE" env-default:"master_user_enrolments"`
	WarehouseUserTable      string `env:"WAREHOUSE_USER_TABLE" env-default:"master_user_details"`
	WarehouseHierarchyTable string `env:"WAREHOUSE_ORG_HIERARCHY_TABLE" env-default:"master_org_hierarchy_data"`

	// Authentication
	SSOBaseURL           string `env:"SSO_URL" env-default:"https://sso.example.com/auth/"`
	SSORealm             string `env:"SSO_REALM" env-default:"master"`
	ValidationEnabled    bool   `env:"IS_VALIDATION_ENABLED" env-default:"false"`
	CheckTokenExpiry     bool   `env:"CHECK_TOKEN_EXPIRY" env-default:"true"`
	PublicKeyBasePath    string `env:"ACCESS_TOKEN_PUBLICKEY_BASEPATH"`
	MaskingEnabled       bool   `env:"IS_MASKING_ENABLED" env-default:"true"`
	FullReportOrgIDsList string `env:"FULL_REPORT_ORG_IDS"`

	// HTTP hardening
	RateBurst    int   `env:"RATE_BURST" env-default:"20"`
	RatePerSec   int   `env:"RATE_PER_SEC" env-default:"10"`
	MaxBodyBytes int64 `env:"MAX_BODY_BYTES" env-default:"1048576"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Issuer is the expected token issuer: the SSO base URL joined with the
// realm path.
func (c *Config) Issuer() string {
	base := c.SSOBaseURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + "realms/" + c.SSORealm
}

// WarehouseTable qualifies a table name with project and dataset.
func (c *Config) WarehouseTable(table string) string {
	if c.WarehouseProject == "" || table == "" {
		return ""
	}
	return c.WarehouseProject + "." + c.WarehouseDataset + "." + table
}

// FullReportOrgIDs parses the configured comma-separated org id list.
func (c *Config) FullReportOrgIDs() []string {
	if strings.TrimSpace(c.FullReportOrgIDsList) == "" {
		return nil
	}
	parts := strings.Split(c.FullReportOrgIDsList, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
