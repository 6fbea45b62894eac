// Package extract orchestrates report requests: scope checks, range
// validation, fetching from both backing stores and assembly of the
// streamed output. One parameterized pipeline serves every endpoint
// shape.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"orgpulse.org/internal/auth"
	"orgpulse.org/internal/report"
	"orgpulse.org/internal/store"
	"orgpulse.org/internal/warehouse"
)

var (
	// ErrForbidden means the verified org scope does not cover the
	// requested organization(s). Returned before any fetch happens.
	ErrForbidden = errors.New("extract: organization not authorized")
	// ErrNoData means the pipeline produced zero rows.
	ErrNoData = errors.New("extract: no data found")
	// ErrUpstream wraps backing-store failures.
	ErrUpstream = errors.New("extract: upstream store failure")
)

// RowFetcher is the slice of store.Fetcher the pipeline uses. One
// fetcher holds one pooled connection; Close returns it.
type RowFetcher interface {
	FetchTable(ctx context.Context, table string, filters []store.Filter, columns []string) *report.Table
	FetchSource(ctx context.Context, table string, filters []store.Filter, columns []string) report.Source
	Close()
}

// Fetchers hands out a RowFetcher per request.
type Fetchers func(ctx context.Context) (RowFetcher, error)

// PoolFetchers adapts the connection pool to the Fetchers contract.
func PoolFetchers(p *store.Pool) Fetchers {
	return func(ctx context.Context) (RowFetcher, error) {
		f, err := p.Fetcher(ctx)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
}

// Config carries the table names and projections the pipeline fetches.
type Config struct {
	UserTable        string
	EnrolmentTable   string
	UserColumns      []string
	EnrolmentColumns []string
	// DefaultEnrolmentColumns is applied to warehouse enrolment reports
	// when the caller requests no columns.
	DefaultEnrolmentColumns []string
	MaskingEnabled          bool
	// FullReportOrgIDs is the configured descendant-org fallback used
	// when the hierarchy table cannot be queried.
	FullReportOrgIDs []string
}

// Service is the per-request pipeline: validate scope, validate range,
// fetch, assemble, hand back a lazily streamed report. Cleanup of pooled
// connections and intermediate tables is owned by the returned stream.
type Service struct {
	fetchers Fetchers
	wh       *warehouse.Queries
	cfg      Config
	log      *zap.Logger
}

// New wires the pipeline to its stores.
func New(cfg Config, fetchers Fetchers, wh *warehouse.Queries, log *zap.Logger) *Service {
	return &Service{fetchers: fetchers, wh: wh, cfg: cfg, log: log}
}

// authorize rejects any requested org outside the verified scope. A nil
// scope means validation is disabled for the deployment.
func authorize(scope *auth.Identity, orgIDs []string) error {
	if scope == nil {
		return nil
	}
	if scope.OrgID == "" {
		return ErrForbidden
	}
	for _, org := range orgIDs {
		if org != scope.OrgID {
			return ErrForbidden
		}
	}
	return nil
}

// OrgActivity serves the relational-store report: users of the orgs
// joined with their enrolments inside the window, streamed without
// materializing the join.
func (s *Service) OrgActivity(ctx context.Context, scope *auth.Identity, orgIDs []string, startDate, endDate string) (*report.Stream, error) {
	if err := authorize(scope, orgIDs); err != nil {
		return nil, err
	}
	dr, err := report.ParseDateRange(startDate, endDate)
	if err != nil {
		return nil, err
	}

	fetcher, err := s.fetchers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	users := fetcher.FetchTable(ctx, s.cfg.UserTable,
		[]store.Filter{store.In("mdo_id", orgIDs)}, s.cfg.UserColumns)
	if users.Empty() {
		fetcher.Close()
		return nil, ErrNoData
	}

	enrolments := fetcher.FetchSource(ctx, s.cfg.EnrolmentTable,
		[]store.Filter{
			store.In("user_id", users.ColumnStrings("user_id")),
			store.Gte("enrolled_on", dr.Start),
			store.Lte("enrolled_on", dr.End),
		}, s.cfg.EnrolmentColumns)

	joined := report.NewJoinSource(users, enrolments, "user_id")
	first, err := joined.Next()
	if err != nil {
		joined.Close()
		fetcher.Close()
		if errors.Is(err, io.EOF) {
			return nil, ErrNoData
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	src := report.NewPeekedSource(joined, first)
	return report.Assemble(src, nil, nil, s.log, fetcher.Close), nil
}

// OrgEnrolments serves the warehouse enrolment report for one org, or for
// the org's full descendant set in full-report mode.
func (s *Service) OrgEnrolments(ctx context.Context, scope *auth.Identity, orgID, startDate, endDate string, fullReport bool, columns []string) (*report.Stream, error) {
	if err := authorize(scope, []string{orgID}); err != nil {
		return nil, err
	}
	dr, err := report.ParseDateRange(startDate, endDate)
	if err != nil {
		return nil, err
	}

	orgs, err := s.expandOrgs(ctx, orgID, fullReport)
	if err != nil {
		return nil, err
	}
	table, err := s.wh.Enrolments(ctx, orgs, &dr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if table.Empty() {
		return nil, ErrNoData
	}

	if len(columns) == 0 {
		columns = s.cfg.DefaultEnrolmentColumns
	}
	return report.Assemble(report.NewTableSource(table), columns, nil, s.log), nil
}

// UserSync resolves one user by email, phone or external id and streams
// that user's enrolments, optionally bounded to a window.
func (s *Service) UserSync(ctx context.Context, scope *auth.Identity, orgID, email, phone, externalID, startDate, endDate string, columns []string) (*report.Stream, error) {
	if err := authorize(scope, []string{orgID}); err != nil {
		return nil, err
	}
	dr, err := optionalRange(startDate, endDate)
	if err != nil {
		return nil, err
	}

	users, err := s.wh.LookupUser(ctx, email, phone, externalID)
	if err != nil {
		if errors.Is(err, warehouse.ErrNoLookupFilter) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if users.Empty() {
		return nil, ErrNoData
	}

	table, err := s.wh.EnrolmentsForUsers(ctx, users.ColumnStrings("user_id"), dr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if table.Empty() {
		return nil, ErrNoData
	}

	if len(columns) == 0 {
		columns = s.cfg.DefaultEnrolmentColumns
	}
	return report.Assemble(report.NewTableSource(table), columns, nil, s.log), nil
}

// OrgUsers serves the warehouse user report, masked when masking is
// enabled, optionally bounded to a registration window.
func (s *Service) OrgUsers(ctx context.Context, scope *auth.Identity, orgID, startDate, endDate string, fullReport bool, columns []string) (*report.Stream, error) {
	if err := authorize(scope, []string{orgID}); err != nil {
		return nil, err
	}
	dr, err := optionalRange(startDate, endDate)
	if err != nil {
		return nil, err
	}

	orgs, err := s.expandOrgs(ctx, orgID, fullReport)
	if err != nil {
		return nil, err
	}
	table, err := s.wh.Users(ctx, orgs, dr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if table.Empty() {
		return nil, ErrNoData
	}

	var masks []report.MaskRule
	if s.cfg.MaskingEnabled {
		masks = report.DefaultMaskRules()
	}
	return report.Assemble(report.NewTableSource(table), columns, masks, s.log), nil
}

// expandOrgs resolves the org set for a request. Full-report mode expands
// via the hierarchy table, falling back to the configured static list
// when the hierarchy is not queryable.
func (s *Service) expandOrgs(ctx context.Context, orgID string, fullReport bool) ([]string, error) {
	if !fullReport {
		return []string{orgID}, nil
	}
	orgs, err := s.wh.DescendantOrgs(ctx, orgID)
	if err == nil {
		return orgs, nil
	}
	if len(s.cfg.FullReportOrgIDs) > 0 {
		s.log.Warn("hierarchy expansion failed, using configured org list", zap.Error(err))
		out := []string{orgID}
		for _, id := range s.cfg.FullReportOrgIDs {
			if id != orgID {
				out = append(out, id)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
}

// optionalRange parses a window where both-empty means unbounded and a
// half-given pair is invalid.
func optionalRange(startDate, endDate string) (*report.DateRange, error) {
	if startDate == "" && endDate == "" {
		return nil, nil
	}
	dr, err := report.ParseDateRange(startDate, endDate)
	if err != nil {
		return nil, err
	}
	return &dr, nil
}
