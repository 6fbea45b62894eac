// Package keystore loads RSA public keys from a directory at startup and
// serves lookups by key id for the lifetime of the process.
package keystore

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

const (
	pemHeader = "-----BEGIN PUBLIC KEY-----"
	pemFooter = "-----END PUBLIC KEY-----"
)

// KeyStore maps key ids (file names) to parsed RSA public keys. The map
// is populated once by Load and read-only afterwards, so concurrent reads
// need no locking.
type KeyStore struct {
	keys map[string]*rsa.PublicKey
	log  *zap.Logger
}

// New returns an empty KeyStore.
func New(log *zap.Logger) *KeyStore {
	return &KeyStore{
		keys: make(map[string]*rsa.PublicKey),
		log:  log,
	}
}

// Load walks basePath and parses every regular file as a PEM public key,
// stored under the file's name. A file that fails to parse is logged and
// skipped; only a failure to walk the tree itself is returned as an error.
func (ks *KeyStore) Load(basePath string) error {
	err := filepath.WalkDir(basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			ks.log.Error("keystore: read public key", zap.String("path", path), zap.Error(err))
			return nil
		}
		key, err := parsePublicKey(string(content))
		if err != nil {
			ks.log.Error("keystore: parse public key", zap.String("path", path), zap.Error(err))
			return nil
		}
		ks.keys[d.Name()] = key
		return nil
	})
	if err != nil {
		return fmt.Errorf("keystore: load %s: %w", basePath, err)
	}
	ks.log.Info("keystore loaded", zap.Int("keys", len(ks.keys)))
	return nil
}

// Get returns the key for the id, if present. It never fails.
func (ks *KeyStore) Get(keyID string) (*rsa.PublicKey, bool) {
	key, ok := ks.keys[keyID]
	return key, ok
}

// Len returns the number of loaded keys.
func (ks *KeyStore) Len() int { return len(ks.keys) }

// parsePublicKey strips PEM markers and whitespace, base64-decodes the
// body and parses PKIX DER. Only RSA keys are accepted.
func parsePublicKey(content string) (*rsa.PublicKey, error) {
	body := strings.ReplaceAll(content, pemHeader, "")
	body = strings.ReplaceAll(body, pemFooter, "")
	body = strings.Join(strings.Fields(body), "")
	if body == "" {
		return nil, errors.New("empty key body")
	}
	der, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("decode key body: %w", err)
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse PKIX key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unsupported key type %T", parsed)
	}
	return key, nil
}
