package keystore

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeKeyFile(t *testing.T, dir, name string, key *rsa.PublicKey) {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(key)
	require.NoError(t, err)
	content := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), content, 0o600))
}

func TestLoadAndGet(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	dir := t.TempDir()
	writeKeyFile(t, dir, "key-1", &priv.PublicKey)
	writeKeyFile(t, dir, "key-2", &priv.PublicKey)

	ks := New(zap.NewNop())
	require.NoError(t, ks.Load(dir))
	require.Equal(t, 2, ks.Len())

	key, ok := ks.Get("key-1")
	assert.True(t, ok)
	assert.True(t, key.Equal(&priv.PublicKey))

	_, ok = ks.Get("unknown")
	assert.False(t, ok)
}

func TestLoadSkipsMalformedFiles(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	dir := t.TempDir()
	writeKeyFile(t, dir, "good", &priv.PublicKey)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "garbage"), []byte("not a key"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty"), nil, 0o600))

	ks := New(zap.NewNop())
	require.NoError(t, ks.Load(dir), "malformed keys must not abort startup")
	assert.Equal(t, 1, ks.Len())

	_, ok := ks.Get("good")
	assert.True(t, ok)
	_, ok = ks.Get("garbage")
	assert.False(t, ok)
}

func TestLoadWalksSubdirectories(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	dir := t.TempDir()
	sub := filepath.Join(dir, "rotated")
	require.NoError(t, os.Mkdir(sub, 0o755))
	writeKeyFile(t, sub, "nested-key", &priv.PublicKey)

	ks := New(zap.NewNop())
	require.NoError(t, ks.Load(dir))
	_, ok := ks.Get("nested-key")
	assert.True(t, ok)
}

func TestLoadMissingDirFails(t *testing.T) {
	ks := New(zap.NewNop())
	assert.Error(t, ks.Load(filepath.Join(t.TempDir(), "nope")))
}
