package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testIssuer = "https://sso.example.com/auth/realms/master"

type keymap map[string]*rsa.PublicKey

func (m keymap) Get(kid string) (*rsa.PublicKey, bool) {
	k, ok := m[kid]
	return k, ok
}

type tokenOpts struct {
	kid    string
	issuer string
	sub    string
	org    string
	exp    time.Time
}

// mintToken signs a credential the way the SSO server would.
func mintToken(t *testing.T, priv *rsa.PrivateKey, opts tokenOpts) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss": opts.issuer,
		"sub": opts.sub,
		"org": opts.org,
		"exp": opts.exp.Unix(),
		"jti": uuid.NewString(),
	})
	tok.Header["kid"] = opts.kid
	signed, err := tok.SignedString(priv)
	require.NoError(t, err)
	return signed
}

func newTestValidator(t *testing.T, checkExpiry bool) (*Validator, *rsa.PrivateKey) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keys := keymap{"key-1": &priv.PublicKey}
	return NewValidator(keys, testIssuer, checkExpiry, zap.NewNop()), priv
}

func validOpts() tokenOpts {
	return tokenOpts{
		kid:    "key-1",
		issuer: testIssuer,
		sub:    "f:3c1e2a:user-42",
		org:    "org-123",
		exp:    time.Now().Add(time.Hour),
	}
}

func TestVerifyValidToken(t *testing.T) {
	v, priv := newTestValidator(t, true)

	id, err := v.Verify(mintToken(t, priv, validOpts()))
	require.NoError(t, err)
	assert.Equal(t, "user-42", id.UserID, "subject is the last colon segment")
	assert.Equal(t, "org-123", id.OrgID)
}

func TestVerifyIssuerCaseInsensitive(t *testing.T) {
	v, priv := newTestValidator(t, true)
	opts := validOpts()
	opts.issuer = strings.ToUpper(testIssuer)

	_, err := v.Verify(mintToken(t, priv, opts))
	assert.NoError(t, err)
}

func TestVerifyUnknownKeyRejected(t *testing.T) {
	v, priv := newTestValidator(t, true)
	opts := validOpts()
	opts.kid = "rotated-away"

	_, err := v.Verify(mintToken(t, priv, opts))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifyTamperedPayloadRejected(t *testing.T) {
	v, priv := newTestValidator(t, true)
	token := mintToken(t, priv, validOpts())

	// Rewrite a single claim after signing; the signature must no longer
	// verify over the new payload segment.
	segments := strings.Split(token, ".")
	payload, err := base64.RawURLEncoding.DecodeString(segments[1])
	require.NoError(t, err)
	tampered := strings.Replace(string(payload), "org-123", "org-999", 1)
	segments[1] = base64.RawURLEncoding.EncodeToString([]byte(tampered))

	_, err = v.Verify(strings.Join(segments, "."))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifyExpiry(t *testing.T) {
	expired := validOpts()
	expired.exp = time.Now().Add(-time.Minute)

	t.Run("checked", func(t *testing.T) {
		v, priv := newTestValidator(t, true)
		_, err := v.Verify(mintToken(t, priv, expired))
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("unchecked", func(t *testing.T) {
		v, priv := newTestValidator(t, false)
		id, err := v.Verify(mintToken(t, priv, expired))
		require.NoError(t, err, "expiry is ignored, signature and issuer still hold")
		assert.Equal(t, "org-123", id.OrgID)
	})
}

func TestVerifyWrongIssuerRejected(t *testing.T) {
	v, priv := newTestValidator(t, true)
	opts := validOpts()
	opts.issuer = "https://evil.example.com/auth/realms/master"

	_, err := v.Verify(mintToken(t, priv, opts))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifyMalformedTokens(t *testing.T) {
	v, _ := newTestValidator(t, true)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"two segments", "abc.def"},
		{"four segments", "a.b.c.d"},
		{"invalid base64", "!!!.???.###"},
		{"garbage json", base64.RawURLEncoding.EncodeToString([]byte("hi")) + "." +
			base64.RawURLEncoding.EncodeToString([]byte("there")) + ".sig"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			assert.ErrorIs(t, err, ErrUnauthorized, "validator fails closed, never panics")
		})
	}
}

func TestVerifyRejectsForeignAlg(t *testing.T) {
	v, _ := newTestValidator(t, true)

	// HS256 token keyed with public material must never verify.
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": testIssuer,
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	tok.Header["kid"] = "key-1"
	signed, err := tok.SignedString([]byte("shared-secret"))
	require.NoError(t, err)

	_, err = v.Verify(signed)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifyPaddedSignatureSegment(t *testing.T) {
	v, priv := newTestValidator(t, true)
	token := mintToken(t, priv, validOpts())

	// Some clients transmit padded base64; the validator pads to a
	// four-character multiple itself, so both forms verify.
	segments := strings.Split(token, ".")
	raw, err := base64.RawURLEncoding.DecodeString(segments[2])
	require.NoError(t, err)
	segments[2] = base64.URLEncoding.EncodeToString(raw)

	_, err = v.Verify(strings.Join(segments, "."))
	assert.NoError(t, err)
}
