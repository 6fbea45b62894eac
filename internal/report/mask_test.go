package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskEmail(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "asha@example.com", "asha@*******.***"},
		{"subdomain", "r@mail.gov.in", "r@****.***.**"},
		{"no at sign", "not-an-email", "not-an-email"},
		{"two at signs", "a@b@c.com", "a"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskEmail(tt.in))
		})
	}
}

func TestMaskPhone(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"ten digits", "9876512245", "******2245"},
		{"exactly four", "1234", "1234"},
		{"short", "123", "***"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskPhone(tt.in))
		})
	}
}

// Masking is not idempotent and is never applied twice: one application
// must keep the last four original characters intact.
func TestMaskPhoneAppliedOnce(t *testing.T) {
	masked := MaskPhone("9876512245")
	assert.Equal(t, "2245", masked[len(masked)-4:])
}
