package report

import "strings"

// MaskRule transforms a single field's value for export. The field is
// never removed, only rewritten.
type MaskRule struct {
	Field string
	Apply func(string) string
}

// DefaultMaskRules covers the two PII fields the exports carry.
func DefaultMaskRules() []MaskRule {
	return []MaskRule{
		{Field: "email", Apply: MaskEmail},
		{Field: "phone_number", Apply: MaskPhone},
	}
}

// MaskEmail keeps the local part and replaces every character of each
// domain label with '*'. A value without exactly one '@' is reduced to the
// part before it.
func MaskEmail(v string) string {
	if v == "" {
		return v
	}
	parts := strings.Split(v, "@")
	if len(parts) != 2 {
		return parts[0]
	}
	labels := strings.Split(parts[1], ".")
	for i, label := range labels {
		labels[i] = strings.Repeat("*", len(label))
	}
	return parts[0] + "@" + strings.Join(labels, ".")
}

// MaskPhone keeps the last four characters and stars the rest; values
// shorter than four characters are fully starred.
func MaskPhone(v string) string {
	if v == "" {
		return v
	}
	if len(v) >= 4 {
		return strings.Repeat("*", len(v)-4) + v[len(v)-4:]
	}
	return strings.Repeat("*", len(v))
}
