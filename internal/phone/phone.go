// Package phone normalizes free-form phone numbers into transport-addressable
// contact identifiers.
package phone

import (
	"strings"

	"github.com/coordination-labs/messaging-gateway/internal/audit"
	"github.com/coordination-labs/messaging-gateway/internal/errors"
)

const (
	// DefaultCountryCode is prepended to bare 10-digit numbers when no
	// policy override is configured.
	DefaultCountryCode = "1"
	// DefaultSuffix is the transport's contact-identifier domain.
	DefaultSuffix = "c.us"

	minDigits = 10
	maxDigits = 15
)

// Normalizer converts raw phone strings into canonical addresses of the form
// {digits}@{suffix}. Every attempt is reported to the audit log with its
// boolean outcome.
type Normalizer struct {
	countryCode string
	suffix      string
	audit       *audit.Log
}

// NewNormalizer builds a normalizer. Empty countryCode or suffix fall back to
// the defaults.
func NewNormalizer(countryCode, suffix string, auditLog *audit.Log) *Normalizer {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	if suffix == "" {
		suffix = DefaultSuffix
	}
	return &Normalizer{countryCode: countryCode, suffix: suffix, audit: auditLog}
}

func digitsOf(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Normalize converts one raw input. It strips non-digits, rejects digit
// counts outside [10,15], prepends the country code to bare 10-digit
// numbers, and appends the transport suffix.
func (n *Normalizer) Normalize(raw string) (string, error) {
	digits := digitsOf(raw)

	if len(digits) < minDigits || len(digits) > maxDigits {
		if n.audit != nil {
			n.audit.LogPhoneValidation(raw, false)
		}
		return "", errors.InvalidPhoneFormat([]string{raw})
	}

	switch {
	case len(digits) == minDigits:
		digits = n.countryCode + digits
	case len(digits) == minDigits+len(n.countryCode) && strings.HasPrefix(digits, n.countryCode):
		// Already carries the country code.
	}

	if n.audit != nil {
		n.audit.LogPhoneValidation(raw, true)
	}
	return digits + "@" + n.suffix, nil
}

// NormalizeAll normalizes a batch all-or-nothing: if any input fails, the
// whole batch is rejected and the error lists every offending raw input.
func (n *Normalizer) NormalizeAll(raws []string) ([]string, error) {
	normalized := make([]string, 0, len(raws))
	var invalid []string

	for _, raw := range raws {
		addr, err := n.Normalize(raw)
		if err != nil {
			invalid = append(invalid, raw)
			continue
		}
		normalized = append(normalized, addr)
	}

	if len(invalid) > 0 {
		return nil, errors.InvalidPhoneFormat(invalid)
	}
	return normalized, nil
}
