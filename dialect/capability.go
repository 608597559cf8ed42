package dialect

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Capability is the per-backend boolean/scalar capability table described
// in spec.md §3. Every dialect implementation embeds one and answers
// Dialect methods from it; unknown/unset flags default to their zero
// value (false / 0), which is always the conservative choice.
type Capability struct {
	Product SupportedDatabase

	ParameterMarker         string
	SupportsNamedParameters bool
	MaxParameters           int
	NameMaxLen              int
	NamePattern             *regexp.Regexp

	QuotePrefix        string
	QuoteSuffix        string
	CompositeSeparator string

	PrepareStatements bool
	ProcWrapping      ProcWrappingStyle

	SupportsMerge              bool
	SupportsInsertOnConflict   bool
	SupportsOnDuplicateKey     bool
	SupportsMergeReturning     bool
	SupportsSavepoints         bool
	SupportsWindowFunctions    bool
	SupportsCTEs               bool
	SupportsJSON               bool
	SupportsArrays             bool
	SupportsXML                bool
	SupportsTemporal           bool
	SupportsUniqueDetection    bool
	SupportsRCSI               bool // SQL Server/Postgres read-committed-snapshot isolation

	MaxSQLFeatureTier int

	SupportedIsolationLevels []IsolationLevel
	ProfileMap               map[IsolationProfile]IsolationLevel

	LastInsertIDQuery string
}

// MaxBindableParameters returns 0.9 x MaxParameters, rounded down, which
// is the most parameters a single container may bind: AddParameter
// accepts exactly this many and rejects the next (spec.md §3 invariant
// ii, §9 "chunking constant").
func (c Capability) MaxBindableParameters() int {
	return int(float64(c.MaxParameters) * 0.9)
}

// SupportsIsolation reports whether level appears in
// SupportedIsolationLevels.
func (c Capability) SupportsIsolation(level IsolationLevel) bool {
	for _, l := range c.SupportedIsolationLevels {
		if l == level {
			return true
		}
	}
	return false
}

// stripQuotes removes any quote characters already present in a segment
// before re-wrapping it, preventing double-quoting (spec.md §4.1).
func stripQuotes(segment, prefix, suffix string) string {
	segment = strings.TrimSpace(segment)
	for _, q := range []string{prefix, suffix, `"`, "`", "[", "]"} {
		if q == "" {
			continue
		}
		segment = strings.TrimPrefix(segment, q)
		segment = strings.TrimSuffix(segment, q)
	}
	return segment
}

// WrapIdentifier splits name on CompositeSeparator and quotes each segment
// with QuotePrefix/QuoteSuffix, stripping any existing quote characters
// first. Idempotent: WrapIdentifier(WrapIdentifier(n)) == WrapIdentifier(n).
func (c Capability) WrapIdentifier(name string) string {
	sep := c.CompositeSeparator
	if sep == "" {
		sep = "."
	}
	parts := strings.Split(name, sep)
	wrapped := make([]string, len(parts))
	for i, p := range parts {
		stripped := stripQuotes(p, c.QuotePrefix, c.QuoteSuffix)
		wrapped[i] = c.QuotePrefix + stripped + c.QuoteSuffix
	}
	return strings.Join(wrapped, sep)
}

// ParameterMarkerAt returns the positional or named parameter marker for
// the given ordinal/name pair. When the dialect does not support named
// parameters, it always returns "?" regardless of name.
func (c Capability) ParameterMarkerAt(ordinal int, name string) string {
	if !c.SupportsNamedParameters {
		return "?"
	}
	return c.ParameterMarker + name
}

// randomNameAlphabet is restricted to [A-Za-z0-9_] with the first
// character always a letter, satisfying name_pattern for every backend in
// this package.
const randomNameAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_"

// GenerateParameterName returns a random identifier of length in [2,
// NameMaxLen] whose first character is a letter, or a positional name pN
// when named parameters are unsupported. randSource must be a
// cryptographically-irrelevant, caller-supplied byte source (tests can
// inject a deterministic one); this package supplies no default source.
func (c Capability) GenerateParameterName(ordinal int, randSource func(n int) []byte) (string, error) {
	if !c.SupportsNamedParameters {
		return "p" + strconv.Itoa(ordinal), nil
	}
	maxLen := c.NameMaxLen
	if maxLen < 2 {
		maxLen = 2
	}
	length := 2
	if maxLen > 2 {
		b := randSource(1)
		length = 2 + int(b[0])%(maxLen-1)
	}
	raw := randSource(length)
	var sb strings.Builder
	letters := "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	sb.WriteByte(letters[int(raw[0])%len(letters)])
	for i := 1; i < length; i++ {
		sb.WriteByte(randomNameAlphabet[int(raw[i])%len(randomNameAlphabet)])
	}
	name := sb.String()
	if c.NamePattern != nil && !c.NamePattern.MatchString(name) {
		return "", fmt.Errorf("dialect: generated parameter name %q does not satisfy name_pattern", name)
	}
	return name, nil
}
