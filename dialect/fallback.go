package dialect

import "regexp"

// fallbackNamePattern accepts any identifier starting with a letter; the
// fallback dialect has no backend-specific naming quirks to encode.
var fallbackNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// NewFallback returns the conservative fallback dialect used when product
// detection cannot positively identify a backend (spec.md §4.1: "fails
// with DialectDetectionError only if the probe itself throws; otherwise
// returns a fallback dialect marked is_fallback=true with conservative
// capabilities"). Every optional capability is disabled so the fallback
// never emits a statement an unknown backend cannot parse.
func NewFallback() Dialect {
	return fallbackDialect{baseDialect{
		isFallback: true,
		cap: Capability{
			Product:                 Unknown,
			ParameterMarker:         "?",
			SupportsNamedParameters: false,
			MaxParameters:           999,
			NameMaxLen:              30,
			NamePattern:             fallbackNamePattern,
			QuotePrefix:             `"`,
			QuoteSuffix:             `"`,
			CompositeSeparator:      ".",
			PrepareStatements:       false,
			ProcWrapping:            ProcNone,
			SupportedIsolationLevels: []IsolationLevel{
				LevelReadCommitted,
			},
			ProfileMap: map[IsolationProfile]IsolationLevel{
				SafeNonBlockingReads: LevelReadCommitted,
				StrictConsistency:    LevelReadCommitted,
				FastWithRisks:        LevelReadCommitted,
			},
		},
	}}
}

type fallbackDialect struct{ baseDialect }

func (fallbackDialect) SessionPreamble(bool) string { return "" }

func (fallbackDialect) WrapProcedureCall(name string, args []string, _ ExecutionType) string {
	return name
}

func (fallbackDialect) IsUniqueViolation(error) bool { return false }
