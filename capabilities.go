package sqltmpl

// Feature represents DB-specific feature flags
type Feature int

const (
	FeatureLimitOffset         Feature = iota + 1 // LIMIT n OFFSET m
	FeatureNumberedPlaceholder                    // $n
	FeatureArrayBind                              // slice bound as one array value
)

// Capabilities defines which features are supported by each dialect
var Capabilities = map[Dialect]map[Feature]bool{
	DialectPostgres: {
		FeatureLimitOffset:         true,
		FeatureNumberedPlaceholder: true,
		FeatureArrayBind:           true,
	},
	DialectMySQL: {
		FeatureLimitOffset:         true,
		FeatureNumberedPlaceholder: false,
		FeatureArrayBind:           false,
	},
	DialectMariaDB: {
		FeatureLimitOffset:         true,
		FeatureNumberedPlaceholder: false,
		FeatureArrayBind:           false,
	},
	DialectSQLite: {
		FeatureLimitOffset:         true,
		FeatureNumberedPlaceholder: false,
		FeatureArrayBind:           false,
	},
}

// Supports reports whether the dialect has the feature.
// Unresolved dialects support nothing.
func Supports(d Dialect, f Feature) bool {
	return Capabilities[d][f]
}
