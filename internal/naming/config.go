// Package naming converts SQL column names to property names, including
// pluralization of nested collection names and underscore-insensitive folding.
package naming

// Config renames derived properties. Keys are matched case-insensitively;
// prefix keys ignore leading and trailing underscores.
type Config struct {
	// Collections maps a column prefix to the property holding its nested list.
	// Example: {"person_": "staff"}
	Collections map[string]string `mapstructure:"collections"`

	// Associations maps a column prefix to the property holding its nested object.
	Associations map[string]string `mapstructure:"associations"`

	// Fields maps a column name to the property it fills.
	// Example: {"usr_nm": "userName"}
	Fields map[string]string `mapstructure:"fields"`
}

// DefaultConfig derives every name.
func DefaultConfig() Config {
	return Config{}
}

func normalizeKeys(in map[string]string, trim bool) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[key(k, trim)] = v
	}
	return out
}
