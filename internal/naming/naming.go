package naming

import (
	"log/slog"
	"strings"

	"github.com/jinzhu/inflection"
)

// Namer converts column names to property names and derives collection names
// for nested result groups.
type Namer struct {
	collections  map[string]string
	associations map[string]string
	fields       map[string]string
	logger       *slog.Logger
}

// New creates a Namer with the given configuration
func New(cfg Config, logger *slog.Logger) *Namer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Namer{
		collections:  normalizeKeys(cfg.Collections, true),
		associations: normalizeKeys(cfg.Associations, true),
		fields:       normalizeKeys(cfg.Fields, false),
		logger:       logger,
	}
}

// Default returns a Namer with default configuration
func Default() *Namer {
	return New(DefaultConfig(), nil)
}

// ToFieldName converts a column name to a document field name (camelCase)
// Example: "user_name" -> "userName"
func (n *Namer) ToFieldName(columnName string) string {
	if override, ok := n.fields[key(columnName, false)]; ok {
		return override
	}
	if strings.ToUpper(columnName) == columnName {
		columnName = strings.ToLower(columnName)
	}
	return toCamelCase(columnName)
}

// CollectionName derives the property holding a nested collection from the
// column prefix shared by its members.
// Example: "post_" -> "posts", "comment_" -> "comments"
func (n *Namer) CollectionName(columnPrefix string) string {
	base := key(columnPrefix, true)
	if base == "" {
		return ""
	}
	name, ok := n.collections[base]
	if !ok {
		name = inflection.Plural(toCamelCase(base))
	}
	n.logger.Debug("derived collection name",
		slog.String("prefix", columnPrefix),
		slog.String("name", name),
	)
	return name
}

// AssociationName derives the property holding a single nested object from its column prefix.
// Example: "author_" -> "author"
func (n *Namer) AssociationName(columnPrefix string) string {
	base := key(columnPrefix, true)
	if base == "" {
		return ""
	}
	if name, ok := n.associations[base]; ok {
		return name
	}
	return inflection.Singular(toCamelCase(base))
}

// Fold returns the comparison form of a name: upper case, and without
// underscores when ignoreUnderscores is set.
// Example: Fold("author_id", true) -> "AUTHORID"
func Fold(name string, ignoreUnderscores bool) string {
	if ignoreUnderscores {
		name = strings.ReplaceAll(name, "_", "")
	}
	return strings.ToUpper(name)
}

func key(name string, trimUnderscores bool) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if trimUnderscores {
		name = strings.Trim(name, "_")
	}
	return name
}

// toCamelCase converts snake_case to camelCase
func toCamelCase(s string) string {
	parts := strings.Split(s, "_")
	for i := 1; i < len(parts); i++ {
		if len(parts[i]) > 0 {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, "")
}
