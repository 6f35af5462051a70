// Package sqlutil quotes identifiers for generated lookup statements.
package sqlutil

import "strings"

// QuoteIdentifier quotes one identifier with backticks, doubling embedded backticks.
func QuoteIdentifier(name string) string {
	escaped := strings.ReplaceAll(name, "`", "``")
	return "`" + escaped + "`"
}

// QuoteQualified quotes each dot-separated part of a qualified name, so
// "blog.post" becomes `blog`.`post`. A "*" part is left bare.
func QuoteQualified(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		if p == "*" && i == len(parts)-1 {
			continue
		}
		parts[i] = QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}

// QuoteOrderTerm quotes the column of an ORDER BY term and keeps a trailing
// ASC or DESC keyword.
func QuoteOrderTerm(term string) string {
	term = strings.TrimSpace(term)
	if i := strings.LastIndexByte(term, ' '); i > 0 {
		switch dir := strings.ToUpper(strings.TrimSpace(term[i+1:])); dir {
		case "ASC", "DESC":
			return QuoteQualified(strings.TrimSpace(term[:i])) + " " + dir
		}
	}
	return QuoteQualified(term)
}
