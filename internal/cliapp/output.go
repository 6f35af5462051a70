package cliapp

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/davecgh/go-spew/spew"
)

// Output formats accepted by WriteResults.
const (
	FormatJSON = "json"
	FormatSpew = "spew"
)

var dumper = spew.ConfigState{
	Indent:                  "  ",
	SortKeys:                true,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
}

// WriteResults writes mapped objects as indented JSON or as a spew dump.
func WriteResults(w io.Writer, format string, results []any) error {
	if results == nil {
		results = []any{}
	}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return fmt.Errorf("failed to encode results: %w", err)
		}
		return nil
	case FormatSpew:
		dumper.Fdump(w, results)
		return nil
	}
	return fmt.Errorf("unknown output format %q (must be json or spew)", format)
}
