package rag

import (
	"fmt"
	"strings"
)

// ContextDelimiter separates retrieved passages in the assembled context.
const ContextDelimiter = "\n\n---\n\n"

// SourceLabel renders the provenance line of a retrieved passage.
func SourceLabel(m Metadata) string {
	if m.Page != nil {
		return fmt.Sprintf("Source: %s, page %d", m.DocumentID, *m.Page)
	}
	return "Source: " + m.DocumentID
}

// AssembleContext concatenates retrieved passages in the order given, each
// preceded by its source label.
func AssembleContext(results []SearchResult) string {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = SourceLabel(r.Metadata) + "\n" + r.Text
	}
	return strings.Join(parts, ContextDelimiter)
}
