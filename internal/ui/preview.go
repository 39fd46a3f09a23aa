package ui

import (
	"strings"

	"github.com/illarion/passync/internal/vault"
)

// RenderPreview lists what a merge changes: + added, ~ overwritten,
// - removed. Entries a recursive merge keeps are not shown.
func RenderPreview(p vault.Preview) string {
	var b strings.Builder
	for _, ref := range p.Added {
		b.WriteString(Success.Sprint("+ "+ref) + "\n")
	}
	for _, ref := range p.Updated {
		b.WriteString(Warning.Sprint("~ "+ref) + "\n")
	}
	for _, ref := range p.Removed {
		b.WriteString(Error.Sprint("- "+ref) + "\n")
	}
	return b.String()
}
