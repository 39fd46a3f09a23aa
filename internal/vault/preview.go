package vault

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// refSep joins service and username in diff lines. Names cannot contain
// control characters, so lines never collide.
const refSep = "\x1f"

// Preview lists what a merge would do to the local vault.
type Preview struct {
	Mode    MergeMode
	Added   []string // only in incoming
	Removed []string // only in local, dropped by the merge
	Kept    []string // only in local, kept by the merge
	Updated []string // in both, overwritten from incoming
}

// PreviewMerge compares the entry listings of both vaults.
func PreviewMerge(local, incoming *Vault, mode MergeMode) Preview {
	p := Preview{Mode: mode}

	localList := listing(local)
	incomingList := listing(incoming)

	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0 // a timed-out diff would misreport shared entries
	a, b, lineArray := dmp.DiffLinesToChars(localList, incomingList)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	for _, d := range diffs {
		for _, line := range strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n") {
			if line == "" {
				continue
			}
			service, username, _ := strings.Cut(line, refSep)
			line = Ref{Service: service, Username: username}.String()
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				p.Updated = append(p.Updated, line)
			case diffmatchpatch.DiffInsert:
				p.Added = append(p.Added, line)
			case diffmatchpatch.DiffDelete:
				if mode.Destructive() {
					p.Removed = append(p.Removed, line)
				} else {
					p.Kept = append(p.Kept, line)
				}
			}
		}
	}
	return p
}

// Empty reports whether the merge changes nothing.
func (p Preview) Empty() bool {
	return len(p.Added) == 0 && len(p.Removed) == 0 && len(p.Updated) == 0
}

// String renders the preview one entry per line with +, - and ~ markers.
func (p Preview) String() string {
	var b strings.Builder
	for _, ref := range p.Added {
		b.WriteString("+ " + ref + "\n")
	}
	for _, ref := range p.Updated {
		b.WriteString("~ " + ref + "\n")
	}
	for _, ref := range p.Removed {
		b.WriteString("- " + ref + "\n")
	}
	return b.String()
}

// listing renders one line per entry, sorted.
func listing(v *Vault) string {
	if v == nil {
		return ""
	}
	var b strings.Builder
	for _, ref := range v.Refs() {
		b.WriteString(ref.Service + refSep + ref.Username)
		b.WriteByte('\n')
	}
	return b.String()
}
