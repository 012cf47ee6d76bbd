package daemonrouter

import "strings"

// PresetMap expands a first-token preset into its canonical command form.
// Expansion is first-token only and must run before the policy gate, since
// the gate inspects the expanded form.
type PresetMap map[string]string

// Expand rewrites text if its first whitespace-delimited token is a known
// preset key, replacing that token with its expansion and leaving the rest
// of the message untouched. Unrecognized first tokens pass text through
// unchanged.
func (p PresetMap) Expand(text string) string {
	if len(p) == 0 {
		return text
	}
	trimmed := strings.TrimLeft(text, " \t")
	leading := text[:len(text)-len(trimmed)]
	firstEnd := strings.IndexAny(trimmed, " \t\n")
	var token, rest string
	if firstEnd < 0 {
		token, rest = trimmed, ""
	} else {
		token, rest = trimmed[:firstEnd], trimmed[firstEnd:]
	}
	expansion, ok := p[token]
	if !ok {
		return text
	}
	return leading + expansion + rest
}
