package daemonrouter

import "strings"

// Allowlist enforces the sender matching rule: a bare-identity entry
// ("alice") matches any sub-resource of that identity ("alice/phone",
// "alice#thread-2"); a fully-qualified entry ("alice/phone") requires an
// exact match.
type Allowlist struct {
	entries []string
}

// NewAllowlist builds an Allowlist from configured entries
// (daemon.allowed_senders).
func NewAllowlist(entries []string) *Allowlist {
	normalized := make([]string, 0, len(entries))
	for _, e := range entries {
		if t := strings.TrimSpace(e); t != "" {
			normalized = append(normalized, t)
		}
	}
	return &Allowlist{entries: normalized}
}

// Allows reports whether senderID is permitted. An empty senderID is never
// allowed. A "*" entry allows any sender.
func (a *Allowlist) Allows(senderID string) bool {
	if senderID == "" {
		return false
	}
	for _, entry := range a.entries {
		if entry == "*" {
			return true
		}
		if isSubResourceEntry(entry) {
			if senderID == entry {
				return true
			}
			continue
		}
		// Bare entry: exact match or any sub-resource of it.
		if senderID == entry || strings.HasPrefix(senderID, entry+"/") || strings.HasPrefix(senderID, entry+"#") {
			return true
		}
	}
	return false
}

// isSubResourceEntry reports whether entry is fully-qualified (names a
// specific sub-resource, e.g. "alice/phone") rather than a bare identity.
func isSubResourceEntry(entry string) bool {
	return strings.ContainsAny(entry, "/#")
}
