package normalize

import "github.com/yairfalse/horros/types"

// UnknownOwner is the fallback when no candidate tag key matches.
const UnknownOwner = "Unknown"

// DefaultOwnerKeys is the candidate tag/label key order used when a
// provider does not override it. First present, non-empty value wins.
// Matching is case-insensitive.
var DefaultOwnerKeys = []string{
	"ApplicationOwner",
	"Owner",
	"CreatedBy",
	"Contact",
	"Maintainer",
	"Team",
}

// Owner resolves the responsible party from instance tags. Keys are
// tried in order; the first case-insensitive match with a non-empty
// value wins. Returns UnknownOwner when nothing matches, never "".
func Owner(tags types.Tags, keys []string) string {
	if len(keys) == 0 {
		keys = DefaultOwnerKeys
	}
	for _, key := range keys {
		if v, ok := tags.Lookup(key); ok && v != "" {
			return v
		}
	}
	return UnknownOwner
}
