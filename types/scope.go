package types

// ScanScope is one unit of parallel discovery work: a region, a
// project+zone pair, a subscription, or a region+compartment pair.
// Scopes exist for a single run only.
type ScanScope struct {
	Provider string            `json:"provider"`
	ID       string            `json:"id"`
	Label    string            `json:"label,omitempty"`
	Parts    map[string]string `json:"parts,omitempty"`
}

// String returns the human-facing name of the scope.
func (s ScanScope) String() string {
	if s.Label != "" {
		return s.Label
	}
	return s.ID
}

// Part returns a provider-specific component of the scope, such as
// "region" or "compartment_id".
func (s ScanScope) Part(key string) string {
	if s.Parts == nil {
		return ""
	}
	return s.Parts[key]
}
