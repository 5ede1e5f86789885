package types

import "time"

// InstanceState is the unified power state of a discovered instance.
type InstanceState string

const (
	StateStopped    InstanceState = "stopped"
	StateTerminated InstanceState = "terminated"
)

// Valid reports whether the state is one this system tracks.
func (s InstanceState) Valid() bool {
	return s == StateStopped || s == StateTerminated
}

// AgeBasis selects which age field a provider thresholds on.
// Creation-age providers filter on days since launch, stop-age
// providers on days since the stop event. The two are not
// interchangeable.
type AgeBasis string

const (
	BasisCreation AgeBasis = "creation"
	BasisStopped  AgeBasis = "stopped"
)

// InstanceRecord is the canonical, provider-agnostic view of one
// stopped or terminated compute instance.
type InstanceRecord struct {
	Name             string            `json:"name"`
	ID               string            `json:"id"`
	Provider         string            `json:"provider"`
	Scope            string            `json:"scope"`
	State            InstanceState     `json:"state"`
	CreatedAt        time.Time         `json:"created_at"`
	AgeDays          int               `json:"age_days"`
	StoppedAt        *time.Time        `json:"stopped_at,omitempty"`
	StoppedDaysAgo   int               `json:"stopped_days_ago"`
	StoppedAtIsExact bool              `json:"stopped_at_is_exact"`
	Owner            string            `json:"owner"`
	SizeClass        string            `json:"size_class"`
	TotalDiskGB      int               `json:"total_disk_gb"`
	Extra            map[string]string `json:"extra,omitempty"`
}

// ThresholdAge returns the age used for filtering and top-N ordering
// under the given basis.
func (r InstanceRecord) ThresholdAge(basis AgeBasis) int {
	if basis == BasisStopped {
		return r.StoppedDaysAgo
	}
	return r.AgeDays
}
