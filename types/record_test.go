package types

import (
	"testing"
	"time"
)

func TestInstanceState_Valid(t *testing.T) {
	tests := []struct {
		name  string
		state InstanceState
		want  bool
	}{
		{name: "stopped", state: StateStopped, want: true},
		{name: "terminated", state: StateTerminated, want: true},
		{name: "running is not tracked", state: InstanceState("running"), want: false},
		{name: "empty", state: InstanceState(""), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInstanceRecord_ThresholdAge(t *testing.T) {
	rec := InstanceRecord{
		AgeDays:        120,
		StoppedDaysAgo: 45,
	}

	tests := []struct {
		name  string
		basis AgeBasis
		want  int
	}{
		{name: "creation basis uses age since launch", basis: BasisCreation, want: 120},
		{name: "stopped basis uses days since stop", basis: BasisStopped, want: 45},
		{name: "unknown basis falls back to creation", basis: AgeBasis(""), want: 120},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rec.ThresholdAge(tt.basis); got != tt.want {
				t.Errorf("ThresholdAge(%q) = %d, want %d", tt.basis, got, tt.want)
			}
		})
	}
}

func TestScanScope_String(t *testing.T) {
	withLabel := ScanScope{Provider: "oci", ID: "us-ashburn-1/ocid1.comp", Label: "us-ashburn-1/payments"}
	if got := withLabel.String(); got != "us-ashburn-1/payments" {
		t.Errorf("String() = %q, want label", got)
	}

	bare := ScanScope{Provider: "aws", ID: "eu-west-1"}
	if got := bare.String(); got != "eu-west-1" {
		t.Errorf("String() = %q, want id", got)
	}
}

func TestRunStats_Duration(t *testing.T) {
	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	stats := RunStats{StartedAt: start, FinishedAt: start.Add(90 * time.Second)}
	if got := stats.Duration(); got != 90*time.Second {
		t.Errorf("Duration() = %v, want 90s", got)
	}

	var zero RunStats
	if got := zero.Duration(); got != 0 {
		t.Errorf("Duration() on zero stats = %v, want 0", got)
	}
}
