package types

import "testing"

func TestTags_Lookup(t *testing.T) {
	tags := Tags{"Owner": "alice", "cost-center": "42"}

	tests := []struct {
		name    string
		key     string
		want    string
		wantOK  bool
	}{
		{name: "exact match", key: "Owner", want: "alice", wantOK: true},
		{name: "case-insensitive match", key: "owner", want: "alice", wantOK: true},
		{name: "upper-case query", key: "COST-CENTER", want: "42", wantOK: true},
		{name: "missing key", key: "Team", want: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tags.Lookup(tt.key)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Lookup(%q) = (%q, %v), want (%q, %v)", tt.key, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestTagsFromPtrMap(t *testing.T) {
	val := "db-team"
	tags := TagsFromPtrMap(map[string]*string{
		"Owner":  &val,
		"Orphan": nil,
	})

	if len(tags) != 1 {
		t.Fatalf("expected 1 tag, got %d", len(tags))
	}
	if tags["Owner"] != "db-team" {
		t.Errorf("Owner = %q, want db-team", tags["Owner"])
	}
}

func TestTags_Merge(t *testing.T) {
	freeform := Tags{"Owner": "alice"}
	defined := Tags{"Owner": "bob", "Contact": "ops@example.com"}

	merged := freeform.Merge(defined)

	if merged["Owner"] != "alice" {
		t.Errorf("existing key must win, got Owner = %q", merged["Owner"])
	}
	if merged["Contact"] != "ops@example.com" {
		t.Errorf("missing Contact from merged map")
	}
}
