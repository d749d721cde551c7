package models

import (
	"reflect"
	"testing"
)

func TestCapability_Valid(t *testing.T) {
	tests := []struct {
		name string
		c    Capability
		want bool
	}{
		{"frontend is valid", CapabilityFrontend, true},
		{"backend is valid", CapabilityBackend, true},
		{"qa is valid", CapabilityQA, true},
		{"devops is valid", CapabilityDevOps, true},
		{"planner is not a capability", Capability("planner"), false},
		{"manager is not a capability", Capability("manager"), false},
		{"empty string is invalid", Capability(""), false},
		{"uppercase is invalid", Capability("QA"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.c.Valid(); got != tt.want {
				t.Errorf("Capability(%q).Valid() = %v, want %v", tt.c, got, tt.want)
			}
		})
	}
}

func TestAllCapabilities_AreValid(t *testing.T) {
	all := AllCapabilities()
	if len(all) != 4 {
		t.Fatalf("AllCapabilities() returned %d entries, want 4", len(all))
	}
	for _, c := range all {
		if !c.Valid() {
			t.Errorf("%q listed but not valid", c)
		}
	}
}

func TestParseCapability(t *testing.T) {
	tests := []struct {
		in      string
		want    Capability
		wantErr bool
	}{
		{"qa", CapabilityQA, false},
		{"QA", CapabilityQA, false},
		{"  Backend ", CapabilityBackend, false},
		{"DevOps", CapabilityDevOps, false},
		{"design", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCapability(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCapability(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseCapability(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTask_HasLabel(t *testing.T) {
	task := Task{Labels: []string{"frontend", "QA"}}

	if !task.HasLabel("qa") {
		t.Error("HasLabel(qa) = false, want true")
	}
	if task.HasLabel("bug") {
		t.Error("HasLabel(bug) = true, want false")
	}
}

func TestTask_WithLabels(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
		extra  []string
		want   []string
	}{
		{"adds missing", []string{"frontend"}, []string{"qa", "bug"}, []string{"frontend", "qa", "bug"}},
		{"keeps existing once", []string{"qa"}, []string{"QA", "bug"}, []string{"qa", "bug"}},
		{"drops empty", nil, []string{"", "bug"}, []string{"bug"}},
		{"no extras", []string{"a"}, nil, []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Task{Labels: tt.labels}.WithLabels(tt.extra...)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("WithLabels() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFeatureStatus_Valid(t *testing.T) {
	for _, s := range []FeatureStatus{FeatureStatusOpen, FeatureStatusInProgress, FeatureStatusDone} {
		if !s.Valid() {
			t.Errorf("%q.Valid() = false", s)
		}
	}
	if FeatureStatus("in_progress").Valid() {
		t.Error("in_progress should not be valid")
	}
}

func TestProjectState_Feature(t *testing.T) {
	ps := &ProjectState{Features: []Feature{{Title: "Login"}, {Title: "Search"}}}

	f := ps.Feature("Search")
	if f == nil {
		t.Fatal("Feature(Search) = nil")
	}
	f.Status = FeatureStatusDone
	if ps.Features[1].Status != FeatureStatusDone {
		t.Error("Feature should return a pointer into the slice")
	}
	if ps.Feature("Missing") != nil {
		t.Error("Feature(Missing) should be nil")
	}

	counts := ps.Counts()
	if counts[FeatureStatusDone] != 1 || counts[""] != 1 {
		t.Errorf("Counts() = %v", counts)
	}
}
