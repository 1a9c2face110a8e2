package session

import (
	"testing"
	"time"
)

func TestPrivacyFilterIsAllowed(t *testing.T) {
	tests := []struct {
		name    string
		filter  PrivacyFilter
		cwd     string
		allowed bool
	}{
		{"noop filter allows everything", PrivacyFilter{}, "/any/path", true},
		{"empty cwd always allowed", PrivacyFilter{AllowedPaths: []string{"/home/*"}}, "", true},
		{
			"allowlist match",
			PrivacyFilter{AllowedPaths: []string{"/home/user/*"}},
			"/home/user/proj", true,
		},
		{
			"allowlist match via parent",
			PrivacyFilter{AllowedPaths: []string{"/home/user/*"}},
			"/home/user/work/deep/nested", true,
		},
		{
			"allowlist miss",
			PrivacyFilter{AllowedPaths: []string{"/home/user/*"}},
			"/var/tmp/other", false,
		},
		{
			"blocklist match",
			PrivacyFilter{BlockedPaths: []string{"/home/user/secret*"}},
			"/home/user/secret-project", false,
		},
		{
			"blocklist overrides allowlist",
			PrivacyFilter{
				AllowedPaths: []string{"/home/user/*"},
				BlockedPaths: []string{"/home/user/secret*"},
			},
			"/home/user/secret-project", false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.IsAllowed(tt.cwd); got != tt.allowed {
				t.Errorf("IsAllowed(%q) = %v, want %v", tt.cwd, got, tt.allowed)
			}
		})
	}
}

func TestPrivacyFilterApply(t *testing.T) {
	f := PrivacyFilter{MaskWorkingDirs: true, MaskSessionIDs: true}
	rec := &Record{
		ID:  "host1-100",
		Cwd: "/home/user/work/project-a",
	}

	masked := f.Apply(rec)
	if masked.Cwd != "project-a" {
		t.Errorf("masked Cwd = %q, want base name %q", masked.Cwd, "project-a")
	}
	if masked.ID == rec.ID || masked.ID == "" {
		t.Errorf("masked ID = %q, want a hash distinct from the original", masked.ID)
	}
	if rec.Cwd != "/home/user/work/project-a" {
		t.Error("Apply() mutated the original record")
	}
}

func TestPrivacyFilterRecords(t *testing.T) {
	f := PrivacyFilter{
		MaskWorkingDirs: true,
		BlockedPaths:    []string{"/secret*"},
	}
	records := []*Record{
		{ID: "a", Cwd: "/home/user/proj"},
		{ID: "b", Cwd: "/secret/vault"},
	}

	out := f.FilterRecords(records)
	if len(out) != 1 {
		t.Fatalf("FilterRecords() = %d records, want 1", len(out))
	}
	if out[0].ID != "a" {
		t.Errorf("kept record ID = %q, want %q", out[0].ID, "a")
	}
	if out[0].Cwd != "proj" {
		t.Errorf("kept record Cwd = %q, want masked %q", out[0].Cwd, "proj")
	}
}

func TestPrivacyFilterEntries(t *testing.T) {
	f := PrivacyFilter{
		MaskSessionIDs: true,
		BlockedPaths:   []string{"/secret*"},
	}
	entries := []Entry{
		{ID: 1, SessionID: "a", Cwd: "/home/user/proj", Timestamp: time.Now()},
		{ID: 2, SessionID: "b", Cwd: "/secret/vault", Timestamp: time.Now()},
	}

	out := f.FilterEntries(entries)
	if len(out) != 1 {
		t.Fatalf("FilterEntries() = %d entries, want 1", len(out))
	}
	if out[0].ID != 1 {
		t.Errorf("kept entry ID = %d, want 1", out[0].ID)
	}
	if out[0].SessionID == "a" {
		t.Error("kept entry SessionID not masked")
	}
}

func TestPrivacyFilterIsNoop(t *testing.T) {
	if !(&PrivacyFilter{}).IsNoop() {
		t.Error("zero filter IsNoop() = false, want true")
	}
	if (&PrivacyFilter{MaskSessionIDs: true}).IsNoop() {
		t.Error("masking filter IsNoop() = true, want false")
	}
	if (&PrivacyFilter{BlockedPaths: []string{"/x"}}).IsNoop() {
		t.Error("blocking filter IsNoop() = true, want false")
	}
}
