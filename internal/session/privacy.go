package session

import (
	"crypto/sha256"
	"fmt"
	"path/filepath"
)

// PrivacyFilter applies masking and path-based filtering to session records
// before they are exposed to clients. The zero value is a no-op filter.
type PrivacyFilter struct {
	MaskWorkingDirs bool
	MaskSessionIDs  bool
	AllowedPaths    []string
	BlockedPaths    []string
}

// IsAllowed reports whether a session with the given working directory should
// be exposed. An empty working directory is always allowed (the producer
// hasn't reported its path yet). When AllowedPaths is non-empty, the path
// must match at least one pattern. If it passes the allowlist, it must not
// match any BlockedPaths pattern.
func (f *PrivacyFilter) IsAllowed(cwd string) bool {
	if cwd == "" {
		return true
	}

	if len(f.AllowedPaths) > 0 {
		allowed := false
		for _, pattern := range f.AllowedPaths {
			if matchPathOrParent(pattern, cwd) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	for _, pattern := range f.BlockedPaths {
		if matchPathOrParent(pattern, cwd) {
			return false
		}
	}

	return true
}

// matchPathOrParent checks if pattern matches path or any of its parent
// directories. This allows patterns like "/home/user/*" to match deeply
// nested paths like "/home/user/work/project-a" because the parent
// "/home/user/work" matches the glob.
func matchPathOrParent(pattern, path string) bool {
	for p := path; p != "." && p != "" && p != filepath.Dir(p); p = filepath.Dir(p) {
		if matched, _ := filepath.Match(pattern, p); matched {
			return true
		}
	}
	return false
}

// Apply returns a copy of the record with sensitive fields masked according
// to the filter configuration. The original record is never modified.
func (f *PrivacyFilter) Apply(r *Record) *Record {
	masked := *r

	if f.MaskWorkingDirs && masked.Cwd != "" {
		masked.Cwd = filepath.Base(masked.Cwd)
	}

	if f.MaskSessionIDs && masked.ID != "" {
		masked.ID = shortHash(masked.ID)
	}

	return &masked
}

// FilterRecords returns a new slice containing only the allowed records,
// with privacy masking applied to each. The original slice is not modified.
func (f *PrivacyFilter) FilterRecords(records []*Record) []*Record {
	result := make([]*Record, 0, len(records))
	for _, r := range records {
		if !f.IsAllowed(r.Cwd) {
			continue
		}
		result = append(result, f.Apply(r))
	}
	return result
}

// ApplyEntry returns a copy of the notification entry with sensitive fields
// masked. Entries that fail the path filter should be dropped by the caller
// via IsAllowed.
func (f *PrivacyFilter) ApplyEntry(e Entry) Entry {
	if f.MaskWorkingDirs && e.Cwd != "" {
		e.Cwd = filepath.Base(e.Cwd)
	}
	if f.MaskSessionIDs && e.SessionID != "" {
		e.SessionID = shortHash(e.SessionID)
	}
	return e
}

// FilterEntries returns the allowed entries with masking applied.
func (f *PrivacyFilter) FilterEntries(entries []Entry) []Entry {
	result := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if !f.IsAllowed(e.Cwd) {
			continue
		}
		result = append(result, f.ApplyEntry(e))
	}
	return result
}

// IsNoop reports whether the filter does nothing (no masking, no path filtering).
func (f *PrivacyFilter) IsNoop() bool {
	return !f.MaskWorkingDirs && !f.MaskSessionIDs &&
		len(f.AllowedPaths) == 0 && len(f.BlockedPaths) == 0
}

// shortHash returns a truncated SHA-256 hex digest for an opaque identifier.
func shortHash(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h[:6])
}
