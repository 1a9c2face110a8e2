package session

import (
	"strings"
	"testing"
)

func TestCatalogShape(t *testing.T) {
	if len(nameCatalog) != 150 {
		t.Fatalf("catalog has %d names, want 150", len(nameCatalog))
	}
	seen := make(map[string]bool, len(nameCatalog))
	for _, name := range nameCatalog {
		if seen[name] {
			t.Errorf("duplicate catalog name %q", name)
		}
		seen[name] = true
		if !strings.Contains(name, "-") {
			t.Errorf("catalog name %q missing separator", name)
		}
	}
}

func TestAllocateLowestFreeIndex(t *testing.T) {
	p := newNamePool()

	first := p.allocate("s1")
	second := p.allocate("s2")
	if first != nameCatalog[0] || second != nameCatalog[1] {
		t.Fatalf("allocations = %q, %q, want %q, %q",
			first, second, nameCatalog[0], nameCatalog[1])
	}

	// Releasing the first name makes it the lowest free slot again.
	p.release(first)
	if got := p.allocate("s3"); got != first {
		t.Errorf("allocate() after release = %q, want reused %q", got, first)
	}
}

func TestAllocateExhaustionFallsBack(t *testing.T) {
	p := newNamePool()
	for i := range nameCatalog {
		p.allocate(string(rune('a' + i%26)))
	}

	got := p.allocate("overflow-session")
	if !strings.HasPrefix(got, "agent-") {
		t.Fatalf("exhausted pool allocated %q, want synthesized agent-* name", got)
	}
	if got == "agent-" {
		t.Error("synthesized name has no hash suffix")
	}

	// Deterministic for the same session id.
	p.release(got)
	if again := p.allocate("overflow-session"); again != got {
		t.Errorf("synthesized name %q not stable, got %q on retry", got, again)
	}
}

func TestReleaseUnheldIsNoop(t *testing.T) {
	p := newNamePool()
	p.release("never-held")
	if got := p.allocate("s1"); got != nameCatalog[0] {
		t.Errorf("allocate() = %q, want %q", got, nameCatalog[0])
	}
}
