package session

// The display-name catalog. 15 adjectives crossed with 10 animals gives a
// fixed ordered set of 150 memorable names. The catalog is immutable
// process-wide data; which names are held is tracked per-registry.
var nameAdjectives = [...]string{
	"amber", "bold", "calm", "dapper", "eager",
	"fleet", "gentle", "hardy", "keen", "lively",
	"mellow", "nimble", "proud", "swift", "witty",
}

var nameAnimals = [...]string{
	"badger", "crane", "dolphin", "falcon", "heron",
	"lynx", "marten", "otter", "raven", "wolf",
}

var nameCatalog = buildCatalog()

func buildCatalog() []string {
	catalog := make([]string, 0, len(nameAdjectives)*len(nameAnimals))
	for _, adj := range nameAdjectives {
		for _, animal := range nameAnimals {
			catalog = append(catalog, adj+"-"+animal)
		}
	}
	return catalog
}

// namePool hands out catalog names, lowest free index first, so allocation
// is deterministic and released names are reused promptly. The pool is
// internal to the registry and relies on the registry's lock.
type namePool struct {
	held map[string]bool
}

func newNamePool() *namePool {
	return &namePool{held: make(map[string]bool)}
}

// allocate returns a name not currently held. When every catalog entry is
// held the pool degrades to a name synthesized from the session id rather
// than failing.
func (p *namePool) allocate(sessionID string) string {
	for _, name := range nameCatalog {
		if !p.held[name] {
			p.held[name] = true
			return name
		}
	}
	name := "agent-" + shortHash(sessionID)
	p.held[name] = true
	return name
}

// release returns a name to the available set. Releasing an unheld name is
// a no-op.
func (p *namePool) release(name string) {
	delete(p.held, name)
}
