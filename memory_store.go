package librarypage

import (
	"sync"

	"golang.org/x/exp/maps"
)

// MemoryStore keeps fragments for the life of the process. The zero value is
// ready to use.
type MemoryStore struct {
	mu        sync.Mutex
	Fragments map[string]Fragment
}

func (m *MemoryStore) Get(feedURL string) (Fragment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fragment, ok := m.Fragments[feedURL]
	return fragment, ok
}

func (m *MemoryStore) Put(fragment Fragment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fragments == nil {
		m.Fragments = map[string]Fragment{}
	}
	fragment.ID = fragmentID(fragment.FeedURL)
	m.Fragments[fragment.FeedURL] = fragment
}

func (m *MemoryStore) Delete(feedURL string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Fragments, feedURL)
}

func (m *MemoryStore) GetAll() []Fragment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Values(m.Fragments)
}
