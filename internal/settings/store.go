package settings

import "sync"

// Store is the in-memory copy shared by the HTTP layer. Runs take a
// snapshot; a later Replace does not affect a run already started.
type Store struct {
	path string

	mu      sync.RWMutex
	current Settings
}

func NewStore(path string) (*Store, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, current: s}, nil
}

func (st *Store) Snapshot() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.current
}

// Replace saves s in full and swaps it in on success.
func (st *Store) Replace(s Settings) error {
	s = s.withDefaultURLs()
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := Save(st.path, s); err != nil {
		return err
	}
	st.current = s
	return nil
}
