package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/noxd/nox/internal/errors"
)

// FileStore persists each session as a JSON file in a directory. Writes
// go through a temp file and rename so readers never see partial JSON.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, errors.KindSession, "failed to create session directory")
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(id string) string {
	return filepath.Join(f.dir, id+".json")
}

func (f *FileStore) Get(id string) (*Session, error) {
	// Session ids are uuids; refuse anything that could leave the dir.
	if strings.ContainsAny(id, "/\\.") {
		return nil, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.KindSession, "failed to read session file")
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, errors.KindSerialization, "corrupt session file")
	}
	return &s, nil
}

func (f *FileStore) Save(s *Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, errors.KindSerialization, "failed to encode session")
	}

	tmp := f.path(s.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrap(err, errors.KindSession, "failed to write session file")
	}
	if err := os.Rename(tmp, f.path(s.ID)); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, errors.KindSession, "failed to finalize session file")
	}
	return nil
}

func (f *FileStore) Delete(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path(id)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, errors.KindSession, "failed to delete session file")
	}
	return nil
}

func (f *FileStore) CleanupExpired() (int, error) {
	sessions, err := f.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, s := range sessions {
		if s.Expired() {
			if err := f.Delete(s.ID); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

func (f *FileStore) List() ([]*Session, error) {
	f.mu.Lock()
	entries, err := os.ReadDir(f.dir)
	f.mu.Unlock()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindSession, "failed to list session directory")
	}

	var out []*Session
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		s, err := f.Get(id)
		if err != nil || s == nil {
			continue // skip corrupt entries
		}
		out = append(out, s)
	}
	return out, nil
}

func (f *FileStore) Count() (int, error) {
	sessions, err := f.List()
	if err != nil {
		return 0, err
	}
	return len(sessions), nil
}

func (f *FileStore) Close() error { return nil }
