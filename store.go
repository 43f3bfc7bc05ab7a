package librarypage

import (
	"encoding/gob"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"golang.org/x/exp/maps"
)

// Fragment is a rendered feed summary together with the validators needed to
// refresh it conditionally.
type Fragment struct {
	ID           uint64
	FeedURL      string
	Source       string
	HTML         string
	ETag         string
	LastModified string
	FetchedAt    time.Time
}

type Store interface {
	Get(feedURL string) (Fragment, bool)
	Put(fragment Fragment)
	Delete(feedURL string)
	GetAll() []Fragment
}

// Saver is implemented by stores that persist their contents.
type Saver interface {
	Save() error
}

func fragmentID(feedURL string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(feedURL))
	return h.Sum64()
}

type FileStore struct {
	Data   map[uint64]Fragment
	Path   string
	mu     sync.Mutex
	saveMu sync.Mutex
}

func (f *FileStore) Get(feedURL string) (Fragment, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fragment, ok := f.Data[fragmentID(feedURL)]
	return fragment, ok
}

func (f *FileStore) Put(fragment Fragment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fragment.ID = fragmentID(fragment.FeedURL)
	f.Data[fragment.ID] = fragment
}

func (f *FileStore) GetAll() []Fragment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return maps.Values(f.Data)
}

func (f *FileStore) Delete(feedURL string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Data, fragmentID(feedURL))
}

func (f *FileStore) Load() error {
	file, err := os.Open(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer file.Close()
	f.mu.Lock()
	defer f.mu.Unlock()
	dec := gob.NewDecoder(file)
	return dec.Decode(&f.Data)
}

// Save writes a snapshot of the store to a temporary file next to Path and
// renames it into place, so a failed write never truncates the saved store.
func (f *FileStore) Save() error {
	f.mu.Lock()
	data := maps.Clone(f.Data)
	f.mu.Unlock()
	f.saveMu.Lock()
	defer f.saveMu.Unlock()
	tmp, err := os.CreateTemp(filepath.Dir(f.Path), filepath.Base(f.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("error saving store: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := gob.NewEncoder(tmp).Encode(data); err != nil {
		tmp.Close()
		return fmt.Errorf("error saving store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error saving store: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("error saving store: %w", err)
	}
	return nil
}

func NewFileStore(opts ...FileStoreOption) (*FileStore, error) {
	f := &FileStore{
		Data: map[uint64]Fragment{},
		Path: userStateDir() + "/LibraryPage/librarypage.db",
	}
	for _, o := range opts {
		o(f)
	}
	if _, err := os.Stat(path.Dir(f.Path)); os.IsNotExist(err) {
		err := os.MkdirAll(path.Dir(f.Path), 0755)
		if err != nil {
			return nil, err
		}
	}
	return f, nil
}

func getenv(key string) string {
	v, _ := syscall.Getenv(key)
	return v
}

func userStateDir() string {
	switch runtime.GOOS {
	case "windows":
		dir := getenv("AppData")
		if dir == "" {
			return "./"
		}
		return dir
	case "darwin", "ios":
		dir := getenv("HOME")
		if dir == "" {
			return "./"
		}
		dir += "/Library/Application Support"
		return dir
	default: // Unix
		dir := getenv("XDG_STATE_HOME")
		if dir == "" {
			return "/var/lib"
		}
		return dir
	}
}

type FileStoreOption func(*FileStore)

func WithPath(path string) FileStoreOption {
	return func(f *FileStore) {
		f.Path = path
	}
}
