package materialize

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// BlobStore хранит файлы материализованных данных.
type BlobStore interface {
	Put(key string, r io.Reader) (string, int64, string, error) // returns key, size, sha256
	Open(key string) (io.ReadCloser, error)
	Delete(key string) error
}

// LocalBlobStore: файлы в каталоге Root.
type LocalBlobStore struct {
	Root string // например, "./data"

	mu      sync.Mutex
	entropy io.Reader
}

func NewLocalBlobStore(root string) *LocalBlobStore {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &LocalBlobStore{Root: root, entropy: ulid.Monotonic(src, 0)}
}

// NewKey: "<prefix>/<ulid><ext>"; ulid монотонный, ключи сортируются по времени.
func (s *LocalBlobStore) NewKey(prefix, ext string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entropy == nil {
		s.entropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	}
	id := ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
	return filepath.ToSlash(filepath.Join(prefix, id+ext))
}

func (s *LocalBlobStore) full(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." {
		return "", errors.New("invalid blob key: " + key)
	}
	return filepath.Join(s.Root, clean), nil
}

func (s *LocalBlobStore) Put(key string, r io.Reader) (string, int64, string, error) {
	if key == "" {
		key = s.NewKey("blobs", "")
	}
	full, err := s.full(key)
	if err != nil {
		return "", 0, "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", 0, "", err
	}
	tmp := full + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", 0, "", err
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return "", 0, "", err
	}
	if err := os.Rename(tmp, full); err != nil {
		return "", 0, "", err
	}
	return key, n, hex.EncodeToString(h.Sum(nil)), nil
}

func (s *LocalBlobStore) Open(key string) (io.ReadCloser, error) {
	full, err := s.full(key)
	if err != nil {
		return nil, err
	}
	return os.Open(full)
}

// Delete: отсутствующий файл не ошибка.
func (s *LocalBlobStore) Delete(key string) error {
	full, err := s.full(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
