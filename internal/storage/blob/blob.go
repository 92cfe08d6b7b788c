// Package blob stores opaque player and world files on an afero filesystem,
// the OS filesystem in production.
package blob

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when no blob exists for a key.
	ErrNotFound = errors.New("blob not found")
	// ErrInvalidKey is returned for an identity that cannot name a file safely.
	ErrInvalidKey = errors.New("invalid blob key")
	// ErrTooLarge is returned when an upload exceeds the configured cap.
	ErrTooLarge = errors.New("blob too large")
)

// MaxIdentityLen bounds the identity part of a key in bytes.
const MaxIdentityLen = 128

// Kind selects the namespace and file extension of a blob.
type Kind string

const (
	// KindPlayer holds per-player NBT data.
	KindPlayer Kind = "player"
	// KindWorld holds zipped world archives.
	KindWorld Kind = "world"
)

func (k Kind) ext() (string, bool) {
	switch k {
	case KindPlayer:
		return ".nbt", true
	case KindWorld:
		return ".zip", true
	default:
		return "", false
	}
}

// Store is a filesystem blob store rooted at one directory.
type Store struct {
	fs       afero.Fs
	root     string
	maxBytes int64
	logger   *zap.Logger
}

// NewStore creates the per-kind directories under root on fs.
//
// Precondition: fs must be non-nil and maxBytes must be > 0.
// Postcondition: Returns a Store whose directories exist, or an error.
func NewStore(fs afero.Fs, root string, maxBytes int64, logger *zap.Logger) (*Store, error) {
	for _, k := range []Kind{KindPlayer, KindWorld} {
		if err := fs.MkdirAll(filepath.Join(root, string(k)), 0o755); err != nil {
			return nil, fmt.Errorf("creating blob dir: %w", err)
		}
	}
	return &Store{fs: fs, root: root, maxBytes: maxBytes, logger: logger.Named("blob")}, nil
}

// ValidateIdentity reports ErrInvalidKey for names that are empty, too long,
// or could escape the kind directory.
func ValidateIdentity(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("empty identity: %w", ErrInvalidKey)
	case len(id) > MaxIdentityLen:
		return fmt.Errorf("identity longer than %d bytes: %w", MaxIdentityLen, ErrInvalidKey)
	case id == "." || strings.Contains(id, ".."):
		return fmt.Errorf("identity %q: %w", id, ErrInvalidKey)
	case strings.ContainsAny(id, `/\`+"\x00"):
		return fmt.Errorf("identity %q contains a path separator: %w", id, ErrInvalidKey)
	}
	return nil
}

func (s *Store) path(kind Kind, id string) (string, error) {
	ext, ok := kind.ext()
	if !ok {
		return "", fmt.Errorf("kind %q: %w", kind, ErrInvalidKey)
	}
	if err := ValidateIdentity(id); err != nil {
		return "", err
	}
	return filepath.Join(s.root, string(kind), id+ext), nil
}

// Put replaces the blob for (kind, id) with the contents of r. Readers see
// either the previous blob or the complete new one.
//
// Postcondition: Returns the number of bytes stored, or ErrTooLarge with the
// previous blob left intact.
func (s *Store) Put(kind Kind, id string, r io.Reader) (int64, error) {
	dst, err := s.path(kind, id)
	if err != nil {
		return 0, err
	}

	tmp, err := afero.TempFile(s.fs, filepath.Dir(dst), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = s.fs.Remove(tmp.Name())
		}
	}()

	// One byte past the cap distinguishes "exactly max" from "over max".
	n, err := io.Copy(tmp, io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return 0, fmt.Errorf("writing blob: %w", err)
	}
	if n > s.maxBytes {
		return 0, fmt.Errorf("%s/%s exceeds %d bytes: %w", kind, id, s.maxBytes, ErrTooLarge)
	}
	if err := tmp.Sync(); err != nil {
		return 0, fmt.Errorf("syncing blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("closing blob: %w", err)
	}
	if err := s.fs.Rename(tmp.Name(), dst); err != nil {
		_ = s.fs.Remove(tmp.Name())
		return 0, fmt.Errorf("committing blob: %w", err)
	}
	committed = true

	s.logger.Debug("blob stored", zap.String("kind", string(kind)), zap.String("id", id), zap.Int64("bytes", n))
	return n, nil
}

// Get opens the blob for (kind, id). The caller must close the reader.
func (s *Store) Get(kind Kind, id string) (io.ReadCloser, int64, error) {
	p, err := s.path(kind, id)
	if err != nil {
		return nil, 0, err
	}
	f, err := s.fs.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, fmt.Errorf("%s/%s: %w", kind, id, ErrNotFound)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("opening blob: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat blob: %w", err)
	}
	return f, info.Size(), nil
}

// Delete removes the blob for (kind, id).
func (s *Store) Delete(kind Kind, id string) error {
	p, err := s.path(kind, id)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s/%s: %w", kind, id, ErrNotFound)
		}
		return fmt.Errorf("removing blob: %w", err)
	}
	return nil
}
