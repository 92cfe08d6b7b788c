package blob

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"
)

const memRoot = "/blobs"

func newStore(t *testing.T, max int64) (*Store, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	s, err := NewStore(fs, memRoot, max, zaptest.NewLogger(t))
	require.NoError(t, err)
	return s, fs
}

func readAll(t *testing.T, s *Store, kind Kind, id string) []byte {
	t.Helper()
	rc, size, err := s.Get(kind, id)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)
	return data
}

func TestPutGet(t *testing.T) {
	s, fs := newStore(t, 1024)

	n, err := s.Put(KindPlayer, "Alice", strings.NewReader("nbt-bytes"))
	require.NoError(t, err)
	assert.Equal(t, int64(9), n)
	assert.Equal(t, []byte("nbt-bytes"), readAll(t, s, KindPlayer, "Alice"))

	_, err = s.Put(KindWorld, "overworld", strings.NewReader("zip"))
	require.NoError(t, err)
	for _, p := range []string{"player/Alice.nbt", "world/overworld.zip"} {
		ok, err := afero.Exists(fs, filepath.Join(memRoot, p))
		require.NoError(t, err)
		assert.True(t, ok, p)
	}
}

func TestPutGetOnDisk(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(afero.NewOsFs(), dir, 1024, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = s.Put(KindPlayer, "Alice", strings.NewReader("nbt-bytes"))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "player", "Alice.nbt"))
	assert.Equal(t, []byte("nbt-bytes"), readAll(t, s, KindPlayer, "Alice"))

	entries, err := os.ReadDir(filepath.Join(dir, "player"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp file left behind")
}

func TestPutReplaces(t *testing.T) {
	s, _ := newStore(t, 1024)
	_, err := s.Put(KindPlayer, "Alice", strings.NewReader("old"))
	require.NoError(t, err)
	_, err = s.Put(KindPlayer, "Alice", strings.NewReader("newer"))
	require.NoError(t, err)
	assert.Equal(t, []byte("newer"), readAll(t, s, KindPlayer, "Alice"))
}

func TestPutTooLargeKeepsPrevious(t *testing.T) {
	s, fs := newStore(t, 4)
	_, err := s.Put(KindPlayer, "Alice", strings.NewReader("four"))
	require.NoError(t, err)

	_, err = s.Put(KindPlayer, "Alice", strings.NewReader("fives"))
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Equal(t, []byte("four"), readAll(t, s, KindPlayer, "Alice"))

	entries, err := afero.ReadDir(fs, filepath.Join(memRoot, "player"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must be cleaned up")
}

func TestGetMissing(t *testing.T) {
	s, _ := newStore(t, 16)
	_, _, err := s.Get(KindWorld, "nether")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	s, _ := newStore(t, 16)
	_, err := s.Put(KindWorld, "nether", bytes.NewReader([]byte{1, 2, 3}))
	require.NoError(t, err)
	require.NoError(t, s.Delete(KindWorld, "nether"))
	assert.ErrorIs(t, s.Delete(KindWorld, "nether"), ErrNotFound)
}

func TestInvalidKeys(t *testing.T) {
	s, _ := newStore(t, 16)
	for _, id := range []string{"", "..", "../etc", "a/b", `a\b`, strings.Repeat("x", MaxIdentityLen+1)} {
		_, err := s.Put(KindPlayer, id, strings.NewReader("x"))
		assert.ErrorIs(t, err, ErrInvalidKey, "id %q", id)
	}
	_, _, err := s.Get(Kind("config"), "x")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestPutReaderError(t *testing.T) {
	s, _ := newStore(t, 16)
	_, err := s.Put(KindPlayer, "Alice", failingReader{})
	require.Error(t, err)
	_, _, err = s.Get(KindPlayer, "Alice")
	assert.ErrorIs(t, err, ErrNotFound)
}

// Property: an accepted identity always resolves to a file directly inside its kind directory.
func TestPropertyIdentityStaysInsideRoot(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		id := rapid.String().Draw(t, "id")
		if ValidateIdentity(id) != nil {
			return
		}
		root := filepath.Join(os.TempDir(), "blobroot")
		s := &Store{root: root}
		p, err := s.path(KindPlayer, id)
		if err != nil {
			t.Fatalf("path(%q): %v", id, err)
		}
		if filepath.Dir(p) != filepath.Join(root, "player") {
			t.Fatalf("identity %q escaped to %q", id, p)
		}
	})
}
