package objectstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/auditimport/internal/core"
)

func backends(t *testing.T) map[string]core.ObjectStore {
	t.Helper()
	local, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	return map[string]core.ObjectStore{
		"local":  local,
		"memory": NewMemory(),
	}
}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			data := []byte("Title,Risk\nA,HIGH\n")
			require.NoError(t, store.Put(ctx, "imports/job-1/findings.csv", data, "text/csv"))

			got, err := store.Get(ctx, "imports/job-1/findings.csv")
			require.NoError(t, err)
			assert.Equal(t, data, got)

			// Overwrite replaces the content.
			require.NoError(t, store.Put(ctx, "imports/job-1/findings.csv", []byte("x"), ""))
			got, err = store.Get(ctx, "imports/job-1/findings.csv")
			require.NoError(t, err)
			assert.Equal(t, []byte("x"), got)
		})
	}
}

func TestGetMissing(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(context.Background(), "imports/none/file.csv")
			assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
		})
	}
}

func TestRejectsEscapingKeys(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{"", "/etc/passwd", "../outside.csv", "imports/../../x"} {
				assert.Error(t, store.Put(context.Background(), key, []byte("x"), ""), "key %q", key)
			}
		})
	}
}

func TestLocal_NoTempFilesLeft(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocal(root)
	require.NoError(t, err)

	require.NoError(t, store.Put(context.Background(), "imports/j/a.csv", []byte("a"), ""))

	entries, err := os.ReadDir(filepath.Join(root, "imports", "j"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.csv", entries[0].Name())
}

func TestS3Key(t *testing.T) {
	s := &S3{bucket: "b", prefix: "auditimport/"}
	k, err := s.key("imports/j/a.csv")
	require.NoError(t, err)
	assert.Equal(t, "auditimport/imports/j/a.csv", k)

	_, err = s.key("../a.csv")
	assert.Error(t, err)
}

func TestMemory_CopiesData(t *testing.T) {
	m := NewMemory()
	data := []byte("abc")
	require.NoError(t, m.Put(context.Background(), "k", data, ""))
	data[0] = 'z'

	got, err := m.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}
