package staging

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactName(t *testing.T) {
	tests := []struct {
		name    string
		eventID string
		ext     string
		prefix  string
		wantExt string
	}{
		{"plain", "ABCD1234", ".jpg", "ABCD1234-", ".jpg"},
		{"without dot", "ABCD1234", "png", "ABCD1234-", ".png"},
		{"unsafe characters", "false_5511@c.us_3EB0/../x", ".webp", "false_5511_c_us_3EB0____x-", ".webp"},
		{"no extension", "id", "", "id-", ".bin"},
		{"empty id", "  ", ".jpg", "", ".jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name := ArtifactName(tt.eventID, tt.ext)

			require.True(t, strings.HasPrefix(name, tt.prefix), name)
			require.Equal(t, tt.wantExt, filepath.Ext(name))
			id := strings.TrimSuffix(strings.TrimPrefix(name, tt.prefix), tt.wantExt)
			_, err := uuid.Parse(id)
			assert.NoError(t, err)
		})
	}
}

func TestArtifactName_CollidingIDsStayDistinct(t *testing.T) {
	seen := map[string]bool{}
	for _, id := range []string{"evt.1", "evt_1", "evt_1", "evt/1"} {
		name := ArtifactName(id, ".png")
		assert.False(t, seen[name], "duplicate name %s", name)
		seen[name] = true
	}
}

func TestDirStore_PutNeverOverwrites(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewDirStore(dir)
	require.NoError(t, err)

	_, err = store.Put(ctx, "same.png", []byte("first"))
	require.NoError(t, err)

	_, err = store.Put(ctx, "same.png", []byte("second"))
	require.ErrorIs(t, err, ErrExists)

	data, err := store.Get(ctx, "same.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), data)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file removed after a refused commit")
}

func TestDirStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "temp")

	store, err := NewDirStore(dir)
	require.NoError(t, err)

	ref, err := store.Put(ctx, "abc.jpg", []byte("raw image"))
	require.NoError(t, err)
	assert.Equal(t, "abc.jpg", ref)

	data, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("raw image"), data)

	require.NoError(t, store.Delete(ctx, ref))
	_, err = os.Stat(filepath.Join(dir, "abc.jpg"))
	assert.True(t, os.IsNotExist(err))

	_, err = store.Get(ctx, ref)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, store.Delete(ctx, ref), "deleting twice is a no-op")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no temp files left behind")
}

func TestDirStore_ConfinesRefs(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	outside := filepath.Join(root, "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("keep"), 0o600))

	store, err := NewDirStore(filepath.Join(root, "staging"))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "../secret.txt"))
	_, err = os.Stat(outside)
	assert.NoError(t, err)
}

func TestMinioStore_ObjectName(t *testing.T) {
	s := NewMinioStore(nil, "stickers", "staging")

	assert.Equal(t, "staging/abc.jpg", s.objectName("abc.jpg"))
	assert.Equal(t, "staging/x.jpg", s.objectName("../../x.jpg"))
	assert.Equal(t, "abc.jpg", NewMinioStore(nil, "stickers", "").objectName("abc.jpg"))
}
