package listing

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dirbrowse/host"
)

func setupDir(t *testing.T) (*host.Local, host.DirectoryHandle) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/root/zdir", 0o755))
	require.NoError(t, fsys.MkdirAll("/root/adir", 0o755))
	require.NoError(t, afero.WriteFile(fsys, "/root/b.txt", []byte("bee"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/root/A.txt", []byte("a"), 0o644))

	local := host.NewLocal(fsys, host.AllowAll)
	d, err := local.Open(context.Background(), "/root")
	require.NoError(t, err)
	local.SetPermission(d, host.ModeRead, host.PermissionGranted)
	return local, d
}

func names(s Snapshot) []string {
	out := make([]string, len(s))
	for i, it := range s {
		out[i] = it.Name
	}
	return out
}

func TestListOrdersDirectoriesFirst(t *testing.T) {
	_, d := setupDir(t)
	svc := NewService(nil)

	snap, err := svc.List(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, []string{"adir", "zdir", "A.txt", "b.txt"}, names(snap))

	again, err := svc.List(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, names(snap), names(again))
}

func TestListResolvesFilesOnly(t *testing.T) {
	_, d := setupDir(t)
	snap, err := NewService(nil).List(context.Background(), d)
	require.NoError(t, err)

	dir, ok := snap.Find("adir", host.KindDirectory)
	require.True(t, ok)
	assert.Nil(t, dir.Size)
	assert.Nil(t, dir.LastModified)
	assert.Empty(t, dir.Type)

	file, ok := snap.Find("b.txt", host.KindFile)
	require.True(t, ok)
	require.NotNil(t, file.Size)
	assert.EqualValues(t, 3, *file.Size)
	require.NotNil(t, file.LastModified)
	assert.Equal(t, "text/plain", file.Type)
	assert.Equal(t, PreviewText, PreviewKind(file))

	_, ok = snap.Find("b.txt", host.KindDirectory)
	assert.False(t, ok)
	assert.Equal(t, []string{"adir", "zdir"}, snap.Names(host.KindDirectory))
}

func TestListFailsWithoutPermission(t *testing.T) {
	local, d := setupDir(t)
	local.SetPermission(d, host.ModeRead, host.PermissionDenied)

	snap, err := NewService(nil).List(context.Background(), d)
	assert.ErrorIs(t, err, host.ErrPermission)
	assert.Nil(t, snap)
}

func TestSortTiesAreDeterministic(t *testing.T) {
	items := []Item{
		{Name: "b", Kind: host.KindFile},
		{Name: "B", Kind: host.KindFile},
		{Name: "a", Kind: host.KindDirectory},
		{Name: "B", Kind: host.KindDirectory},
	}
	reversed := []Item{items[3], items[2], items[1], items[0]}
	Sort(items)
	Sort(reversed)
	assert.Equal(t, names(items), names(reversed))
	assert.Equal(t, "a", items[0].Name)
	assert.True(t, items[1].IsDir())
	assert.False(t, items[2].IsDir())
}

func TestPreviewKind(t *testing.T) {
	size := int64(10)
	empty := int64(0)
	tests := []struct {
		item Item
		want Preview
	}{
		{Item{Kind: host.KindDirectory}, PreviewDirectory},
		{Item{Kind: host.KindFile, Size: &size, Type: "image/png"}, PreviewImage},
		{Item{Kind: host.KindFile, Size: &size, Type: "application/json"}, PreviewText},
		{Item{Kind: host.KindFile, Size: &size, Type: "text/html"}, PreviewText},
		{Item{Kind: host.KindFile, Size: &size, Type: "application/pdf"}, PreviewPDF},
		{Item{Kind: host.KindFile, Size: &size, Type: "video/mp4"}, PreviewVideo},
		{Item{Kind: host.KindFile, Size: &size, Type: "audio/mpeg"}, PreviewAudio},
		{Item{Kind: host.KindFile, Size: &size, Type: "application/zip"}, PreviewBinary},
		{Item{Kind: host.KindFile, Size: &empty, Type: "application/octet-stream"}, PreviewText},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PreviewKind(tt.item), tt.item.Type)
	}
}
