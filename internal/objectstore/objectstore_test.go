package objectstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"clipfactory/internal/types"
	apperrors "clipfactory/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayoutKeys(t *testing.T) {
	root := "0123456789abcdef01234567"
	assert.Equal(t, "projects/"+root+"/source.mp4", SourceKey(root))
	assert.Equal(t, "projects/"+root+"/media/audio.wav", AudioKey(root))
	assert.Equal(t, "projects/"+root+"/transcribe/transcript.json", TranscriptKey(root))
	assert.Equal(t, "projects/"+root+"/transcribe/segments.srt", SRTKey(root))
	assert.Equal(t, "projects/"+root+"/transcribe/segments.vtt", VTTKey(root))
	assert.Equal(t, "projects/"+root+"/scenes/scenes.json", ScenesKey(root))
	assert.Equal(t, "projects/"+root+"/rank/rank.json", RankKey(root))
	assert.Equal(t, "projects/"+root+"/clips/c1.mp4", ClipVideoKey(root, "c1"))
	assert.Equal(t, "projects/"+root+"/clips/c1.jpg", ClipThumbnailKey(root, "c1"))
	assert.Equal(t, "projects/"+root+"/texts/c1/title.txt", TitleKey(root, "c1"))
	assert.Equal(t, "projects/"+root+"/texts/c1/description.md", DescriptionKey(root, "c1"))
	assert.Equal(t, "projects/"+root+"/texts/c1/hashtags.txt", HashtagsKey(root, "c1"))
	assert.Equal(t, "projects/"+root+"/texts/blog.md", BlogKey(root))
	assert.Equal(t, "projects/"+root+"/texts/seo.json", SEOKey(root))
	assert.Equal(t, "projects/"+root+"/texts/_idem/run-1.txt", IdempotencyMarkerKey(root, "run-1"))
	assert.Equal(t, "projects/"+root+"/texts/_idem/_x.txt", IdempotencyMarkerKey(root, "../x"))

	key, ok := CompletionKey(types.StageRank, root)
	require.True(t, ok)
	assert.Equal(t, RankKey(root), key)
	_, ok = CompletionKey(types.StageRender, root)
	assert.False(t, ok)

	assert.True(t, IsClipVideo(ClipVideoKey(root, "c1")))
	assert.False(t, IsClipVideo(ClipThumbnailKey(root, "c1")))
	assert.Equal(t, "c1", ClipIDFromKey(ClipVideoKey(root, "c1")))
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "projects/r/rank/rank.json", []byte(`{"items":[]}`)))
	data, err := store.Get(ctx, "projects/r/rank/rank.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":[]}`, string(data))

	ok, err := store.Exists(ctx, "projects/r/rank/rank.json")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Exists(ctx, "projects/r/scenes/scenes.json")
	require.NoError(t, err)
	assert.False(t, ok)

	local := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(local, []byte("video"), 0o644))
	require.NoError(t, store.PutFile(ctx, "projects/r/clips/a.mp4", local))
	require.NoError(t, store.PutFile(ctx, "projects/r/clips/b.mp4", local))

	keys, err := store.List(ctx, "projects/r/clips/")
	require.NoError(t, err)
	assert.Equal(t, []string{"projects/r/clips/a.mp4", "projects/r/clips/b.mp4"}, keys)

	out := filepath.Join(t.TempDir(), "nested", "copy.mp4")
	require.NoError(t, store.GetFile(ctx, "projects/r/clips/a.mp4", out))
	copied, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "video", string(copied))
}

func TestFileStoreMissingArtifact(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "projects/r/rank/rank.json")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeArtifactMissing))
	assert.False(t, apperrors.IsRetryable(err))

	keys, err := store.List(context.Background(), "projects/none/clips/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestSanitizeKeyRejectsTraversal(t *testing.T) {
	_, err := sanitizeKey("../../etc/passwd")
	assert.Error(t, err)
	_, err = sanitizeKey("  ")
	assert.Error(t, err)

	cleaned, err := sanitizeKey("/projects//r/./x.json")
	require.NoError(t, err)
	assert.Equal(t, "projects/r/x.json", cleaned)
}

func TestOpenSelectsBackend(t *testing.T) {
	root := t.TempDir()
	store, err := Open(Config{}, root)
	require.NoError(t, err)
	fs, ok := store.(*FileStore)
	require.True(t, ok)
	assert.Equal(t, root, fs.BasePath())

	_, err = Open(Config{Backend: BackendOSS}, root)
	assert.Error(t, err)

	_, err = Open(Config{Backend: "s3"}, root)
	assert.Error(t, err)
}
