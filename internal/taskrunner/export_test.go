package taskrunner

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"clipfactory/internal/export"
	"clipfactory/internal/mocks"
	"clipfactory/internal/objectstore"
	"clipfactory/internal/pipeline"
		"clipfactory/internal/storage"
	"clipfactory/internal/types"
	apperrors "clipfactory/pkg/errors"
)

func TestFinalAttemptFlagOnlyOnLastTry(t *testing.T) {
	var mu sync.Mutex
	var finals []bool
	handler := types.StageHandlerFunc(func(_ context.Context, task *types.StageTask) (any, error) {
		mu.Lock()
		finals = append(finals, task.Final)
		mu.Unlock()
		return nil, apperrors.Transient("down", nil)
	})
	cfg := fastConfig()
	cfg.Retry.MaxRetry = 2
	r := New(cfg, nil, nil, map[types.Stage]types.StageHandler{types.StageTexts: handler})
	defer r.Close()

	_, err := r.Enqueue(context.Background(), types.StageTexts, types.StagePayload{RootID: "r"}, "r")
	require.NoError(t, err)
	waitIdle(t, r)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{false, false, true}, finals)
}

func TestExportFailsAfterRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	tmp := t.TempDir()
	db, err := storage.Open(filepath.Join(tmp, "test.db"), logger.Silent)
	require.NoError(t, err)
	st := storage.New(db)
	objects, err := objectstore.NewFileStore(filepath.Join(tmp, "objects"))
	require.NoError(t, err)

	_, _, err = st.CreateJob(ctx, "file:///talk.mp4", "root", nil)
	require.NoError(t, err)
	require.NoError(t, objects.Put(ctx, objectstore.ClipVideoKey("root", "scene_00"), []byte("video")))
	require.NoError(t, st.SaveCredential(ctx, &types.Credential{
		UserID: "u1", Platform: export.PlatformYouTube, AccessToken: "tok", Expiry: time.Now().Add(time.Hour),
	}))

	var starts atomic.Int32
	platform := new(mocks.MockPlatform)
	platform.On("StartUpload", mock.Anything, "tok", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { starts.Add(1) }).
		Return("", apperrors.Transient("503", nil))

	broker := &pipeline.LateBroker{}
	orch := pipeline.NewOrchestrator(st, st, objects, broker)
	handlers := pipeline.NewHandlers(pipeline.Deps{
		Store:    objects,
		Jobs:     st,
		Exporter: export.NewOrchestrator(export.DefaultConfig(), platform, st, st, objects, filepath.Join(tmp, "work")),
		Exports:  orch,
	})
	cfg := fastConfig()
	cfg.Retry.MaxRetry = 1
	r := New(cfg, st, nil, handlers.Map())
	defer r.Close()
	broker.Set(r)

	rec, err := orch.RequestExport(ctx, "root", "scene_00", "u1")
	require.NoError(t, err)
	waitIdle(t, r)

	assert.Equal(t, int32(2), starts.Load())
	stored, err := st.GetExport(ctx, rec.Id)
	require.NoError(t, err)
	assert.Equal(t, types.ExportFailed, stored.Status)
	assert.Contains(t, stored.Error, "503")

	again, err := orch.RequestExport(ctx, "root", "scene_00", "u1")
	require.NoError(t, err)
	assert.Equal(t, types.ExportFailed, again.Status)
}
