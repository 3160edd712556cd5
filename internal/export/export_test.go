package export

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"clipfactory/internal/mocks"
	"clipfactory/internal/objectstore"
	"clipfactory/internal/types"
	apperrors "clipfactory/pkg/errors"
	"clipfactory/pkg/youtube"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type memRecords struct {
	mu   sync.Mutex
	recs map[string]types.ExportRecord
}

func (m *memRecords) GetExport(_ context.Context, id string) (*types.ExportRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &rec, nil
}

func (m *memRecords) SaveExport(_ context.Context, rec *types.ExportRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.Id] = *rec
	return nil
}

type memCreds struct {
	creds map[string]*types.Credential
	saved int
}

func (m *memCreds) GetCredential(_ context.Context, userID, platform string) (*types.Credential, error) {
	cred, ok := m.creds[userID+"/"+platform]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return cred, nil
}

func (m *memCreds) SaveCredential(_ context.Context, cred *types.Credential) error {
	m.creds[cred.UserID+"/"+cred.Platform] = cred
	m.saved++
	return nil
}

type recorder struct{ pcts []int }

func (r *recorder) Report(pct int, _ string) { r.pcts = append(r.pcts, pct) }

type fixture struct {
	o        *Orchestrator
	platform *mocks.MockPlatform
	records  *memRecords
	creds    *memCreds
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := objectstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, objectstore.ClipVideoKey("root", "scene_00"), []byte("video")))
	require.NoError(t, store.Put(ctx, objectstore.ClipThumbnailKey("root", "scene_00"), []byte("thumbnail!")))
	require.NoError(t, store.Put(ctx, objectstore.TitleKey("root", "scene_00"), []byte("My title")))
	require.NoError(t, store.Put(ctx, objectstore.HashtagsKey("root", "scene_00"), []byte("#shorts #go")))

	records := &memRecords{recs: map[string]types.ExportRecord{
		"exp1": {Id: "exp1", RootID: "root", ClipID: "scene_00", UserID: "u1", Status: types.ExportQueued},
	}}
	creds := &memCreds{creds: map[string]*types.Credential{
		"u1/youtube": {UserID: "u1", Platform: PlatformYouTube, AccessToken: "tok", RefreshToken: "refresh", Expiry: time.Now().Add(time.Hour)},
	}}
	platform := new(mocks.MockPlatform)
	return &fixture{
		o:        NewOrchestrator(cfg, platform, records, creds, store, t.TempDir()),
		platform: platform,
		records:  records,
		creds:    creds,
	}
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.PollInterval = time.Millisecond
	cfg.PollTimeout = 20 * time.Millisecond
	return cfg
}

var processed = &youtube.ProcessingStatus{UploadStatus: "processed", ProcessingStatus: "succeeded"}

func TestExportHappyPath(t *testing.T) {
	f := newFixture(t, fastConfig())
	f.platform.On("StartUpload", mock.Anything, "tok", mock.MatchedBy(func(m youtube.VideoMetadata) bool {
		return m.Title == "My title" && assert.ObjectsAreEqual([]string{"shorts", "go"}, m.Tags) && m.PrivacyStatus == "private"
	}), int64(5)).Return("session", nil).Once()
	f.platform.On("Upload", mock.Anything, "tok", "session", mock.Anything).Return("vid1", nil).Once()
	f.platform.On("SetThumbnail", mock.Anything, "tok", "vid1", mock.Anything).Return(nil).Once()
	f.platform.On("Status", mock.Anything, "tok", "vid1").Return(processed, nil)

	rec := &recorder{}
	got, err := f.o.Export(context.Background(), "exp1", rec)
	require.NoError(t, err)
	assert.Equal(t, types.ExportDone, got.Status)
	assert.Equal(t, "vid1", got.PlatformVideoID)
	assert.Equal(t, 100, got.Progress)
	assert.Contains(t, rec.pcts, progressUploadStart)
	assert.Contains(t, rec.pcts, progressUploadEnd)
	assert.Equal(t, 100, rec.pcts[len(rec.pcts)-1])
	f.platform.AssertExpectations(t)

	again, err := f.o.Export(context.Background(), "exp1", nil)
	require.NoError(t, err)
	assert.Equal(t, types.ExportDone, again.Status)
	f.platform.AssertNumberOfCalls(t, "StartUpload", 1)
}

func TestExportMissingCredentialsFailsWithoutUploading(t *testing.T) {
	f := newFixture(t, fastConfig())
	delete(f.creds.creds, "u1/youtube")

	got, err := f.o.Export(context.Background(), "exp1", nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeCredentialsMissing, apperrors.GetCode(err))
	assert.False(t, apperrors.IsRetryable(err))
	assert.Equal(t, types.ExportFailed, got.Status)
	f.platform.AssertNotCalled(t, "StartUpload", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	stored, _ := f.records.GetExport(context.Background(), "exp1")
	assert.Equal(t, types.ExportFailed, stored.Status)
	assert.NotEmpty(t, stored.Error)
}

func TestExportRefreshesExpiredToken(t *testing.T) {
	f := newFixture(t, fastConfig())
	f.creds.creds["u1/youtube"].Expiry = time.Now().Add(-time.Minute)
	f.platform.On("RefreshToken", mock.Anything, "refresh").Return(&youtube.Token{AccessToken: "new", ExpiresIn: 3600}, nil).Once()
	f.platform.On("StartUpload", mock.Anything, "new", mock.Anything, mock.Anything).Return("session", nil)
	f.platform.On("Upload", mock.Anything, "new", "session", mock.Anything).Return("vid1", nil)
	f.platform.On("SetThumbnail", mock.Anything, "new", "vid1", mock.Anything).Return(nil)
	f.platform.On("Status", mock.Anything, "new", "vid1").Return(processed, nil)

	got, err := f.o.Export(context.Background(), "exp1", nil)
	require.NoError(t, err)
	assert.Equal(t, types.ExportDone, got.Status)
	assert.Equal(t, 1, f.creds.saved)
	assert.Equal(t, "new", f.creds.creds["u1/youtube"].AccessToken)
}

func TestExportRejectedRefreshIsUnrecoverable(t *testing.T) {
	f := newFixture(t, fastConfig())
	f.creds.creds["u1/youtube"].Expiry = time.Now().Add(-time.Minute)
	f.platform.On("RefreshToken", mock.Anything, "refresh").Return(nil, apperrors.New(apperrors.CodeUnauthorized, "refresh token rejected"))

	got, err := f.o.Export(context.Background(), "exp1", nil)
	require.Error(t, err)
	assert.False(t, apperrors.IsRetryable(err))
	assert.Equal(t, types.ExportFailed, got.Status)
}

func TestExportSkipsOversizedThumbnail(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxThumbnailSize = 4
	f := newFixture(t, cfg)
	f.platform.On("StartUpload", mock.Anything, "tok", mock.Anything, mock.Anything).Return("session", nil)
	f.platform.On("Upload", mock.Anything, "tok", "session", mock.Anything).Return("vid1", nil)
	f.platform.On("Status", mock.Anything, "tok", "vid1").Return(processed, nil)

	got, err := f.o.Export(context.Background(), "exp1", nil)
	require.NoError(t, err)
	assert.Equal(t, types.ExportDone, got.Status)
	f.platform.AssertNotCalled(t, "SetThumbnail", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestExportThumbnailFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, fastConfig())
	f.platform.On("StartUpload", mock.Anything, "tok", mock.Anything, mock.Anything).Return("session", nil)
	f.platform.On("Upload", mock.Anything, "tok", "session", mock.Anything).Return("vid1", nil)
	f.platform.On("SetThumbnail", mock.Anything, "tok", "vid1", mock.Anything).Return(errors.New("boom"))
	f.platform.On("Status", mock.Anything, "tok", "vid1").Return(processed, nil)

	got, err := f.o.Export(context.Background(), "exp1", nil)
	require.NoError(t, err)
	assert.Equal(t, types.ExportDone, got.Status)
}

func TestExportPollTimeoutLeavesProcessingThenResumes(t *testing.T) {
	f := newFixture(t, fastConfig())
	f.platform.On("StartUpload", mock.Anything, "tok", mock.Anything, mock.Anything).Return("session", nil).Once()
	f.platform.On("Upload", mock.Anything, "tok", "session", mock.Anything).Return("vid1", nil).Once()
	f.platform.On("SetThumbnail", mock.Anything, "tok", "vid1", mock.Anything).Return(nil)
	pending := f.platform.On("Status", mock.Anything, "tok", "vid1").Return(&youtube.ProcessingStatus{UploadStatus: "uploaded", ProcessingStatus: "processing"}, nil)

	got, err := f.o.Export(context.Background(), "exp1", nil)
	require.NoError(t, err)
	assert.Equal(t, types.ExportProcessing, got.Status)

	pending.Unset()
	f.platform.On("Status", mock.Anything, "tok", "vid1").Return(processed, nil)
	got, err = f.o.Export(context.Background(), "exp1", nil)
	require.NoError(t, err)
	assert.Equal(t, types.ExportDone, got.Status)
	f.platform.AssertNumberOfCalls(t, "StartUpload", 1)
	f.platform.AssertNumberOfCalls(t, "Upload", 1)
}

func TestExportPlatformProcessingFailure(t *testing.T) {
	f := newFixture(t, fastConfig())
	f.platform.On("StartUpload", mock.Anything, "tok", mock.Anything, mock.Anything).Return("session", nil)
	f.platform.On("Upload", mock.Anything, "tok", "session", mock.Anything).Return("vid1", nil)
	f.platform.On("SetThumbnail", mock.Anything, "tok", "vid1", mock.Anything).Return(nil)
	f.platform.On("Status", mock.Anything, "tok", "vid1").Return(&youtube.ProcessingStatus{UploadStatus: "rejected", FailureReason: "duplicate"}, nil)

	got, err := f.o.Export(context.Background(), "exp1", nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeExportFailed, apperrors.GetCode(err))
	assert.Equal(t, types.ExportFailed, got.Status)
}

func TestExportTransientUploadKeepsSession(t *testing.T) {
	f := newFixture(t, fastConfig())
	f.platform.On("StartUpload", mock.Anything, "tok", mock.Anything, mock.Anything).Return("session", nil).Once()
	failing := f.platform.On("Upload", mock.Anything, "tok", "session", mock.Anything).Return("", apperrors.Transient("reset", nil))

	got, err := f.o.Export(context.Background(), "exp1", nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
	assert.Equal(t, types.ExportUploading, got.Status)
	stored, _ := f.records.GetExport(context.Background(), "exp1")
	assert.Equal(t, "session", stored.UploadURL)

	failing.Unset()
	f.platform.On("Upload", mock.Anything, "tok", "session", mock.Anything).Return("vid1", nil)
	f.platform.On("SetThumbnail", mock.Anything, "tok", "vid1", mock.Anything).Return(nil)
	f.platform.On("Status", mock.Anything, "tok", "vid1").Return(processed, nil)
	got, err = f.o.Export(context.Background(), "exp1", nil)
	require.NoError(t, err)
	assert.Equal(t, types.ExportDone, got.Status)
	f.platform.AssertNumberOfCalls(t, "StartUpload", 1)
}

func TestExportUnauthorizedUploadFails(t *testing.T) {
	f := newFixture(t, fastConfig())
	f.platform.On("StartUpload", mock.Anything, "tok", mock.Anything, mock.Anything).Return("", apperrors.New(apperrors.CodeUnauthorized, "unauthorized"))

	got, err := f.o.Export(context.Background(), "exp1", nil)
	require.Error(t, err)
	assert.False(t, apperrors.IsRetryable(err))
	assert.Equal(t, types.ExportFailed, got.Status)
}

func TestAbandonFailsPendingRecord(t *testing.T) {
	f := newFixture(t, fastConfig())

	require.NoError(t, f.o.Abandon(context.Background(), "exp1", apperrors.Transient("503", nil)))
	stored, err := f.records.GetExport(context.Background(), "exp1")
	require.NoError(t, err)
	assert.Equal(t, types.ExportFailed, stored.Status)
	assert.Contains(t, stored.Error, "503")

	require.NoError(t, f.o.Abandon(context.Background(), "exp1", errors.New("again")))
	stored, _ = f.records.GetExport(context.Background(), "exp1")
	assert.Contains(t, stored.Error, "503")
}
