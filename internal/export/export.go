// Package export publishes rendered clips to a video platform, driving each
// ExportRecord through queued, uploading, processing and done.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"clipfactory/internal/objectstore"
	"clipfactory/internal/types"
	"clipfactory/log"
	apperrors "clipfactory/pkg/errors"
	"clipfactory/pkg/youtube"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

const (
	PlatformYouTube = "youtube"

	progressUploadStart = 10
	progressUploadEnd   = 85
	progressProcessing  = 90
)

// Platform is the subset of the video platform API used by export.
type Platform interface {
	RefreshToken(ctx context.Context, refreshToken string) (*youtube.Token, error)
	StartUpload(ctx context.Context, accessToken string, meta youtube.VideoMetadata, size int64) (string, error)
	Upload(ctx context.Context, accessToken, sessionURL, path string, onProgress func(sent, total int64)) (string, error)
	SetThumbnail(ctx context.Context, accessToken, videoID, path string) error
	Status(ctx context.Context, accessToken, videoID string) (*youtube.ProcessingStatus, error)
}

type RecordStore interface {
	GetExport(ctx context.Context, id string) (*types.ExportRecord, error)
	SaveExport(ctx context.Context, rec *types.ExportRecord) error
}

type CredentialStore interface {
	GetCredential(ctx context.Context, userID, platform string) (*types.Credential, error)
	SaveCredential(ctx context.Context, cred *types.Credential) error
}

type Config struct {
	PollInterval     time.Duration `toml:"poll_interval"`
	PollTimeout      time.Duration `toml:"poll_timeout"`
	MaxThumbnailSize int64         `toml:"max_thumbnail_size"`
	PrivacyStatus    string        `toml:"privacy_status"`
	CategoryID       string        `toml:"category_id"`
}

func DefaultConfig() Config {
	return Config{
		PollInterval:     15 * time.Second,
		PollTimeout:      8 * time.Minute,
		MaxThumbnailSize: 2 << 20,
		PrivacyStatus:    "private",
		CategoryID:       "22",
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = d.PollTimeout
	}
	if c.MaxThumbnailSize <= 0 {
		c.MaxThumbnailSize = d.MaxThumbnailSize
	}
	if c.PrivacyStatus == "" {
		c.PrivacyStatus = d.PrivacyStatus
	}
	return c
}

type Orchestrator struct {
	cfg         Config
	platform    Platform
	records     RecordStore
	credentials CredentialStore
	store       types.ObjectStore
	workDir     string
	now         func() time.Time
}

func NewOrchestrator(cfg Config, platform Platform, records RecordStore, credentials CredentialStore, store types.ObjectStore, workDir string) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg.normalized(),
		platform:    platform,
		records:     records,
		credentials: credentials,
		store:       store,
		workDir:     workDir,
		now:         time.Now,
	}
}

// Export advances one record as far as it can. Terminal records are returned
// unchanged; a record already in processing only resumes polling.
func (o *Orchestrator) Export(ctx context.Context, exportID string, progress types.ProgressReporter) (*types.ExportRecord, error) {
	rec, err := o.records.GetExport(ctx, exportID)
	if err != nil {
		return nil, err
	}
	if rec.Status.Terminal() {
		return rec, nil
	}

	token, err := o.accessToken(ctx, rec.UserID)
	if err != nil {
		if !apperrors.IsRetryable(err) {
			return rec, o.fail(ctx, rec, err)
		}
		return rec, err
	}

	if rec.Status == types.ExportQueued || rec.Status == types.ExportUploading {
		if err := o.upload(ctx, rec, token, progress); err != nil {
			if !apperrors.IsRetryable(err) {
				return rec, o.fail(ctx, rec, err)
			}
			return rec, err
		}
	}
	return rec, o.poll(ctx, rec, token, progress)
}

func (o *Orchestrator) accessToken(ctx context.Context, userID string) (string, error) {
	cred, err := o.credentials.GetCredential(ctx, userID, PlatformYouTube)
	if err != nil {
		if apperrors.Is(err, apperrors.CodeNotFound) {
			return "", apperrors.ErrCredentialsMissing
		}
		return "", err
	}
	if cred == nil || (cred.AccessToken == "" && cred.RefreshToken == "") {
		return "", apperrors.ErrCredentialsMissing
	}
	if !cred.NeedsRefresh(o.now()) {
		return cred.AccessToken, nil
	}
	if cred.RefreshToken == "" {
		return "", apperrors.New(apperrors.CodeUnauthorized, "access token expired and no refresh token")
	}
	tok, err := o.platform.RefreshToken(ctx, cred.RefreshToken)
	if err != nil {
		return "", err
	}
	cred.AccessToken = tok.AccessToken
	cred.Expiry = tok.Expiry(o.now())
	if tok.RefreshToken != "" {
		cred.RefreshToken = tok.RefreshToken
	}
	if err := o.credentials.SaveCredential(ctx, cred); err != nil {
		log.GetLogger().Warn("export: failed to persist refreshed token", zap.String("user_id", userID), zap.Error(err))
	}
	return cred.AccessToken, nil
}

func (o *Orchestrator) upload(ctx context.Context, rec *types.ExportRecord, token string, progress types.ProgressReporter) error {
	if err := os.MkdirAll(o.workDir, 0o755); err != nil {
		return apperrors.Wrap(apperrors.CodeArtifactWrite, "export work dir", err)
	}
	tmp, err := os.MkdirTemp(o.workDir, "export-*")
	if err != nil {
		return apperrors.Wrap(apperrors.CodeArtifactWrite, "export temp dir", err)
	}
	defer os.RemoveAll(tmp)

	video := filepath.Join(tmp, rec.ClipID+".mp4")
	if err := o.store.GetFile(ctx, objectstore.ClipVideoKey(rec.RootID, rec.ClipID), video); err != nil {
		return err
	}
	meta, err := o.metadata(ctx, rec)
	if err != nil {
		return err
	}
	info, err := os.Stat(video)
	if err != nil {
		return fmt.Errorf("stat clip: %w", err)
	}

	if rec.Status == types.ExportQueued {
		if err := rec.Transition(types.ExportUploading); err != nil {
			return err
		}
	}
	if rec.UploadURL == "" {
		session, err := o.platform.StartUpload(ctx, token, meta, info.Size())
		if err != nil {
			return err
		}
		rec.UploadURL = session
	}
	rec.Progress = progressUploadStart
	if err := o.records.SaveExport(ctx, rec); err != nil {
		return err
	}
	report(progress, progressUploadStart, "uploading")

	log.GetLogger().Info("export: uploading clip",
		zap.String("export_id", rec.Id), zap.String("clip_id", rec.ClipID), zap.String("size", humanize.IBytes(uint64(info.Size()))))
	videoID, err := o.platform.Upload(ctx, token, rec.UploadURL, video, func(sent, total int64) {
		if total > 0 {
			report(progress, progressUploadStart+int(int64(progressUploadEnd-progressUploadStart)*sent/total), "uploading")
		}
	})
	if err != nil {
		return err
	}

	o.setThumbnail(ctx, rec, token, videoID, tmp)

	if err := rec.Transition(types.ExportProcessing); err != nil {
		return err
	}
	rec.PlatformVideoID = videoID
	rec.Progress = progressUploadEnd
	report(progress, progressUploadEnd, "uploaded")
	return o.records.SaveExport(ctx, rec)
}

// metadata reads the clip's generated texts. Missing texts fall back to the
// clip id so an export never blocks on copy.
func (o *Orchestrator) metadata(ctx context.Context, rec *types.ExportRecord) (youtube.VideoMetadata, error) {
	meta := youtube.VideoMetadata{
		Title:         rec.ClipID,
		PrivacyStatus: o.cfg.PrivacyStatus,
		CategoryID:    o.cfg.CategoryID,
	}
	if title, ok := o.optionalText(ctx, objectstore.TitleKey(rec.RootID, rec.ClipID)); ok {
		meta.Title = title
	}
	if desc, ok := o.optionalText(ctx, objectstore.DescriptionKey(rec.RootID, rec.ClipID)); ok {
		meta.Description = desc
	}
	if tags, ok := o.optionalText(ctx, objectstore.HashtagsKey(rec.RootID, rec.ClipID)); ok {
		for _, tag := range strings.Fields(tags) {
			meta.Tags = append(meta.Tags, strings.TrimPrefix(tag, "#"))
		}
		meta.Description = strings.TrimSpace(meta.Description + "\n\n" + tags)
	}
	return meta, nil
}

func (o *Orchestrator) optionalText(ctx context.Context, key string) (string, bool) {
	data, err := o.store.Get(ctx, key)
	if err != nil {
		if !apperrors.Is(err, apperrors.CodeArtifactMissing) {
			log.GetLogger().Warn("export: read text failed", zap.String("key", key), zap.Error(err))
		}
		return "", false
	}
	text := strings.TrimSpace(string(data))
	return text, text != ""
}

// setThumbnail is best effort: oversized or failing thumbnails are logged.
func (o *Orchestrator) setThumbnail(ctx context.Context, rec *types.ExportRecord, token, videoID, tmp string) {
	thumb := filepath.Join(tmp, rec.ClipID+".jpg")
	if err := o.store.GetFile(ctx, objectstore.ClipThumbnailKey(rec.RootID, rec.ClipID), thumb); err != nil {
		log.GetLogger().Warn("export: thumbnail unavailable", zap.String("export_id", rec.Id), zap.Error(err))
		return
	}
	info, err := os.Stat(thumb)
	if err != nil {
		return
	}
	if info.Size() > o.cfg.MaxThumbnailSize {
		log.GetLogger().Warn("export: thumbnail too large, skipping",
			zap.String("export_id", rec.Id),
			zap.String("size", humanize.IBytes(uint64(info.Size()))),
			zap.String("limit", humanize.IBytes(uint64(o.cfg.MaxThumbnailSize))))
		return
	}
	if err := o.platform.SetThumbnail(ctx, token, videoID, thumb); err != nil {
		log.GetLogger().Warn("export: set thumbnail failed", zap.String("export_id", rec.Id), zap.Error(err))
	}
}

// poll waits for platform processing. On timeout the record stays in
// processing so a later export run can pick it up again.
func (o *Orchestrator) poll(ctx context.Context, rec *types.ExportRecord, token string, progress types.ProgressReporter) error {
	report(progress, progressProcessing, "processing")
	deadline := o.now().Add(o.cfg.PollTimeout)
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		status, err := o.platform.Status(ctx, token, rec.PlatformVideoID)
		switch {
		case err != nil && !apperrors.IsRetryable(err):
			return o.fail(ctx, rec, err)
		case err != nil:
			log.GetLogger().Warn("export: status check failed", zap.String("export_id", rec.Id), zap.Error(err))
		case status.Failed():
			return o.fail(ctx, rec, apperrors.WrapWithDetail(apperrors.CodeExportFailed, "platform processing failed", status.FailureReason, nil))
		case status.Done():
			if err := rec.Transition(types.ExportDone); err != nil {
				return err
			}
			rec.Progress = 100
			report(progress, 100, "done")
			log.GetLogger().Info("export: clip published", zap.String("export_id", rec.Id), zap.String("video_id", rec.PlatformVideoID))
			return o.records.SaveExport(ctx, rec)
		}

		if !o.now().Before(deadline) {
			log.GetLogger().Warn("export: poll timeout, leaving in processing",
				zap.String("export_id", rec.Id), zap.Duration("timeout", o.cfg.PollTimeout))
			rec.Progress = progressProcessing
			if err := o.records.SaveExport(ctx, rec); err != nil {
				return err
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Abandon marks a record failed after its last attempt. Terminal records
// are left as they are.
func (o *Orchestrator) Abandon(ctx context.Context, exportID string, cause error) error {
	rec, err := o.records.GetExport(ctx, exportID)
	if err != nil {
		return err
	}
	if rec.Status.Terminal() {
		return nil
	}
	return o.markFailed(ctx, rec, cause)
}

func (o *Orchestrator) fail(ctx context.Context, rec *types.ExportRecord, cause error) error {
	if err := o.markFailed(ctx, rec, cause); err != nil {
		return err
	}
	return cause
}

func (o *Orchestrator) markFailed(ctx context.Context, rec *types.ExportRecord, cause error) error {
	if err := rec.Transition(types.ExportFailed); err != nil {
		return err
	}
	rec.Error = cause.Error()
	log.GetLogger().Error("export: failed",
		zap.String("export_id", rec.Id), zap.String("clip_id", rec.ClipID), zap.Int("code", apperrors.GetCode(cause)), zap.Error(cause))
	return o.records.SaveExport(ctx, rec)
}

func report(p types.ProgressReporter, pct int, msg string) {
	if p != nil {
		p.Report(pct, msg)
	}
}
