package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"clipfactory/internal/types"
	"clipfactory/log"
	apperrors "clipfactory/pkg/errors"

	"github.com/dustin/go-humanize"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// SourceFetcher materializes a source reference as a local file.
type SourceFetcher interface {
	Fetch(ctx context.Context, ref, dest string) error
}

// Fetcher handles http(s) URLs, file:// URLs and local paths, and falls
// back to treating the reference as an object-store key.
type Fetcher struct {
	store types.ObjectStore
	http  *resty.Client
}

func NewFetcher(store types.ObjectStore) *Fetcher {
	rc := resty.New().
		SetTimeout(2 * time.Hour).
		SetRetryCount(2).
		SetRetryWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})
	return &Fetcher{store: store, http: rc}
}

func (f *Fetcher) Fetch(ctx context.Context, ref, dest string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return apperrors.Wrap(apperrors.CodeInvalidParams, "empty source reference", nil)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return apperrors.Wrap(apperrors.CodeArtifactWrite, "source dir", err)
	}

	u, err := url.Parse(ref)
	switch {
	case err == nil && (u.Scheme == "http" || u.Scheme == "https"):
		return f.download(ctx, ref, dest)
	case err == nil && u.Scheme == "file":
		return copyLocal(u.Path, dest)
	case filepath.IsAbs(ref):
		return copyLocal(ref, dest)
	default:
		return f.store.GetFile(ctx, ref, dest)
	}
}

func (f *Fetcher) download(ctx context.Context, ref, dest string) error {
	resp, err := f.http.R().SetContext(ctx).SetOutput(dest).Get(ref)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeSourceDownload, "源视频下载失败 Source download failed", err)
	}
	switch {
	case resp.StatusCode() == 404 || resp.StatusCode() == 410:
		return apperrors.WrapWithDetail(apperrors.CodeUnsupportedSource, "source not found", ref, nil)
	case resp.StatusCode() >= 500:
		return apperrors.Transient(fmt.Sprintf("source host returned %d", resp.StatusCode()), nil)
	case resp.IsError():
		return apperrors.WrapWithDetail(apperrors.CodeUnsupportedSource, fmt.Sprintf("source host returned %d", resp.StatusCode()), ref, nil)
	}
	if info, statErr := os.Stat(dest); statErr == nil {
		log.GetLogger().Info("pipeline: source downloaded",
			zap.String("url", ref),
			zap.String("size", humanize.IBytes(uint64(info.Size()))),
			zap.Duration("elapsed", resp.Time()))
	}
	return nil
}

func copyLocal(src, dest string) error {
	in, err := os.Open(src)
	if os.IsNotExist(err) {
		return apperrors.WrapWithDetail(apperrors.CodeUnsupportedSource, "source file not found", src, err)
	}
	if err != nil {
		return apperrors.Wrap(apperrors.CodeSourceDownload, "open source", err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeArtifactWrite, "create source copy", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return apperrors.Wrap(apperrors.CodeArtifactWrite, "copy source", err)
	}
	return out.Close()
}
