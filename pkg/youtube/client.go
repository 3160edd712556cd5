// Package youtube is a small YouTube Data API client covering what clip
// export needs: OAuth token refresh, resumable upload, thumbnail set and
// processing status.
package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"clipfactory/log"
	apperrors "clipfactory/pkg/errors"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	defaultTokenURL  = "https://oauth2.googleapis.com/token"
	defaultUploadURL = "https://www.googleapis.com/upload/youtube/v3"
	defaultAPIURL    = "https://www.googleapis.com/youtube/v3"
	defaultChunkSize = 8 << 20
)

type Client struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	UploadURL    string
	APIURL       string
	ChunkSize    int64
	http         *resty.Client
}

func NewClient(clientID, clientSecret string) *Client {
	rc := resty.New().
		SetTimeout(5 * time.Minute).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(10 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})
	return &Client{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     defaultTokenURL,
		UploadURL:    defaultUploadURL,
		APIURL:       defaultAPIURL,
		ChunkSize:    defaultChunkSize,
		http:         rc,
	}
}

type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

func (t *Token) Expiry(now time.Time) time.Time {
	return now.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// RefreshToken exchanges a refresh token for a new access token. A rejected
// refresh token is reported as unauthorized.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	var tok Token
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": refreshToken,
			"client_id":     c.ClientID,
			"client_secret": c.ClientSecret,
		}).
		SetResult(&tok).
		Post(c.TokenURL)
	if err := classify("token refresh", resp, err); err != nil {
		if apperrors.Is(err, apperrors.CodeInvalidParams) {
			return nil, apperrors.Wrap(apperrors.CodeUnauthorized, "refresh token rejected", err)
		}
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, apperrors.New(apperrors.CodeUnauthorized, "token endpoint returned no access token")
	}
	return &tok, nil
}

type VideoMetadata struct {
	Title         string
	Description   string
	Tags          []string
	CategoryID    string
	PrivacyStatus string
}

type videoResource struct {
	Snippet struct {
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Tags        []string `json:"tags,omitempty"`
		CategoryID  string   `json:"categoryId,omitempty"`
	} `json:"snippet"`
	Status struct {
		PrivacyStatus string `json:"privacyStatus"`
	} `json:"status"`
}

// StartUpload opens a resumable upload session and returns its URL.
func (c *Client) StartUpload(ctx context.Context, accessToken string, meta VideoMetadata, size int64) (string, error) {
	var body videoResource
	body.Snippet.Title = meta.Title
	body.Snippet.Description = meta.Description
	body.Snippet.Tags = meta.Tags
	body.Snippet.CategoryID = meta.CategoryID
	body.Status.PrivacyStatus = meta.PrivacyStatus
	if body.Status.PrivacyStatus == "" {
		body.Status.PrivacyStatus = "private"
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetQueryParams(map[string]string{"uploadType": "resumable", "part": "snippet,status"}).
		SetHeader("X-Upload-Content-Length", strconv.FormatInt(size, 10)).
		SetHeader("X-Upload-Content-Type", "video/mp4").
		SetBody(body).
		Post(c.UploadURL + "/videos")
	if err := classify("start upload", resp, err); err != nil {
		return "", err
	}
	location := resp.Header().Get("Location")
	if location == "" {
		return "", apperrors.Transient("upload session has no location", nil)
	}
	return location, nil
}

// Upload sends the file to an open session in chunks, resuming from the
// offset the server already holds. It returns the platform video id.
func (c *Client) Upload(ctx context.Context, accessToken, sessionURL, path string, onProgress func(sent, total int64)) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeArtifactMissing, "open upload file", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat upload file: %w", err)
	}
	total := info.Size()

	offset, videoID, err := c.queryOffset(ctx, accessToken, sessionURL, total)
	if err != nil || videoID != "" {
		return videoID, err
	}
	if offset > 0 {
		log.GetLogger().Info("youtube: resuming upload", zap.Int64("offset", offset), zap.Int64("total", total))
	}

	chunk := make([]byte, c.chunkSize())
	for offset < total {
		n, err := f.ReadAt(chunk, offset)
		if err != nil && err != io.EOF {
			return "", fmt.Errorf("read upload chunk: %w", err)
		}
		end := offset + int64(n) - 1
		resp, err := c.http.R().
			SetContext(ctx).
			SetAuthToken(accessToken).
			SetHeader("Content-Type", "video/mp4").
			SetHeader("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, end, total)).
			SetBody(chunk[:n]).
			Put(sessionURL)
		if err == nil && resp.StatusCode() == http.StatusPermanentRedirect {
			offset = rangeEnd(resp.Header().Get("Range"))
			notify(onProgress, offset, total)
			continue
		}
		if err := classify("upload chunk", resp, err); err != nil {
			return "", err
		}
		notify(onProgress, total, total)
		return videoIDFrom(resp.Body())
	}
	return "", apperrors.Transient("upload finished without a video id", nil)
}

func (c *Client) queryOffset(ctx context.Context, accessToken, sessionURL string, total int64) (int64, string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetHeader("Content-Range", fmt.Sprintf("bytes */%d", total)).
		SetBody([]byte{}).
		Put(sessionURL)
	if err == nil && resp.StatusCode() == http.StatusPermanentRedirect {
		return rangeEnd(resp.Header().Get("Range")), "", nil
	}
	if err := classify("query upload offset", resp, err); err != nil {
		return 0, "", err
	}
	id, err := videoIDFrom(resp.Body())
	return total, id, err
}

// SetThumbnail uploads a JPEG thumbnail for the video.
func (c *Client) SetThumbnail(ctx context.Context, accessToken, videoID, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read thumbnail: %w", err)
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetQueryParam("videoId", videoID).
		SetHeader("Content-Type", "image/jpeg").
		SetBody(data).
		Post(c.UploadURL + "/thumbnails/set")
	return classify("set thumbnail", resp, err)
}

type ProcessingStatus struct {
	UploadStatus     string `json:"uploadStatus"`
	ProcessingStatus string `json:"processingStatus"`
	FailureReason    string `json:"failureReason,omitempty"`
}

func (s ProcessingStatus) Done() bool {
	return s.UploadStatus == "processed" || s.ProcessingStatus == "succeeded"
}

func (s ProcessingStatus) Failed() bool {
	switch {
	case s.UploadStatus == "failed", s.UploadStatus == "rejected", s.UploadStatus == "deleted":
		return true
	case s.ProcessingStatus == "failed", s.ProcessingStatus == "terminated":
		return true
	}
	return false
}

// Status reports upload and processing state for one video.
func (c *Client) Status(ctx context.Context, accessToken, videoID string) (*ProcessingStatus, error) {
	var out struct {
		Items []struct {
			Status struct {
				UploadStatus    string `json:"uploadStatus"`
				FailureReason   string `json:"failureReason"`
				RejectionReason string `json:"rejectionReason"`
			} `json:"status"`
			ProcessingDetails struct {
				ProcessingStatus string `json:"processingStatus"`
			} `json:"processingDetails"`
		} `json:"items"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetQueryParams(map[string]string{"part": "status,processingDetails", "id": videoID}).
		SetResult(&out).
		Get(c.APIURL + "/videos")
	if err := classify("video status", resp, err); err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, apperrors.WrapWithDetail(apperrors.CodeNotFound, "video not found", videoID, nil)
	}
	item := out.Items[0]
	reason := item.Status.FailureReason
	if reason == "" {
		reason = item.Status.RejectionReason
	}
	return &ProcessingStatus{
		UploadStatus:     item.Status.UploadStatus,
		ProcessingStatus: item.ProcessingDetails.ProcessingStatus,
		FailureReason:    reason,
	}, nil
}

func (c *Client) chunkSize() int64 {
	if c.ChunkSize <= 0 {
		return defaultChunkSize
	}
	return c.ChunkSize
}

// classify maps transport errors and HTTP statuses onto AppError codes.
func classify(op string, resp *resty.Response, err error) error {
	if err != nil {
		return apperrors.Transient(op+" request failed", err)
	}
	code := resp.StatusCode()
	if code < 300 {
		return nil
	}
	detail := strings.TrimSpace(resp.String())
	cause := fmt.Errorf("%s: http %d: %s", op, code, detail)
	switch {
	case code == http.StatusUnauthorized:
		return apperrors.Wrap(apperrors.CodeUnauthorized, op+" unauthorized", cause)
	case code == http.StatusTooManyRequests || (code == http.StatusForbidden && strings.Contains(detail, "quotaExceeded")):
		return apperrors.RateLimited(op+" rate limited", retryAfter(resp.Header().Get("Retry-After")), cause)
	case code == http.StatusForbidden:
		return apperrors.Wrap(apperrors.CodeUnauthorized, op+" forbidden", cause)
	case code >= 500:
		return apperrors.Transient(op+" upstream error", cause)
	default:
		return apperrors.Wrap(apperrors.CodeInvalidParams, op+" rejected", cause)
	}
}

func retryAfter(header string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// rangeEnd turns "bytes=0-1023" into the next offset, 1024.
func rangeEnd(header string) int64 {
	_, span, ok := strings.Cut(header, "=")
	if !ok {
		return 0
	}
	_, last, ok := strings.Cut(span, "-")
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(last, 10, 64)
	if err != nil {
		return 0
	}
	return n + 1
}

func videoIDFrom(body []byte) (string, error) {
	var v struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &v); err != nil || v.ID == "" {
		return "", apperrors.Transient("upload response has no video id", err)
	}
	return v.ID, nil
}

func notify(fn func(sent, total int64), sent, total int64) {
	if fn != nil {
		fn(sent, total)
	}
}
