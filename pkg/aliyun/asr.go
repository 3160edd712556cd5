package aliyun

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"clipfactory/internal/types"
	"clipfactory/log"
	apperrors "clipfactory/pkg/errors"

	"github.com/aliyun/alibaba-cloud-sdk-go/sdk"
	"github.com/aliyun/alibaba-cloud-sdk-go/sdk/requests"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	filetransDomain  = "filetrans.cn-shanghai.aliyuncs.com"
	filetransVersion = "2018-08-17"
	filetransProduct = "nls-filetrans"

	statusSuccess      = "SUCCESS"
	statusNoFragment   = "SUCCESS_WITH_NO_VALID_FRAGMENT"
	statusRunning      = "RUNNING"
	statusQueueing     = "QUEUEING"
	defaultPollEvery   = 5 * time.Second
	defaultPresignTTL  = 3 * time.Hour
	asrUploadKeyPrefix = "asr-uploads/"
)

// AudioUploader puts audio where the ASR service can fetch it.
type AudioUploader interface {
	PutFile(ctx context.Context, key, localPath string) error
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type SpeechConfig struct {
	AccessKeyId     string `toml:"access_key_id"`
	AccessKeySecret string `toml:"access_key_secret"`
	AppKey          string `toml:"app_key"`
}

// AsrClient transcribes audio with NLS file transcription. The audio is
// uploaded to OSS and passed to the service as a presigned URL.
type AsrClient struct {
	appKey    string
	uploader  AudioUploader
	pollEvery time.Duration
	// do sends one request and returns the HTTP status and body.
	do func(req *requests.CommonRequest) (int, string, error)
}

func NewAsrClient(cfg SpeechConfig, uploader AudioUploader) (*AsrClient, error) {
	if cfg.AccessKeyId == "" || cfg.AccessKeySecret == "" || cfg.AppKey == "" {
		return nil, apperrors.Wrap(apperrors.CodeCredentialsMissing, "aliyun speech credentials are required", nil)
	}
	client, err := sdk.NewClientWithAccessKey("cn-shanghai", cfg.AccessKeyId, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("aliyun: create sdk client: %w", err)
	}
	return &AsrClient{
		appKey:    cfg.AppKey,
		uploader:  uploader,
		pollEvery: defaultPollEvery,
		do: func(req *requests.CommonRequest) (int, string, error) {
			resp, err := client.ProcessCommonRequest(req)
			if err != nil {
				return 0, "", err
			}
			return resp.GetHttpStatus(), resp.GetHttpContentString(), nil
		},
	}, nil
}

type filetransResponse struct {
	TaskId     string `json:"TaskId"`
	StatusText string `json:"StatusText"`
	Result     struct {
		Sentences []struct {
			BeginTime int64  `json:"BeginTime"`
			EndTime   int64  `json:"EndTime"`
			Text      string `json:"Text"`
			ChannelId int    `json:"ChannelId"`
		} `json:"Sentences"`
	} `json:"Result"`
}

func newFiletransRequest(apiName, method string) *requests.CommonRequest {
	req := requests.NewCommonRequest()
	req.Domain = filetransDomain
	req.Version = filetransVersion
	req.Product = filetransProduct
	req.ApiName = apiName
	req.Method = method
	return req
}

// Transcribe implements types.Transcriber.
func (c *AsrClient) Transcribe(ctx context.Context, audioFile, language string) (*types.Transcript, error) {
	key := asrUploadKeyPrefix + uuid.NewString() + filepath.Ext(audioFile)
	if err := c.uploader.PutFile(ctx, key, audioFile); err != nil {
		return nil, err
	}
	link, err := c.uploader.Presign(ctx, key, defaultPresignTTL)
	if err != nil {
		return nil, err
	}

	taskID, err := c.submit(link)
	if err != nil {
		return nil, err
	}
	log.GetLogger().Info("aliyun: filetrans task submitted", zap.String("task_id", taskID), zap.String("file", audioFile))

	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()
	for {
		res, err := c.result(taskID)
		if err != nil {
			return nil, err
		}
		switch res.StatusText {
		case statusRunning, statusQueueing:
		case statusSuccess, statusNoFragment:
			return toTranscript(res, language), nil
		default:
			return nil, statusError(res.StatusText, taskID)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *AsrClient) submit(fileLink string) (string, error) {
	task, err := json.Marshal(map[string]any{
		"appkey":       c.appKey,
		"file_link":    fileLink,
		"version":      "4.0",
		"enable_words": false,
	})
	if err != nil {
		return "", err
	}
	req := newFiletransRequest("SubmitTask", "POST")
	req.FormParams["Task"] = string(task)

	res, err := c.call(req)
	if err != nil {
		return "", err
	}
	if res.StatusText != statusSuccess || res.TaskId == "" {
		return "", statusError(res.StatusText, res.TaskId)
	}
	return res.TaskId, nil
}

func (c *AsrClient) result(taskID string) (*filetransResponse, error) {
	req := newFiletransRequest("GetTaskResult", "GET")
	req.QueryParams["TaskId"] = taskID
	return c.call(req)
}

func (c *AsrClient) call(req *requests.CommonRequest) (*filetransResponse, error) {
	status, body, err := c.do(req)
	if err != nil {
		return nil, apperrors.Transient("aliyun filetrans "+req.ApiName, err)
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, apperrors.Wrap(apperrors.CodeUnauthorized, "aliyun filetrans access denied", nil)
	case status >= 500:
		return nil, apperrors.Transient(fmt.Sprintf("aliyun filetrans %s status %d", req.ApiName, status), nil)
	}
	var res filetransResponse
	if err := json.Unmarshal([]byte(body), &res); err != nil {
		return nil, apperrors.Transient("aliyun filetrans decode", err)
	}
	return &res, nil
}

func statusError(statusText, taskID string) error {
	if strings.Contains(statusText, "QUOTA") || strings.Contains(statusText, "TOO_MANY") {
		return apperrors.RateLimited("aliyun filetrans "+statusText, 30*time.Second, nil)
	}
	return apperrors.WrapWithDetail(apperrors.CodeTranscribeFailed, apperrors.ErrTranscribeFailed.Message,
		statusText+" task="+taskID, nil)
}

func toTranscript(res *filetransResponse, language string) *types.Transcript {
	tr := &types.Transcript{Language: language}
	for _, s := range res.Result.Sentences {
		if s.ChannelId != 0 {
			continue
		}
		tr.Segments = append(tr.Segments, types.Segment{
			Start: float64(s.BeginTime) / 1000,
			End:   float64(s.EndTime) / 1000,
			Text:  strings.TrimSpace(s.Text),
		})
		tr.Duration = max(tr.Duration, float64(s.EndTime)/1000)
	}
	return tr
}
