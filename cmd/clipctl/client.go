package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"clipfactory/internal/dto"
	apperrors "clipfactory/pkg/errors"

	"github.com/go-resty/resty/v2"
)

// apiClient talks to the clipfactory HTTP API and unwraps its envelope.
type apiClient struct {
	http *resty.Client
}

type envelope struct {
	Error  int32           `json:"error"`
	Msg    string          `json:"msg"`
	Detail string          `json:"detail"`
	Data   json.RawMessage `json:"data"`
}

func newAPIClient(baseURL string) *apiClient {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})
	return &apiClient{http: rc}
}

func (c *apiClient) call(ctx context.Context, method, path string, body, out any) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%s %s: %s", method, path, resp.Status())
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	if env.Error != 0 {
		appErr := apperrors.New(int(env.Error), env.Msg)
		appErr.Detail = env.Detail
		return appErr
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func (c *apiClient) Submit(ctx context.Context, sourceRef string, meta map[string]string) (*dto.SubmitPipelineResData, error) {
	var out dto.SubmitPipelineResData
	err := c.call(ctx, http.MethodPost, "/jobs/pipeline", dto.SubmitPipelineReq{SourceRef: sourceRef, Meta: meta}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) Status(ctx context.Context, id string) (*dto.JobStatusResData, error) {
	var out dto.JobStatusResData
	if err := c.call(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id)+"/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) Export(ctx context.Context, rootID, clipID, userID string) (*dto.ExportResData, error) {
	var out dto.ExportResData
	err := c.call(ctx, http.MethodPost, "/jobs/export", dto.ExportReq{RootId: rootID, ClipId: clipID, UserId: userID}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) Artifacts(ctx context.Context, rootID string) (*dto.ArtifactListResData, error) {
	var out dto.ArtifactListResData
	if err := c.call(ctx, http.MethodGet, "/jobs/"+url.PathEscape(rootID)+"/artifacts", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
