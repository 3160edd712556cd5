package aliyun

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	apperrors "clipfactory/pkg/errors"

	"github.com/aliyun/alibaba-cloud-sdk-go/sdk/requests"
	"github.com/aliyun/alibabacloud-oss-go-sdk-v2/oss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	keys []string
}

func (f *fakeUploader) PutFile(_ context.Context, key, _ string) error {
	f.keys = append(f.keys, key)
	return nil
}

func (f *fakeUploader) Presign(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://bucket.example/" + key + "?sig=1", nil
}

type scriptedCall struct {
	status int
	body   string
}

func newScriptedAsr(t *testing.T, calls []scriptedCall) (*AsrClient, *[]string) {
	t.Helper()
	var apis []string
	i := 0
	return &AsrClient{
		appKey:    "app",
		uploader:  &fakeUploader{},
		pollEvery: time.Millisecond,
		do: func(req *requests.CommonRequest) (int, string, error) {
			apis = append(apis, req.ApiName)
			require.Less(t, i, len(calls), "unexpected call %s", req.ApiName)
			c := calls[i]
			i++
			return c.status, c.body, nil
		},
	}, &apis
}

func TestAsrTranscribePollsUntilSuccess(t *testing.T) {
	client, apis := newScriptedAsr(t, []scriptedCall{
		{status: 200, body: `{"TaskId":"t1","StatusText":"SUCCESS"}`},
		{status: 200, body: `{"TaskId":"t1","StatusText":"QUEUEING"}`},
		{status: 200, body: `{"TaskId":"t1","StatusText":"RUNNING"}`},
		{status: 200, body: `{"TaskId":"t1","StatusText":"SUCCESS","Result":{"Sentences":[
			{"BeginTime":0,"EndTime":2500,"Text":" 你好 ","ChannelId":0},
			{"BeginTime":0,"EndTime":2500,"Text":"dup","ChannelId":1},
			{"BeginTime":2500,"EndTime":6100,"Text":"world","ChannelId":0}]}}`},
	})

	tr, err := client.Transcribe(context.Background(), "/tmp/audio.wav", "zh")
	require.NoError(t, err)
	assert.Equal(t, []string{"SubmitTask", "GetTaskResult", "GetTaskResult", "GetTaskResult"}, *apis)
	assert.Equal(t, "zh", tr.Language)
	require.Len(t, tr.Segments, 2)
	assert.Equal(t, "你好", tr.Segments[0].Text)
	assert.Equal(t, 2.5, tr.Segments[1].Start)
	assert.Equal(t, 6.1, tr.Duration)

	uploads := client.uploader.(*fakeUploader).keys
	require.Len(t, uploads, 1)
	assert.Regexp(t, `^asr-uploads/.+\.wav$`, uploads[0])
}

func TestAsrErrors(t *testing.T) {
	tests := []struct {
		name  string
		calls []scriptedCall
		code  int
	}{
		{name: "forbidden", calls: []scriptedCall{{status: 403, body: `{}`}}, code: apperrors.CodeUnauthorized},
		{name: "server error", calls: []scriptedCall{{status: 503, body: ``}}, code: apperrors.CodeUpstreamTransient},
		{name: "quota", calls: []scriptedCall{{status: 200, body: `{"StatusText":"USER_BIZDURATION_QUOTA_EXCEED"}`}}, code: apperrors.CodeRateLimited},
		{name: "task failed", calls: []scriptedCall{
			{status: 200, body: `{"TaskId":"t1","StatusText":"SUCCESS"}`},
			{status: 200, body: `{"TaskId":"t1","StatusText":"FILE_DOWNLOAD_FAILED"}`},
		}, code: apperrors.CodeTranscribeFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newScriptedAsr(t, tt.calls)
			_, err := client.Transcribe(context.Background(), "/tmp/a.wav", "en")
			require.Error(t, err)
			assert.Equal(t, tt.code, apperrors.GetCode(err))
		})
	}
}

func TestNewClientsRequireCredentials(t *testing.T) {
	_, err := NewAsrClient(SpeechConfig{AccessKeyId: "id"}, &fakeUploader{})
	assert.True(t, apperrors.Is(err, apperrors.CodeCredentialsMissing))

	_, err = NewOssClient(OssConfig{Bucket: "b"})
	assert.True(t, apperrors.Is(err, apperrors.CodeCredentialsMissing))
}

func TestOssKeysAndErrors(t *testing.T) {
	c := &OssClient{bucket: "b", prefix: "clips"}
	assert.Equal(t, "clips/projects/r1/rank/rank.json", c.objectKey("/projects/r1/rank/rank.json"))
	assert.Equal(t, "projects/r1/rank/rank.json", c.artifactKey("clips/projects/r1/rank/rank.json"))

	plain := &OssClient{bucket: "b"}
	assert.Equal(t, "projects/r1", plain.objectKey("projects/r1"))

	notFound := &oss.ServiceError{StatusCode: http.StatusNotFound, Code: "NoSuchKey"}
	assert.True(t, apperrors.Is(c.classify("k", notFound), apperrors.CodeArtifactMissing))

	denied := &oss.ServiceError{StatusCode: http.StatusForbidden, Code: "AccessDenied"}
	assert.True(t, apperrors.Is(c.classify("k", denied), apperrors.CodeUnauthorized))

	throttled := c.classify("k", &oss.ServiceError{StatusCode: http.StatusServiceUnavailable})
	assert.True(t, apperrors.Is(throttled, apperrors.CodeRateLimited))
	assert.Equal(t, 5*time.Second, apperrors.RetryAfter(throttled))

	assert.True(t, apperrors.Is(c.classify("k", errors.New("dial tcp")), apperrors.CodeUpstreamTransient))
	assert.NoError(t, c.classify("k", nil))
}
