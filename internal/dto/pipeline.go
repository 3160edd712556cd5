package dto

// SubmitPipelineReq 提交视频处理任务
type SubmitPipelineReq struct {
	SourceRef string            `json:"sourceRef" binding:"required"`
	Meta      map[string]string `json:"meta"`
}

type SubmitPipelineResData struct {
	JobId     string `json:"jobId"`
	Created   bool   `json:"created"`
	Duplicate bool   `json:"duplicate"`
}

// ExportReq 发布单个片段
type ExportReq struct {
	RootId string `json:"rootId" binding:"required"`
	ClipId string `json:"clipId" binding:"required"`
	UserId string `json:"userId" binding:"required"`
}

type ExportResData struct {
	ExportId        string `json:"exportId"`
	Status          string `json:"status"`
	PlatformVideoId string `json:"platformVideoId,omitempty"`
}

type JobStatusResData struct {
	Id             string        `json:"id"`
	Kind           string        `json:"kind"`
	State          string        `json:"state"`
	Progress       int           `json:"progress"`
	Error          string        `json:"error,omitempty"`
	Stages         []StageStatus `json:"stages,omitempty"`
	PendingExports int           `json:"pendingExports,omitempty"`
}

type StageStatus struct {
	Stage     string `json:"stage"`
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	Attempt   int    `json:"attempt"`
	LastError string `json:"lastError,omitempty"`
}

type ArtifactListResData struct {
	RootId string   `json:"rootId"`
	Keys   []string `json:"keys"`
}
