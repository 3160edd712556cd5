package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"clipfactory/config"
	"clipfactory/internal/events"
	"clipfactory/internal/objectstore"
	"clipfactory/internal/pipeline"
	"clipfactory/internal/service"
	"clipfactory/internal/storage"
	"clipfactory/internal/types"

	"gorm.io/gorm/logger"
)

type nopBroker struct{}

func (nopBroker) Enqueue(_ context.Context, stage types.Stage, _ types.StagePayload, key string) (types.EnqueueResult, error) {
	return types.EnqueueResult{TaskID: stage.String() + ":" + key}, nil
}

func newTestService(t *testing.T) *service.Service {
	t.Helper()
	tmp := t.TempDir()
	db, err := storage.Open(filepath.Join(tmp, "test.db"), logger.Silent)
	if err != nil {
		t.Fatalf("storage.Open() returned error: %v", err)
	}
	jobs := storage.New(db)
	objects, err := objectstore.NewFileStore(filepath.Join(tmp, "objects"))
	if err != nil {
		t.Fatalf("NewFileStore() returned error: %v", err)
	}
	return &service.Service{
		Jobs:         jobs,
		Objects:      objects,
		Bus:          events.NewMemoryBus(),
		Orchestrator: pipeline.NewOrchestrator(jobs, jobs, objects, nopBroker{}),
	}
}

type envelope struct {
	Error int32           `json:"error"`
	Data  json.RawMessage `json:"data"`
}

func TestHealthCheck(t *testing.T) {
	srv := httptest.NewServer(NewEngine(newTestService(t)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status OK, got %v", resp.Status)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Errorf("Expected X-Request-Id header")
	}
}

func TestSubmitThenStatus(t *testing.T) {
	srv := httptest.NewServer(NewEngine(newTestService(t)))
	defer srv.Close()

	body, _ := json.Marshal(map[string]any{"sourceRef": "https://www.youtube.com/watch?v=abc"})
	resp, err := http.Post(srv.URL+"/jobs/pipeline", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if env.Error != 0 {
		t.Fatalf("submit error code = %d", env.Error)
	}
	var submitted struct {
		JobId   string `json:"jobId"`
		Created bool   `json:"created"`
	}
	if err := json.Unmarshal(env.Data, &submitted); err != nil {
		t.Fatalf("Failed to decode data: %v", err)
	}
	if submitted.JobId == "" || !submitted.Created {
		t.Fatalf("unexpected submit result %+v", submitted)
	}

	statusResp, err := http.Get(srv.URL + "/jobs/" + submitted.JobId + "/status")
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	defer statusResp.Body.Close()
	var statusEnv envelope
	if err := json.NewDecoder(statusResp.Body).Decode(&statusEnv); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if statusEnv.Error != 0 {
		t.Fatalf("status error code = %d", statusEnv.Error)
	}
}

func TestStartBackendStopsOnCancel(t *testing.T) {
	original := config.Conf
	t.Cleanup(func() { config.Conf = original })
	config.Conf.Server.Host = "127.0.0.1"
	config.Conf.Server.Port = 0

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := StartBackend(ctx, newTestService(t)); err != nil {
		t.Fatalf("StartBackend() returned error: %v", err)
	}
}
