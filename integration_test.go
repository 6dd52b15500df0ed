package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/pyexec/config"
	"github.com/isdmx/pyexec/httpapi"
	"github.com/isdmx/pyexec/logger"
	"github.com/isdmx/pyexec/mcpserver"
	"github.com/isdmx/pyexec/objstore"
	"github.com/isdmx/pyexec/orchestrator"
	"github.com/isdmx/pyexec/sandbox"
	"github.com/isdmx/pyexec/session"
	"github.com/isdmx/pyexec/status"
	"github.com/isdmx/pyexec/venv"
)

const apiKey = "integration-test-key"

// scriptedRunner stands in for Docker: it records every run and
// returns a canned result.
type scriptedRunner struct {
	mu     sync.Mutex
	specs  []sandbox.RunSpec
	result sandbox.RunResult
}

func (r *scriptedRunner) Run(_ context.Context, spec sandbox.RunSpec) (sandbox.RunResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs = append(r.specs, spec)
	return r.result, nil
}

func (r *scriptedRunner) runs() []sandbox.RunSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sandbox.RunSpec(nil), r.specs...)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{
			Transport:    "http",
			HTTPPort:     8000,
			APIKey:       apiKey,
			APIKeyHeader: "X-API-Key",
		},
		Session: config.SessionConfig{BasePath: t.TempDir()},
		Sandbox: config.SandboxConfig{
			Image:             "pyexec-base",
			User:              "appuser",
			MemoryMB:          256,
			CPUShares:         512,
			ExecTimeoutSec:    10,
			InstallTimeoutSec: 30,
			Workers:           2,
		},
		Redis:   config.RedisConfig{StatusTTLSec: 3600},
		Logging: config.LoggingConfig{Mode: "development", Level: "info"},
	}
}

// buildStack wires the full application the way cmd/server does, with
// the container runner replaced by a scripted fake.
func buildStack(t *testing.T, runner sandbox.Runner) (*config.Config, *orchestrator.Orchestrator) {
	t.Helper()
	cfg := testConfig(t)
	log := zaptest.NewLogger(t)

	sessions := session.NewStore(cfg, log)
	statuses, err := status.New(cfg, log)
	require.NoError(t, err)
	syncer, err := objstore.New(cfg, log)
	require.NoError(t, err)
	venvs := venv.NewManager(cfg, runner, log)
	pool := orchestrator.NewPool(cfg.Sandbox.Workers, log)
	t.Cleanup(pool.Stop)

	return cfg, orchestrator.New(cfg, sessions, statuses, syncer, venvs, runner, pool, log)
}

func authedRequest(t *testing.T, method, url string, body []byte) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-API-Key", apiKey)
	return req
}

func pollStatus(t *testing.T, ts *httptest.Server, statusURL string) status.Record {
	t.Helper()
	var rec status.Record
	require.Eventually(t, func() bool {
		req := authedRequest(t, http.MethodGet, ts.URL+statusURL, nil)
		resp, err := ts.Client().Do(req)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
			return false
		}
		return rec.Status == status.StateSuccess || rec.Status == status.StateFailed
	}, 5*time.Second, 10*time.Millisecond)
	return rec
}

func TestIntegrationHTTPExecuteFlow(t *testing.T) {
	runner := &scriptedRunner{result: sandbox.RunResult{
		Stdout:   "hello from the sandbox\n",
		ExitCode: 0,
	}}
	cfg, orch := buildStack(t, runner)
	api := httpapi.New(cfg, zaptest.NewLogger(t), orch)
	ts := httptest.NewServer(api.Handler())
	defer ts.Close()

	body, err := json.Marshal(map[string]any{
		"session_id": "sess-http",
		"code":       "print('hello from the sandbox')",
	})
	require.NoError(t, err)

	resp, err := ts.Client().Do(authedRequest(t, http.MethodPost, ts.URL+"/execute", body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var enq orchestrator.Enqueued
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&enq))
	assert.Equal(t, "execute_queued", enq.Status)
	require.NotEmpty(t, enq.StatusURL)

	rec := pollStatus(t, ts, enq.StatusURL)
	assert.Equal(t, status.StateSuccess, rec.Status)
	assert.Equal(t, "hello from the sandbox\n", rec.Output)
	require.NotNil(t, rec.ExitCode)
	assert.Equal(t, 0, *rec.ExitCode)

	// No venv exists for a fresh session, so the run used the global
	// interpreter and the session directory was mounted at /app.
	runs := runner.runs()
	require.Len(t, runs, 1)
	assert.Equal(t, venv.GlobalInterpreter, runs[0].Cmd[0])
	assert.Equal(t, venv.MountPoint, runs[0].WorkingDir)
	assert.True(t, runs[0].NetworkDisabled)
}

func TestIntegrationHTTPInstallFlow(t *testing.T) {
	runner := &scriptedRunner{result: sandbox.RunResult{
		Stdout:   "Successfully installed requests\n",
		ExitCode: 0,
	}}
	cfg, orch := buildStack(t, runner)
	api := httpapi.New(cfg, zaptest.NewLogger(t), orch)
	ts := httptest.NewServer(api.Handler())
	defer ts.Close()

	body, err := json.Marshal(map[string]any{
		"session_id": "sess-install",
		"packages":   []string{"requests"},
	})
	require.NoError(t, err)

	resp, err := ts.Client().Do(authedRequest(t, http.MethodPost, ts.URL+"/install", body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var enq orchestrator.Enqueued
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&enq))
	assert.Equal(t, "install_queued", enq.Status)
	assert.Equal(t, "install-sess-install", enq.TaskID)

	rec := pollStatus(t, ts, enq.StatusURL)
	assert.Equal(t, status.StateSuccess, rec.Status)
	assert.Contains(t, rec.Logs, "Installing packages: requests")

	// Fresh session: one run creates the venv, one installs packages.
	require.Len(t, runner.runs(), 2)
}

func TestIntegrationUploadDownloadTerminate(t *testing.T) {
	runner := &scriptedRunner{}
	cfg, orch := buildStack(t, runner)
	api := httpapi.New(cfg, zaptest.NewLogger(t), orch)
	ts := httptest.NewServer(api.Handler())
	defer ts.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("session_id", "sess-files"))
	fw, err := mw.CreateFormFile("file", "data.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("persisted bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	upReq := authedRequest(t, http.MethodPost, ts.URL+"/upload", buf.Bytes())
	upReq.Header.Set("Content-Type", mw.FormDataContentType())
	upResp, err := ts.Client().Do(upReq)
	require.NoError(t, err)
	defer upResp.Body.Close()
	require.Equal(t, http.StatusOK, upResp.StatusCode)

	var upBody map[string]string
	require.NoError(t, json.NewDecoder(upResp.Body).Decode(&upBody))
	assert.Equal(t, "data.txt", upBody["filename"])
	assert.Equal(t, orchestrator.StorageLocal, upBody["storage"])

	dlURL := fmt.Sprintf("%s/download?session_id=sess-files&filename=data.txt", ts.URL)
	dlResp, err := ts.Client().Do(authedRequest(t, http.MethodGet, dlURL, nil))
	require.NoError(t, err)
	defer dlResp.Body.Close()
	require.Equal(t, http.StatusOK, dlResp.StatusCode)

	var dlBuf bytes.Buffer
	_, err = dlBuf.ReadFrom(dlResp.Body)
	require.NoError(t, err)
	assert.Equal(t, "persisted bytes", dlBuf.String())

	termBody, err := json.Marshal(map[string]string{"session_id": "sess-files"})
	require.NoError(t, err)
	termResp, err := ts.Client().Do(authedRequest(t, http.MethodPost, ts.URL+"/terminate", termBody))
	require.NoError(t, err)
	defer termResp.Body.Close()
	require.Equal(t, http.StatusOK, termResp.StatusCode)

	// The file is gone with its session.
	goneResp, err := ts.Client().Do(authedRequest(t, http.MethodGet, dlURL, nil))
	require.NoError(t, err)
	defer goneResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, goneResp.StatusCode)
}

func TestIntegrationRejectedCredentialRunsNothing(t *testing.T) {
	runner := &scriptedRunner{}
	cfg, orch := buildStack(t, runner)
	api := httpapi.New(cfg, zaptest.NewLogger(t), orch)
	ts := httptest.NewServer(api.Handler())
	defer ts.Close()

	body, err := json.Marshal(map[string]any{"session_id": "s1", "code": "print(1)"})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/execute", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "not-the-key")
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, runner.runs())
}

func TestIntegrationMCPServerConstruction(t *testing.T) {
	runner := &scriptedRunner{}
	cfg, orch := buildStack(t, runner)

	log, err := logger.New(cfg.Logging.Mode, cfg.Logging.Level)
	require.NoError(t, err)

	srv, err := mcpserver.New(cfg, log, orch)
	require.NoError(t, err)
	require.NotNil(t, srv)
	require.NotNil(t, srv.GetMCPServer())
}
