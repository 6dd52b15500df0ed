package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/isdmx/pyexec/config"
	"github.com/isdmx/pyexec/objstore"
	"github.com/isdmx/pyexec/sandbox"
	"github.com/isdmx/pyexec/session"
	"github.com/isdmx/pyexec/status"
	"github.com/isdmx/pyexec/venv"
)

// ErrNotFound reports an unknown session file or task.
var ErrNotFound = errors.New("not found")

// Storage kinds reported by Upload.
const (
	StorageS3    = "s3"
	StorageLocal = "local"
)

// Enqueued is the synchronous response to an install or execute
// request: the work itself runs in the background.
type Enqueued struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
	TaskID    string `json:"task_id"`
	StatusURL string `json:"status_url"`
}

// Download is the result of a download request: a presigned URL when
// the object store is configured, otherwise a local file path.
type Download struct {
	URL  string `json:"url,omitempty"`
	Path string `json:"-"`
}

// Orchestrator coordinates session files, the dependency cache, and
// container runs for the install and execute operations.
type Orchestrator struct {
	cfg      *config.Config
	sessions *session.Store
	statuses status.Store
	sync     objstore.Syncer
	venvs    *venv.Manager
	runner   sandbox.Runner
	pool     *Pool
	logger   *zap.Logger
}

// New assembles the orchestrator from its collaborators.
func New(
	cfg *config.Config,
	sessions *session.Store,
	statuses status.Store,
	sync objstore.Syncer,
	venvs *venv.Manager,
	runner sandbox.Runner,
	pool *Pool,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		sessions: sessions,
		statuses: statuses,
		sync:     sync,
		venvs:    venvs,
		runner:   runner,
		pool:     pool,
		logger:   logger,
	}
}

// installTaskID returns the task key for a session's install. A
// session has at most one conceptually current install.
func installTaskID(sessionID string) string {
	return "install-" + sessionID
}

// execTaskID returns a fresh task key for one execution. A session may
// have many concurrent executions, so the key carries a random suffix.
func execTaskID(sessionID string) (taskID, suffix string) {
	suffix = strings.SplitN(uuid.NewString(), "-", 2)[0]
	return fmt.Sprintf("exec-%s-%s", sessionID, suffix), suffix
}

// EnqueueInstall schedules a package installation and returns its task
// key immediately.
func (o *Orchestrator) EnqueueInstall(_ context.Context, sessionID string, packages []string) (Enqueued, error) {
	if err := session.ValidateID(sessionID); err != nil {
		return Enqueued{}, err
	}

	taskID := installTaskID(sessionID)
	o.pool.Submit(func(ctx context.Context) {
		o.doInstall(ctx, sessionID, packages, taskID)
	})

	return Enqueued{
		Status:    "install_queued",
		SessionID: sessionID,
		TaskID:    taskID,
		StatusURL: "/status/install/" + taskID,
	}, nil
}

// EnqueueExecute schedules a code execution and returns its task key
// immediately.
func (o *Orchestrator) EnqueueExecute(_ context.Context, sessionID, code string, env map[string]string) (Enqueued, error) {
	if err := session.ValidateID(sessionID); err != nil {
		return Enqueued{}, err
	}

	taskID, suffix := execTaskID(sessionID)
	o.pool.Submit(func(ctx context.Context) {
		o.doExecute(ctx, sessionID, code, env, taskID, suffix)
	})

	return Enqueued{
		Status:    "execute_queued",
		TaskID:    taskID,
		StatusURL: "/status/execute/" + taskID,
	}, nil
}

// Status returns the stored record for a task key.
func (o *Orchestrator) Status(ctx context.Context, taskID string) (status.Record, bool, error) {
	return o.statuses.Get(ctx, taskID)
}

// Terminate removes a session's entire directory tree. It reports
// whether the session existed; terminating an unknown session is a
// successful no-op.
func (o *Orchestrator) Terminate(_ context.Context, sessionID string) (bool, error) {
	return o.sessions.Delete(sessionID)
}

// Upload stores a file for a session, in the object store when
// configured and in the session directory otherwise. It returns the
// storage kind used.
func (o *Orchestrator) Upload(ctx context.Context, sessionID, filename string, r io.Reader) (string, error) {
	if err := session.ValidateID(sessionID); err != nil {
		return "", err
	}
	if o.sync.Enabled() {
		if err := o.sync.Push(ctx, sessionID, filename, r); err != nil {
			return "", err
		}
		return StorageS3, nil
	}
	if _, err := o.sessions.Save(sessionID, filename, r); err != nil {
		return "", err
	}
	return StorageLocal, nil
}

// DownloadFile resolves a session file to a presigned URL or a local
// path depending on the configured backend. It returns ErrNotFound
// when the local backend has no such file.
func (o *Orchestrator) DownloadFile(ctx context.Context, sessionID, filename string) (Download, error) {
	if err := session.ValidateID(sessionID); err != nil {
		return Download{}, err
	}
	if o.sync.Enabled() {
		url, err := o.sync.PresignGet(ctx, sessionID, filename)
		if err != nil {
			return Download{}, err
		}
		return Download{URL: url}, nil
	}

	path, err := o.sessions.FilePath(sessionID, filename)
	if errors.Is(err, os.ErrNotExist) {
		return Download{}, ErrNotFound
	}
	if err != nil {
		return Download{}, err
	}
	return Download{Path: path}, nil
}

// setStatus writes a full status record, logging rather than failing
// when the store is unreachable: background units have no caller to
// report to.
func (o *Orchestrator) setStatus(ctx context.Context, taskID string, rec status.Record) {
	if err := o.statuses.Set(ctx, taskID, rec, o.cfg.StatusTTL()); err != nil {
		o.logger.Error("failed to write status record",
			zap.String("task_id", taskID), zap.Error(err))
	}
}

// doInstall is the background unit for one install task.
func (o *Orchestrator) doInstall(ctx context.Context, sessionID string, packages []string, taskID string) {
	o.setStatus(ctx, taskID, status.Record{Status: status.StateInstalling})

	dir, err := o.sessions.Ensure(sessionID)
	if err != nil {
		o.setStatus(ctx, taskID, status.Record{Status: status.StateFailed, Error: err.Error()})
		return
	}

	installCtx, cancel := context.WithTimeout(ctx, o.cfg.InstallTimeout())
	defer cancel()

	log, err := o.venvs.Install(installCtx, sessionID, dir, packages)
	if err != nil {
		o.logger.Warn("install task failed",
			zap.String("task_id", taskID), zap.Error(err))
		o.setStatus(ctx, taskID, status.Record{
			Status: status.StateFailed,
			Logs:   log,
			Error:  err.Error(),
		})
		return
	}

	o.setStatus(ctx, taskID, status.Record{Status: status.StateSuccess, Logs: log})
}

// doExecute is the background unit for one execute task.
func (o *Orchestrator) doExecute(ctx context.Context, sessionID, code string, env map[string]string, taskID, suffix string) {
	o.setStatus(ctx, taskID, status.Record{Status: status.StateRunning})

	dir, err := o.sessions.Ensure(sessionID)
	if err != nil {
		o.setStatus(ctx, taskID, status.Record{Status: status.StateFailed, Error: err.Error()})
		return
	}

	// One code file per task, so concurrent executions against the
	// same session cannot clobber each other's submitted code.
	codeFile := fmt.Sprintf(".code-%s.py", suffix)
	codePath := filepath.Join(dir, codeFile)
	if err := os.WriteFile(codePath, []byte(code), 0o644); err != nil {
		o.setStatus(ctx, taskID, status.Record{Status: status.StateFailed, Error: err.Error()})
		return
	}
	defer func() {
		// Cleanup is unconditional: the submitted code never outlives
		// its run, whatever branch was taken.
		if rmErr := os.Remove(codePath); rmErr != nil && !os.IsNotExist(rmErr) {
			o.logger.Warn("failed to remove code file",
				zap.String("path", codePath), zap.Error(rmErr))
		}
	}()

	if o.sync.Enabled() {
		if err := o.sync.PullAll(ctx, sessionID, dir); err != nil {
			o.setStatus(ctx, taskID, status.Record{
				Status: status.StateFailed,
				Error:  fmt.Sprintf("failed to sync remote files: %v", err),
			})
			return
		}
	}

	interpreter := o.venvs.SelectInterpreter(dir)

	execCtx, cancel := context.WithTimeout(ctx, o.cfg.ExecTimeout())
	defer cancel()

	res, err := o.runner.Run(execCtx, sandbox.RunSpec{
		Image:           o.cfg.Sandbox.Image,
		Cmd:             []string{interpreter, codeFile},
		Binds:           []string{dir + ":" + venv.MountPoint},
		WorkingDir:      venv.MountPoint,
		Env:             flattenEnv(env),
		User:            o.cfg.Sandbox.User,
		MemoryBytes:     o.cfg.MemoryBytes(),
		CPUShares:       int64(o.cfg.Sandbox.CPUShares),
		NetworkDisabled: true,
	})
	if err != nil {
		o.logger.Warn("execute task failed",
			zap.String("task_id", taskID), zap.Error(err))
		o.setStatus(ctx, taskID, status.Record{Status: status.StateFailed, Error: err.Error()})
		return
	}

	exitCode := res.ExitCode
	if exitCode != 0 {
		o.setStatus(ctx, taskID, status.Record{
			Status:   status.StateFailed,
			Output:   res.Stdout,
			Errors:   res.Stderr,
			ExitCode: &exitCode,
		})
		return
	}

	o.setStatus(ctx, taskID, status.Record{
		Status:   status.StateSuccess,
		Output:   res.Stdout,
		Errors:   res.Stderr,
		ExitCode: &exitCode,
	})
}

func flattenEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
