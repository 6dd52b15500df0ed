package venv

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/isdmx/pyexec/config"
	"github.com/isdmx/pyexec/sandbox"
)

// MountPoint is where the session directory is bound inside every
// container run.
const MountPoint = "/app"

// ContainerInterpreter is the venv interpreter as seen from inside a
// container with the session directory mounted at MountPoint.
const ContainerInterpreter = MountPoint + "/venv/bin/python"

// GlobalInterpreter is the fallback when a session has no venv.
const GlobalInterpreter = "python"

// Manager creates and uses per-session virtual environments.
type Manager struct {
	runner sandbox.Runner
	image  string
	user   string
	logger *zap.Logger
	group  singleflight.Group
}

// NewManager creates a Manager using the configured base image.
func NewManager(cfg *config.Config, runner sandbox.Runner, logger *zap.Logger) *Manager {
	return &Manager{
		runner: runner,
		image:  cfg.Sandbox.Image,
		user:   cfg.Sandbox.User,
		logger: logger,
	}
}

// InterpreterPath returns the host-side path of the session's venv
// interpreter.
func (m *Manager) InterpreterPath(sessionDir string) string {
	return filepath.Join(sessionDir, "venv", "bin", "python")
}

// Exists reports whether the session's venv interpreter is present.
// This is a best-effort check, not a lock.
func (m *Manager) Exists(sessionDir string) bool {
	_, err := os.Stat(m.InterpreterPath(sessionDir))
	return err == nil
}

// SelectInterpreter returns the in-container interpreter for a
// session: the venv interpreter iff the venv exists at check time,
// else the global fallback.
func (m *Manager) SelectInterpreter(sessionDir string) string {
	if m.Exists(sessionDir) {
		return ContainerInterpreter
	}
	return GlobalInterpreter
}

type ensureResult struct {
	created bool
	log     string
}

// Ensure makes sure the session's venv exists, creating it with one
// container run if needed. Concurrent callers for the same session
// share a single creation attempt. It returns whether a creation run
// happened and that run's captured output.
func (m *Manager) Ensure(ctx context.Context, sessionID, sessionDir string) (bool, string, error) {
	v, err, _ := m.group.Do(sessionID, func() (any, error) {
		if m.Exists(sessionDir) {
			return ensureResult{}, nil
		}

		m.logger.Info("creating virtual environment", zap.String("session_id", sessionID))
		res, runErr := m.runner.Run(ctx, sandbox.RunSpec{
			Image:      m.image,
			Cmd:        []string{"python", "-m", "venv", "venv"},
			Binds:      []string{sessionDir + ":" + MountPoint},
			WorkingDir: MountPoint,
			User:       m.user,
		})
		if runErr != nil {
			return ensureResult{created: true, log: res.Combined()},
				fmt.Errorf("failed to create virtual environment: %w", runErr)
		}
		if res.ExitCode != 0 {
			return ensureResult{created: true, log: res.Combined()},
				fmt.Errorf("virtual environment creation exited with code %d", res.ExitCode)
		}
		return ensureResult{created: true, log: res.Combined()}, nil
	})

	result, _ := v.(ensureResult)
	return result.created, result.log, err
}

// Install ensures the venv and installs the requested packages with a
// second container run. The returned log concatenates both steps'
// output and is valid even when the install step fails.
func (m *Manager) Install(ctx context.Context, sessionID, sessionDir string, packages []string) (string, error) {
	var log strings.Builder

	created, createLog, err := m.Ensure(ctx, sessionID, sessionDir)
	if created {
		log.WriteString("Creating virtual environment...\n")
		log.WriteString(createLog)
	}
	if err != nil {
		return log.String(), err
	}

	log.WriteString(fmt.Sprintf("Installing packages: %s...\n", strings.Join(packages, " ")))

	cmd := append([]string{ContainerInterpreter, "-m", "pip", "install"}, packages...)
	res, err := m.runner.Run(ctx, sandbox.RunSpec{
		Image:      m.image,
		Cmd:        cmd,
		Binds:      []string{sessionDir + ":" + MountPoint},
		WorkingDir: MountPoint,
		User:       m.user,
	})
	log.WriteString(res.Combined())
	if err != nil {
		return log.String(), fmt.Errorf("package installation failed: %w", err)
	}
	if res.ExitCode != 0 {
		return log.String(), fmt.Errorf("package installation exited with code %d", res.ExitCode)
	}
	return log.String(), nil
}
