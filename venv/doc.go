// Package venv manages per-session Python virtual environments.
//
// Each session may carry one virtualenv rooted under its directory.
// The environment is created lazily by a disposable container run and
// reused across executions. Creation is serialized per session with a
// singleflight group; the venv module's own idempotence (re-running
// creation against an existing venv is harmless) covers callers
// outside this process.
package venv
