// Package orchestrator sequences install and execute tasks.
//
// The orchestrator is the façade over the session store, status store,
// object sync, venv manager, and container runner. Enqueue operations
// return immediately with a task key; the actual work runs on a
// bounded in-process worker pool and publishes its terminal outcome to
// the status store. Failures inside a background unit are never
// propagated to the caller; they are only observable via the task's
// status record.
package orchestrator
