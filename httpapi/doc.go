// Package httpapi exposes the orchestrator over HTTP.
//
// Every route except the health check requires the configured API key
// header. Install and execute return 202 with a task key; the caller
// polls the status route for the outcome. Panics anywhere in request
// handling are converted to a generic 500 response that leaks no
// internal detail.
package httpapi
