// Package sandbox runs single units of work in disposable containers.
//
// The sandbox package talks to the Docker engine API to create,
// start, wait on, and remove one container per run. Containers are
// resource-bounded and, for code execution, network-isolated. Removal
// is guaranteed regardless of outcome so no container is ever leaked.
//
// A non-zero exit inside the container is an expected result of
// running untrusted code and is reported through RunResult; errors are
// reserved for infrastructure failures such as a missing image or an
// unreachable engine.
package sandbox
