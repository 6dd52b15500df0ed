// Package config provides application configuration management.
//
// The config package loads the service configuration from environment
// variables (PYEXEC_ prefix) and an optional config.yaml file, applies
// defaults, and validates the result. It covers the HTTP server, the
// session store, sandbox execution limits, and the optional Redis and
// S3 backends.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("listening on :%d\n", cfg.Server.HTTPPort)
package config
