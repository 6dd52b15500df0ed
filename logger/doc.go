// Package logger provides structured logging capabilities.
//
// The logger package sets up the application's logging using zap,
// selecting a development or production configuration from the
// application config.
package logger
