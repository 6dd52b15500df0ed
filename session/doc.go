// Package session manages per-session working directories.
//
// Every session is identified by a client-chosen string and owns one
// directory under a configured base path. The directory holds uploaded
// files, execution artifacts, and the session's cached virtualenv. The
// store materializes directories lazily and removes the whole tree on
// terminate.
package session
