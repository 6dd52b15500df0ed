// Package objstore synchronizes session files with an S3 bucket.
//
// Objects are keyed by "<session_id>/<filename>". When no bucket is
// configured the sync layer degrades to a disabled implementation and
// the session directory on disk is the sole source of truth.
package objstore
