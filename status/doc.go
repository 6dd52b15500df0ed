// Package status tracks asynchronous task outcomes.
//
// Task status records are written by background workers and polled by
// clients. The store is backed by Redis when configured and by an
// in-process map otherwise; both expire records after a retention
// window, after which a task is indistinguishable from one that never
// existed.
package status
