// Package queue provides the in-process JobQueue backend used by tests and
// single-node deployments. The SQL backend lives in store/sql.
package queue
