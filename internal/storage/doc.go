// Package storage keeps an append-only journal of relay attempts.
//
// The journal is an audit trail. Nothing reads it back into the pipeline: the
// pending queue and the success history always start empty.
package storage
