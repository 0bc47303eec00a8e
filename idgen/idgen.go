// Package idgen provides pluggable ID generation.
//
// Constructors across the repo (queue, coord, history) accept a Generator,
// making the ID strategy a startup-time decision rather than a compile-time one.
package idgen

import "github.com/google/uuid"

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
// Time-sortable, so IDs double as a creation-order tiebreaker.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID,
// giving type-scoped identifiers ("job_", "task_", "log_").
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}
