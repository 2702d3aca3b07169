package domain

import "errors"

// ErrNotFound is returned when a notification record does not exist.
var ErrNotFound = errors.New("notification not found")

// ErrConcurrentEdit is returned when a conditional repeat-state update finds
// the record changed since it was read. The caller skips the record and
// re-evaluates it on the next tick.
var ErrConcurrentEdit = errors.New("notification changed concurrently")
