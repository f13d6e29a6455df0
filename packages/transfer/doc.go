// Package transfer executes HTTP requests through the native transfer engine.
//
// It provides:
//   - A request-scoped Engine with a bounded worker pool and a task registry
//   - Cooperative cancellation by task ID or context
//   - Bounded-memory buffering that spills large bodies to a temporary file
//   - Per-phase timing breakdowns derived from cumulative counters
//   - A closed error taxonomy (see Kind)
//   - A net/http FallbackEngine used when the native engine cannot start
//
// Both engines implement Executor and share one Policy, so a given response
// is buffered the same way regardless of which engine served it.
package transfer
