// Package summarizer defines the summarizer collaborator consumed by the
// consolidation engine's compression pass, along with a local extractive
// implementation, an OpenAI-backed implementation, and a protective wrapper
// combining a circuit breaker with a rate limiter.
//
// Summarization may fail; the engine treats a failure as a degraded state
// (the record stays uncompressed and is retried on the next sweep), never
// as a reason to abort a sweep.
package summarizer

import "context"

// Provider produces a derived summary form of opaque record content.
//
// All implementations must be safe for concurrent use. The engine calls
// Summarize with no tier locks held, so a slow provider delays compression
// only, never readers or writers.
type Provider interface {
	// Summarize returns the summary form of content.
	Summarize(ctx context.Context, content string) (string, error)

	// Close closes the provider and releases resources.
	Close() error
}
