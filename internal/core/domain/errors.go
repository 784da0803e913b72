package domain

import "errors"

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrParseUnavailable indicates upstream text extraction failed.
	// The document producer owns the retry; the core does not re-parse.
	ErrParseUnavailable = errors.New("text extraction unavailable")

	// ErrAllProvidersExhausted indicates every configured embedding or
	// generation provider failed or is cooling down. This is a hard
	// failure: the document stays pending/failed, never silently skipped.
	ErrAllProvidersExhausted = errors.New("all providers exhausted")

	// ErrDimensionMismatch indicates stored or returned vectors of
	// inconsistent length. This is a data-integrity bug; vectors are
	// never truncated or padded to fit.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrCacheUnavailable indicates the search cache is unreachable or
	// timed out. Soft: retrieval falls back to the primary store and
	// callers never see this error from Search.
	ErrCacheUnavailable = errors.New("search cache unavailable")

	// ErrIngestionInProgress indicates an ingestion job is already in
	// flight for the document. Informational: concurrent triggers are
	// coalesced into the running job, not rejected.
	ErrIngestionInProgress = errors.New("ingestion already in progress")

	// ErrNoProviderConfigured indicates no embedding or LLM provider is
	// configured at all. Fatal at startup rather than per-query.
	ErrNoProviderConfigured = errors.New("no provider configured")
)
