// Package usage accounts provider token consumption. The engine only
// reports usage; billing lives elsewhere.
package usage

import (
	"sync"

	"github.com/lexikon-ai/kbengine/internal/core/ports/driven"
	"github.com/lexikon-ai/kbengine/internal/logger"
)

var _ driven.UsageRecorder = (*Recorder)(nil)

// Totals is the accumulated usage of one provider.
type Totals struct {
	Calls     int
	TokensIn  int
	TokensOut int
	Cost      float64
}

// Recorder accumulates per-provider usage in memory and logs each call
// at debug level.
type Recorder struct {
	mu     sync.Mutex
	totals map[string]Totals
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{totals: make(map[string]Totals)}
}

// RecordUsage reports one provider call.
func (r *Recorder) RecordUsage(provider string, tokensIn, tokensOut int, costEstimate float64) {
	r.mu.Lock()
	t := r.totals[provider]
	t.Calls++
	t.TokensIn += tokensIn
	t.TokensOut += tokensOut
	t.Cost += costEstimate
	r.totals[provider] = t
	r.mu.Unlock()

	logger.Debug("Usage: %s in=%d out=%d cost=%.6f", provider, tokensIn, tokensOut, costEstimate)
}

// Snapshot returns a copy of the accumulated totals per provider.
func (r *Recorder) Snapshot() map[string]Totals {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Totals, len(r.totals))
	for k, v := range r.totals {
		out[k] = v
	}
	return out
}
