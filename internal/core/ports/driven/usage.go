package driven

// UsageRecorder receives per-call provider usage for cost accounting.
// Accounting itself is an external collaborator; the core only reports.
type UsageRecorder interface {
	// RecordUsage reports one provider call. Token counts may be
	// estimates when the provider does not return exact numbers.
	RecordUsage(provider string, tokensIn, tokensOut int, costEstimate float64)
}
