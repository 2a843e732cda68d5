package types

import "encoding/json"

// OutcomeKind discriminates the possible results of one extractor invocation.
type OutcomeKind string

const (
	OutcomeRecords        OutcomeKind = "records"
	OutcomeNeedsReconnect OutcomeKind = "needs_reconnect"
	OutcomeNeedsURLChange OutcomeKind = "needs_url_change"
	OutcomeDownloading    OutcomeKind = "downloading"
	OutcomeError          OutcomeKind = "error"
)

// Outcome is the tagged result of an extractor invocation. Exactly one payload
// field is meaningful for a given Kind.
type Outcome struct {
	Kind    OutcomeKind       `json:"kind"`
	Records []json.RawMessage `json:"records,omitempty"` // OutcomeRecords
	URL     string            `json:"url,omitempty"`     // OutcomeNeedsURLChange
	Message string            `json:"message,omitempty"` // OutcomeError
}

// RecordsOutcome is a terminal success carrying zero or more records.
func RecordsOutcome(records []json.RawMessage) Outcome {
	return Outcome{Kind: OutcomeRecords, Records: records}
}

// ReconnectOutcome signals the platform session is not authenticated. The run
// suspends pending user sign-in; it is not a failure.
func ReconnectOutcome() Outcome {
	return Outcome{Kind: OutcomeNeedsReconnect}
}

// URLChangeOutcome asks the orchestrator to navigate the surface to url and
// re-invoke the extractor.
func URLChangeOutcome(url string) Outcome {
	return Outcome{Kind: OutcomeNeedsURLChange, URL: url}
}

// DownloadingOutcome signals a browser-level download has been triggered and
// the reconciler now owns run completion.
func DownloadingOutcome() Outcome {
	return Outcome{Kind: OutcomeDownloading}
}

// ErrorOutcome reports an unrecoverable condition inside the extractor.
func ErrorOutcome(message string) Outcome {
	return Outcome{Kind: OutcomeError, Message: message}
}
