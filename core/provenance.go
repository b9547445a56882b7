package core

import "time"

// OutputFile is one artifact produced by a sandbox run. Files take
// part in the result hash sorted lexicographically by path.
type OutputFile struct {
	Path    string `json:"path"`
	Content []byte `json:"content"`
}

// SandboxResult is the completed outcome of a sandbox run, as reported
// by the execution broker. It is the input to provenance creation.
type SandboxResult struct {
	SandboxID   string       `json:"sandbox_id" validate:"required"`
	Provider    string       `json:"provider" validate:"required"`
	Stdout      string       `json:"stdout"`
	Stderr      string       `json:"stderr"`
	ExitCode    int          `json:"exit_code"`
	DurationMS  int64        `json:"duration_ms"`
	OutputFiles []OutputFile `json:"output_files,omitempty"`
}

// ChainAnchor references the ledger transaction that anchored a
// provenance record.
type ChainAnchor struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	Chain       string `json:"chain"`
}

// SignedProvenance attests to a completed sandbox run: the hash of its
// result bound to the security events observed during the run. The
// record is immutable after creation except for ChainAnchor, which is
// appended once when a ledger confirms the anchor transaction.
//
// SecurityEvents holds event IDs, sorted; the event store remains the
// source of truth for event contents.
type SignedProvenance struct {
	SandboxID      string       `json:"sandbox_id"`
	ResultHash     string       `json:"result_hash"`
	Timestamp      time.Time    `json:"timestamp"`
	Provider       string       `json:"provider"`
	SecurityEvents []string     `json:"security_events"`
	Signature      string       `json:"signature"`
	PublicKey      string       `json:"public_key"`
	ChainAnchor    *ChainAnchor `json:"chain_anchor,omitempty"`
}

// AnchorReceipt is the response of a ledger submission collaborator.
type AnchorReceipt struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
}

// AnchorPayload is the shape this core hands to a ledger submitter.
type AnchorPayload struct {
	SandboxID  string    `json:"sandbox_id"`
	ResultHash string    `json:"result_hash"`
	Timestamp  time.Time `json:"timestamp"`
	Signature  string    `json:"signature"`
}
