package provenance

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"warden/core"
	"warden/metrics"
	"warden/storage"

	retry "github.com/avast/retry-go/v5"
	"go.uber.org/zap"
)

// Submitter is the per-ledger anchoring contract. Implementations own
// transport, fees, and confirmation; the service only hands over the
// payload and consumes the receipt.
type Submitter interface {
	Submit(ctx context.Context, payload core.AnchorPayload) (*core.AnchorReceipt, error)
}

// anchorAttempts bounds the internal retry loop around a submitter.
const anchorAttempts = 3

// Service creates, verifies, and anchors signed attestations.
type Service struct {
	keys       *KeyPair
	store      storage.ProvenanceStore
	events     storage.EventStore
	submitters map[string]Submitter
	logger     *zap.SugaredLogger
}

func NewService(keys *KeyPair, store storage.ProvenanceStore, events storage.EventStore, logger *zap.SugaredLogger) *Service {
	return &Service{
		keys:       keys,
		store:      store,
		events:     events,
		submitters: make(map[string]Submitter),
		logger:     logger,
	}
}

// RegisterSubmitter makes a ledger available under chainID.
func (s *Service) RegisterSubmitter(chainID string, submitter Submitter) {
	s.submitters[chainID] = submitter
}

// CreateProvenance hashes the run result, signs the attestation
// payload, and stores the record keyed by sandbox ID. Every
// referenced security event must already exist in the event log. A
// second run of the same sandbox replaces the previous attestation.
func (s *Service) CreateProvenance(ctx context.Context, result *core.SandboxResult, events []core.SecurityEvent) (*core.SignedProvenance, error) {
	if err := core.ValidateResult(result); err != nil {
		return nil, err
	}

	eventIDs := make([]string, 0, len(events))
	for _, e := range events {
		ok, err := s.events.HasEvent(ctx, e.ID)
		if err != nil {
			return nil, fmt.Errorf("checking event %s: %w", e.ID, err)
		}
		if !ok {
			return nil, &core.ValidationError{Field: "security_events", Reason: fmt.Sprintf("event %s is not in the log", e.ID)}
		}
		eventIDs = append(eventIDs, e.ID)
	}
	sort.Strings(eventIDs)

	record := &core.SignedProvenance{
		SandboxID:      result.SandboxID,
		ResultHash:     HashResult(result),
		Timestamp:      time.Now().UTC(),
		Provider:       result.Provider,
		SecurityEvents: eventIDs,
		PublicKey:      s.keys.PublicHex(),
	}

	payload, err := canonicalPayload(record)
	if err != nil {
		return nil, err
	}
	record.Signature = hex.EncodeToString(ed25519.Sign(s.keys.Private, payload))

	if err := s.store.Put(ctx, record); err != nil {
		return nil, err
	}
	metrics.ProvenanceSigned.Inc()

	s.logger.Infow("Created provenance attestation",
		"sandbox_id", result.SandboxID, "provider", result.Provider,
		"events", len(eventIDs), "result_hash", record.ResultHash)
	return record, nil
}

// Verify recomputes the canonical payload from the record's own
// fields and checks the embedded signature with the embedded public
// key. A well-formed record that fails the check is a false result,
// not an error; structurally malformed input is a SignatureError.
func (s *Service) Verify(record *core.SignedProvenance) (bool, error) {
	if record == nil {
		return false, &core.SignatureError{Reason: "record is nil"}
	}
	if record.SandboxID == "" || record.ResultHash == "" || record.Signature == "" || record.PublicKey == "" {
		return false, &core.SignatureError{Reason: "record is missing required fields"}
	}

	publicKey, err := hex.DecodeString(record.PublicKey)
	if err != nil || len(publicKey) != ed25519.PublicKeySize {
		return false, &core.SignatureError{Reason: "malformed public key"}
	}
	signature, err := hex.DecodeString(record.Signature)
	if err != nil || len(signature) != ed25519.SignatureSize {
		return false, &core.SignatureError{Reason: "malformed signature"}
	}

	payload, err := canonicalPayload(record)
	if err != nil {
		return false, &core.SignatureError{Reason: err.Error()}
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), payload, signature), nil
}

// AnchorOnChain submits the stored attestation to the ledger selected
// by chainID, retrying transient failures with exponential backoff.
// On success the anchor is appended to the stored record; a record
// can be anchored at most once.
func (s *Service) AnchorOnChain(ctx context.Context, sandboxID, chainID string) (*core.AnchorReceipt, error) {
	record, err := s.store.Get(ctx, sandboxID)
	if err != nil {
		return nil, err
	}
	if record.ChainAnchor != nil {
		return nil, core.ErrAlreadyAnchored
	}

	submitter, ok := s.submitters[chainID]
	if !ok {
		return nil, &core.ChainAnchorError{
			ChainID: chainID,
			Err:     fmt.Errorf("no submitter registered for chain %q", chainID),
		}
	}

	payload := core.AnchorPayload{
		SandboxID:  record.SandboxID,
		ResultHash: record.ResultHash,
		Timestamp:  record.Timestamp,
		Signature:  record.Signature,
	}

	var receipt *core.AnchorReceipt
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(anchorAttempts),
		retry.DelayType(retry.BackOffDelay),
	)
	submitErr := r.Do(func() error {
		var err error
		receipt, err = submitter.Submit(ctx, payload)
		return err
	})
	if submitErr != nil {
		metrics.ProvenanceAnchored.WithLabelValues("failure").Inc()
		return nil, &core.ChainAnchorError{ChainID: chainID, Attempts: anchorAttempts, Err: submitErr}
	}

	anchor := core.ChainAnchor{
		TxHash:      receipt.TxHash,
		BlockNumber: receipt.BlockNumber,
		Chain:       chainID,
	}
	if err := s.store.SetAnchor(ctx, sandboxID, anchor); err != nil {
		return nil, err
	}
	metrics.ProvenanceAnchored.WithLabelValues("success").Inc()

	s.logger.Infow("Anchored provenance on chain",
		"sandbox_id", sandboxID, "chain", chainID,
		"tx_hash", receipt.TxHash, "block", receipt.BlockNumber)
	return receipt, nil
}

// GetProvenance returns the stored attestation for a sandbox, or
// core.ErrProvenanceNotFound.
func (s *Service) GetProvenance(ctx context.Context, sandboxID string) (*core.SignedProvenance, error) {
	return s.store.Get(ctx, sandboxID)
}

// HashResult digests the run result fields in fixed order: sandbox
// id, provider, stdout, stderr, exit code, duration, then each
// output file's (path, content) sorted by path. Fields are separated
// by a zero byte so adjacent values cannot be confused.
func HashResult(result *core.SandboxResult) string {
	h := sha256.New()
	writeField := func(b []byte) {
		h.Write(b)
		h.Write([]byte{0})
	}
	writeField([]byte(result.SandboxID))
	writeField([]byte(result.Provider))
	writeField([]byte(result.Stdout))
	writeField([]byte(result.Stderr))
	writeField([]byte(strconv.Itoa(result.ExitCode)))
	writeField([]byte(strconv.FormatInt(result.DurationMS, 10)))

	if len(result.OutputFiles) > 0 {
		files := make([]core.OutputFile, len(result.OutputFiles))
		copy(files, result.OutputFiles)
		sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
		for _, f := range files {
			writeField([]byte(f.Path))
			writeField(f.Content)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalPayload builds the signed byte form of a record. Encoding
// through a map gives key-sorted, deterministic JSON.
func canonicalPayload(record *core.SignedProvenance) ([]byte, error) {
	eventIDs := make([]string, len(record.SecurityEvents))
	copy(eventIDs, record.SecurityEvents)
	sort.Strings(eventIDs)

	payload := map[string]interface{}{
		"provider":        record.Provider,
		"result_hash":     record.ResultHash,
		"sandbox_id":      record.SandboxID,
		"security_events": eventIDs,
		"timestamp":       record.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attestation payload: %w", err)
	}
	return b, nil
}
