// Package jobs maintains deterministically-keyed, leased work records for
// stateful step handlers: claim/heartbeat/complete/fail, stalled-job
// recovery, and a standalone poll-claim-execute runner loop. It depends
// only on store, so it can be driven either inline by the engine (for
// checkpoint-aware steps ticked in-process) or out-of-process by Runner
// against a shared store.
package jobs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// ComputeID derives a job's deterministic identity: the first 128 bits of
// sha256(canonical_json({executionId, stepId, handler, input})), encoded
// as hex (spec §4.2 Deterministic identity). Repeated calls with the same
// four inputs always yield the same id, letting concurrent getOrCreate
// callers converge on one record.
func ComputeID(executionID, stepID, handler string, input any) (string, error) {
	canonical := struct {
		ExecutionID string `json:"executionId"`
		StepID      string `json:"stepId"`
		Handler     string `json:"handler"`
		Input       any    `json:"input"`
	}{executionID, stepID, handler, input}

	data, err := json.Marshal(canonical)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16]), nil
}
