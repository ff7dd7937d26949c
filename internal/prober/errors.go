package prober

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Error categories used for the errors_total metric.
const (
	CategoryBalance      = "balance"
	CategoryGasPrice     = "gas_price"
	CategorySubmission   = "submission"
	CategoryConfirmation = "confirmation"
	CategoryReverted     = "reverted"
	CategoryTracker      = "tracker"
	CategoryJournal      = "journal"
)

// SubmissionError is a failure before the probe reached the node.
type SubmissionError struct {
	Op  string // "gas_price" or "submit"
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("probe submission failed (%s): %v", e.Op, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// ConfirmationError is a failure after submission: the receipt wait timed
// out or errored, or the transaction reverted.
type ConfirmationError struct {
	Hash     common.Hash
	Reverted bool
	Err      error
}

func (e *ConfirmationError) Error() string {
	if e.Reverted {
		return fmt.Sprintf("probe %s reverted", e.Hash.Hex())
	}
	return fmt.Sprintf("probe %s not confirmed: %v", e.Hash.Hex(), e.Err)
}

func (e *ConfirmationError) Unwrap() error { return e.Err }

// TrackerProtocolError means the tracker lost or duplicated a probe.
// It indicates a bug, not a chain condition.
type TrackerProtocolError struct {
	Hash common.Hash
	Err  error
}

func (e *TrackerProtocolError) Error() string {
	return fmt.Sprintf("tracker protocol violation for %s: %v", e.Hash.Hex(), e.Err)
}

func (e *TrackerProtocolError) Unwrap() error { return e.Err }
