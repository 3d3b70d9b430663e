package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain operations
var (
	// ErrNotFound is returned when a requested resource doesn't exist
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when trying to create a resource that already exists
	ErrAlreadyExists = errors.New("already exists")

	// ErrABINotFound is returned when an ABI alias has not been registered
	ErrABINotFound = errors.New("abi not found")

	// ErrChainIDMismatch is returned when the node serves a different chain than configured
	ErrChainIDMismatch = errors.New("chain ID mismatch")

	// ErrTracingUnavailable is returned when debug tracing is disabled or unsupported
	ErrTracingUnavailable = errors.New("tracing unavailable")

	// ErrSubscriptionsUnsupported is returned by transports that cannot push new heads
	ErrSubscriptionsUnsupported = errors.New("subscriptions unsupported")

	// ErrRPCDown is returned when an operation is refused because the RPC is unhealthy
	ErrRPCDown = errors.New("rpc is down")

	// ErrNotStarted is returned when the manager is used before Start
	ErrNotStarted = errors.New("transaction manager not started")

	// ErrInvalidTransaction is returned when a transaction intent is malformed
	ErrInvalidTransaction = errors.New("invalid transaction")
)

// SubmissionCause classifies why a submission failed
type SubmissionCause string

const (
	CauseABINotFound                SubmissionCause = "ABINotFound"
	CauseFailedToEncodeCalldata     SubmissionCause = "FailedToEncodeCalldata"
	CauseFailedToEstimateGas        SubmissionCause = "FailedToEstimateGas"
	CauseFailedToSignTransaction    SubmissionCause = "FailedToSignTransaction"
	CauseFailedToSendRawTransaction SubmissionCause = "FailedToSendRawTransaction"
	CauseFailedToUpdate             SubmissionCause = "FailedToUpdate"
)

// SubmissionError is returned by the submitter. Flushed reports whether the
// attempt reached durable storage, in which case the nonce is consumed.
type SubmissionError struct {
	Cause       SubmissionCause
	Description string
	Flushed     bool
	Err         error
}

func (e *SubmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Cause, e.Description, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Cause, e.Description)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// EstimateGasCause classifies gas estimation failures
type EstimateGasCause string

const (
	EstimateGasABINotFound    EstimateGasCause = "EstimateGasABINotFound"
	EstimateGasClientError    EstimateGasCause = "EstimateGasClientError"
	EstimateGasExecutionError EstimateGasCause = "EstimateGasExecutionError"
)

type EstimateGasError struct {
	Cause       EstimateGasCause
	Description string
	Err         error
}

func (e *EstimateGasError) Error() string {
	return fmt.Sprintf("%s: %s", e.Cause, e.Description)
}

func (e *EstimateGasError) Unwrap() error {
	return e.Err
}

// IsFlushed reports whether err is a submission error whose attempt was persisted
func IsFlushed(err error) bool {
	var subErr *SubmissionError
	if errors.As(err, &subErr) {
		return subErr.Flushed
	}
	return false
}
