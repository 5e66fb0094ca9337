package service

import (
	"errors"
	"fmt"
)

// Configuration gates. The queue treats them as a quiet no-op; direct send
// returns them to the caller.
var (
	ErrSendingDisabled = errors.New("sending is globally disabled")
	ErrDailyCapReached = errors.New("global daily cap reached")
)

var (
	ErrComplianceBlock = errors.New("compliance block")
	ErrNoMessage       = errors.New("no active message found to send")
	ErrUnknownProvider = errors.New("unknown provider")
	ErrRunInProgress   = errors.New("a run is already in progress")
)

// ComplianceError is a send refused by the subscriber's state or by the
// eligibility gates. It matches ErrComplianceBlock.
type ComplianceError struct {
	Reason string
}

func (e *ComplianceError) Error() string {
	return "compliance block: " + e.Reason
}

func (e *ComplianceError) Is(target error) bool {
	return target == ErrComplianceBlock
}

// ProviderError wraps a failed provider round trip. The operation is
// abandoned; the next scheduled run is the retry.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
