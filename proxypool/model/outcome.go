package model

import (
	"fmt"
	"time"
)

// OutcomeKind classifies how a single trial ended.
type OutcomeKind int

const (
	// OutcomeSuccess: the action request was accepted through this endpoint.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeAlreadyAuthorized: the session is already authorized, no action was requested.
	OutcomeAlreadyAuthorized
	// OutcomeConnectFailure: the connection through the proxy failed or timed out.
	OutcomeConnectFailure
	// OutcomeFloodWait: the remote service asked the caller to wait.
	OutcomeFloodWait
	// OutcomeSendFailure: the action request failed for any other reason.
	OutcomeSendFailure
)

var outcomeNames = map[OutcomeKind]string{
	OutcomeSuccess:           "success",
	OutcomeAlreadyAuthorized: "already_authorized",
	OutcomeConnectFailure:    "connect_failure",
	OutcomeFloodWait:         "flood_wait",
	OutcomeSendFailure:       "send_failure",
}

func (k OutcomeKind) String() string {
	if name, ok := outcomeNames[k]; ok {
		return name
	}
	return fmt.Sprintf("outcome(%d)", int(k))
}

// MarshalText lets OutcomeKind appear by name in JSON.
func (k OutcomeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Outcome is the tagged result of one trial. Detail is set for the failure kinds,
// WaitSeconds only for OutcomeFloodWait.
type Outcome struct {
	Kind        OutcomeKind `json:"kind"`
	Detail      string      `json:"detail,omitempty"`
	WaitSeconds int         `json:"wait_seconds,omitempty"`
}

func Success() Outcome           { return Outcome{Kind: OutcomeSuccess} }
func AlreadyAuthorized() Outcome { return Outcome{Kind: OutcomeAlreadyAuthorized} }

func ConnectFailure(detail string) Outcome {
	return Outcome{Kind: OutcomeConnectFailure, Detail: detail}
}

func FloodWait(seconds int) Outcome {
	return Outcome{Kind: OutcomeFloodWait, WaitSeconds: seconds}
}

func SendFailure(detail string) Outcome {
	return Outcome{Kind: OutcomeSendFailure, Detail: detail}
}

// Record pairs an endpoint with the outcome of its trial.
type Record struct {
	Endpoint Endpoint `json:"endpoint"`
	Outcome  Outcome  `json:"outcome"`
}

// AggregateResult is the batch-level summary returned to the caller.
type AggregateResult struct {
	BatchID    string              `json:"batch_id,omitempty"`
	Target     string              `json:"-"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Attempted  int                 `json:"attempted"`
	Succeeded  []Endpoint          `json:"succeeded"`
	Tally      map[OutcomeKind]int `json:"tally"`

	// PersistError is set when the success list could not be written.
	PersistError string `json:"persist_error,omitempty"`
}
