package handler

import (
	"encoding/json"
)

// Status is the outcome of an API call.
type Status string

// API call outcomes. Long-running commands come back QUEUED with an
// operation id to poll; STARTED is reported while such an operation runs.
const (
	StatusOK      Status = "OK"
	StatusFailed  Status = "FAILED"
	StatusStarted Status = "STARTED"
	StatusQueued  Status = "QUEUED"
)

// Response is the common command response envelope.
type Response struct {
	Status Status `json:"status"`
	// Reason carries the failure detail when Status is FAILED.
	Reason string `json:"reason,omitempty"`
	// OperationID identifies a queued long-running command.
	OperationID string `json:"operation_id,omitempty"`
}

// AllocateRequest adds receptors to a subarray.
type AllocateRequest struct {
	SubarrayID int      `json:"subarray_id"`
	Receptors  []string `json:"receptors"`
}

// ReleaseRequest removes receptors from a subarray. All of them when
// ReleaseAll is set.
type ReleaseRequest struct {
	SubarrayID int      `json:"subarray_id"`
	Receptors  []string `json:"receptors,omitempty"`
	ReleaseAll bool     `json:"release_all,omitempty"`
}

// ConfigureRequest applies a scan configuration document to a subarray.
type ConfigureRequest struct {
	SubarrayID    int             `json:"subarray_id"`
	Configuration json.RawMessage `json:"configuration"`
}

// ScanRequest starts a scan on a configured subarray.
type ScanRequest struct {
	SubarrayID int   `json:"subarray_id"`
	ScanID     int64 `json:"scan_id"`
}

// SubarrayRequest addresses a subarray-wide command with no extra payload.
type SubarrayRequest struct {
	SubarrayID int `json:"subarray_id"`
}

// UpdateRequest forwards a streaming shared-model update document.
type UpdateRequest struct {
	SubarrayID int             `json:"subarray_id"`
	Kind       string          `json:"kind"`
	Document   json.RawMessage `json:"document"`
}

// OperationRequest polls a previously queued operation.
type OperationRequest struct {
	SubarrayID  int    `json:"subarray_id"`
	OperationID string `json:"operation_id"`
}

// StateResponse reports the observable state of a subarray.
type StateResponse struct {
	SubarrayID int      `json:"subarray_id"`
	State      string   `json:"state"`
	ConfigID   string   `json:"config_id,omitempty"`
	ScanID     int64    `json:"scan_id,omitempty"`
	Receptors  []string `json:"receptors,omitempty"`
}
