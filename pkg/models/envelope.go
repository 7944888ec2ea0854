package models

import (
	"encoding/json"
	"time"
)

// APIVersion is the envelope version this module speaks
const APIVersion = "v2.0"

// Meta accompanies every successful response
type Meta struct {
	RequestID  string    `json:"request_id"`
	APIVersion string    `json:"api_version"`
	Timestamp  time.Time `json:"timestamp"`
	Limit      *int      `json:"limit,omitempty"`
	NextCursor *string   `json:"next_cursor,omitempty"`
	HasMore    *bool     `json:"has_more,omitempty"`
}

// Envelope wraps every successful response body
type Envelope[T any] struct {
	Data T    `json:"data"`
	Meta Meta `json:"meta"`
}

// RawEnvelope keeps data undecoded so the caller decides its shape
type RawEnvelope struct {
	Data json.RawMessage `json:"data"`
	Meta json.RawMessage `json:"meta"`
}

// Problem is the structured failure body returned with 4xx/5xx statuses
type Problem struct {
	Type      string           `json:"type"`
	Title     string           `json:"title"`
	Status    int              `json:"status"`
	Detail    string           `json:"detail"`
	Instance  string           `json:"instance"`
	Code      string           `json:"code"`
	RequestID string           `json:"request_id"`
	Errors    []map[string]any `json:"errors,omitempty"`
}

// MeResponse describes the authenticated caller
type MeResponse struct {
	UserID         string  `json:"user_id"`
	Role           string  `json:"role"`
	Email          *string `json:"email"`
	CanUseInternal bool    `json:"can_use_internal"`
	SSHPublicKey   *string `json:"ssh_public_key"`
}
