// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error variables for common gateway errors.
var (
	ErrNotConfigured        = errors.New("gateway URL not configured")
	ErrAuthFailed           = errors.New("authentication failed")
	ErrRateLimited          = errors.New("rate limited")
	ErrModelNotFound        = errors.New("model not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrInsufficientCredits  = errors.New("insufficient credits")
	ErrMalformedStream      = errors.New("malformed stream payload")
	ErrEventTooLarge        = errors.New("stream event too large")

	errMaxRetriesExceeded = errors.New("max retries exceeded")
)

// paymentRequiredMarkers are message fragments that identify an out-of-credits
// failure when the status code was lost, e.g. in an in-band stream error.
var paymentRequiredMarkers = []string{"insufficient credits", "payment required", "insufficient_quota"}

// APIError is an error reported by the gateway, either as an HTTP error
// response or as an in-band stream error event.
type APIError struct {
	Code    string
	Message string
	Status  int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	switch {
	case e.Status != 0 && e.Code != "":
		return fmt.Sprintf("gateway error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("gateway error (HTTP %d): %s", e.Status, e.Message)
	case e.Code != "":
		return fmt.Sprintf("gateway error [%s]: %s", e.Code, e.Message)
	default:
		return "gateway error: " + e.Message
	}
}

// detailError keeps the server text next to a sentinel so both errors.Is and
// ErrorDetail work.
type detailError struct {
	sentinel error
	detail   string
}

func (e *detailError) Error() string {
	return e.sentinel.Error() + ": " + e.detail
}

func (e *detailError) Unwrap() error {
	return e.sentinel
}

// apiErrorResponse is the JSON error envelope used by the gateway.
type apiErrorResponse struct {
	Error struct {
		Message string          `json:"message"`
		Code    json.RawMessage `json:"code"`
	} `json:"error"`
}

// codeString renders a JSON code that may be a number or a string.
func codeString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// handleErrorResponse converts an HTTP error response to an error. notFound
// is the sentinel used for 404.
func handleErrorResponse(statusCode int, body []byte, notFound error) error {
	var message, code string
	var envelope apiErrorResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
		code = codeString(envelope.Error.Code)
	}

	var sentinel error
	switch statusCode {
	case http.StatusUnauthorized:
		sentinel = ErrAuthFailed
	case http.StatusPaymentRequired:
		sentinel = ErrInsufficientCredits
	case http.StatusNotFound:
		sentinel = notFound
	case http.StatusTooManyRequests:
		sentinel = ErrRateLimited
	}

	if sentinel != nil {
		if message == "" {
			return sentinel
		}
		return &detailError{sentinel: sentinel, detail: message}
	}
	if message == "" {
		message = strings.TrimSpace(string(body))
		if message == "" {
			message = http.StatusText(statusCode)
		}
	}
	return &APIError{Code: code, Message: message, Status: statusCode}
}

// IsPaymentRequired reports whether err means the account is out of credits.
func IsPaymentRequired(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInsufficientCredits) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status == http.StatusPaymentRequired || apiErr.Code == "402" {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range paymentRequiredMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// ErrorDetail returns the human-readable text the gateway supplied for err,
// or err's own message when there is none.
func ErrorDetail(err error) string {
	if err == nil {
		return ""
	}
	var de *detailError
	if errors.As(err, &de) {
		return de.detail
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}
