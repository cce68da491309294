// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/conversation"
	"github.com/jeranaias/rigrun-chat/internal/gateway"
	"github.com/jeranaias/rigrun-chat/internal/session"
)

// =============================================================================
// EXIT CODES - Specific codes for different error categories
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates configuration file or settings error
	ExitConfigError = 3
	// ExitAuthError indicates authentication or authorization failure
	ExitAuthError = 4
	// ExitNetworkError indicates network or connectivity error
	ExitNetworkError = 5
	// ExitNotFoundError indicates a resource was not found
	ExitNotFoundError = 7
	// ExitTimeoutError indicates an operation timed out
	ExitTimeoutError = 8
	// ExitPaymentError indicates the account is out of credits
	ExitPaymentError = 9
)

// errConfigLoad marks failures to load or save configuration.
var errConfigLoad = errors.New("configuration error")

// CommandError represents a CLI command error with context.
type CommandError struct {
	Command string // Command that failed (e.g., "conversations")
	Action  string // Action being performed (e.g., "delete")
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Command, e.Action, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// NewCommandError wraps err with command context. A nil err stays nil.
func NewCommandError(command, action string, err error) error {
	if err == nil {
		return nil
	}
	return &CommandError{Command: command, Action: action, Err: err}
}

// ExitCode maps an error to a process exit code.
func ExitCode(err error) int {
	var verrs config.ValidateErrors
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &verrs), errors.Is(err, errConfigLoad):
		return ExitConfigError
	case errors.As(err, new(*usageError)):
		return ExitUsageError
	case gateway.IsPaymentRequired(err):
		return ExitPaymentError
	case errors.Is(err, gateway.ErrAuthFailed), errors.Is(err, gateway.ErrNotConfigured),
		errors.Is(err, session.ErrExpired), errors.Is(err, session.ErrClosed):
		return ExitAuthError
	case errors.Is(err, conversation.ErrNotFound), errors.Is(err, gateway.ErrConversationNotFound),
		errors.Is(err, gateway.ErrModelNotFound):
		return ExitNotFoundError
	case errors.Is(err, context.DeadlineExceeded):
		return ExitTimeoutError
	}
	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) && apiErr.Status >= 500 {
		return ExitNetworkError
	}
	return ExitGeneralError
}

// usageError marks invalid flags or arguments.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }

func (e *usageError) Unwrap() error { return e.err }
