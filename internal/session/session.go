// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrClosed is returned once the session has been closed.
	ErrClosed = errors.New("session closed")

	// ErrExpired is returned when the idle timeout elapsed.
	ErrExpired = errors.New("session expired")
)

// Config holds session parameters.
type Config struct {
	// Token is the bearer credential sent to the gateway. May be empty for
	// gateways that do not authenticate.
	Token string

	// User is an optional display identity.
	User string

	// IdleTimeout expires the session after this long without activity.
	// Zero disables expiry.
	IdleTimeout time.Duration
}

// Session is the authenticated context for gateway calls.
type Session struct {
	mu sync.Mutex

	id           string
	token        string
	user         string
	startTime    time.Time
	lastActivity time.Time
	idleTimeout  time.Duration
	closed       bool

	now func() time.Time
}

// New opens a session.
func New(cfg Config) *Session {
	return newWithClock(cfg, time.Now)
}

func newWithClock(cfg Config, now func() time.Time) *Session {
	t := now()
	return &Session{
		id:           uuid.NewString(),
		token:        cfg.Token,
		user:         cfg.User,
		startTime:    t,
		lastActivity: t,
		idleTimeout:  cfg.IdleTimeout,
		now:          now,
	}
}

// =============================================================================
// SESSION STATE
// =============================================================================

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// User returns the display identity.
func (s *Session) User() string {
	return s.user
}

// Duration returns how long the session has been open.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Sub(s.startTime)
}

// IdleTime returns how long since the last activity.
func (s *Session) IdleTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Sub(s.lastActivity)
}

// Token returns the bearer credential and records activity.
func (s *Session) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(); err != nil {
		return "", err
	}
	s.lastActivity = s.now()
	return s.token, nil
}

// Touch records activity without reading the credential.
func (s *Session) Touch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(); err != nil {
		return err
	}
	s.lastActivity = s.now()
	return nil
}

// Valid reports whether the session can still be used.
func (s *Session) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkLocked() == nil
}

// Close ends the session. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.token = ""
}

func (s *Session) checkLocked() error {
	if s.closed {
		return ErrClosed
	}
	if s.idleTimeout > 0 && s.now().Sub(s.lastActivity) >= s.idleTimeout {
		return ErrExpired
	}
	return nil
}
