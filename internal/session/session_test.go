// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestSession_TokenAndClose(t *testing.T) {
	s := New(Config{Token: "sk-test", User: "ada"})

	tok, err := s.Token()
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if tok != "sk-test" {
		t.Errorf("Token() = %q, want %q", tok, "sk-test")
	}
	if s.User() != "ada" {
		t.Errorf("User() = %q", s.User())
	}
	if s.ID() == "" {
		t.Error("ID() should not be empty")
	}

	s.Close()
	s.Close()

	if _, err := s.Token(); !errors.Is(err, ErrClosed) {
		t.Errorf("Token() after Close error = %v, want ErrClosed", err)
	}
	if s.Valid() {
		t.Error("Valid() after Close = true")
	}
}

func TestSession_IdleTimeout(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	s := newWithClock(Config{Token: "t", IdleTimeout: time.Minute}, clock.now)

	clock.advance(50 * time.Second)
	if _, err := s.Token(); err != nil {
		t.Fatalf("Token() before timeout error = %v", err)
	}

	// Activity above reset the idle clock.
	clock.advance(50 * time.Second)
	if err := s.Touch(); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	if got := s.IdleTime(); got != 0 {
		t.Errorf("IdleTime() = %v, want 0", got)
	}

	clock.advance(time.Minute)
	if _, err := s.Token(); !errors.Is(err, ErrExpired) {
		t.Errorf("Token() after idle error = %v, want ErrExpired", err)
	}
	if got := s.Duration(); got != 160*time.Second {
		t.Errorf("Duration() = %v, want 160s", got)
	}
}

func TestSession_NoTimeout(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	s := newWithClock(Config{}, clock.now)
	clock.advance(24 * time.Hour)
	if !s.Valid() {
		t.Error("session without idle timeout should stay valid")
	}
}
