// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func readAllEvents(t *testing.T, r *SSEReader) ([]string, []string) {
	t.Helper()
	var names, datas []string
	for {
		name, data, err := r.ReadEvent()
		if errors.Is(err, io.EOF) {
			return names, datas
		}
		if err != nil {
			t.Fatalf("ReadEvent() error = %v", err)
		}
		names = append(names, name)
		datas = append(datas, string(data))
	}
}

func TestSSEReader_ReassemblesSplitReads(t *testing.T) {
	stream := "data: {\"a\":1}\n\n" +
		": keep-alive comment\n" +
		"data: first\ndata: second\n\n" +
		"event: ping\nid: 7\nretry: 100\ndata:nospace\n\n"

	r := NewSSEReader(iotest.OneByteReader(strings.NewReader(stream)))
	names, datas := readAllEvents(t, r)

	want := []string{`{"a":1}`, "first\nsecond", "nospace"}
	if len(datas) != len(want) {
		t.Fatalf("events = %q, want %q", datas, want)
	}
	for i := range want {
		if datas[i] != want[i] {
			t.Errorf("event %d data = %q, want %q", i, datas[i], want[i])
		}
	}
	if names[2] != "ping" {
		t.Errorf("event 2 name = %q, want ping", names[2])
	}
}

func TestSSEReader_CRLFAndTrailingEvent(t *testing.T) {
	r := NewSSEReader(strings.NewReader("data: one\r\n\r\ndata: two"))
	_, datas := readAllEvents(t, r)
	if len(datas) != 2 || datas[0] != "one" || datas[1] != "two" {
		t.Errorf("events = %q, want [one two]", datas)
	}
}

func TestSSEReader_EventTooLarge(t *testing.T) {
	big := "data: " + strings.Repeat("x", MaxEventSize+10) + "\n\n"
	r := NewSSEReader(strings.NewReader(big))
	if _, _, err := r.ReadEvent(); !errors.Is(err, ErrEventTooLarge) {
		t.Errorf("ReadEvent() error = %v, want ErrEventTooLarge", err)
	}
}

func TestSSEReader_PropagatesReadError(t *testing.T) {
	boom := errors.New("connection reset")
	r := NewSSEReader(iotest.ErrReader(boom))
	if _, _, err := r.ReadEvent(); !errors.Is(err, boom) {
		t.Errorf("ReadEvent() error = %v, want %v", err, boom)
	}
}
