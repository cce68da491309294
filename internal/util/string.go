// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Ellipsis is appended by Summarize when text is cut.
const Ellipsis = "..."

// UNICODE: rune-aware so multi-byte characters are never split.

// Summarize collapses all whitespace runs to single spaces, normalizes to NFC
// and keeps at most maxRunes runes, appending Ellipsis when anything was cut.
func Summarize(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	s = strings.Join(strings.Fields(norm.NFC.String(s)), " ")
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return strings.TrimRight(string(runes[:maxRunes]), " ") + Ellipsis
}

