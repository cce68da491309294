// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package attachment turns typed text plus selected files into message content.
//
// Images and PDF documents are embedded as base64 data URIs. Source and
// plain-text files are inlined as fenced blocks tagged with a language derived
// from the file extension. Oversized or unsupported files are dropped and
// reported as Warnings; encoding never fails outright.
//
// # Usage
//
//	enc := attachment.NewEncoder(attachment.Options{})
//	res, warnings := enc.Encode("what is in this picture?", files)
//	if res.IsEmpty() {
//	    return // nothing to send
//	}
package attachment
