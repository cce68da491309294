// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging configures structured logging with log/slog.
//
// Setup builds a text or JSON handler at the configured level. The handler
// enriches every record with fields carried on the context, so code that
// logs with a context gets the conversation id for free:
//
//	ctx = logging.WithConversation(ctx, convID)
//	logger.InfoContext(ctx, "stream finished")
package logging
