// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the rigrun-chat command line.
//
// # Commands
//
//	rigrun-chat chat                     Interactive chat (default)
//	rigrun-chat conversations list       List conversations
//	rigrun-chat conversations rename ID  Rename a conversation
//	rigrun-chat conversations delete ID  Delete a conversation
//	rigrun-chat conversations export ID  Export to Markdown or JSON
//	rigrun-chat config show|get|set|path Inspect or edit configuration
//	rigrun-chat logout                   Clear the local cache
//	rigrun-chat fake-gateway             Serve an in-memory gateway
//
// # Interactive Commands
//
//	/help            Show available commands
//	/new             Start a new conversation
//	/list            List conversations
//	/switch N|ID     Switch conversation
//	/rename TITLE    Rename the active conversation
//	/delete [N|ID]   Delete a conversation
//	/attach PATH     Queue a file for the next message
//	/history         Show the active conversation
//	/export [md|json] Export the active conversation
//	/regen           Regenerate the last response
//	/usage           Show token usage
//	/quit            Exit
//	Ctrl+C           Stop the current response
package cli
