// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package attachment

import (
	"path/filepath"
	"strings"
)

// textExtensions maps text-like extensions to fence language tags. An empty
// tag means the file is text but gets an untagged fence.
var textExtensions = map[string]string{
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".mjs":   "javascript",
	".jsx":   "jsx",
	".ts":    "typescript",
	".tsx":   "tsx",
	".rs":    "rust",
	".rb":    "ruby",
	".java":  "java",
	".kt":    "kotlin",
	".swift": "swift",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".php":   "php",
	".lua":   "lua",
	".sh":    "bash",
	".bash":  "bash",
	".zsh":   "zsh",
	".ps1":   "powershell",
	".sql":   "sql",
	".html":  "html",
	".css":   "css",
	".scss":  "scss",
	".xml":   "xml",
	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".ini":   "ini",
	".md":    "markdown",
	".csv":   "csv",
	".txt":   "",
	".log":   "",
	".env":   "",
}

// languageFor returns the fence tag for name and whether name is text-like.
func languageFor(name string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		// Extensionless well-known files.
		switch strings.ToLower(filepath.Base(name)) {
		case "makefile":
			return "makefile", true
		case "dockerfile":
			return "dockerfile", true
		}
		return "", false
	}
	lang, ok := textExtensions[ext]
	return lang, ok
}
