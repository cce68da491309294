// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/peterh/liner"

	"github.com/jeranaias/rigrun-chat/internal/attachment"
	"github.com/jeranaias/rigrun-chat/internal/chat"
	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/conversation"
	"github.com/jeranaias/rigrun-chat/internal/model"
)

// streamPoll is how often the printer re-reads the streaming message when no
// event arrives.
const streamPoll = 100 * time.Millisecond

// errNoActive is returned by commands that need an active conversation.
var errNoActive = errors.New("no active conversation; send a message or use /new")

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI and loads saved input history.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}
	c := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(configDir, "chat_history"),
	}
	c.LoadHistory()
	return c
}

// LoadHistory loads command history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		_, _ = c.line.ReadHistory(f)
		_ = f.Close()
	}
}

// ReadInput reads a line of input with the given prompt.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory persists command history with owner-only permissions.
func (c *ChatCLI) SaveHistory() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = c.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	_ = c.line.Close()
}

// =============================================================================
// REPL
// =============================================================================

// repl executes chat input against an App.
type repl struct {
	app     *App
	out     io.Writer
	md      *glamour.TermRenderer
	width   int
	pending []attachment.File

	exportDir string
}

func newREPL(app *App, out io.Writer) *repl {
	width := GetTerminalWidth()
	return &repl{
		app:   app,
		out:   out,
		md:    newMarkdownRenderer(width - 4),
		width: width,

		exportDir: ".",
	}
}

// lineReader reads one line of chat input.
type lineReader interface {
	ReadInput(prompt string) (string, error)
	Close()
}

// plainInput reads lines without editing or history, for piped stdin.
type plainInput struct {
	sc *bufio.Scanner
}

func newPlainInput(in io.Reader) *plainInput {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &plainInput{sc: sc}
}

func (p *plainInput) ReadInput(string) (string, error) {
	if !p.sc.Scan() {
		if err := p.sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return p.sc.Text(), nil
}

func (p *plainInput) Close() {}

// RunChat runs the chat loop until /quit, end of input or Ctrl+C at the
// prompt. Line editing and history are used when in is a terminal.
func RunChat(ctx context.Context, app *App, in io.Reader, out io.Writer) error {
	r := newREPL(app, out)

	if _, err := app.Store.List(ctx); err != nil {
		fmt.Fprintln(out, WarningStyle.Render("Could not load conversations: "+err.Error()))
	}

	var input lineReader
	if in == os.Stdin && IsTTY() {
		input = NewChatCLI()
		r.printWelcome()
	} else {
		input = newPlainInput(in)
	}
	defer input.Close()

	// Ctrl+C while a response streams stops it; at the prompt liner aborts.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	defer func() {
		signal.Stop(sigChan)
		close(sigChan)
	}()
	go func() {
		for range sigChan {
			if app.Chat.StopGeneration() {
				fmt.Fprintln(out, "\n"+WarningStyle.Render("[Stopped]"))
			}
		}
	}()

	for {
		line, err := input.ReadInput(PromptStyle.Render(r.prompt()))
		if err != nil {
			// Ctrl+C (liner.ErrPromptAborted), Ctrl+D or end of input.
			if !errors.Is(err, io.EOF) && !errors.Is(err, liner.ErrPromptAborted) {
				return err
			}
			fmt.Fprintln(r.out)
			r.printExitSummary()
			return nil
		}

		cont, err := r.handle(ctx, line)
		if err != nil {
			fmt.Fprintf(out, "%s %s\n", ErrorStyle.Render("[Error]"), err)
		}
		if !cont {
			r.printExitSummary()
			return nil
		}
	}
}

func (r *repl) prompt() string {
	if n := len(r.pending); n > 0 {
		return fmt.Sprintf("chat [+%d]> ", n)
	}
	return "chat> "
}

// handle runs one line of input. It returns false when the loop should end.
func (r *repl) handle(ctx context.Context, input string) (bool, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return true, nil
	}
	if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
		return false, nil
	}
	if strings.HasPrefix(input, "/") {
		return r.handleSlashCommand(ctx, input)
	}
	return true, r.send(ctx, input)
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

func (r *repl) handleSlashCommand(ctx context.Context, input string) (bool, error) {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "/quit", "/exit", "/q":
		return false, nil
	case "/help", "/h", "/?":
		r.printHelp()
	case "/new", "/n":
		conv, err := r.app.Chat.NewConversation(ctx)
		if err != nil {
			return true, err
		}
		fmt.Fprintln(r.out, DimStyle.Render("Started "+conv.Title))
	case "/list", "/ls":
		return true, r.listConversations(ctx)
	case "/switch", "/s":
		return true, r.switchConversation(ctx, arg)
	case "/rename":
		return true, r.rename(ctx, arg)
	case "/delete", "/rm":
		return true, r.delete(ctx, arg)
	case "/attach", "/a":
		return true, r.attach(arg)
	case "/regen", "/r":
		if err := r.app.Chat.RegenerateLastResponse(ctx); err != nil {
			return true, err
		}
		r.stream(ctx, r.app.Store.ActiveID())
	case "/export":
		id := r.app.Store.ActiveID()
		if id == "" {
			return true, errNoActive
		}
		path, err := exportConversation(ctx, r.app, id, arg, r.exportDir)
		if err != nil {
			return true, err
		}
		fmt.Fprintln(r.out, DimStyle.Render("Exported to "+path))
	case "/history":
		r.printHistory()
	case "/usage":
		r.printUsage()
	default:
		return true, fmt.Errorf("unknown command %s (try /help)", name)
	}
	return true, nil
}

func (r *repl) listConversations(ctx context.Context) error {
	metas, err := r.app.Store.List(ctx)
	if err != nil {
		return err
	}
	if len(metas) == 0 {
		fmt.Fprintln(r.out, DimStyle.Render("No conversations yet."))
		return nil
	}
	active := r.app.Store.ActiveID()
	writeConversationList(r.out, metas, active, r.width)
	return nil
}

// writeConversationList prints numbered conversations, marking active.
func writeConversationList(w io.Writer, metas []model.ConversationMeta, active string, width int) {
	titleWidth := width - 28
	if titleWidth < 16 {
		titleWidth = 16
	}
	for i, m := range metas {
		marker := " "
		title := PadRight(Truncate(m.Title, titleWidth), titleWidth)
		if m.ID == active {
			marker = "*"
			title = ActiveStyle.Render(title)
		}
		tag := ""
		if strings.HasPrefix(m.ID, model.LocalIDPrefix) {
			tag = WarningStyle.Render(" (local)")
		}
		fmt.Fprintf(w, "%s %3d  %s  %s%s\n", marker, i+1, title,
			DimStyle.Render(m.UpdatedAt.Local().Format("Jan 02 15:04")), tag)
	}
}

// resolveConversation maps a 1-based list index or an id (or unique id
// prefix) to a conversation id.
func resolveConversation(metas []model.ConversationMeta, ref string) (string, error) {
	if ref == "" {
		return "", errors.New("conversation number or id required")
	}
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(metas) {
			return "", fmt.Errorf("no conversation #%d", n)
		}
		return metas[n-1].ID, nil
	}
	var match string
	for _, m := range metas {
		if m.ID == ref {
			return m.ID, nil
		}
		if strings.HasPrefix(m.ID, ref) {
			if match != "" {
				return "", fmt.Errorf("ambiguous conversation id %q", ref)
			}
			match = m.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("%w: %s", conversation.ErrNotFound, ref)
	}
	return match, nil
}

func (r *repl) switchConversation(ctx context.Context, ref string) error {
	id, err := resolveConversation(r.app.Store.Conversations(), ref)
	if err != nil {
		return err
	}
	if err := r.app.Chat.SwitchConversation(ctx, id); err != nil {
		return err
	}
	conv, _ := r.app.Store.Conversation(id)
	if conv == nil {
		return nil
	}
	fmt.Fprintf(r.out, "%s %s\n", TitleStyle.Render(conv.Title),
		DimStyle.Render(fmt.Sprintf("(%d messages)", len(conv.Messages))))
	return nil
}

func (r *repl) rename(ctx context.Context, title string) error {
	id := r.app.Store.ActiveID()
	if id == "" {
		return errNoActive
	}
	if err := r.app.Store.Rename(ctx, id, title); err != nil {
		return err
	}
	fmt.Fprintln(r.out, DimStyle.Render("Renamed to "+strings.TrimSpace(title)))
	return nil
}

func (r *repl) delete(ctx context.Context, ref string) error {
	id := r.app.Store.ActiveID()
	if ref != "" {
		var err error
		if id, err = resolveConversation(r.app.Store.Conversations(), ref); err != nil {
			return err
		}
	}
	if id == "" {
		return errNoActive
	}
	if id == r.app.Store.ActiveID() {
		r.app.Chat.StopGeneration()
	}
	if err := r.app.Store.Delete(ctx, id); err != nil {
		return err
	}
	r.app.Usage.Forget(id)
	fmt.Fprintln(r.out, DimStyle.Render("Deleted."))
	return nil
}

func (r *repl) attach(path string) error {
	if path == "" {
		if len(r.pending) == 0 {
			fmt.Fprintln(r.out, DimStyle.Render("No files queued."))
		}
		for _, f := range r.pending {
			fmt.Fprintf(r.out, "  %s %s\n", f.Name, DimStyle.Render(formatSize(f.Size)))
		}
		return nil
	}
	f, err := attachment.FromPath(expandPath(path), r.app.Config.MaxAttachmentBytes())
	if err != nil {
		return err
	}
	r.pending = append(r.pending, f)
	fmt.Fprintf(r.out, "%s %s %s\n", DimStyle.Render("Attached"), f.Name, DimStyle.Render(formatSize(f.Size)))
	return nil
}

// =============================================================================
// SENDING AND STREAMING
// =============================================================================

func (r *repl) send(ctx context.Context, text string) error {
	files := r.pending
	warnings, err := r.app.Chat.SendMessage(ctx, text, files)
	for _, w := range warnings {
		fmt.Fprintln(r.out, WarningStyle.Render("Skipped "+w.String()))
	}
	if err != nil {
		if errors.Is(err, chat.ErrEmptyMessage) {
			r.pending = nil
		}
		return err
	}
	r.pending = nil
	r.stream(ctx, r.app.Store.ActiveID())
	return nil
}

// stream prints the last message of convID as it grows and returns when the
// response reaches a terminal state.
func (r *repl) stream(ctx context.Context, convID string) {
	storeEvents, unsubStore := r.app.Store.Subscribe()
	defer unsubStore()
	chatEvents, unsubChat := r.app.Chat.Subscribe()
	defer unsubChat()

	ticker := time.NewTicker(streamPoll)
	defer ticker.Stop()

	p := &streamPrinter{out: r.out}
	fmt.Fprintln(r.out, AssistantStyle.Render("Assistant:"))
	for r.app.Chat.IsStreaming() {
		p.update(r.lastMessage(convID))
		select {
		case <-ctx.Done():
			r.app.Chat.StopGeneration()
		case <-storeEvents:
		case <-chatEvents:
		case <-ticker.C:
		}
	}
	r.app.Chat.Wait()
	last := r.lastMessage(convID)
	p.update(last)
	p.finish()

	if last != nil && last.Error {
		fmt.Fprintln(r.out, ErrorStyle.Render("The response failed."))
	}
	if r.app.Chat.ShowPaywall() {
		fmt.Fprintln(r.out, PaywallStyle.Render("You are out of credits. Top up your account to keep chatting."))
		r.app.Chat.DismissPaywall()
	}
	if state := r.app.Chat.State(convID); state == chat.StateAborted {
		fmt.Fprintln(r.out, DimStyle.Render("(stopped)"))
	}
}

func (r *repl) lastMessage(convID string) *model.Message {
	msgs := r.app.Store.Messages(convID)
	if len(msgs) == 0 {
		return nil
	}
	m := msgs[len(msgs)-1]
	if !m.IsAssistant() {
		return nil
	}
	return &m
}

// streamPrinter writes the unseen suffix of a growing assistant message.
type streamPrinter struct {
	out       io.Writer
	id        string
	reasoning int
	content   int
	wrote     bool
}

func (p *streamPrinter) update(m *model.Message) {
	if m == nil {
		return
	}
	if m.ID != p.id {
		p.id, p.reasoning, p.content = m.ID, 0, 0
	}
	if len(m.Reasoning) > p.reasoning {
		fmt.Fprint(p.out, DimStyle.Render(m.Reasoning[p.reasoning:]))
		p.reasoning = len(m.Reasoning)
		p.wrote = true
	}
	text := m.Content.PlainText()
	if len(text) > p.content {
		if p.content == 0 && p.reasoning > 0 {
			fmt.Fprint(p.out, "\n\n")
		}
		fmt.Fprint(p.out, text[p.content:])
		p.content = len(text)
		p.wrote = true
	}
}

func (p *streamPrinter) finish() {
	if p.wrote {
		fmt.Fprintln(p.out)
	}
}

// =============================================================================
// DISPLAY
// =============================================================================

func (r *repl) printWelcome() {
	fmt.Fprintln(r.out, TitleStyle.Render("rigrun-chat"))
	fmt.Fprintf(r.out, "%s %s\n", DimStyle.Render("Model:"), r.app.Gateway.Model())
	fmt.Fprintf(r.out, "%s %d\n", DimStyle.Render("Conversations:"), len(r.app.Store.Conversations()))
	fmt.Fprintln(r.out, DimStyle.Render("Type /help for commands. Ctrl+C stops a response."))
	fmt.Fprintln(r.out)
}

func (r *repl) printHelp() {
	fmt.Fprintln(r.out, TitleStyle.Render("Commands"))
	rows := [][2]string{
		{"/new", "Start a new conversation"},
		{"/list", "List conversations"},
		{"/switch N|ID", "Switch conversation"},
		{"/rename TITLE", "Rename the active conversation"},
		{"/delete [N|ID]", "Delete a conversation"},
		{"/attach [PATH]", "Queue a file for the next message"},
		{"/history", "Show the active conversation"},
		{"/export [md|json]", "Export the active conversation"},
		{"/regen", "Regenerate the last response"},
		{"/usage", "Show token usage"},
		{"/quit", "Exit"},
	}
	for _, row := range rows {
		fmt.Fprintf(r.out, "  %s %s\n", PadRight(row[0], 16), DimStyle.Render(row[1]))
	}
}

func (r *repl) printHistory() {
	id := r.app.Store.ActiveID()
	if id == "" {
		fmt.Fprintln(r.out, DimStyle.Render(errNoActive.Error()))
		return
	}
	msgs := r.app.Store.Messages(id)
	if len(msgs) == 0 {
		fmt.Fprintln(r.out, DimStyle.Render("No messages yet."))
		return
	}
	for _, m := range msgs {
		label := TitleStyle.Render(m.Role.DisplayName() + ":")
		if m.IsAssistant() {
			label = AssistantStyle.Render(m.Role.DisplayName() + ":")
		}
		fmt.Fprintln(r.out, label)
		for _, a := range m.Attachments {
			fmt.Fprintln(r.out, DimStyle.Render("  [attached "+a.Name+"]"))
		}
		text := m.Display()
		if m.IsAssistant() {
			text = renderMarkdown(r.md, text)
		}
		if m.Error {
			text = ErrorStyle.Render(text)
		}
		fmt.Fprintln(r.out, strings.TrimRight(text, "\n"))
		fmt.Fprintln(r.out)
	}
}

func (r *repl) printUsage() {
	if id := r.app.Store.ActiveID(); id != "" {
		if u, ok := r.app.Usage.Conversation(id); ok {
			fmt.Fprintf(r.out, "%s %d responses, %d prompt + %d completion tokens\n",
				DimStyle.Render("This conversation:"), u.Responses, u.PromptTokens, u.CompletionTokens)
		}
	}
	t := r.app.Usage.Totals()
	fmt.Fprintf(r.out, "%s %d responses, %d tokens in %s\n",
		DimStyle.Render("Session:"), t.Responses, t.TotalTokens(), r.app.Usage.Uptime().Round(time.Second))
}

func (r *repl) printExitSummary() {
	t := r.app.Usage.Totals()
	if t.Responses == 0 {
		return
	}
	fmt.Fprintln(r.out, DimStyle.Render(fmt.Sprintf("%d responses, %d tokens. Goodbye.", t.Responses, t.TotalTokens())))
}

// =============================================================================
// HELPERS
// =============================================================================

func formatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
