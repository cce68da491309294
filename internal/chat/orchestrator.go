// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/attachment"
	"github.com/jeranaias/rigrun-chat/internal/conversation"
	"github.com/jeranaias/rigrun-chat/internal/gateway"
	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/telemetry"
	"github.com/jeranaias/rigrun-chat/internal/watchdog"
)

// Placeholder texts for failed responses.
const (
	NoResponseText = "No response received from the model."
	TimeoutText    = "Response timed out. Please try again."
)

var (
	// ErrStreaming rejects a request while a response is in flight.
	ErrStreaming = errors.New("a response is already streaming")

	// ErrEmptyMessage rejects input that encodes to nothing.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrNothingToRegenerate is returned when there is no exchange to replay.
	ErrNothingToRegenerate = errors.New("nothing to regenerate")
)

const subscriberBuffer = 64

// Options configures an Orchestrator.
type Options struct {
	Gateway watchdog.Starter
	Store   *conversation.Store
	Encoder *attachment.Encoder
	Logger  *slog.Logger

	Metrics *telemetry.Metrics
	Usage   *telemetry.UsageTracker

	// WatchdogWindow is the inactivity timeout for a session.
	WatchdogWindow time.Duration
}

// run is one accepted request. It is reserved before the session starts so
// concurrent requests are rejected while the conversation is prepared.
type run struct {
	ctx      context.Context
	convID   string
	guarded  *watchdog.Guarded
	started  time.Time
	received bool
}

// Orchestrator runs at most one streaming session at a time.
type Orchestrator struct {
	gw      watchdog.Starter
	store   *conversation.Store
	encoder *attachment.Encoder
	logger  *slog.Logger
	metrics *telemetry.Metrics
	usage   *telemetry.UsageTracker
	window  time.Duration

	wg sync.WaitGroup

	mu      sync.Mutex
	active  *run
	states  map[string]State
	paywall bool

	subMu     sync.Mutex
	subs      map[int]chan Event
	nextSubID int
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	enc := opts.Encoder
	if enc == nil {
		enc = attachment.NewEncoder(attachment.Options{})
	}
	return &Orchestrator{
		gw:      opts.Gateway,
		store:   opts.Store,
		encoder: enc,
		logger:  logging.Component(opts.Logger, "chat"),
		metrics: opts.Metrics,
		usage:   opts.Usage,
		window:  opts.WatchdogWindow,
		states:  make(map[string]State),
		subs:    make(map[int]chan Event),
	}
}

// Store returns the conversation store.
func (o *Orchestrator) Store() *conversation.Store {
	return o.store
}

// =============================================================================
// REQUESTS
// =============================================================================

// SendMessage encodes text and files, appends the user message and starts
// streaming the reply. It returns once the session has started; warnings
// list files that were skipped.
func (o *Orchestrator) SendMessage(ctx context.Context, text string, files []attachment.File) ([]attachment.Warning, error) {
	result, warnings := o.encoder.Encode(text, files)
	if result.IsEmpty() {
		return warnings, ErrEmptyMessage
	}

	r, err := o.reserve(ctx)
	if err != nil {
		return warnings, err
	}

	convID := o.store.ActiveID()
	if convID == "" {
		conv, err := o.store.Create(ctx)
		if err != nil {
			o.release(r)
			return warnings, err
		}
		convID = conv.ID
	} else if err := o.ensureLoaded(ctx, convID); err != nil {
		o.release(r)
		return warnings, err
	}

	user := model.NewUserMessage(result.Content)
	user.Attachments = result.Attachments
	if len(result.Attachments) > 0 {
		user.DisplayText = result.DisplayText
	}
	if err := o.store.AppendMessage(convID, *user); err != nil {
		o.release(r)
		return warnings, err
	}

	o.start(r, convID)
	return warnings, nil
}

// RegenerateLastResponse drops the last assistant message of the active
// conversation and streams a new reply to the remaining history.
func (o *Orchestrator) RegenerateLastResponse(ctx context.Context) error {
	r, err := o.reserve(ctx)
	if err != nil {
		return err
	}

	convID := o.store.ActiveID()
	if convID == "" {
		o.release(r)
		return ErrNothingToRegenerate
	}
	if err := o.ensureLoaded(ctx, convID); err != nil {
		o.release(r)
		return err
	}
	msgs := o.store.Messages(convID)
	if !hasUserMessage(msgs) {
		o.release(r)
		return ErrNothingToRegenerate
	}
	if last := msgs[len(msgs)-1]; last.IsAssistant() {
		o.store.RemoveLastMessage(convID)
	}

	o.start(r, convID)
	return nil
}

// ensureLoaded fetches the server history of id before anything is appended
// to it, so the outgoing history is never truncated.
func (o *Orchestrator) ensureLoaded(ctx context.Context, id string) error {
	if conv, ok := o.store.Conversation(id); ok && conv.Loaded {
		return nil
	}
	_, err := o.store.Load(ctx, id)
	return err
}

// StopGeneration aborts the in-flight session, keeping partial content. It
// reports whether anything was stopped.
func (o *Orchestrator) StopGeneration() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	r := o.active
	if r == nil {
		return false
	}
	if r.guarded != nil {
		r.guarded.Cancel()
		o.abortLocked(r)
		return true
	}
	// Still preparing; start sees the reservation is gone.
	o.active = nil
	return true
}

// SwitchConversation stops any in-flight session and activates id.
func (o *Orchestrator) SwitchConversation(ctx context.Context, id string) error {
	o.StopGeneration()
	_, err := o.store.Load(ctx, id)
	return err
}

// NewConversation stops any in-flight session and creates a conversation.
func (o *Orchestrator) NewConversation(ctx context.Context) (*model.Conversation, error) {
	o.StopGeneration()
	return o.store.Create(ctx)
}

// =============================================================================
// OBSERVABLE STATE
// =============================================================================

// IsStreaming reports whether a request is in flight.
func (o *Orchestrator) IsStreaming() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active != nil
}

// ShowPaywall reports whether the last failure was payment required.
func (o *Orchestrator) ShowPaywall() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paywall
}

// DismissPaywall clears the paywall flag.
func (o *Orchestrator) DismissPaywall() {
	o.mu.Lock()
	changed := o.paywall
	o.paywall = false
	o.mu.Unlock()
	if changed {
		o.notify(Event{Kind: EventPaywall})
	}
}

// State returns the stream state of a conversation.
func (o *Orchestrator) State(conversationID string) State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.states[conversationID]
}

// Wait blocks until every started session has reached its outcome and
// exited.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Subscribe returns a channel of orchestrator events and a function to stop
// receiving them. Events are dropped for subscribers that fall behind.
func (o *Orchestrator) Subscribe() (<-chan Event, func()) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	id := o.nextSubID
	o.nextSubID++
	ch := make(chan Event, subscriberBuffer)
	o.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.subMu.Lock()
			defer o.subMu.Unlock()
			if c, ok := o.subs[id]; ok {
				delete(o.subs, id)
				close(c)
			}
		})
	}
}

func (o *Orchestrator) notify(ev Event) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	for _, ch := range o.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// =============================================================================
// SESSION LIFECYCLE
// =============================================================================

func (o *Orchestrator) reserve(ctx context.Context) (*run, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != nil {
		return nil, ErrStreaming
	}
	r := &run{ctx: ctx}
	o.active = r
	return r, nil
}

func (o *Orchestrator) release(r *run) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == r {
		o.active = nil
	}
}

// start appends the placeholder and opens the guarded session.
func (o *Orchestrator) start(r *run, convID string) {
	history := outgoingHistory(o.store.Messages(convID))
	placeholder := model.NewAssistantPlaceholder()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != r {
		return
	}
	if err := o.store.AppendMessage(convID, *placeholder); err != nil {
		o.active = nil
		o.logger.WarnContext(r.ctx, "conversation vanished before streaming", "conversation_id", convID)
		return
	}

	r.convID = convID
	r.started = time.Now()
	r.ctx = logging.WithFields(r.ctx, logging.Fields{ConversationID: convID, MessageID: placeholder.ID})
	o.setStateLocked(convID, StateSending)
	o.metrics.SessionStarted()
	o.logger.DebugContext(r.ctx, "starting response", "history", len(history))

	// One count for the terminal outcome, one for the session goroutine.
	o.wg.Add(2)
	r.guarded = watchdog.Guard(r.ctx, o.gw, history, gateway.Handlers{
		OnChunk: func(d gateway.Delta) { o.onChunk(r, d) },
		OnDone:  func(u *model.Usage) { o.onDone(r, u) },
		OnError: func(err error) { o.onError(r, err) },
	}, o.window)

	done := r.guarded.Done()
	go func() {
		defer o.wg.Done()
		<-done
	}()
}

func (o *Orchestrator) onChunk(r *run, d gateway.Delta) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != r {
		return
	}
	if !r.received {
		r.received = true
		o.metrics.FirstDelta(time.Since(r.started))
		o.setStateLocked(r.convID, StateStreaming)
	}
	o.metrics.Delta(string(d.Kind))
	o.store.MutateLastMessage(r.convID, d.Patch())
}

func (o *Orchestrator) onDone(r *run, usage *model.Usage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != r {
		return
	}

	patch := model.MessagePatch{SetUsage: usage}
	if !r.received && !o.placeholderHasContent(r) {
		content := model.TextContent(NoResponseText)
		patch.SetContent = &content
		patch.SetError = model.Bool(true)
	}
	o.store.MutateLastMessage(r.convID, patch)

	elapsed := time.Since(r.started)
	o.usage.Record(r.convID, usage, elapsed)
	o.metrics.Usage(usage)
	o.finishLocked(r, StateCompleted, telemetry.OutcomeCompleted)
	o.logger.InfoContext(r.ctx, "response completed", "duration", elapsed, "received", r.received)
}

func (o *Orchestrator) onError(r *run, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != r {
		return
	}

	if errors.Is(err, context.Canceled) {
		o.abortLocked(r)
		return
	}

	outcome := telemetry.OutcomeFailed
	text := gateway.ErrorDetail(err)
	switch {
	case errors.Is(err, watchdog.ErrTimeout):
		outcome = telemetry.OutcomeTimeout
		text = TimeoutText
	case gateway.IsPaymentRequired(err):
		outcome = telemetry.OutcomePaywall
		if !o.paywall {
			o.paywall = true
			o.notify(Event{Kind: EventPaywall, ConversationID: r.convID})
		}
	}

	if !o.placeholderHasContent(r) {
		content := model.TextContent(text)
		o.store.MutateLastMessage(r.convID, model.MessagePatch{SetContent: &content, SetError: model.Bool(true)})
	}
	o.finishLocked(r, StateFailed, outcome)
	o.logger.WarnContext(r.ctx, "response failed", "outcome", outcome, "error", err)
}

// abortLocked ends r keeping partial content. An untouched placeholder is
// removed.
func (o *Orchestrator) abortLocked(r *run) {
	if !o.placeholderHasContent(r) {
		if last, ok := o.lastMessage(r.convID); ok && last.IsAssistant() {
			o.store.RemoveLastMessage(r.convID)
		}
	}
	o.finishLocked(r, StateAborted, telemetry.OutcomeAborted)
	o.logger.InfoContext(r.ctx, "response aborted", "received", r.received)
}

func (o *Orchestrator) finishLocked(r *run, state State, outcome string) {
	o.active = nil
	o.setStateLocked(r.convID, state)
	o.metrics.SessionFinished(outcome)
	o.wg.Done()
}

func (o *Orchestrator) setStateLocked(convID string, state State) {
	o.states[convID] = state
	o.notify(Event{Kind: EventState, ConversationID: convID, State: state})
}

func (o *Orchestrator) placeholderHasContent(r *run) bool {
	last, ok := o.lastMessage(r.convID)
	return ok && last.IsAssistant() && last.HasContent()
}

func (o *Orchestrator) lastMessage(convID string) (model.Message, bool) {
	msgs := o.store.Messages(convID)
	if len(msgs) == 0 {
		return model.Message{}, false
	}
	return msgs[len(msgs)-1], true
}

// outgoingHistory drops assistant messages that failed or never received
// content.
func outgoingHistory(msgs []model.Message) []model.Message {
	out := make([]model.Message, 0, len(msgs))
	for i := range msgs {
		m := &msgs[i]
		if m.IsAssistant() && (m.Error || !m.HasContent()) {
			continue
		}
		out = append(out, *m)
	}
	return out
}

func hasUserMessage(msgs []model.Message) bool {
	for i := range msgs {
		if msgs[i].IsUser() {
			return true
		}
	}
	return false
}
