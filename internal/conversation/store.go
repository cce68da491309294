// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/telemetry"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// TitleMaxRunes is the default bound on derived titles.
const TitleMaxRunes = 60

const (
	defaultListLimit     = 100
	defaultRemoteTimeout = 15 * time.Second
	subscriberBuffer     = 64
)

var (
	// ErrNotFound is returned for ids the store does not know.
	ErrNotFound = errors.New("conversation not found")

	// ErrEmptyTitle is returned by Rename for blank titles.
	ErrEmptyTitle = errors.New("title must not be empty")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("conversation store closed")
)

// Remote is the conversation service.
type Remote interface {
	CreateConversation(ctx context.Context, title string) (model.ConversationMeta, error)
	ListConversations(ctx context.Context, limit, offset int) ([]model.ConversationMeta, error)
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	UpdateTitle(ctx context.Context, id, title string) error
	DeleteConversation(ctx context.Context, id string) error
}

// Cache persists the metadata projection between runs.
type Cache interface {
	Load() ([]model.ConversationMeta, error)
	Save(metas []model.ConversationMeta) error
	Clear() error
	Close() error
}

// Options configures a Store.
type Options struct {
	// Remote may be nil, in which case every conversation is local-only.
	Remote Remote
	Cache  Cache
	Logger *slog.Logger

	Metrics *telemetry.Metrics

	// ListLimit is the page size used by Refresh.
	ListLimit int

	// RemoteTimeout bounds each background remote write.
	RemoteTimeout time.Duration

	// TitleMaxRunes bounds titles derived from the first user message.
	TitleMaxRunes int
}

// EventKind identifies a store change.
type EventKind int

const (
	// EventList fires when conversations are added, removed or renamed.
	EventList EventKind = iota
	// EventActive fires when the active conversation changes.
	EventActive
	// EventMessages fires when a conversation's messages change.
	EventMessages
)

// Event is a change notification.
type Event struct {
	Kind           EventKind
	ConversationID string
}

// Store is the conversation list and active selection.
type Store struct {
	remote        Remote
	cache         Cache
	logger        *slog.Logger
	metrics       *telemetry.Metrics
	listLimit     int
	remoteTimeout time.Duration
	titleMax      int

	group singleflight.Group
	wg    sync.WaitGroup

	mu        sync.RWMutex
	order     []string
	convs     map[string]*model.Conversation
	activeID  string
	created   map[string]bool   // minted during this process
	pending   map[string]string // titles with an outstanding remote write
	refreshed bool
	closed    bool

	cacheSeq uint64

	saveMu    sync.Mutex
	savedSeq  uint64
	subMu     sync.Mutex
	subs      map[int]chan Event
	nextSubID int
}

// New creates a store seeded from the cache. Cache errors are logged and
// otherwise ignored.
func New(opts Options) *Store {
	s := &Store{
		remote:        opts.Remote,
		cache:         opts.Cache,
		logger:        logging.Component(opts.Logger, "conversation"),
		metrics:       opts.Metrics,
		listLimit:     opts.ListLimit,
		remoteTimeout: opts.RemoteTimeout,
		titleMax:      opts.TitleMaxRunes,
		convs:         make(map[string]*model.Conversation),
		created:       make(map[string]bool),
		pending:       make(map[string]string),
		subs:          make(map[int]chan Event),
	}
	if s.listLimit <= 0 {
		s.listLimit = defaultListLimit
	}
	if s.remoteTimeout <= 0 {
		s.remoteTimeout = defaultRemoteTimeout
	}
	if s.titleMax <= 0 {
		s.titleMax = TitleMaxRunes
	}

	if s.cache != nil {
		metas, err := s.cache.Load()
		if err != nil {
			s.logger.Warn("ignoring unreadable conversation cache", "error", err)
		}
		for _, meta := range metas {
			if meta.ID == "" || s.convs[meta.ID] != nil {
				continue
			}
			conv := model.FromMeta(meta)
			conv.TitleLocked = meta.Title != "" && meta.Title != model.DefaultTitle
			s.convs[meta.ID] = conv
			s.order = append(s.order, meta.ID)
		}
	}
	return s
}

// =============================================================================
// LIST AND REFRESH
// =============================================================================

// List returns the known conversations. The first call per process refreshes
// from the remote: synchronously when nothing is cached, in the background
// otherwise.
func (s *Store) List(ctx context.Context) ([]model.ConversationMeta, error) {
	s.mu.Lock()
	first := !s.refreshed && s.remote != nil && !s.closed
	s.refreshed = true
	cached := len(s.order) > 0
	s.mu.Unlock()

	if first {
		if !cached {
			if err := s.Refresh(ctx); err != nil {
				s.markUnrefreshed()
				return s.Conversations(), err
			}
		} else {
			out := s.Conversations()
			s.background(ctx, func(ctx context.Context) {
				if err := s.Refresh(ctx); err != nil {
					s.markUnrefreshed()
					s.logger.WarnContext(ctx, "background conversation refresh failed", "error", err)
				}
			})
			return out, nil
		}
	}
	return s.Conversations(), nil
}

func (s *Store) markUnrefreshed() {
	s.mu.Lock()
	s.refreshed = false
	s.mu.Unlock()
}

// Refresh fetches the conversation list from the remote and merges it.
// Concurrent refreshes share one request.
func (s *Store) Refresh(ctx context.Context) error {
	if s.remote == nil {
		return nil
	}
	_, err, _ := s.group.Do("refresh", func() (any, error) {
		metas, err := s.remote.ListConversations(ctx, s.listLimit, 0)
		if err != nil {
			s.metrics.SyncFailure("list")
			return nil, fmt.Errorf("failed to list conversations: %w", err)
		}
		s.merge(metas)
		return nil, nil
	})
	return err
}

// merge folds the server list into local state. The server wins for ids it
// lists; local-only conversations and those minted during this process are
// kept; anything else it does not list is dropped.
func (s *Store) merge(metas []model.ConversationMeta) {
	s.mu.Lock()
	seen := make(map[string]bool, len(metas))
	serverOrder := make([]string, 0, len(metas))
	for _, meta := range metas {
		if meta.ID == "" || seen[meta.ID] {
			continue
		}
		seen[meta.ID] = true
		serverOrder = append(serverOrder, meta.ID)

		conv, ok := s.convs[meta.ID]
		if !ok {
			conv = model.FromMeta(meta)
			conv.TitleLocked = meta.Title != "" && meta.Title != model.DefaultTitle
			s.convs[meta.ID] = conv
			continue
		}
		if _, pending := s.pending[meta.ID]; !pending {
			conv.Title = meta.Title
			if meta.Title != model.DefaultTitle {
				conv.TitleLocked = true
			}
		}
		conv.CreatedAt = meta.CreatedAt
		if meta.UpdatedAt.After(conv.UpdatedAt) {
			conv.UpdatedAt = meta.UpdatedAt
		}
	}

	activeDropped := false
	var kept []string
	for _, id := range s.order {
		if seen[id] {
			continue
		}
		if conv := s.convs[id]; conv.LocalOnly || s.created[id] {
			kept = append(kept, id)
			continue
		}
		delete(s.convs, id)
		if s.activeID == id {
			s.activeID = ""
			activeDropped = true
		}
	}
	s.order = append(kept, serverOrder...)
	snap := s.cacheSnapshotLocked()
	s.mu.Unlock()

	s.saveCache(snap)
	s.notify(Event{Kind: EventList})
	if activeDropped {
		s.notify(Event{Kind: EventActive})
	}
}

// =============================================================================
// CREATE, LOAD, RENAME, DELETE
// =============================================================================

// Create makes a new active conversation. An active conversation that is
// loaded and has no messages is reused instead. When the remote fails the
// conversation is minted locally.
func (s *Store) Create(ctx context.Context) (*model.Conversation, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if active := s.convs[s.activeID]; active != nil && active.IsEmpty() {
		out := active.Clone()
		s.mu.Unlock()
		return out, nil
	}
	s.mu.Unlock()

	var conv *model.Conversation
	if s.remote != nil {
		meta, err := s.remote.CreateConversation(ctx, model.DefaultTitle)
		switch {
		case err == nil:
			conv = model.NewConversation(meta.ID)
			if meta.Title != "" {
				conv.Title = meta.Title
			}
			if !meta.CreatedAt.IsZero() {
				conv.CreatedAt = meta.CreatedAt
				conv.UpdatedAt = meta.UpdatedAt
			}
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			s.metrics.SyncFailure("create")
			s.logger.WarnContext(ctx, "remote create failed, using local conversation", "error", err)
		}
	}
	if conv == nil {
		conv = model.NewConversation(model.LocalIDPrefix + uuid.NewString())
		conv.LocalOnly = true
	}

	s.mu.Lock()
	s.convs[conv.ID] = conv
	s.order = append([]string{conv.ID}, s.order...)
	s.created[conv.ID] = true
	s.activeID = conv.ID
	out := conv.Clone()
	snap := s.cacheSnapshotLocked()
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "conversation created", "conversation_id", conv.ID, "local_only", conv.LocalOnly)
	s.saveCache(snap)
	s.notify(Event{Kind: EventList, ConversationID: conv.ID})
	s.notify(Event{Kind: EventActive, ConversationID: conv.ID})
	return out, nil
}

// Load activates a conversation and fetches its messages on first use.
// Messages appended locally while the fetch was in flight are kept after the
// remote history.
func (s *Store) Load(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.Lock()
	conv, ok := s.convs[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	changed := s.activeID != id
	s.activeID = id
	if conv.LocalOnly || s.remote == nil {
		conv.Loaded = true
	}
	needFetch := !conv.Loaded
	s.mu.Unlock()

	if changed {
		s.notify(Event{Kind: EventActive, ConversationID: id})
	}

	if needFetch {
		_, err, _ := s.group.Do("load:"+id, func() (any, error) {
			return nil, s.fetch(ctx, id)
		})
		if err != nil {
			return nil, err
		}
	}

	out, ok := s.Conversation(id)
	if !ok {
		return nil, ErrNotFound
	}
	return out, nil
}

func (s *Store) fetch(ctx context.Context, id string) error {
	s.mu.RLock()
	conv, ok := s.convs[id]
	loaded := ok && conv.Loaded
	s.mu.RUnlock()
	if !ok || loaded {
		return nil
	}

	remote, err := s.remote.GetConversation(ctx, id)
	if err != nil {
		s.metrics.SyncFailure("get")
		return fmt.Errorf("failed to load conversation %s: %w", id, err)
	}

	s.mu.Lock()
	conv, ok = s.convs[id]
	if !ok || conv.Loaded {
		s.mu.Unlock()
		return nil
	}
	known := make(map[string]bool, len(remote.Messages))
	msgs := make([]model.Message, 0, len(remote.Messages)+len(conv.Messages))
	for i := range remote.Messages {
		known[remote.Messages[i].ID] = true
		msgs = append(msgs, remote.Messages[i].Clone())
	}
	for i := range conv.Messages {
		if !known[conv.Messages[i].ID] {
			msgs = append(msgs, conv.Messages[i])
		}
	}
	conv.Messages = msgs
	conv.Loaded = true
	if _, pending := s.pending[id]; !pending && remote.Title != "" {
		conv.Title = remote.Title
		if remote.Title != model.DefaultTitle {
			conv.TitleLocked = true
		}
	}
	s.mu.Unlock()

	s.notify(Event{Kind: EventMessages, ConversationID: id})
	return nil
}

// Rename sets a title locally and updates the remote in the background.
func (s *Store) Rename(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}
	return s.rename(ctx, id, title)
}

func (s *Store) rename(ctx context.Context, id, title string) error {
	s.mu.Lock()
	conv, ok := s.convs[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	conv.Title = title
	conv.TitleLocked = true
	conv.UpdatedAt = time.Now()
	push := !conv.LocalOnly && s.remote != nil
	if push {
		s.pending[id] = title
	}
	snap := s.cacheSnapshotLocked()
	s.mu.Unlock()

	s.saveCache(snap)
	s.notify(Event{Kind: EventList, ConversationID: id})

	if push {
		s.background(ctx, func(ctx context.Context) {
			err := s.remote.UpdateTitle(ctx, id, title)
			s.mu.Lock()
			if s.pending[id] == title {
				delete(s.pending, id)
			}
			s.mu.Unlock()
			if err != nil {
				s.metrics.SyncFailure("update")
				s.logger.WarnContext(ctx, "remote rename failed", "conversation_id", id, "error", err)
			}
		})
	}
	return nil
}

// Delete removes a conversation locally, then from the remote in the
// background. When the active conversation is deleted the next remaining one
// becomes active, or the previous one when it was last.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	idx := -1
	for i, cid := range s.order {
		if cid == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}
	conv := s.convs[id]
	s.order = append(s.order[:idx:idx], s.order[idx+1:]...)
	delete(s.convs, id)
	delete(s.created, id)
	delete(s.pending, id)

	activeChanged := s.activeID == id
	if activeChanged {
		switch {
		case idx < len(s.order):
			s.activeID = s.order[idx]
		case idx > 0:
			s.activeID = s.order[idx-1]
		default:
			s.activeID = ""
		}
	}
	newActive := s.activeID
	snap := s.cacheSnapshotLocked()
	s.mu.Unlock()

	s.saveCache(snap)
	s.notify(Event{Kind: EventList, ConversationID: id})
	if activeChanged {
		s.notify(Event{Kind: EventActive, ConversationID: newActive})
	}

	if !conv.LocalOnly && s.remote != nil {
		s.background(ctx, func(ctx context.Context) {
			if err := s.remote.DeleteConversation(ctx, id); err != nil {
				s.metrics.SyncFailure("delete")
				s.logger.WarnContext(ctx, "remote delete failed", "conversation_id", id, "error", err)
			}
		})
	}
	return nil
}

// =============================================================================
// MESSAGES
// =============================================================================

// AppendMessage adds msg to a conversation. The first user message of a
// conversation without a title derives one from its text.
func (s *Store) AppendMessage(id string, msg model.Message) error {
	s.mu.Lock()
	conv, ok := s.convs[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	conv.Append(msg.Clone())
	derive := msg.IsUser() && !conv.TitleLocked && conv.UserMessageCount() == 1
	s.mu.Unlock()

	s.notify(Event{Kind: EventMessages, ConversationID: id})

	if derive {
		if title := deriveTitle(&msg, s.titleMax); title != "" {
			ctx := logging.WithConversation(context.Background(), id)
			return s.rename(ctx, id, title)
		}
	}
	return nil
}

func deriveTitle(msg *model.Message, maxRunes int) string {
	if title := util.Summarize(msg.Display(), maxRunes); title != "" {
		return title
	}
	if len(msg.Attachments) > 0 {
		return util.Summarize(msg.Attachments[0].Name, maxRunes)
	}
	return ""
}

// MutateLastMessage merges patch into the final message of a conversation.
// It reports false when there is no such message.
func (s *Store) MutateLastMessage(id string, patch model.MessagePatch) bool {
	s.mu.Lock()
	conv, ok := s.convs[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	last := conv.Last()
	if last == nil {
		s.mu.Unlock()
		return false
	}
	patch.Apply(last)
	conv.UpdatedAt = time.Now()
	s.mu.Unlock()

	s.notify(Event{Kind: EventMessages, ConversationID: id})
	return true
}

// RemoveLastMessage drops and returns the final message of a conversation.
func (s *Store) RemoveLastMessage(id string) (model.Message, bool) {
	s.mu.Lock()
	conv, ok := s.convs[id]
	if !ok {
		s.mu.Unlock()
		return model.Message{}, false
	}
	msg, ok := conv.RemoveLast()
	s.mu.Unlock()

	if ok {
		s.notify(Event{Kind: EventMessages, ConversationID: id})
	}
	return msg, ok
}

// =============================================================================
// READ SIDE
// =============================================================================

// Conversations returns metadata in display order.
func (s *Store) Conversations() []model.ConversationMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ConversationMeta, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.convs[id].Meta())
	}
	return out
}

// Conversation returns a copy of one conversation.
func (s *Store) Conversation(id string) (*model.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[id]
	if !ok {
		return nil, false
	}
	return conv.Clone(), true
}

// Messages returns a copy of a conversation's messages.
func (s *Store) Messages(id string) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[id]
	if !ok {
		return nil
	}
	return conv.Clone().Messages
}

// ActiveID returns the active conversation id, or "".
func (s *Store) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// Subscribe returns a channel of change events and a function to stop
// receiving them. Events are dropped for subscribers that fall behind.
func (s *Store) Subscribe() (<-chan Event, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	ch := make(chan Event, subscriberBuffer)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

func (s *Store) notify(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Close waits for background remote writes, then closes the cache.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.wg.Wait()

	s.subMu.Lock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.subMu.Unlock()

	if s.cache != nil {
		return s.cache.Close()
	}
	return nil
}

// background runs fn detached from ctx cancellation but keeping its values.
func (s *Store) background(ctx context.Context, fn func(ctx context.Context)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.remoteTimeout)
		defer cancel()
		fn(bg)
	}()
}

type cacheSnapshot struct {
	seq   uint64
	metas []model.ConversationMeta
}

// cacheSnapshotLocked returns the cacheable projection. Local-only
// conversations are skipped since their messages cannot be recovered.
func (s *Store) cacheSnapshotLocked() cacheSnapshot {
	if s.cache == nil {
		return cacheSnapshot{}
	}
	s.cacheSeq++
	out := make([]model.ConversationMeta, 0, len(s.order))
	for _, id := range s.order {
		if conv := s.convs[id]; !conv.LocalOnly {
			out = append(out, conv.Meta())
		}
	}
	return cacheSnapshot{seq: s.cacheSeq, metas: out}
}

// saveCache writes snap unless a newer snapshot was already written.
func (s *Store) saveCache(snap cacheSnapshot) {
	if s.cache == nil {
		return
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if snap.seq <= s.savedSeq {
		return
	}
	if err := s.cache.Save(snap.metas); err != nil {
		s.logger.Warn("failed to write conversation cache", "error", err)
		return
	}
	s.savedSeq = snap.seq
}
