// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gatewaytest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// Operation names used for failure injection and call counting.
const (
	OpChat   = "chat"
	OpCreate = "create"
	OpList   = "list"
	OpGet    = "get"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Script is one scripted response to a chat completion request.
type Script struct {
	// Status other than 0 or 200 returns a JSON error body instead of a stream.
	Status       int
	ErrorMessage string

	// Events are raw SSE data payloads, each sent as "data: <event>\n\n".
	Events []string
	// Delay is slept before each event.
	Delay time.Duration
	// SplitBytes, when positive, writes the stream in chunks of this size
	// with a flush after each.
	SplitBytes int
	// Hold keeps the connection open after the events until the client goes
	// away.
	Hold bool
}

// ChatMessage is a message as received by the fake.
type ChatMessage struct {
	Role    string        `json:"role"`
	Content model.Content `json:"content"`
}

// ChatRequest is a recorded chat completion request.
type ChatRequest struct {
	Model         string        `json:"model"`
	Messages      []ChatMessage `json:"messages"`
	Stream        bool          `json:"stream"`
	Authorization string        `json:"-"`
}

type failure struct {
	remaining int
	status    int
}

// Fake is the in-memory gateway.
type Fake struct {
	mu       sync.Mutex
	engine   *gin.Engine
	convs    map[string]*model.Conversation
	scripts  []Script
	failures map[string]*failure
	calls    map[string]int
	requests []ChatRequest
	token    string
	nextID   int
	now      func() time.Time
}

// New creates a Fake.
func New() *Fake {
	f := &Fake{
		convs:    make(map[string]*model.Conversation),
		failures: make(map[string]*failure),
		calls:    make(map[string]int),
		now:      time.Now,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.POST("/chat/completions", f.handleChat)
	r.POST("/conversations", f.handleCreate)
	r.GET("/conversations", f.handleList)
	r.GET("/conversations/:id", f.handleGet)
	r.PATCH("/conversations/:id", f.handleUpdate)
	r.DELETE("/conversations/:id", f.handleDelete)
	f.engine = r
	return f
}

// NewServer starts a Fake behind an httptest.Server closed at test cleanup.
func NewServer(t testing.TB) (*Fake, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := New()
	srv := httptest.NewServer(f.Handler())
	t.Cleanup(srv.Close)
	return f, srv
}

// Handler returns the HTTP handler.
func (f *Fake) Handler() http.Handler {
	return f.engine
}

// =============================================================================
// SCRIPTING
// =============================================================================

// RequireToken makes every request without "Bearer token" fail with 401.
func (f *Fake) RequireToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
}

// EnqueueStream queues a scripted response for the next chat request. With
// an empty queue the fake echoes the last user message.
func (f *Fake) EnqueueStream(s Script) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, s)
}

// FailNext makes the next n calls of op fail with status.
func (f *Fake) FailNext(op string, n, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = &failure{remaining: n, status: status}
}

// Seed stores a conversation as if it had been created earlier.
func (f *Fake) Seed(conv model.Conversation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := conv.Clone()
	f.convs[c.ID] = c
}

// Conversation returns a copy of a stored conversation.
func (f *Fake) Conversation(id string) (*model.Conversation, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.convs[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// Calls returns how many requests op has received, failed ones included.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// ChatRequests returns the recorded chat requests.
func (f *Fake) ChatRequests() []ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ChatRequest(nil), f.requests...)
}

// ContentEvents returns typed content events for each piece, followed by a
// done event.
func ContentEvents(pieces ...string) []string {
	out := make([]string, 0, len(pieces)+1)
	for _, p := range pieces {
		data, _ := json.Marshal(map[string]string{"type": "content", "text": p})
		out = append(out, string(data))
	}
	return append(out, `{"type":"done"}`)
}

// =============================================================================
// HANDLERS
// =============================================================================

// begin records the call and reports whether the request should proceed.
func (f *Fake) begin(c *gin.Context, op string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++

	if f.token != "" && c.GetHeader("Authorization") != "Bearer "+f.token {
		writeError(c, http.StatusUnauthorized, "invalid token")
		return false
	}
	if fl := f.failures[op]; fl != nil && fl.remaining > 0 {
		fl.remaining--
		writeError(c, fl.status, "injected failure")
		return false
	}
	return true
}

func writeError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"message": message, "code": status}})
}

func (f *Fake) handleChat(c *gin.Context) {
	if !f.begin(c, OpChat) {
		return
	}

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	req.Authorization = c.GetHeader("Authorization")

	f.mu.Lock()
	f.requests = append(f.requests, req)
	var script Script
	if len(f.scripts) > 0 {
		script = f.scripts[0]
		f.scripts = f.scripts[1:]
	} else {
		script = echoScript(req)
	}
	f.mu.Unlock()

	if script.Status != 0 && script.Status != http.StatusOK {
		msg := script.ErrorMessage
		if msg == "" {
			msg = http.StatusText(script.Status)
		}
		writeError(c, script.Status, msg)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	for _, ev := range script.Events {
		if script.Delay > 0 {
			select {
			case <-c.Request.Context().Done():
				return
			case <-time.After(script.Delay):
			}
		}
		frame := "data: " + ev + "\n\n"
		if script.SplitBytes > 0 {
			for len(frame) > 0 {
				n := min(script.SplitBytes, len(frame))
				if _, err := c.Writer.WriteString(frame[:n]); err != nil {
					return
				}
				c.Writer.Flush()
				frame = frame[n:]
			}
			continue
		}
		if _, err := c.Writer.WriteString(frame); err != nil {
			return
		}
		c.Writer.Flush()
	}

	if script.Hold {
		<-c.Request.Context().Done()
	}
}

// echoScript answers with the last user message's text.
func echoScript(req ChatRequest) Script {
	last := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == string(model.RoleUser) {
			last = req.Messages[i].Content.PlainText()
			break
		}
	}
	words := strings.Fields("You said: " + last)
	pieces := make([]string, len(words))
	for i, w := range words {
		if i > 0 {
			w = " " + w
		}
		pieces[i] = w
	}
	events := ContentEvents(pieces...)
	usage := fmt.Sprintf(`{"type":"usage","usage":{"prompt_tokens":%d,"completion_tokens":%d,"total_tokens":%d}}`,
		len(req.Messages), len(words), len(req.Messages)+len(words))
	events = append(events[:len(events)-1], usage, `{"type":"done"}`)
	return Script{Events: events, Delay: 20 * time.Millisecond}
}

func (f *Fake) handleCreate(c *gin.Context) {
	if !f.begin(c, OpCreate) {
		return
	}
	var body struct {
		Title string `json:"title"`
	}
	_ = c.ShouldBindJSON(&body)

	f.mu.Lock()
	f.nextID++
	conv := model.NewConversation("conv-" + strconv.Itoa(f.nextID))
	conv.CreatedAt = f.now()
	conv.UpdatedAt = conv.CreatedAt
	if body.Title != "" {
		conv.Title = body.Title
	}
	f.convs[conv.ID] = conv
	meta := conv.Meta()
	f.mu.Unlock()

	c.JSON(http.StatusCreated, meta)
}

func (f *Fake) handleList(c *gin.Context) {
	if !f.begin(c, OpList) {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	f.mu.Lock()
	metas := make([]model.ConversationMeta, 0, len(f.convs))
	for _, conv := range f.convs {
		metas = append(metas, conv.Meta())
	}
	f.mu.Unlock()

	sort.Slice(metas, func(i, j int) bool {
		if !metas[i].UpdatedAt.Equal(metas[j].UpdatedAt) {
			return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
		}
		return metas[i].ID < metas[j].ID
	})
	if offset > len(metas) {
		offset = len(metas)
	}
	metas = metas[offset:]
	if limit > 0 && limit < len(metas) {
		metas = metas[:limit]
	}
	c.JSON(http.StatusOK, gin.H{"conversations": metas})
}

func (f *Fake) handleGet(c *gin.Context) {
	if !f.begin(c, OpGet) {
		return
	}
	f.mu.Lock()
	conv, ok := f.convs[c.Param("id")]
	var out *model.Conversation
	if ok {
		out = conv.Clone()
	}
	f.mu.Unlock()

	if !ok {
		writeError(c, http.StatusNotFound, "conversation not found")
		return
	}
	c.JSON(http.StatusOK, out)
}

func (f *Fake) handleUpdate(c *gin.Context) {
	if !f.begin(c, OpUpdate) {
		return
	}
	var body struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}

	f.mu.Lock()
	conv, ok := f.convs[c.Param("id")]
	if ok {
		conv.Title = body.Title
		conv.UpdatedAt = f.now()
	}
	f.mu.Unlock()

	if !ok {
		writeError(c, http.StatusNotFound, "conversation not found")
		return
	}
	c.Status(http.StatusNoContent)
}

func (f *Fake) handleDelete(c *gin.Context) {
	if !f.begin(c, OpDelete) {
		return
	}
	f.mu.Lock()
	_, ok := f.convs[c.Param("id")]
	delete(f.convs, c.Param("id"))
	f.mu.Unlock()

	if !ok {
		writeError(c, http.StatusNotFound, "conversation not found")
		return
	}
	c.Status(http.StatusNoContent)
}
