package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/xaenox/insta-assistant/internal/conversation"
	"github.com/xaenox/insta-assistant/internal/knowledge"
	"github.com/xaenox/insta-assistant/internal/models"
	"github.com/xaenox/insta-assistant/internal/storage"
	"go.uber.org/zap"
)

// Handler serves the conversation API
type Handler struct {
	mgr    *conversation.Manager
	reg    *knowledge.Registry
	store  storage.Storage
	broker *broker
	logger *zap.Logger
}

func NewHandler(mgr *conversation.Manager, reg *knowledge.Registry, store storage.Storage, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		mgr:    mgr,
		reg:    reg,
		store:  store,
		broker: newBroker(),
		logger: logger,
	}
}

// RegisterRoutes registers conversation routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/topics", h.ListTopics)
	r.GET("/stats", h.ListStats)

	r.POST("/conversations", h.CreateConversation)
	r.DELETE("/conversations/:id", h.DeleteConversation)
	r.GET("/conversations/:id/messages", h.ListMessages)
	r.POST("/conversations/:id/messages", h.SendMessage)
	r.POST("/conversations/:id/greet", h.Greet)
	r.GET("/conversations/:id/stream", h.Stream)
	r.GET("/conversations/:id/status", h.GetStatus)
	r.POST("/conversations/:id/status", h.SetStatus)
}

type sendMessageRequest struct {
	Message string `json:"message"`
}

type statusRequest struct {
	Status string `json:"status" binding:"omitempty,oneof=online offline"`
}

type messageResponse struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Mode      string `json:"mode"`
	Timestamp string `json:"timestamp"`
	Revealing bool   `json:"revealing"`
}

type topicResponse struct {
	Name      string   `json:"name"`
	Title     string   `json:"title"`
	Subtopics []string `json:"subtopics"`
}

func (h *Handler) listener(id string) conversation.Listener {
	return conversation.Listener{
		OnMessage: func(msg models.ChatMessage) {
			ev := Event{Type: "message", MessageID: msg.ID, Role: string(msg.Role), Timestamp: msg.Timestamp()}
			if msg.Mode == models.RenderInstant {
				ev.Content = msg.Content
			}
			h.broker.Publish(id, ev)
		},
		OnReveal: func(msgID, prefix string) {
			h.broker.Publish(id, Event{Type: "reveal", MessageID: msgID, Content: prefix})
		},
		OnIdle: func() {
			h.broker.Publish(id, Event{Type: "idle"})
		},
		OnSelect: storage.Observer(h.store, h.logger),
	}
}

// CreateConversation starts a new conversation
func (h *Handler) CreateConversation(c *gin.Context) {
	id := uuid.New().String()
	if _, err := h.mgr.Create(c.Request.Context(), id, h.listener(id)); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *Handler) DeleteConversation(c *gin.Context) {
	id := c.Param("id")
	if err := h.mgr.Remove(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	h.broker.Drop(id)
	c.Status(http.StatusNoContent)
}

// ListMessages returns the log with the currently displayed content
func (h *Handler) ListMessages(c *gin.Context) {
	views, err := h.mgr.Views(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	out := make([]messageResponse, 0, len(views))
	for _, v := range views {
		out = append(out, messageResponse{
			ID:        v.Message.ID,
			Role:      string(v.Message.Role),
			Content:   v.Display,
			Mode:      string(v.Message.Mode),
			Timestamp: v.Message.Timestamp(),
			Revealing: v.Revealing,
		})
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}

// SendMessage submits an utterance. The reply arrives asynchronously.
func (h *Handler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.mgr.Submit(c.Request.Context(), c.Param("id"), req.Message); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (h *Handler) Greet(c *gin.Context) {
	err := h.mgr.Do(c.Request.Context(), c.Param("id"), func(conv *conversation.Conversation) error {
		return conv.Greet()
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (h *Handler) GetStatus(c *gin.Context) {
	var status conversation.Status
	err := h.mgr.Do(c.Request.Context(), c.Param("id"), func(conv *conversation.Conversation) error {
		status = conv.Status()
		return nil
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

// SetStatus sets the cosmetic online indicator, or flips it when the body
// names no status.
func (h *Handler) SetStatus(c *gin.Context) {
	var req statusRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	var status conversation.Status
	err := h.mgr.Do(c.Request.Context(), c.Param("id"), func(conv *conversation.Conversation) error {
		if req.Status == "" {
			status = conv.ToggleStatus()
			return nil
		}
		status = conversation.Status(req.Status)
		conv.SetStatus(status)
		return nil
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

// Stream pushes conversation events as server-sent events
func (h *Handler) Stream(c *gin.Context) {
	id := c.Param("id")
	if err := h.mgr.Do(c.Request.Context(), id, func(*conversation.Conversation) error { return nil }); err != nil {
		h.writeError(c, err)
		return
	}

	events, unsubscribe := h.broker.Subscribe(id)
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(ev.Type, ev)
			return true
		case <-ctx.Done():
			return false
		}
	})
}

func (h *Handler) ListTopics(c *gin.Context) {
	byTopic := make(map[string][]string)
	for _, e := range h.reg.Entries() {
		byTopic[e.Key.Topic] = append(byTopic[e.Key.Topic], e.Key.Subtopic)
	}

	topics := h.reg.Topics()
	out := make([]topicResponse, 0, len(topics))
	for _, t := range topics {
		out = append(out, topicResponse{Name: t.Name, Title: t.Title, Subtopics: byTopic[t.Name]})
	}
	c.JSON(http.StatusOK, gin.H{"topics": out})
}

func (h *Handler) ListStats(c *gin.Context) {
	stats, err := h.store.ListLookups(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list lookups", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load stats"})
		return
	}
	if stats == nil {
		stats = []models.LookupStat{}
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
	case errors.Is(err, conversation.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "assistant is still typing"})
	case errors.Is(err, conversation.ErrEmptyUtterance):
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is empty"})
	case errors.Is(err, conversation.ErrClosed):
		c.JSON(http.StatusGone, gin.H{"error": "conversation closed"})
	default:
		h.logger.Error("Request failed", zap.Error(err), zap.String("path", c.FullPath()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
