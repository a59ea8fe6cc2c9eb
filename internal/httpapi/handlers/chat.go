package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/suPer8Hu/lifehub/internal/chat"
	"github.com/suPer8Hu/lifehub/internal/common"
)

func (h *Handler) CreateChat(c *gin.Context) {
	uid, okk := requireUser(c)
	if !okk {
		return
	}

	ch, err := h.ChatSvc.GetOrCreateActiveChat(c.Request.Context(), uid, nil)
	if err != nil {
		h.logger(c).Error("create chat failed", zap.String("user_id", uid), zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to create chat")
		return
	}
	common.OK(c, gin.H{"chat": ch})
}

func (h *Handler) ListChats(c *gin.Context) {
	uid, okk := requireUser(c)
	if !okk {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	chats, err := h.ChatSvc.ListChats(c.Request.Context(), uid, limit)
	if err != nil {
		h.logger(c).Error("list chats failed", zap.String("user_id", uid), zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list chats")
		return
	}
	common.OK(c, gin.H{"chats": chats})
}

// listOptions reads limit, offset, order_by and desc from the query string.
func listOptions(c *gin.Context) chat.ListOptions {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	desc, _ := strconv.ParseBool(c.Query("desc"))
	return chat.ListOptions{
		Limit:   limit,
		Offset:  offset,
		OrderBy: c.Query("order_by"),
		Desc:    desc,
	}
}

// ownedChat resolves :chat_id for the caller, writing the error response
// itself when it returns false.
func (h *Handler) ownedChat(c *gin.Context) (*chat.Chat, bool) {
	uid, okk := requireUser(c)
	if !okk {
		return nil, false
	}
	ch, err := h.ChatSvc.ValidateChatOwner(c.Request.Context(), uid, c.Param("chat_id"))
	if err != nil {
		h.writeError(c, err)
		return nil, false
	}
	return ch, true
}

func (h *Handler) ListChatMessages(c *gin.Context) {
	ch, okk := h.ownedChat(c)
	if !okk {
		return
	}
	opts := listOptions(c)

	msgs, err := h.ChatSvc.GetChatMessages(c.Request.Context(), ch.ID, opts)
	if err != nil {
		h.writeError(c, err)
		return
	}
	common.OK(c, gin.H{"chat_id": ch.ID, "messages": msgs})
}

func (h *Handler) GetChatTree(c *gin.Context) {
	ch, okk := h.ownedChat(c)
	if !okk {
		return
	}

	forest, err := h.ChatSvc.GetNestedConversation(c.Request.Context(), ch.ID, listOptions(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	common.OK(c, gin.H{"chat_id": ch.ID, "tree": forest})
}

func (h *Handler) RefreshChatTitle(c *gin.Context) {
	ch, okk := h.ownedChat(c)
	if !okk {
		return
	}
	ctx := c.Request.Context()

	recent, err := h.ChatSvc.RecentMessages(ctx, ch.ID, 3)
	if err != nil {
		h.writeError(c, err)
		return
	}
	changed := h.ChatSvc.UpdateChatTitle(ctx, ch.ID, recent)

	updated, err := h.ChatSvc.ValidateChatOwner(ctx, ch.UserID, ch.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	common.OK(c, gin.H{"chat": updated, "changed": changed})
}

type sendMessageReq struct {
	ChatID          *string `json:"chat_id"`
	Message         string  `json:"message" binding:"required"`
	ParentMessageID *string `json:"parent_message_id"`
}

func (h *Handler) SendChatMessage(c *gin.Context) {
	uid, okk := requireUser(c)
	if !okk {
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	out, err := h.ChatSvc.Converse(c.Request.Context(), chat.TurnRequest{
		UserID:          uid,
		ChatID:          req.ChatID,
		Text:            req.Message,
		ParentMessageID: req.ParentMessageID,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	var messageID *string
	if out.Message != nil {
		messageID = &out.Message.ID
	}
	common.OK(c, gin.H{
		"chat_id":    out.Chat.ID,
		"reply":      out.Reply,
		"message_id": messageID,
		"persisted":  out.Persisted,
	})
}

type sendAsyncReq struct {
	ChatID  string `json:"chat_id" binding:"required"`
	Message string `json:"message" binding:"required"`
}

func (h *Handler) SendChatMessageAsync(c *gin.Context) {
	uid, okk := requireUser(c)
	if !okk {
		return
	}

	var req sendAsyncReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		h.writeError(c, chat.ErrEmptyMessage)
		return
	}

	// read idempotency key
	idempoKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(idempoKey) > 128 {
		common.Fail(c, http.StatusBadRequest, 10003, "idempotency key too long")
		return
	}
	var idempoKeyPtr *string
	if idempoKey != "" {
		idempoKeyPtr = &idempoKey
	}

	j, created, err := h.ChatSvc.CreateJob(c.Request.Context(), uid, req.ChatID, req.Message, idempoKeyPtr)
	if err != nil {
		h.writeError(c, err)
		return
	}

	// Enqueue only when a new job was created
	if created {
		if err := h.Jobs.PublishJob(c.Request.Context(), j.ID); err != nil {
			h.logger(c).Error("publish job failed", zap.String("job_id", j.ID), zap.Error(err))
			common.Fail(c, http.StatusInternalServerError, 50003, "enqueue failed")
			return
		}
	}

	common.OK(c, gin.H{"job_id": j.ID, "created": created})
}

func (h *Handler) GetChatJob(c *gin.Context) {
	uid, okk := requireUser(c)
	if !okk {
		return
	}

	j, err := h.ChatSvc.GetJob(c.Request.Context(), uid, c.Param("job_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	common.OK(c, gin.H{
		"job": gin.H{
			"id":                j.ID,
			"chat_id":           j.ChatID,
			"status":            j.Status,
			"reply":             j.Reply,
			"result_message_id": j.ResultMessageID,
			"error":             j.Error,
			"created_at":        j.CreatedAt,
			"updated_at":        j.UpdatedAt,
		},
	})
}

type standaloneReq struct {
	History  []chat.HistoryEntry `json:"history"`
	FollowUp string              `json:"follow_up" binding:"required"`
}

func (h *Handler) StandaloneQuestion(c *gin.Context) {
	if _, okk := requireUser(c); !okk {
		return
	}

	var req standaloneReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	q, err := h.ChatSvc.GenerateStandaloneQuestion(c.Request.Context(), req.History, req.FollowUp)
	if err != nil {
		h.writeError(c, err)
		return
	}
	common.OK(c, gin.H{"question": q})
}

// writeError maps service errors to the response envelope. Anything not
// recognised here is a model provider failure or an internal one.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrChatNotFound):
		common.Fail(c, http.StatusNotFound, 40401, "chat not found")
	case errors.Is(err, chat.ErrJobNotFound):
		common.Fail(c, http.StatusNotFound, 40402, "job not found")
	case errors.Is(err, chat.ErrParentNotFound):
		common.Fail(c, http.StatusNotFound, 40403, "parent message not found")
	case errors.Is(err, chat.ErrEmptyMessage):
		common.Fail(c, http.StatusBadRequest, 10002, "message is empty")
	case errors.Is(err, chat.ErrInvalidOrder):
		common.Fail(c, http.StatusBadRequest, 10004, "unsupported order_by")
	case errors.Is(err, chat.ErrUpstream):
		h.logger(c).Warn("model provider failed", zap.Error(err))
		common.Fail(c, http.StatusBadGateway, 50201, "model provider error")
	default:
		h.logger(c).Error("request failed", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50000, "internal error")
	}
}
