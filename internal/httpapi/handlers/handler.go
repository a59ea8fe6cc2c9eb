package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/suPer8Hu/lifehub/internal/chat"
	"github.com/suPer8Hu/lifehub/internal/common"
	"github.com/suPer8Hu/lifehub/internal/httpapi/middleware"
)

// JobPublisher enqueues async turns for the worker.
type JobPublisher interface {
	PublishJob(ctx context.Context, jobID string) error
}

type Handler struct {
	ChatSvc *chat.Service
	Jobs    JobPublisher
	Log     *zap.Logger
}

func NewHandler(svc *chat.Service, jobs JobPublisher, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{ChatSvc: svc, Jobs: jobs, Log: log.Named("http")}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"message": "pong"})
}

func userIDFromContext(c *gin.Context) (string, bool) {
	return middleware.UserID(c)
}

// requireUser writes 401 and returns false when the request is anonymous.
func requireUser(c *gin.Context) (string, bool) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
	}
	return uid, ok
}

// logger returns the handler logger with the request id attached.
func (h *Handler) logger(c *gin.Context) *zap.Logger {
	return h.Log.With(zap.String("request_id", c.GetString(middleware.RequestIDKey)))
}
