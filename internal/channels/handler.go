package channels

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teamloop/backend/internal/apperr"
	"github.com/teamloop/backend/internal/linkpreview"
	"github.com/teamloop/backend/internal/middleware"
	"github.com/teamloop/backend/internal/realtime"
	"github.com/teamloop/backend/pkg/response"
	"github.com/teamloop/backend/pkg/storage"
)

// PresenceSource exposes the live presence set of a channel room.
// Implemented by the realtime hub.
type PresenceSource interface {
	Presence(channelID uuid.UUID) []realtime.PresenceEntry
}

// Handler is the REST gateway for channels and messages. It shares the
// service with the realtime path so authorization and persistence behavior
// are identical on both surfaces.
type Handler struct {
	svc      *Service
	previews *linkpreview.Repository
	presence PresenceSource
	store    *storage.S3 // nil disables attachments
	logger   *zap.Logger
}

// NewHandler creates the channels REST handler.
func NewHandler(svc *Service, previews *linkpreview.Repository, presence PresenceSource, store *storage.S3, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, previews: previews, presence: presence, store: store, logger: logger}
}

// CreateChannelRequest is the body for POST /teams/:teamId/channels.
type CreateChannelRequest struct {
	Name      string     `json:"name" binding:"required"`
	Kind      string     `json:"kind"`
	ProjectID *uuid.UUID `json:"project_id"`
	IsPrivate bool       `json:"is_private"`
}

// List handles GET /teams/:teamId/channels.
func (h *Handler) List(c *gin.Context) {
	teamID, userID, ok := h.pathIDs(c)
	if !ok {
		return
	}
	list, err := h.svc.ListChannels(c.Request.Context(), teamID, userID)
	if err != nil {
		h.respondListErr(c, err)
		return
	}
	response.OK(c, gin.H{"channels": list})
}

// Create handles POST /teams/:teamId/channels.
func (h *Handler) Create(c *gin.Context) {
	teamID, userID, ok := h.pathIDs(c)
	if !ok {
		return
	}
	var req CreateChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "name required")
		return
	}
	ch, err := h.svc.CreateChannel(c.Request.Context(), CreateChannelParams{
		TeamID:    teamID,
		Name:      req.Name,
		Kind:      req.Kind,
		ProjectID: req.ProjectID,
		IsPrivate: req.IsPrivate,
		CreatorID: userID,
	})
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrDuplicateChannelName):
			response.Conflict(c, "a channel with this name already exists in this team")
		case errors.Is(err, apperr.ErrProjectNotInTeam):
			response.BadRequest(c, "project does not belong to this team")
		case errors.Is(err, apperr.ErrAccessDenied):
			response.Forbidden(c, "requires team owner or admin role")
		case errors.Is(err, apperr.ErrNotFound):
			response.NotFound(c, "project not found")
		case errors.Is(err, apperr.ErrValidation):
			response.BadRequest(c, err.Error())
		default:
			h.logger.Error("create channel", zap.Error(err))
			response.Internal(c, "failed to create channel")
		}
		return
	}
	response.Created(c, ch)
}

// Delete handles DELETE /teams/:teamId/channels/:channelId.
func (h *Handler) Delete(c *gin.Context) {
	teamID, userID, ok := h.pathIDs(c)
	if !ok {
		return
	}
	channelID, err := uuid.Parse(c.Param("channelId"))
	if err != nil {
		response.BadRequest(c, "invalid channel id")
		return
	}
	if err := h.svc.DeleteChannel(c.Request.Context(), channelID, teamID, userID); err != nil {
		switch {
		case errors.Is(err, apperr.ErrAccessDenied):
			response.Forbidden(c, "requires team owner or admin role")
		case errors.Is(err, apperr.ErrNotFound):
			response.NotFound(c, "channel not found")
		default:
			h.logger.Error("delete channel", zap.Error(err))
			response.Internal(c, "failed to delete channel")
		}
		return
	}
	response.NoContent(c)
}

// GetMessages handles GET /teams/:teamId/channels/:channelId/messages.
// Supports limit (max 100) and before (exclusive id cursor); the response is
// in ascending chronological order.
func (h *Handler) GetMessages(c *gin.Context) {
	channelID, userID, ok := h.channelIDs(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	beforeID, _ := strconv.ParseInt(c.DefaultQuery("before", "0"), 10, 64)

	msgs, err := h.svc.GetMessages(c.Request.Context(), channelID, userID, limit, beforeID)
	if err != nil {
		h.respondChannelErr(c, err)
		return
	}
	response.OK(c, gin.H{"messages": msgs})
}

// CreateMessage handles POST /teams/:teamId/channels/:channelId/messages.
// Accepts JSON {content} or multipart form with a content field and one or
// more files. N files produce N messages: the text rides only on the first,
// the rest carry empty text and their respective attachments.
func (h *Handler) CreateMessage(c *gin.Context) {
	channelID, userID, ok := h.channelIDs(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		var req struct {
			Content string `json:"content"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request body")
			return
		}
		msg, err := h.svc.CreateMessage(ctx, channelID, userID, req.Content, "")
		if err != nil {
			h.respondChannelErr(c, err)
			return
		}
		response.Created(c, gin.H{"messages": []interface{}{msg}})
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		response.BadRequest(c, "invalid multipart form")
		return
	}
	content := c.PostForm("content")
	files := form.File["files"]

	if len(files) == 0 {
		msg, err := h.svc.CreateMessage(ctx, channelID, userID, content, "")
		if err != nil {
			h.respondChannelErr(c, err)
			return
		}
		response.Created(c, gin.H{"messages": []interface{}{msg}})
		return
	}

	if h.store == nil {
		response.ServiceUnavailable(c, "attachment storage is not configured")
		return
	}

	var created []interface{}
	for i, fh := range files {
		if fh.Size > storage.MaxAttachmentSize {
			response.BadRequest(c, "attachment exceeds size limit")
			return
		}
		f, err := fh.Open()
		if err != nil {
			response.Internal(c, "failed to read attachment")
			return
		}
		key := storage.AttachmentKey(channelID.String(), uuid.New().String(), fh.Filename)
		contentType := fh.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		_, err = h.store.Upload(ctx, key, contentType, f, fh.Size)
		f.Close()
		if err != nil {
			h.logger.Error("attachment upload", zap.Error(err))
			response.Internal(c, "failed to store attachment")
			return
		}

		text := ""
		if i == 0 {
			text = content
		}
		msg, err := h.svc.CreateMessage(ctx, channelID, userID, text, key)
		if err != nil {
			h.respondChannelErr(c, err)
			return
		}
		created = append(created, msg)
	}
	response.Created(c, gin.H{"messages": created})
}

// Search handles GET /teams/:teamId/channels/:channelId/messages/search?q=.
func (h *Handler) Search(c *gin.Context) {
	channelID, userID, ok := h.channelIDs(c)
	if !ok {
		return
	}
	msgs, err := h.svc.SearchMessages(c.Request.Context(), channelID, userID, c.Query("q"))
	if err != nil {
		h.respondChannelErr(c, err)
		return
	}
	response.OK(c, gin.H{"messages": msgs})
}

// ListLinks handles GET /teams/:teamId/channels/:channelId/links. Runs the
// same channel authorization as every other channel-scoped read.
func (h *Handler) ListLinks(c *gin.Context) {
	channelID, userID, ok := h.channelIDs(c)
	if !ok {
		return
	}
	if _, err := h.svc.AuthorizeChannel(c.Request.Context(), userID, channelID); err != nil {
		h.respondChannelErr(c, err)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	links, err := h.previews.ListByChannel(c.Request.Context(), channelID, limit)
	if err != nil {
		response.Internal(c, "failed to list links")
		return
	}
	response.OK(c, gin.H{"links": links})
}

// GetPresence handles GET /teams/:teamId/channels/:channelId/presence.
func (h *Handler) GetPresence(c *gin.Context) {
	channelID, userID, ok := h.channelIDs(c)
	if !ok {
		return
	}
	if _, err := h.svc.AuthorizeChannel(c.Request.Context(), userID, channelID); err != nil {
		h.respondChannelErr(c, err)
		return
	}
	response.OK(c, gin.H{"presence": h.presence.Presence(channelID)})
}

// AttachmentURL handles GET /teams/:teamId/channels/:channelId/attachments/download-url?key=.
// The key must belong to the channel; the reply is a short-lived presigned URL.
func (h *Handler) AttachmentURL(c *gin.Context) {
	channelID, userID, ok := h.channelIDs(c)
	if !ok {
		return
	}
	if h.store == nil {
		response.ServiceUnavailable(c, "attachment storage is not configured")
		return
	}
	key := c.Query("key")
	if key == "" || !strings.HasPrefix(key, storage.FolderAttachments+"/"+channelID.String()+"/") {
		response.BadRequest(c, "invalid attachment key")
		return
	}
	if _, err := h.svc.AuthorizeChannel(c.Request.Context(), userID, channelID); err != nil {
		h.respondChannelErr(c, err)
		return
	}
	url, err := h.store.GeneratePresignedDownloadURL(c.Request.Context(), key, h.store.PresignExpire())
	if err != nil {
		response.Internal(c, "failed to sign download url")
		return
	}
	response.OK(c, gin.H{"url": url})
}

func (h *Handler) pathIDs(c *gin.Context) (teamID, userID uuid.UUID, ok bool) {
	teamID, err := uuid.Parse(c.Param("teamId"))
	if err != nil {
		response.BadRequest(c, "invalid team id")
		return uuid.Nil, uuid.Nil, false
	}
	return teamID, c.MustGet(middleware.ContextUserID).(uuid.UUID), true
}

func (h *Handler) channelIDs(c *gin.Context) (channelID, userID uuid.UUID, ok bool) {
	channelID, err := uuid.Parse(c.Param("channelId"))
	if err != nil {
		response.BadRequest(c, "invalid channel id")
		return uuid.Nil, uuid.Nil, false
	}
	return channelID, c.MustGet(middleware.ContextUserID).(uuid.UUID), true
}

// respondChannelErr collapses not-found and access-denied for channel-scoped
// operations so existence is never confirmed to unauthorized callers.
func (h *Handler) respondChannelErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrAccessDenied):
		response.NotFound(c, "channel not found or access denied")
	case errors.Is(err, apperr.ErrValidation):
		response.BadRequest(c, err.Error())
	default:
		h.logger.Error("channel operation", zap.Error(err))
		response.Internal(c, "internal error")
	}
}

func (h *Handler) respondListErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperr.ErrAccessDenied):
		response.Forbidden(c, "not a member of this team")
	default:
		h.logger.Error("list channels", zap.Error(err))
		response.Internal(c, "failed to list channels")
	}
}
