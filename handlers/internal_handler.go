package handlers

import (
	"net/http"

	apperrors "github.com/NomadCrew/nomad-realtime/errors"
	"github.com/NomadCrew/nomad-realtime/logger"
	"github.com/NomadCrew/nomad-realtime/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxBatchSize = 500

// InternalHandler serves service-to-service routes behind InternalAuth.
type InternalHandler struct {
	service NotificationService
	linker  IdentityLinker
	aliases AliasForgetter
	log     *zap.SugaredLogger
}

// NewInternalHandler builds the handler. linker may be nil when identities
// live in static configuration; LinkIdentity then reports the route as
// unavailable.
func NewInternalHandler(service NotificationService, linker IdentityLinker, aliases AliasForgetter) *InternalHandler {
	return &InternalHandler{
		service: service,
		linker:  linker,
		aliases: aliases,
		log:     logger.GetLogger().Named("internal_handler"),
	}
}

type createBatchRequest struct {
	Notifications []types.CreateNotificationParams `json:"notifications" binding:"required,min=1,dive"`
}

type createBatchResponse struct {
	Notifications []*types.Notification `json:"notifications"`
}

type linkIdentityRequest struct {
	ExternalID string `json:"externalId" binding:"required"`
	UserID     string `json:"userId" binding:"required"`
}

// CreateNotification godoc
// @Summary Create a notification
// @Description Stores a notification and pushes it to the owner's live connections.
// @Tags internal
// @Accept json
// @Produce json
// @Param notification body types.CreateNotificationParams true "Notification"
// @Success 201 {object} types.Notification
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 401 {object} middleware.ErrorResponse
// @Router /internal/notifications [post]
func (h *InternalHandler) CreateNotification(c *gin.Context) {
	var req types.CreateNotificationParams
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.ValidationFailed("invalid notification", err.Error()))
		return
	}
	n, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, n)
}

// CreateNotifications godoc
// @Summary Create notifications in bulk
// @Tags internal
// @Accept json
// @Produce json
// @Param batch body createBatchRequest true "Notifications"
// @Success 201 {object} createBatchResponse
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 401 {object} middleware.ErrorResponse
// @Router /internal/notifications/batch [post]
func (h *InternalHandler) CreateNotifications(c *gin.Context) {
	var req createBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.ValidationFailed("invalid notification batch", err.Error()))
		return
	}
	if len(req.Notifications) > maxBatchSize {
		_ = c.Error(apperrors.ValidationFailed("batch too large", "at most 500 notifications per request"))
		return
	}
	created, err := h.service.CreateMany(c.Request.Context(), req.Notifications)
	if err != nil {
		_ = c.Error(err)
		return
	}
	h.log.Infow("Created notification batch", "count", len(created))
	c.JSON(http.StatusCreated, createBatchResponse{Notifications: created})
}

// LinkIdentity godoc
// @Summary Link an external identity to a user
// @Tags internal
// @Accept json
// @Param link body linkIdentityRequest true "Identity link"
// @Success 204 "No Content"
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 401 {object} middleware.ErrorResponse
// @Failure 501 {object} middleware.ErrorResponse "Identities are static"
// @Router /internal/identities [post]
func (h *InternalHandler) LinkIdentity(c *gin.Context) {
	if h.linker == nil {
		unavailable := apperrors.New(apperrors.ServerError, "Identity linking is not available", "")
		unavailable.HTTPStatus = http.StatusNotImplemented
		_ = c.Error(unavailable)
		return
	}
	var req linkIdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.ValidationFailed("invalid identity link", err.Error()))
		return
	}
	if err := h.linker.Link(c.Request.Context(), req.ExternalID, req.UserID); err != nil {
		_ = c.Error(apperrors.NewDatabaseError(err))
		return
	}
	if h.aliases != nil {
		h.aliases.Forget(req.ExternalID)
	}
	h.log.Infow("Linked identity", "externalID", req.ExternalID, "userID", req.UserID)
	c.Status(http.StatusNoContent)
}
