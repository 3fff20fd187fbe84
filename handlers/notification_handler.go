package handlers

import (
	"net/http"
	"strconv"

	apperrors "github.com/NomadCrew/nomad-realtime/errors"
	"github.com/NomadCrew/nomad-realtime/logger"
	"github.com/NomadCrew/nomad-realtime/middleware"
	"github.com/NomadCrew/nomad-realtime/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	msgSignInRequired = "Sign in to see your notifications"
	msgUnavailable    = "Notifications are temporarily unavailable"
)

// NotificationHandler serves the notification inbox.
type NotificationHandler struct {
	service NotificationService
	log     *zap.SugaredLogger
}

func NewNotificationHandler(service NotificationService) *NotificationHandler {
	return &NotificationHandler{
		service: service,
		log:     logger.GetLogger().Named("notification_handler"),
	}
}

// countResponse is returned by bulk writes.
type countResponse struct {
	Count int64 `json:"count"`
}

type unreadCountResponse struct {
	UnreadCount int    `json:"unreadCount"`
	Message     string `json:"message,omitempty"`
}

// ListNotifications godoc
// @Summary List notifications
// @Description Returns one page of the caller's notifications. Anonymous callers get an empty page with a message.
// @Tags notifications
// @Produce json
// @Param page query int false "Page number (default 1)"
// @Param limit query int false "Page size (default 20, max 100)"
// @Param unreadOnly query bool false "Only unread notifications"
// @Param type query string false "Notification type filter"
// @Success 200 {object} types.NotificationListResponse
// @Failure 400 {object} middleware.ErrorResponse "Invalid type filter"
// @Router /v1/notifications [get]
// @Security BearerAuth
func (h *NotificationHandler) ListNotifications(c *gin.Context) {
	q := parseListQuery(c)
	kind, err := types.ParseKind(c.Query("type"))
	if err != nil {
		_ = c.Error(apperrors.ValidationFailed("invalid notification type", err.Error()))
		return
	}
	q.Kind = kind

	ownerID := middleware.GetUserID(c)
	if ownerID == "" {
		c.JSON(http.StatusOK, emptyListResponse(q, msgSignInRequired))
		return
	}
	q.OwnerID = ownerID

	result, err := h.service.List(c.Request.Context(), q)
	if err != nil {
		if apperrors.IsType(err, apperrors.ValidationError) {
			_ = c.Error(err)
			return
		}
		h.log.Warnw("Serving empty notification list", "userID", ownerID, "error", err)
		c.JSON(http.StatusOK, emptyListResponse(q, msgUnavailable))
		return
	}

	c.JSON(http.StatusOK, types.NotificationListResponse{
		Notifications: result.Items,
		Pagination: types.PaginationInfo{
			Total:      result.Total,
			Page:       q.Page,
			Limit:      q.PageSize,
			TotalPages: types.TotalPages(result.Total, q.PageSize),
		},
		UnreadCount: result.UnreadCount,
	})
}

// GetUnreadCount godoc
// @Summary Unread notification count
// @Tags notifications
// @Produce json
// @Success 200 {object} unreadCountResponse
// @Router /v1/notifications/unread-count [get]
// @Security BearerAuth
func (h *NotificationHandler) GetUnreadCount(c *gin.Context) {
	ownerID := middleware.GetUserID(c)
	if ownerID == "" {
		c.JSON(http.StatusOK, unreadCountResponse{Message: msgSignInRequired})
		return
	}
	n, err := h.service.UnreadCount(c.Request.Context(), ownerID)
	if err != nil {
		h.log.Warnw("Serving zero unread count", "userID", ownerID, "error", err)
		c.JSON(http.StatusOK, unreadCountResponse{Message: msgUnavailable})
		return
	}
	c.JSON(http.StatusOK, unreadCountResponse{UnreadCount: n})
}

// MarkRead godoc
// @Summary Mark a notification as read
// @Tags notifications
// @Param id path string true "Notification ID"
// @Success 204 "No Content"
// @Failure 401 {object} middleware.ErrorResponse
// @Failure 403 {object} middleware.ErrorResponse "Notification belongs to another user"
// @Failure 404 {object} middleware.ErrorResponse
// @Router /v1/notifications/{id}/read [patch]
// @Security BearerAuth
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	id, ok := notificationID(c)
	if !ok {
		return
	}
	if err := h.service.MarkRead(c.Request.Context(), id, middleware.GetUserID(c)); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkAllRead godoc
// @Summary Mark every notification as read
// @Tags notifications
// @Produce json
// @Success 200 {object} countResponse
// @Failure 401 {object} middleware.ErrorResponse
// @Router /v1/notifications/read-all [patch]
// @Security BearerAuth
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	n, err := h.service.MarkAllRead(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, countResponse{Count: n})
}

// DeleteNotification godoc
// @Summary Delete a notification
// @Tags notifications
// @Param id path string true "Notification ID"
// @Success 204 "No Content"
// @Failure 401 {object} middleware.ErrorResponse
// @Failure 403 {object} middleware.ErrorResponse "Notification belongs to another user"
// @Failure 404 {object} middleware.ErrorResponse
// @Router /v1/notifications/{id} [delete]
// @Security BearerAuth
func (h *NotificationHandler) DeleteNotification(c *gin.Context) {
	id, ok := notificationID(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), id, middleware.GetUserID(c)); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteNotifications godoc
// @Summary Delete notifications
// @Description Deletes every notification of the caller, or only those of one type.
// @Tags notifications
// @Produce json
// @Param type query string false "Only delete this type"
// @Success 200 {object} countResponse
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 401 {object} middleware.ErrorResponse
// @Router /v1/notifications [delete]
// @Security BearerAuth
func (h *NotificationHandler) DeleteNotifications(c *gin.Context) {
	kind, err := types.ParseKind(c.Query("type"))
	if err != nil {
		_ = c.Error(apperrors.ValidationFailed("invalid notification type", err.Error()))
		return
	}

	ownerID := middleware.GetUserID(c)
	var n int64
	if kind == "" {
		n, err = h.service.DeleteAll(c.Request.Context(), ownerID)
	} else {
		n, err = h.service.DeleteByKind(c.Request.Context(), ownerID, kind)
	}
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, countResponse{Count: n})
}

// parseListQuery reads paging leniently; bad values fall back to defaults.
func parseListQuery(c *gin.Context) types.ListQuery {
	q := types.ListQuery{Page: 1, PageSize: types.DefaultPageSize}
	if page, err := strconv.Atoi(c.Query("page")); err == nil {
		q.Page = page
	}
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil {
		q.PageSize = limit
	}
	if unread, err := strconv.ParseBool(c.Query("unreadOnly")); err == nil {
		q.UnreadOnly = unread
	}
	return q.Normalize()
}

func emptyListResponse(q types.ListQuery, message string) types.NotificationListResponse {
	return types.NotificationListResponse{
		Notifications: []types.Notification{},
		Pagination:    types.PaginationInfo{Page: q.Page, Limit: q.PageSize},
		Message:       message,
	}
}

// notificationID parses the :id path parameter. An id that is not a uuid
// cannot name any notification, so it is reported as not found.
func notificationID(c *gin.Context) (uuid.UUID, bool) {
	raw := c.Param("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		_ = c.Error(apperrors.NotFound("Notification", raw))
		return uuid.Nil, false
	}
	return id, true
}
