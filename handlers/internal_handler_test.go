package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "github.com/NomadCrew/nomad-realtime/errors"
	"github.com/NomadCrew/nomad-realtime/middleware"
	"github.com/NomadCrew/nomad-realtime/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type recordingLinker struct {
	links map[string]string
	err   error
}

func (l *recordingLinker) Link(_ context.Context, externalID, userID string) error {
	if l.err != nil {
		return l.err
	}
	l.links[externalID] = userID
	return nil
}

type recordingForgetter []string

func (f *recordingForgetter) Forget(externalID string) { *f = append(*f, externalID) }

func newInternalRouter(h *InternalHandler) *gin.Engine {
	r := gin.New()
	r.Use(middleware.ErrorHandler())
	g := r.Group("/internal", middleware.InternalAuth("secret"))
	g.POST("/notifications", h.CreateNotification)
	g.POST("/notifications/batch", h.CreateNotifications)
	g.POST("/identities", h.LinkIdentity)
	return r
}

func postJSON(r http.Handler, target, body string, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("X-Internal-Token", token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateNotification(t *testing.T) {
	svc := new(mockNotificationService)
	params := types.CreateNotificationParams{OwnerID: "u2", Kind: types.KindMessage, Title: "New message"}
	created := &types.Notification{ID: uuid.New(), OwnerID: "u2", Kind: types.KindMessage, Title: "New message"}
	svc.On("Create", mock.Anything, params).Return(created, nil)
	r := newInternalRouter(NewInternalHandler(svc, nil, nil))

	body := `{"ownerId":"u2","type":"message","title":"New message"}`

	assert.Equal(t, http.StatusUnauthorized, postJSON(r, "/internal/notifications", body, "").Code)
	assert.Equal(t, http.StatusUnauthorized, postJSON(r, "/internal/notifications", body, "wrong").Code)

	w := postJSON(r, "/internal/notifications", body, "secret")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, created.ID, decodeBody[types.Notification](t, w).ID)

	assert.Equal(t, http.StatusBadRequest, postJSON(r, "/internal/notifications", `{"type":"message"}`, "secret").Code)
	svc.AssertNumberOfCalls(t, "Create", 1)
}

func TestCreateNotification_ServiceValidation(t *testing.T) {
	svc := new(mockNotificationService)
	svc.On("Create", mock.Anything, mock.Anything).Return(nil, apperrors.ValidationFailed("invalid notification type", "pigeon"))
	r := newInternalRouter(NewInternalHandler(svc, nil, nil))

	w := postJSON(r, "/internal/notifications", `{"ownerId":"u2","type":"pigeon","title":"x"}`, "secret")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateNotifications(t *testing.T) {
	svc := new(mockNotificationService)
	created := []*types.Notification{{ID: uuid.New(), OwnerID: "u1"}, {ID: uuid.New(), OwnerID: "u2"}}
	svc.On("CreateMany", mock.Anything, mock.MatchedBy(func(p []types.CreateNotificationParams) bool {
		return len(p) == 2 && p[0].OwnerID == "u1" && p[1].OwnerID == "u2"
	})).Return(created, nil)
	r := newInternalRouter(NewInternalHandler(svc, nil, nil))

	body := `{"notifications":[{"ownerId":"u1","type":"system","title":"Maintenance"},{"ownerId":"u2","type":"system","title":"Maintenance"}]}`
	w := postJSON(r, "/internal/notifications/batch", body, "secret")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Len(t, decodeBody[createBatchResponse](t, w).Notifications, 2)

	assert.Equal(t, http.StatusBadRequest, postJSON(r, "/internal/notifications/batch", `{"notifications":[]}`, "secret").Code)
}

func TestLinkIdentity(t *testing.T) {
	linker := &recordingLinker{links: map[string]string{}}
	var forgotten recordingForgetter
	r := newInternalRouter(NewInternalHandler(new(mockNotificationService), linker, &forgotten))

	w := postJSON(r, "/internal/identities", `{"externalId":"auth0|abc","userId":"u1"}`, "secret")
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "u1", linker.links["auth0|abc"])
	assert.Equal(t, recordingForgetter{"auth0|abc"}, forgotten)

	assert.Equal(t, http.StatusBadRequest, postJSON(r, "/internal/identities", `{"externalId":"x"}`, "secret").Code)

	linker.err = errors.New("connection refused")
	assert.Equal(t, http.StatusInternalServerError, postJSON(r, "/internal/identities", `{"externalId":"y","userId":"u2"}`, "secret").Code)
}

func TestLinkIdentity_StaticIdentities(t *testing.T) {
	r := newInternalRouter(NewInternalHandler(new(mockNotificationService), nil, nil))
	w := postJSON(r, "/internal/identities", `{"externalId":"x","userId":"u1"}`, "secret")
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}
