package handlers

import (
	"net/http"
	"net/url"

	"github.com/NomadCrew/nomad-realtime/config"
	apperrors "github.com/NomadCrew/nomad-realtime/errors"
	"github.com/NomadCrew/nomad-realtime/internal/realtime"
	"github.com/NomadCrew/nomad-realtime/logger"
	"github.com/NomadCrew/nomad-realtime/middleware"
	"github.com/NomadCrew/nomad-realtime/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const transportPolling = "polling"

// RealtimeHandler terminates both realtime transports on /realtime.
type RealtimeHandler struct {
	gateway    *realtime.Gateway
	polling    *realtime.PollingHub
	auth       realtime.Authenticator
	pushConfig realtime.PushConfig
	acceptOpts *websocket.AcceptOptions
	log        *zap.SugaredLogger
}

func NewRealtimeHandler(g *realtime.Gateway, hub *realtime.PollingHub, auth realtime.Authenticator, serverCfg *config.ServerConfig, rtCfg *config.RealtimeConfig) *RealtimeHandler {
	opts := &websocket.AcceptOptions{CompressionMode: websocket.CompressionContextTakeover}
	if serverCfg.Environment == config.EnvDevelopment || containsWildcard(serverCfg.AllowedOrigins) {
		opts.InsecureSkipVerify = true
	} else {
		opts.OriginPatterns = originHosts(serverCfg.AllowedOrigins)
	}
	return &RealtimeHandler{
		gateway: g,
		polling: hub,
		auth:    auth,
		pushConfig: realtime.PushConfig{
			PingInterval: rtCfg.PingInterval,
			WriteTimeout: rtCfg.WriteTimeout,
		},
		acceptOpts: opts,
		log:        logger.GetLogger().Named("realtime_handler"),
	}
}

// handshakeOwner authenticates credentials presented on the handshake
// request. No credentials yields an anonymous connection that must send an
// authenticate event within the grace period.
func (h *RealtimeHandler) handshakeOwner(c *gin.Context) (string, bool) {
	creds := realtime.Credentials{
		Token:   middleware.TokenFromRequest(c),
		OwnerID: c.Query("ownerId"),
	}
	if creds.Empty() {
		return "", true
	}
	owner, err := h.auth.Authenticate(c.Request.Context(), creds)
	if err != nil {
		h.log.Infow("Realtime handshake rejected",
			"error", err,
			"token", logger.MaskJWT(creds.Token),
			"client_ip", c.ClientIP())
		_ = c.Error(apperrors.AuthRequired("Invalid realtime credentials"))
		return "", false
	}
	return owner, true
}

// Connect godoc
// @Summary Open a realtime connection
// @Description Websocket upgrade for push, or a long-poll when transport=polling. With sid, a websocket upgrade takes over an existing polling session.
// @Tags realtime
// @Param transport query string false "polling for the long-poll transport"
// @Param sid query string false "Polling session id"
// @Param token query string false "Access token"
// @Success 101 "Switching Protocols"
// @Success 200 {object} types.PollResponse
// @Failure 401 {object} middleware.ErrorResponse
// @Failure 404 {object} middleware.ErrorResponse "Unknown session"
// @Router /realtime [get]
func (h *RealtimeHandler) Connect(c *gin.Context) {
	if c.IsWebsocket() {
		h.servePush(c)
		return
	}
	if c.Query("transport") != transportPolling || c.Query("sid") == "" {
		_ = c.Error(apperrors.ValidationFailed("unsupported transport", "use a websocket upgrade or transport=polling with sid"))
		return
	}
	h.poll(c)
}

func (h *RealtimeHandler) servePush(c *gin.Context) {
	sid := c.Query("sid")
	owner := ""
	if sid == "" {
		var ok bool
		if owner, ok = h.handshakeOwner(c); !ok {
			return
		}
	}

	ws, err := websocket.Accept(c.Writer, c.Request, h.acceptOpts)
	if err != nil {
		h.log.Warnw("Failed to accept websocket", "error", err, "client_ip", c.ClientIP())
		return
	}
	transport := realtime.NewPushTransport(ws, h.pushConfig)

	var conn *realtime.Connection
	if sid != "" {
		conn, err = h.gateway.Upgrade(sid, transport)
		if err != nil {
			transport.Reject(websocket.StatusPolicyViolation, "unknown session")
			return
		}
	} else {
		conn, err = h.gateway.Accept(c.Request.Context(), transport, realtime.AcceptOptions{
			Transport: types.TransportPush,
			OwnerID:   owner,
		})
		if err != nil {
			if apperrors.IsType(err, apperrors.CapacityExceededError) {
				transport.Reject(websocket.StatusTryAgainLater, "capacity exceeded")
			} else {
				transport.Reject(websocket.StatusPolicyViolation, "connection refused")
			}
			return
		}
	}

	transport.Serve(c.Request.Context(), h.gateway, conn)
}

// OpenPolling godoc
// @Summary Open a polling session, or post client events to one
// @Tags realtime
// @Accept json
// @Produce json
// @Param transport query string true "polling"
// @Param sid query string false "Session id; when set the body carries client events"
// @Param events body []types.Event false "Client events"
// @Success 200 {object} types.PollingHandshake
// @Success 204 "Events accepted"
// @Failure 401 {object} middleware.ErrorResponse
// @Failure 503 {object} middleware.ErrorResponse "Connection ceiling reached"
// @Router /realtime [post]
func (h *RealtimeHandler) OpenPolling(c *gin.Context) {
	if c.Query("transport") != transportPolling {
		_ = c.Error(apperrors.ValidationFailed("unsupported transport", "POST requires transport=polling"))
		return
	}
	if sid := c.Query("sid"); sid != "" {
		h.post(c, sid)
		return
	}

	owner, ok := h.handshakeOwner(c)
	if !ok {
		return
	}
	_, handshake, err := h.polling.Open(c.Request.Context(), owner)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handshake)
}

func (h *RealtimeHandler) poll(c *gin.Context) {
	events, err := h.polling.Poll(c.Request.Context(), c.Query("sid"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	if events == nil {
		events = []types.Event{}
	}
	c.JSON(http.StatusOK, types.PollResponse{Events: events})
}

func (h *RealtimeHandler) post(c *gin.Context, sid string) {
	var events []types.Event
	if err := c.ShouldBindJSON(&events); err != nil {
		_ = c.Error(apperrors.ValidationFailed("invalid event batch", err.Error()))
		return
	}
	if err := h.polling.Post(c.Request.Context(), sid, events); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Disconnect godoc
// @Summary Close a polling session
// @Tags realtime
// @Param sid query string true "Session id"
// @Success 204 "No Content"
// @Failure 404 {object} middleware.ErrorResponse
// @Router /realtime [delete]
func (h *RealtimeHandler) Disconnect(c *gin.Context) {
	if err := h.polling.Close(c.Query("sid")); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

// originHosts turns configured origins into the host patterns the websocket
// origin check matches against.
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
			continue
		}
		hosts = append(hosts, o)
	}
	return hosts
}
