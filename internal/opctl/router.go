package opctl

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ccnetdrv/ccnetd/internal/ccnet"
	"github.com/ccnetdrv/ccnetd/internal/ccneterr"
)

// Server wires the admin HTTP API to a running Controller.
type Server struct {
	router   *gin.Engine
	hub      *Hub
	operator *HTTPOperator
	auth     *AuthManager
	logger   *zap.Logger

	controller  *ccnet.Controller
	upgrader    websocket.Upgrader
	rateLimiter *rateLimiter
}

// NewServer builds the admin API router. mode is gin's run mode
// ("debug" or "release"); requestsPerMinute/burst size the per-client
// rate limiter (pass 0 for requestsPerMinute to disable it).
func NewServer(mode string, controller *ccnet.Controller, hub *Hub, operator *HTTPOperator, auth *AuthManager, requestsPerMinute, burst int, logger *zap.Logger) *Server {
	gin.SetMode(mode)
	s := &Server{
		router:      gin.New(),
		hub:         hub,
		operator:    operator,
		auth:        auth,
		logger:      logger,
		controller:  controller,
		upgrader:    websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		rateLimiter: newRateLimiter(requestsPerMinute, burst),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.Use(gin.Recovery(), s.requestLogger(), s.rateLimit())

	s.router.POST("/api/v1/login", s.handleLogin)
	s.router.GET("/ws", s.handleWebSocket)

	v1 := s.router.Group("/api/v1", s.auth.RequireAuth())
	v1.GET("/device", s.handleGetDevice)
	v1.GET("/bill-types", s.handleGetBillTypes)
	v1.GET("/bill-types/enabled", s.handleGetEnabled)
	v1.PUT("/bill-types/enabled", s.handleSetEnabled)
	v1.GET("/security-levels", s.handleGetSecurityLevels)
	v1.PUT("/security-levels", s.handleSetSecurityLevels)
	v1.POST("/escrow/:id/decide", s.handleDecideEscrow)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	token, err := s.auth.Login(req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "token_type": "Bearer"})
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{ID: c.Request.RemoteAddr, Hub: s.hub, Conn: conn, Send: make(chan []byte, 256)}
	s.hub.register <- client

	go client.WritePump()
	go client.ReadPump()
}

func (s *Server) handleGetDevice(c *gin.Context) {
	info, err := s.controller.GetDeviceInfo(c.Request.Context())
	if err != nil {
		writeControllerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"part_number":   info.PartNumber,
		"serial_number": info.SerialNumber,
		"asset_number":  info.AssetNumber,
	})
}

func (s *Server) handleGetBillTypes(c *gin.Context) {
	types, err := s.controller.GetCashTypes(c.Request.Context())
	if err != nil {
		writeControllerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bill_types": cashTypesToJSON(types)})
}

func (s *Server) handleGetEnabled(c *gin.Context) {
	types, err := s.controller.GetEnabledCashTypes(c.Request.Context())
	if err != nil {
		writeControllerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": cashTypesToJSON(types)})
}

type cashTypeJSON struct {
	CurrencyCode string `json:"currency_code" binding:"required"`
	Denomination uint64 `json:"denomination" binding:"required"`
}

type setEnabledRequest struct {
	Enabled []cashTypeJSON `json:"enabled"`
}

func (s *Server) handleSetEnabled(c *gin.Context) {
	var req setEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	types := make([]ccnet.CashType, 0, len(req.Enabled))
	for _, ct := range req.Enabled {
		types = append(types, ccnet.CashType{CurrencyCode: ct.CurrencyCode, Denomination: ct.Denomination})
	}

	if err := s.controller.SetEnabledCashTypes(c.Request.Context(), types); err != nil {
		writeControllerError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleGetSecurityLevels(c *gin.Context) {
	levels, err := s.controller.GetCashTypesSecurityLevels(c.Request.Context())
	if err != nil {
		writeControllerError(c, err)
		return
	}

	out := make([]gin.H, 0, len(levels))
	for ct, level := range levels {
		out = append(out, gin.H{
			"currency_code":  ct.CurrencyCode,
			"denomination":   ct.Denomination,
			"security_level": level.String(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"security_levels": out})
}

type securityLevelJSON struct {
	CurrencyCode  string `json:"currency_code" binding:"required"`
	Denomination  uint64 `json:"denomination" binding:"required"`
	SecurityLevel string `json:"security_level" binding:"required"`
}

type setSecurityLevelsRequest struct {
	SecurityLevels []securityLevelJSON `json:"security_levels"`
}

func (s *Server) handleSetSecurityLevels(c *gin.Context) {
	var req setSecurityLevelsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	levels := make(map[ccnet.CashType]ccnet.BillSecurityLevel, len(req.SecurityLevels))
	for _, sl := range req.SecurityLevels {
		level := ccnet.SecurityNormal
		if sl.SecurityLevel == "high" {
			level = ccnet.SecurityHigh
		}
		levels[ccnet.CashType{CurrencyCode: sl.CurrencyCode, Denomination: sl.Denomination}] = level
	}

	if err := s.controller.SetCashTypesSecurityLevels(c.Request.Context(), levels); err != nil {
		writeControllerError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type decideEscrowRequest struct {
	Action string `json:"action" binding:"required"`
}

func (s *Server) handleDecideEscrow(c *gin.Context) {
	id := c.Param("id")

	var req decideEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	var action ccnet.CashAction
	switch req.Action {
	case "accept":
		action = ccnet.ActionAcceptCash
	case "return":
		action = ccnet.ActionReturnCash
	case "hold":
		action = ccnet.ActionHoldCash
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "action must be accept, return, or hold"})
		return
	}

	if !s.operator.Decide(id, action) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no pending escrow decision with that id"})
		return
	}
	c.Status(http.StatusNoContent)
}

func cashTypesToJSON(types []ccnet.CashType) []gin.H {
	out := make([]gin.H, 0, len(types))
	for _, ct := range types {
		out = append(out, gin.H{"currency_code": ct.CurrencyCode, "denomination": ct.Denomination})
	}
	return out
}

// writeControllerError translates a ccneterr error into an HTTP
// response. Semantic errors are the caller's fault (409); liveness
// errors mean the device link is unavailable right now (503); every
// other kind is an unexpected failure talking to the device (502).
func writeControllerError(c *gin.Context, err error) {
	kind, ok := ccneterr.KindOf(err)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	switch kind {
	case ccneterr.KindSemantic:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case ccneterr.KindLiveness:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}
