package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/lhdbsbz/vetd/internal/audit"
	"github.com/lhdbsbz/vetd/internal/config"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server hosts the bridge WebSocket endpoint and the operator HTTP API.
type Server struct {
	Bridge  *BridgeLink
	Audit   *audit.Logger
	httpSrv *http.Server
	startAt time.Time
}

func NewServer(bridge *BridgeLink, auditLog *audit.Logger) *Server {
	return &Server{
		Bridge:  bridge,
		Audit:   auditLog,
		startAt: time.Now(),
	}
}

func (s *Server) buildEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/health", s.ginHealth)
	engine.GET("/ws", s.ginWebSocket)
	s.registerAPIRoutes(engine)
	return engine
}

// Handler returns the HTTP handler. Exposed for tests that mount the
// server on an httptest listener.
func (s *Server) Handler() http.Handler {
	return s.buildEngine()
}

// Start begins listening for connections and blocks until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	engine := s.buildEngine()

	port := config.Get().Gateway.Port
	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: engine,
	}

	slog.Info("vetd gateway starting", "port", port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpSrv.Shutdown(shutdownCtx)
	}()

	if err := s.httpSrv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) ginHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.startAt).String(),
		"bridge": s.Bridge.Connected(),
	})
}

func (s *Server) ginWebSocket(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	// First message must be a connect request.
	frame, err := ReadFrame(ws)
	if err != nil {
		slog.Warn("failed to read connect frame", "error", err)
		return
	}
	if frame.Method != "connect" {
		writeFrame(ws, ResErr(frame.ID, "HANDSHAKE_REQUIRED", "first message must be a connect request"))
		return
	}

	var params ConnectParams
	if len(frame.Params) > 0 {
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			writeFrame(ws, ResErr(frame.ID, "BAD_PARAMS", "invalid connect params"))
			return
		}
	}
	if !s.authenticate(params.Token) {
		writeFrame(ws, ResErr(frame.ID, "UNAUTHORIZED", "invalid token"))
		return
	}

	conn := &Conn{
		ID:           fmt.Sprintf("bridge_%d", time.Now().UnixNano()),
		Platform:     params.Platform,
		Capabilities: params.Capabilities,
		WS:           ws,
		ConnectedAt:  time.Now(),
	}
	conn.Send(ResOK(frame.ID, gin.H{"connId": conn.ID}))

	s.Bridge.attach(conn)
	defer s.Bridge.detach(conn)
	slog.Info("bridge connected", "conn", conn.ID, "platform", conn.Platform)

	for {
		frame, err := ReadFrame(ws)
		if err != nil {
			slog.Info("bridge disconnected", "conn", conn.ID, "error", err)
			return
		}
		s.Bridge.dispatch(frame)
	}
}

func (s *Server) authenticate(token string) bool {
	want := config.Get().Gateway.Auth.Token
	if want == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(want)) == 1
}

func writeFrame(ws *websocket.Conn, frame Frame) {
	ws.WriteJSON(frame)
}
