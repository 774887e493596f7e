package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/loykin/sitter/internal/supervisor"
)

// Source publishes supervision snapshots. *supervisor.Loop implements it.
type Source interface {
	Snapshot() supervisor.Snapshot
	Subscribe() (<-chan supervisor.Snapshot, func())
}

// Router provides embeddable read-only HTTP handlers for the supervisor state.
// Endpoints:
//
//	GET {basePath}/status         full snapshot
//	GET {basePath}/status/:name   one service
//	GET {basePath}/healthz        liveness of the loop
//	GET {basePath}/watch          websocket stream of snapshots
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	src      Source
	basePath string
	log      *slog.Logger
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/status, /api/watch.
func NewRouter(src Source, basePath string, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{src: src, basePath: sanitizeBase(basePath), log: log}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/status/:name", r.handleService)
	group.GET("/healthz", r.handleHealth)
	group.GET("/watch", r.handleWatch)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// A non-nil tlsCfg serves HTTPS.
// Bind errors are returned; serve errors after that are logged.
// Stop it with Shutdown or Close.
func NewServer(addr, basePath string, src Source, log *slog.Logger, tlsCfg *tls.Config) (*http.Server, error) {
	r := NewRouter(src, basePath, log)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		server.TLSConfig = tlsCfg
		ln = tls.NewListener(ln, tlsCfg)
	}
	// report the bound address, useful with port 0
	server.Addr = ln.Addr().String()
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.log.Error("status server stopped", "error", err)
		}
	}()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type healthResp struct {
	OK      bool      `json:"ok"`
	Tick    uint64    `json:"tick"`
	At      time.Time `json:"at"`
	Running int       `json:"running"`
	Down    int       `json:"down"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.src.Snapshot())
}

func (r *Router) handleService(c *gin.Context) {
	name := c.Param("name")
	if !isServiceName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid service name"})
		return
	}
	snap := r.src.Snapshot()
	st, ok := snap.Service(name)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown service: " + name})
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleHealth(c *gin.Context) {
	snap := r.src.Snapshot()
	running, down := snap.Counts()
	writeJSON(c, http.StatusOK, healthResp{OK: true, Tick: snap.Tick, At: snap.At, Running: running, Down: down})
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleWatch sends the current snapshot and then every published one
// until the client goes away or the supervisor stops.
func (r *Router) handleWatch(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		r.log.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	updates, unsubscribe := r.src.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	go func() {
		defer cancel()
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(s supervisor.Snapshot) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(s)
	}
	if err := send(r.src.Snapshot()); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-updates:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "supervisor stopped"),
					time.Now().Add(writeWait))
				return
			}
			if err := send(s); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
