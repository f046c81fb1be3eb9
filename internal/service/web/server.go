package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"sendcode_nexus/internal/shared/logger"
	"sendcode_nexus/internal/shared/types"
)

// loggingListener logs accepted connections at debug level.
type loggingListener struct {
	net.Listener
}

func (l loggingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err == nil {
		logger.Debug().Msgf("[WebServer] Connection accepted from: %s", conn.RemoteAddr())
	}
	return conn, err
}

// basicAuthMiddleware 检查 web_user 和 web_password 是否已配置。
// 如果配置了，它将强制执行 HTTP Basic Authentication。
func basicAuthMiddleware(next http.Handler, user, pass string) http.Handler {
	// 如果用户名或密码未设置，则不启用认证，直接返回原始处理器
	if user == "" || pass == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("Unauthorized.\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewMux builds the routes. The liveness endpoint and the websocket stream are
// public, the batch API sits behind basic auth when credentials are configured.
func NewMux(cfg *types.Config, dispatcher Dispatcher, hub *Hub) *http.ServeMux {
	handler := NewHandler(dispatcher)
	mux := http.NewServeMux()

	webUser := cfg.LocalConf.WebUser
	webPassword := cfg.LocalConf.WebPassword

	mux.Handle("/api/send", basicAuthMiddleware(http.HandlerFunc(handler.HandleSend), webUser, webPassword))
	mux.Handle("/api/status", basicAuthMiddleware(http.HandlerFunc(handler.HandleStatus), webUser, webPassword))

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	})

	mux.HandleFunc("/", handler.HandleLiveness)
	return mux
}

type Server struct {
	httpServer *http.Server
	addr       string
	port       int
}

func NewServer(cfg *types.Config, dispatcher Dispatcher, hub *Hub) *Server {
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.LocalConf.WebPort)
	return &Server{
		addr: addr,
		port: cfg.LocalConf.WebPort,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           NewMux(cfg, dispatcher, hub),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start binds the listener and serves in the background. A web_port of 0
// disables the server.
func (s *Server) Start(wg *sync.WaitGroup) error {
	if s.port <= 0 {
		logger.Info().Msg("[WebServer] Web API is disabled (web_port is 0 or not set).")
		return nil
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to start web API on %s: %w", s.addr, err)
	}
	logger.Info().Msgf("SUCCESS: Web API is listening on http://%s", s.addr)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.httpServer.Serve(loggingListener{Listener: listener}); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("[WebServer] Web server error")
		}
		logger.Info().Msg("[WebServer] Web server stopped.")
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
