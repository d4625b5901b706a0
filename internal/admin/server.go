// Package admin serves the gatekeeper's narrow HTTP surface: a health
// check and a point-in-time view of active sessions. It is grounded on
// the teacher's cmd/billing/main.go HTTP section (gin.New() +
// gin.Recovery() + a /healthz handler), kept deliberately small since the
// spec's control plane is the raw TCP JSON-RPC listener, not HTTP.
package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SessionLister reports the number of sessions currently forwarding, so
// /healthz can distinguish "up" from "up and idle".
type SessionLister interface {
	ActiveSessions() int
}

// Server is the gatekeeper's admin HTTP listener.
type Server struct {
	Addr     string
	Sessions SessionLister
	Log      *zap.Logger

	httpSrv *http.Server
}

// ListenAndServe starts the admin HTTP server and blocks until ctx is
// canceled, then shuts it down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		sessions := 0
		if s.Sessions != nil {
			sessions = s.Sessions.ActiveSessions()
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "active_sessions": sessions})
	})

	s.httpSrv = &http.Server{Addr: s.Addr, Handler: r}

	errCh := make(chan error, 1)
	go func() {
		s.Log.Info("admin server starting", zap.String("addr", s.Addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
