package main

import (
	"context"
	"net/http"
	"time"

	"telxfwd/internal/queue"
	"telxfwd/internal/session"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
)

const liveWriteTimeout = 10 * time.Second

// liveSnapshot is one frame of the /ws/status feed. A failed read leaves its
// section empty and sets Error; the feed keeps going.
type liveSnapshot struct {
	Sessions *session.HealthReport `json:"sessions,omitempty"`
	Queue    *queue.Stats          `json:"queue,omitempty"`
	Error    string                `json:"error,omitempty"`
	At       time.Time             `json:"at"`
}

func (s *Server) snapshot(ctx context.Context) liveSnapshot {
	snap := liveSnapshot{At: time.Now().UTC()}

	if report, err := s.deps.Sessions.Health(ctx); err != nil {
		snap.Error = err.Error()
	} else {
		snap.Sessions = &report
	}

	if stats, err := s.deps.Jobs.Stats(ctx); err != nil {
		snap.Error = err.Error()
	} else {
		snap.Queue = &stats
	}
	return snap
}

// handleLiveStatus pushes a snapshot on connect and then every live
// interval until the client goes away.
func (s *Server) handleLiveStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// the server write timeout would otherwise cut long-lived feeds
		_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			s.logger.WithError(err).Warn("Failed to accept live status connection")
			return
		}
		defer conn.CloseNow()

		ctx := conn.CloseRead(r.Context())
		ticker := time.NewTicker(s.liveInterval)
		defer ticker.Stop()

		s.logger.Debug("Live status client connected")
		for {
			if err := s.push(ctx, conn); err != nil {
				if ctx.Err() == nil {
					s.logger.WithFields(logrus.Fields{"error": err.Error()}).Debug("Live status push failed")
				}
				return
			}

			select {
			case <-ctx.Done():
				conn.Close(websocket.StatusNormalClosure, "")
				return
			case <-ticker.C:
			}
		}
	}
}

func (s *Server) push(ctx context.Context, conn *websocket.Conn) error {
	ctx, cancel := context.WithTimeout(ctx, liveWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, s.snapshot(ctx))
}
