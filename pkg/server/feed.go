package server

import (
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mslinn/moon_dashboard/pkg/dashboard"
)

const feedWriteTimeout = 5 * time.Second

var feedUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := strings.ToLower(strings.TrimSpace(r.Host))
		originHost := strings.ToLower(strings.TrimSpace(u.Host))
		return host == originHost
	},
}

// feedMessage is pushed whenever the data log gains a snapshot
type feedMessage struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Snapshots   int                `json:"snapshots"`
	Latest      *dashboard.Summary `json:"latest"`
}

func (s *Server) handleLatestWS(w http.ResponseWriter, r *http.Request) {
	conn, err := feedUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.serveFeed(conn)
}

func (s *Server) serveFeed(conn *websocket.Conn) {
	defer conn.Close()

	lastMod, _ := s.logModTime()
	if err := s.writeFeed(conn); err != nil {
		return
	}

	ticker := time.NewTicker(s.pushInterval)
	defer ticker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ticker.C:
			mod, ok := s.logModTime()
			if !ok || !mod.After(lastMod) {
				continue
			}
			lastMod = mod
			if err := s.writeFeed(conn); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Server) logModTime() (time.Time, bool) {
	info, err := os.Stat(s.dataLog)
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

func (s *Server) writeFeed(conn *websocket.Conn) error {
	msg := feedMessage{GeneratedAt: time.Now().UTC()}
	all, err := s.snapshots()
	if err != nil {
		s.logger.Warn("failed to read data log", "error", err)
	}
	msg.Snapshots = len(all)
	if len(all) > 0 {
		summary := all[len(all)-1].Summary()
		msg.Latest = &summary
	}
	_ = conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
	return conn.WriteJSON(msg)
}
