package websocket

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/welldanyogia/mailarchive/internal/logger"
)

const defaultOrigin = "http://localhost:3000"

// ParseOrigins splits a comma separated origin list, dropping blanks.
// An empty result falls back to the local development origin.
func ParseOrigins(list string) []string {
	origins := make([]string, 0)
	for _, origin := range strings.Split(list, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		origins = []string{defaultOrigin}
	}
	return origins
}

// NewSecureUpgrader creates a WebSocket upgrader accepting only the listed
// origins and same-origin requests
func NewSecureUpgrader(allowedOrigins string, log *slog.Logger) websocket.Upgrader {
	allowed := ParseOrigins(allowedOrigins)
	log = logger.OrDefault(log)

	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")

			// Same-origin requests carry no Origin
			if origin == "" {
				return true
			}

			for _, a := range allowed {
				if a == origin {
					return true
				}
			}

			log.Warn("rejected websocket connection",
				slog.String("origin", origin),
				slog.String("remote_ip", r.RemoteAddr))
			return false
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}

// DefaultUpgrader returns an upgrader that allows all origins (for development)
func DefaultUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}
