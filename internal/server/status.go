package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/voicebridge/stream-service/internal/dispatch"
	"github.com/voicebridge/stream-service/internal/session"
)

type statusResponse struct {
	Service       string                   `json:"service"`
	UptimeSeconds float64                  `json:"uptimeSeconds"`
	Sessions      session.Snapshot         `json:"sessions"`
	Providers     []dispatch.ProviderStats `json:"providers"`
	Queue         queueStatus              `json:"queue"`
	Timestamp     int64                    `json:"timestamp"`
}

type queueStatus struct {
	Enabled   bool `json:"enabled"`
	Connected bool `json:"connected"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Service:       s.cfg.Service.Name,
		UptimeSeconds: s.app.Uptime().Seconds(),
		Sessions:      s.manager.Stats(),
		Providers:     s.dispatcher.Stats(),
		Timestamp:     time.Now().UnixMilli(),
	}
	if s.queue != nil {
		resp.Queue = queueStatus{
			Enabled:   s.queue.Enabled(),
			Connected: s.queue.Ready(),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
