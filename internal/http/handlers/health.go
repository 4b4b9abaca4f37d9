package handlers

import (
	"context"
	"net/http"
)

type healthResponse struct {
	Status  string `json:"status"`
	ComfyUI string `json:"comfyui"`
	Error   string `json:"error,omitempty"`
}

// Health pings the engine's stats endpoint. Concurrent probes share one
// upstream call.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	v, _, _ := a.health.Do("system_stats", func() (any, error) {
		_, err := a.engine.SystemStats(context.WithoutCancel(r.Context()))
		if err != nil {
			return healthResponse{Status: "unhealthy", ComfyUI: "disconnected", Error: err.Error()}, nil
		}
		return healthResponse{Status: "healthy", ComfyUI: "connected"}, nil
	})
	resp := v.(healthResponse)
	if resp.Error != "" {
		a.logger.Warn().Str("error", resp.Error).Msg("health: engine unreachable")
	}
	a.json(w, http.StatusOK, resp)
}
