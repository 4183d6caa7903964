package handler

import (
	"context"
	"net/http"
)

// Pinger はデータストア到達性確認のインターフェース。
// database.Cacheが実装する。
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler はヘルスチェックのHTTPハンドラー。
type HealthHandler struct {
	pinger Pinger
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(pinger Pinger) *HealthHandler {
	return &HealthHandler{pinger: pinger}
}

// healthResponse はヘルスチェックのレスポンス。
type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HandleHealthz はデータストアへの到達性を確認する。
// GET /healthz
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.pinger.Ping(r.Context()); err != nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, healthResponse{
			Status: "unavailable",
			Error:  err.Error(),
		})
		return
	}
	writeJSONResponse(w, http.StatusOK, healthResponse{Status: "ok"})
}
