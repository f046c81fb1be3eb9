package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"sendcode_nexus/internal/shared/logger"
	"sendcode_nexus/proxypool"
	"sendcode_nexus/proxypool/model"
)

// Dispatcher is the part of the batch manager the web handler drives.
// This decouples the web package from the app wiring.
type Dispatcher interface {
	Dispatch(ctx context.Context, target string) (*model.AggregateResult, error)
	Running() bool
	LastResult() *model.AggregateResult
}

type Handler struct {
	dispatcher Dispatcher
}

func NewHandler(dispatcher Dispatcher) *Handler {
	return &Handler{dispatcher: dispatcher}
}

type sendRequest struct {
	Phone string `json:"phone"`
}

type statusResponse struct {
	Running bool                   `json:"running"`
	Last    *model.AggregateResult `json:"last"`
}

// HandleLiveness 处理 GET / 健康检查
func (h *Handler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// HandleSend 处理 POST /api/send 请求：校验号码，运行一个批次，返回汇总结果
func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	phone := strings.TrimSpace(req.Phone)

	// The batch outlives the request so its results are always persisted.
	result, err := h.dispatcher.Dispatch(context.WithoutCancel(r.Context()), phone)
	switch {
	case errors.Is(err, manager.ErrInvalidTarget):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, manager.ErrBusy):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		logger.Error().Err(err).Msg("[WebServer] Batch failed")
		http.Error(w, "Batch failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// HandleStatus 处理 GET /api/status 请求
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statusResponse{
		Running: h.dispatcher.Running(),
		Last:    h.dispatcher.LastResult(),
	})
}
