package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/trimlightd/internal/executor"
	"github.com/dokzlo13/trimlightd/internal/reconcile"
)

// Device is the engine surface the API drives. *reconcile.Engine
// implements it.
type Device interface {
	View() reconcile.View
	Presets() reconcile.Presets
	TurnOn(ctx context.Context, brightness *int) error
	TurnOff(ctx context.Context) error
	SetBrightness(ctx context.Context, brightness int) error
	SetSpeed(ctx context.Context, speed int) error
	SelectBuiltin(ctx context.Context, name string) error
	SelectCustom(ctx context.Context, name string) error
	SelectCustomMode(ctx context.Context, label string) error
	RefreshPresets(ctx context.Context) error
}

// Runner serializes operations onto the device worker.
// *executor.Executor implements it.
type Runner interface {
	DoSyncWithResult(ctx context.Context, work func(context.Context) error) error
}

// Handler serves the API routes.
type Handler struct {
	device   Device
	runner   Runner
	hub      *Hub
	ready    func() bool
	upgrader websocket.Upgrader
}

// NewHandler creates a Handler. hub and ready may be nil.
func NewHandler(device Device, runner Runner, hub *Hub, ready func() bool) *Handler {
	return &Handler{
		device: device,
		runner: runner,
		hub:    hub,
		ready:  ready,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Routes returns the API mux.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /ready", h.handleReady)

	mux.HandleFunc("GET /v1/state", h.handleState)
	mux.HandleFunc("GET /v1/presets", h.handlePresets)
	mux.HandleFunc("GET /v1/ws", h.handleWS)

	mux.HandleFunc("POST /v1/power", h.handlePower)
	mux.HandleFunc("POST /v1/brightness", h.handleBrightness)
	mux.HandleFunc("POST /v1/speed", h.handleSpeed)
	mux.HandleFunc("POST /v1/presets/builtin", h.handleBuiltin)
	mux.HandleFunc("POST /v1/presets/custom", h.handleCustom)
	mux.HandleFunc("POST /v1/presets/refresh", h.handleRefresh)
	mux.HandleFunc("POST /v1/custom-mode", h.handleCustomMode)
	return mux
}

type apiError struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeErr(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, apiError{Error: err.Error()})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// run executes op on the device worker and answers with the resulting view.
func (h *Handler) run(w http.ResponseWriter, r *http.Request, op func(ctx context.Context) error) {
	err := h.runner.DoSyncWithResult(r.Context(), op)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, h.device.View())
	case errors.Is(err, executor.ErrClosed):
		writeErr(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeErr(w, http.StatusGatewayTimeout, err)
	default:
		writeErr(w, http.StatusBadGateway, err)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) handleReady(w http.ResponseWriter, _ *http.Request) {
	if h.ready != nil && !h.ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "waiting for first poll"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *Handler) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.device.View())
}

func (h *Handler) handlePresets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.device.Presets())
}

func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeErr(w, http.StatusNotFound, errors.New("websocket stream disabled"))
		return
	}
	if !websocket.IsWebSocketUpgrade(r) {
		writeErr(w, http.StatusBadRequest, errors.New("websocket upgrade required"))
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request.
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Websocket upgrade failed")
		return
	}
	h.hub.Attach(conn)
}

type powerRequest struct {
	On         bool `json:"on"`
	Brightness *int `json:"brightness,omitempty"`
}

func (h *Handler) handlePower(w http.ResponseWriter, r *http.Request) {
	var req powerRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if req.Brightness != nil && (*req.Brightness < 0 || *req.Brightness > 255) {
		writeErr(w, http.StatusBadRequest, errors.New("brightness must be within 0-255"))
		return
	}
	h.run(w, r, func(ctx context.Context) error {
		if req.On {
			return h.device.TurnOn(ctx, req.Brightness)
		}
		return h.device.TurnOff(ctx)
	})
}

type valueRequest struct {
	Value int `json:"value"`
}

func (h *Handler) handleBrightness(w http.ResponseWriter, r *http.Request) {
	var req valueRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if req.Value < 0 || req.Value > 255 {
		writeErr(w, http.StatusBadRequest, errors.New("value must be within 0-255"))
		return
	}
	h.run(w, r, func(ctx context.Context) error {
		return h.device.SetBrightness(ctx, req.Value)
	})
}

type speedRequest struct {
	Percent float64 `json:"percent"`
}

func (h *Handler) handleSpeed(w http.ResponseWriter, r *http.Request) {
	var req speedRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if req.Percent < 0 || req.Percent > 100 {
		writeErr(w, http.StatusBadRequest, errors.New("percent must be within 0-100"))
		return
	}
	speed := reconcile.SpeedFromPercent(req.Percent)
	h.run(w, r, func(ctx context.Context) error {
		return h.device.SetSpeed(ctx, speed)
	})
}

type nameRequest struct {
	Name string `json:"name"`
}

func (h *Handler) handleBuiltin(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	h.run(w, r, func(ctx context.Context) error {
		return h.device.SelectBuiltin(ctx, req.Name)
	})
}

func (h *Handler) handleCustom(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	h.run(w, r, func(ctx context.Context) error {
		return h.device.SelectCustom(ctx, req.Name)
	})
}

type labelRequest struct {
	Label string `json:"label"`
}

func (h *Handler) handleCustomMode(w http.ResponseWriter, r *http.Request) {
	var req labelRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	h.run(w, r, func(ctx context.Context) error {
		return h.device.SelectCustomMode(ctx, req.Label)
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.device.RefreshPresets)
}
