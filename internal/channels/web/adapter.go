// Package web serves a minimal HTTP endpoint for synchronous chat requests,
// always DM-scoped, grounded on the teacher's net/http server setup in
// internal/gateway/http_server.go.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/starkbot-agent/core/internal/channels"
	"github.com/starkbot-agent/core/pkg/models"
)

// Dispatcher is the narrow slice of dispatcher.Dispatcher this listener
// needs, kept local to avoid an import cycle with internal/dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg models.NormalizedMessage) models.DispatchResult
}

// Config configures the web chat listener.
type Config struct {
	// Addr is the host:port to listen on, e.g. ":8089".
	Addr string

	// BasePath is the path the chat endpoint is mounted at (default "/api/v1/chat").
	BasePath string

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.BasePath == "" {
		c.BasePath = "/api/v1/chat"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// chatRequest is the JSON body accepted by the chat endpoint.
type chatRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

// chatResponse is the JSON body returned by the chat endpoint.
type chatResponse struct {
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Adapter implements channels.Adapter + channels.LifecycleAdapter for the
// web chat channel. Unlike Discord/Telegram/Slack, it is request/response:
// each HTTP call dispatches synchronously and returns the agent's reply in
// the same response, so it never pushes onto an InboundAdapter channel.
type Adapter struct {
	config     Config
	dispatcher Dispatcher

	server   *http.Server
	listener net.Listener
}

// New constructs the web chat listener. Call Start to begin serving.
func New(config Config, dispatcher Dispatcher) *Adapter {
	config.applyDefaults()
	return &Adapter{config: config, dispatcher: dispatcher}
}

func (a *Adapter) Type() models.ChannelType { return models.ChannelWeb }

func (a *Adapter) Start(ctx context.Context) error {
	if a.config.Addr == "" {
		return channels.ErrConfig("web: addr is required", nil)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(a.config.BasePath, a.handleChat)

	listener, err := net.Listen("tcp", a.config.Addr)
	if err != nil {
		return channels.ErrConnection("web: failed to listen", err)
	}

	a.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.listener = listener

	go func() {
		if err := a.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.config.Logger.Error("web: server error", "error", err)
		}
	}()

	a.config.Logger.Info("web: listening", "addr", a.config.Addr, "path", a.config.BasePath)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}

func (a *Adapter) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeJSON(w, http.StatusBadRequest, chatResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return
	}
	if req.UserID == "" || req.Message == "" {
		a.writeJSON(w, http.StatusBadRequest, chatResponse{Error: "user_id and message are required"})
		return
	}

	result := a.dispatcher.Dispatch(r.Context(), models.NormalizedMessage{
		ChannelID:   0,
		ChannelType: string(models.ChannelWeb),
		ChatID:      req.UserID,
		UserID:      req.UserID,
		Text:        req.Message,
	})

	if result.Error != "" {
		a.writeJSON(w, http.StatusOK, chatResponse{Error: result.Error})
		return
	}
	a.writeJSON(w, http.StatusOK, chatResponse{Response: result.Response})
}

func (a *Adapter) writeJSON(w http.ResponseWriter, status int, body chatResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.config.Logger.Error("web: failed to write response", "error", err)
	}
}
