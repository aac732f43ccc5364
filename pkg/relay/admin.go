// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/mmrelay-dm-rcv-basic/pkg/mesh"
)

// maxInjectBodySize is the maximum allowed request body for packet injection (1 MB).
const maxInjectBodySize = 1 << 20

type adminServer struct {
	server   *http.Server
	listener net.Listener
	log      zerolog.Logger
}

// listenAdmin binds addr; serving starts with run.
func listenAdmin(r *Relay, addr string) (*adminServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return &adminServer{
		server: &http.Server{
			Addr:         addr,
			Handler:      r.AdminHandler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		listener: ln,
		log:      r.log,
	}, nil
}

// run serves until ctx is cancelled, then shuts down gracefully.
func (a *adminServer) run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.log.Warn().Err(err).Msg("Admin API shutdown error")
		}
	}()
	a.log.Info().Str("addr", a.listener.Addr().String()).Msg("Starting relay admin API")
	if err := a.server.Serve(a.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.log.Error().Err(err).Msg("Relay admin API error")
	}
}

// AdminAddr returns the address the admin API is listening on, or "" when
// it is disabled or not started.
func (r *Relay) AdminAddr() string {
	if r.admin == nil {
		return ""
	}
	return r.admin.listener.Addr().String()
}

// AdminHandler returns the admin API routes.
func (r *Relay) AdminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/inject-packet", r.HandleInjectPacket)
	mux.HandleFunc("/api/status", r.HandleStatus)
	mux.Handle("/metrics", r.Metrics.Handler())
	return mux
}

// HandleInjectPacket is an HTTP handler for POST /api/inject-packet. The
// body is a JSON mesh packet which is dispatched as if it had been
// received from the radio.
func (r *Relay) HandleInjectPacket(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req.Body = http.MaxBytesReader(w, req.Body, maxInjectBodySize)
	defer req.Body.Close()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	var pkt mesh.Packet
	if err := json.Unmarshal(body, &pkt); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	r.log.Info().
		Str("remote_addr", req.RemoteAddr).
		Str("sender_id", pkt.SenderID()).
		Str("to", pkt.To.String()).
		Msg("Injecting packet")

	handled := r.HandlePacket(req.Context(), &pkt)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]bool{"handled": handled}); err != nil {
		r.log.Warn().Err(err).Msg("Failed to write inject response")
	}
}

type pluginStatus struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Commands    []string `json:"commands"`
}

type statusResponse struct {
	RelayNode     string         `json:"relay_node"`
	MeshnetName   string         `json:"meshnet_name"`
	Plugins       []pluginStatus `json:"plugins"`
	CachedAliases int            `json:"cached_aliases"`
}

// HandleStatus is an HTTP handler for GET /api/status.
func (r *Relay) HandleStatus(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	plugins := r.Plugins()
	resp := statusResponse{
		RelayNode:     r.Classifier.RelayNode.String(),
		MeshnetName:   r.Config.Meshtastic.MeshnetName,
		Plugins:       make([]pluginStatus, 0, len(plugins)),
		CachedAliases: r.Sender.CachedAliasCount(),
	}
	for _, p := range plugins {
		resp.Plugins = append(resp.Plugins, pluginStatus{
			Name:        p.Name(),
			Description: p.Description(),
			Commands:    p.MatrixCommands(),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		r.log.Warn().Err(err).Msg("Failed to write status response")
	}
}
