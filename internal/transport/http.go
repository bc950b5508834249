// Package transport exposes the message dispatcher over HTTP.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/connector/internal/client"
	"github.com/roach88/connector/internal/ir"
	"github.com/roach88/connector/internal/pipeline"
	"github.com/roach88/connector/internal/telemetry"
	"github.com/roach88/connector/internal/wire"
)

// maxEnvelopeBytes bounds the size of one inbound envelope.
const maxEnvelopeBytes = 64 << 20

// Handler processes one inbound message.
type Handler interface {
	Handle(ctx context.Context, header ir.Header, payload []byte) pipeline.Response
}

// NewRouter returns the HTTP handler of the connector. Every decodable
// envelope is answered with status 200 and a protocol response, including
// rejections.
func NewRouter(h Handler, serviceName string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(telemetry.HTTPMiddleware(serviceName))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": serviceName})
	})
	r.Post(client.DataPath, receive(h))
	return r
}

func receive(h Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		env, err := wire.DecodeEnvelope(http.MaxBytesReader(w, r.Body, maxEnvelopeBytes))
		if err != nil {
			slog.Info("undecodable envelope", "remote", r.RemoteAddr, "error", err)
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		resp := h.Handle(r.Context(), env.Header, []byte(env.Payload))
		body, err := wire.EncodeEnvelope(resp.Header, resp.Payload)
		if err != nil {
			slog.Error("encode response envelope", "type", resp.Header.Type, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "encode response"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Server runs the router until its context ends.
type Server struct {
	srv *http.Server
}

func NewServer(addr string, handler http.Handler) *Server {
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}}
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errc := make(chan error, 1)
	go func() { errc <- s.srv.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	slog.Info("listening", "addr", ln.Addr().String())
	return s.Serve(ctx, ln)
}
