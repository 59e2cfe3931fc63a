package apiserver

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LLM-Red-Team/hailuo-free-api/pkg/relay"
)

// Service is the relay surface the server dispatches onto. *relay.Relay
// implements it.
type Service interface {
	Completion(ctx context.Context, credential string, req *relay.ChatRequest) (*relay.ChatCompletion, error)
	CompletionStream(ctx context.Context, credential string, req *relay.ChatRequest, emit func(*relay.Chunk) error) error
	Speech(ctx context.Context, credential string, req *relay.SpeechRequest) ([]byte, error)
	Transcribe(ctx context.Context, credential, filename string, audio []byte) (string, error)
	CheckToken(ctx context.Context, credential string) bool
}

// Server is the OpenAI-compatible HTTP surface over the relay.
type Server struct {
	service Service
	http    *http.Server
}

// New creates a Server dispatching onto the given service.
func New(service Service) *Server {
	return &Server{service: service}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("POST /v1/audio/speech", s.handleSpeech)
	mux.HandleFunc("POST /v1/audio/transcriptions", s.handleTranscriptions)
	mux.HandleFunc("POST /token/check", s.handleTokenCheck)
	mux.HandleFunc("GET /v1/models", s.handleModels)
	mux.HandleFunc("GET /ping", s.handlePing)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// ListenAndServe serves on addr until the context is cancelled, then
// drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.http = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),

		// No write timeout: chat streams stay open for the whole
		// generation.
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

// credential extracts the bearer credential and picks one token from it.
// A compound header carries several comma-separated tokens.
func credential(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	if token == "" {
		return ""
	}
	return relay.NewCredentialPool(token).Pick()
}
