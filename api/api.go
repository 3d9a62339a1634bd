// Package api is the JSON control plane used to create, list, fill and delete mappings.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tfkr-ae/mimic/domain"
	"github.com/tfkr-ae/mimic/rawhttp"
	"github.com/tfkr-ae/mimic/service"
)

// DefaultMaxContentBytes bounds a single content upload after decoding.
const DefaultMaxContentBytes = 32 << 20

// ErrContentMissing is returned for a set-content request without a usable body.
var ErrContentMissing = errors.New("content must be provided as text in the request body")

// Server exposes a MappingService over HTTP.
type Server struct {
	mappings   *service.MappingService
	httpServer *http.Server
	MaxContent int64
	Logger     *slog.Logger
}

// New creates a control plane server over mappings. Serve starts it.
func New(mappings *service.MappingService, options ...func(*Server) error) (*Server, error) {
	if mappings == nil {
		return nil, errors.New("api server requires a mapping service")
	}
	server := &Server{
		mappings:   mappings,
		MaxContent: DefaultMaxContentBytes,
		Logger:     slog.New(slog.DiscardHandler),
	}
	for _, option := range options {
		if err := option(server); err != nil {
			return nil, fmt.Errorf("applying option on api server : %w", err)
		}
	}
	server.httpServer = &http.Server{
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return server, nil
}

// WithLogger sets the server logger. A nil logger keeps the discarding default.
func WithLogger(logger *slog.Logger) func(*Server) error {
	return func(server *Server) error {
		if logger != nil {
			server.Logger = logger
		}
		return nil
	}
}

// WithMaxContent sets the largest accepted content upload, in bytes after decoding.
func WithMaxContent(limit int64) func(*Server) error {
	return func(server *Server) error {
		if limit <= 0 {
			return fmt.Errorf("max content must be positive, got %d", limit)
		}
		server.MaxContent = limit
		return nil
	}
}

// Routes returns the control plane handler with CORS applied.
func (server *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", server.handleHealth)
	mux.HandleFunc("POST /mimic/patterns", server.handleCreate)
	mux.HandleFunc("GET /mimic/mappings", server.handleList)
	mux.HandleFunc("GET /mimic/mappings/{id}", server.handleGet)
	mux.HandleFunc("POST /mimic/mappings/{id}", server.handleSetContent)
	mux.HandleFunc("DELETE /mimic/mappings/{id}", server.handleDelete)
	return withCORS(mux)
}

// Serve runs the control plane on l until Shutdown is called.
func (server *Server) Serve(l net.Listener) error {
	server.Logger.Info("control plane listening", "address", l.Addr().String())
	if err := server.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving control plane : %w", err)
	}
	return nil
}

// Shutdown stops the control plane gracefully, waiting for in-flight requests until ctx is done.
func (server *Server) Shutdown(ctx context.Context) error {
	return server.httpServer.Shutdown(ctx)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Encoding")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type mappingResponse struct {
	ID           uuid.UUID `json:"id"`
	Pattern      string    `json:"pattern,omitempty"`
	RegexPattern string    `json:"regexPattern,omitempty"`
	Content      *string   `json:"content,omitempty"`
	Prettified   string    `json:"prettified,omitempty"`
	Format       string    `json:"format,omitempty"`
}

type contentResponse struct {
	Success       bool      `json:"success"`
	ID            uuid.UUID `json:"id"`
	ContentLength int       `json:"contentLength"`
}

type contentRequest struct {
	Content *string `json:"content"`
}

func (server *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (server *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req service.CreateRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := decoder.Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "request body must be a JSON object", err)
		return
	}

	mapping, err := server.mappings.CreateOrOverwrite(req)
	if err != nil {
		server.writeServiceError(w, "failed to create mapping", err)
		return
	}
	writeJSON(w, http.StatusCreated, mappingResponse{
		ID:           mapping.ID,
		Pattern:      mapping.PatternSource(),
		RegexPattern: mapping.RegexSource(),
	})
}

func (server *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, server.mappings.ListWithMetadata())
}

func (server *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	mapping, err := server.mappings.GetMapping(id, true)
	if err != nil {
		server.writeServiceError(w, "failed to get mapping", err)
		return
	}

	content := string(mapping.Content)
	res := mappingResponse{
		ID:           mapping.ID,
		Pattern:      mapping.PatternSource(),
		RegexPattern: mapping.RegexSource(),
		Content:      &content,
	}
	if r.URL.Query().Get("pretty") == "true" {
		pretty, format, err := rawhttp.Prettify(mapping.Content)
		if err != nil {
			server.Logger.Warn("prettifying content", "id", id, "error", err)
		}
		res.Prettified = string(pretty)
		res.Format = string(format)
	}
	writeJSON(w, http.StatusOK, res)
}

func (server *Server) handleSetContent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := server.mappings.GetMapping(id, false); err != nil {
		server.writeServiceError(w, "failed to update content", err)
		return
	}

	content, err := server.readContent(r)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, rawhttp.ErrBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeAPIError(w, status, "failed to update content", err)
		return
	}

	mapping, err := server.mappings.SetContent(id, content)
	if err != nil {
		server.writeServiceError(w, "failed to update content", err)
		return
	}
	writeJSON(w, http.StatusOK, contentResponse{
		Success:       true,
		ID:            mapping.ID,
		ContentLength: mapping.ContentLength(),
	})
}

func (server *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusOK, false)
		return
	}
	deleted, err := server.mappings.DeleteMapping(id)
	if err != nil {
		server.writeServiceError(w, "failed to delete mapping", err)
		return
	}
	writeJSON(w, http.StatusOK, deleted)
}

// readContent accepts a raw text body or a JSON {"content": "..."} object, decoding
// any Content-Encoding first.
func (server *Server) readContent(r *http.Request) ([]byte, error) {
	body, err := rawhttp.ReadBody(r.Body, r.Header.Get("Content-Encoding"), server.MaxContent)
	if err != nil {
		return nil, err
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		return body, nil
	}

	var req contentRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Content == nil {
		return nil, ErrContentMissing
	}
	return []byte(*req.Content), nil
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeAPIError(w, http.StatusNotFound, "mapping not found", nil)
		return uuid.Nil, false
	}
	return id, true
}

func (server *Server) writeServiceError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeAPIError(w, http.StatusNotFound, "mapping not found", nil)
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidPattern):
		writeAPIError(w, http.StatusBadRequest, message, err)
	default:
		server.Logger.Error(message, "error", err)
		writeAPIError(w, http.StatusInternalServerError, message, err)
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(payload)
}

func writeAPIError(w http.ResponseWriter, statusCode int, message string, err error) {
	res := errorResponse{Error: message}
	if err != nil {
		res.Details = strings.TrimSpace(err.Error())
	}
	writeJSON(w, statusCode, res)
}
