package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pavel-fokin/files-manager/internal/files"
	"github.com/pavel-fokin/files-manager/internal/fs"
	"github.com/pavel-fokin/files-manager/internal/sqlite"
)

type Config struct {
	Addr        string `env:"FILES_MANAGER_ADDR" envDefault:":8080" validate:"required"`
	StorageRoot string `env:"FILES_MANAGER_FOLDER_PATH" envDefault:"/tmp/files_manager" validate:"required"`
	DBPath      string `env:"FILES_MANAGER_DB_PATH" envDefault:"/tmp/files_manager.db" validate:"required"`
	PageSize    int    `env:"FILES_MANAGER_PAGE_SIZE" envDefault:"20" validate:"min=1,max=1000"`
	MaxSize     int64  `env:"FILES_MANAGER_MAX_SIZE" envDefault:"10485760" validate:"gt=0"`
}

// Validate checks the configuration values
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func New(cfg *Config) (*http.Server, error) {
	// Initialize structured logger with JSON handler
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Initialize storage, repository and job queue
	storage, err := fs.NewStorage(cfg.StorageRoot)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	repo, err := sqlite.NewRepository(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize repository", "error", err)
		return nil, fmt.Errorf("failed to initialize repository: %w", err)
	}
	queue := sqlite.NewQueue(repo)

	// Initialize file service
	fileService := files.NewService(repo, storage, repo, queue, files.Config{
		StorageRoot: cfg.StorageRoot,
		PageSize:    cfg.PageSize,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthz)
	mux.HandleFunc("GET /status", status(repo))
	mux.HandleFunc("GET /stats", stats(repo))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /files", uploadFile(fileService))
	mux.HandleFunc("GET /files", listFiles(fileService))
	mux.HandleFunc("GET /files/{id}", showFile(fileService))
	mux.HandleFunc("PUT /files/{id}/publish", publishFile(fileService, true))
	mux.HandleFunc("PUT /files/{id}/unpublish", publishFile(fileService, false))
	mux.HandleFunc("GET /files/{id}/data", fileContent(fileService))

	// Wrap the handler with logging and metrics middleware
	handler := loggingMiddleware(metricsMiddleware(limitBody(mux, cfg.MaxSize)))

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	srv.RegisterOnShutdown(func() {
		if err := repo.Close(); err != nil {
			slog.Error("Failed to close repository", "error", err)
		}
	})

	return srv, nil
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func status(repo *sqlite.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		alive := repo.Ping(r.Context()) == nil
		writeJSON(w, http.StatusOK, map[string]bool{"db": alive})
	}
}

func stats(repo *sqlite.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := repo.CountUsers(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		nbFiles, err := repo.CountFiles(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"users": users, "files": nbFiles})
	}
}

func uploadFile(fileService *files.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req files.UploadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			// Authentication takes precedence over a malformed body
			if _, authErr := fileService.Identify(r.Context(), token(r)); authErr != nil {
				writeError(w, authErr)
				return
			}
			writeError(w, files.ErrInvalidBody)
			return
		}

		result, err := fileService.Upload(r.Context(), token(r), &req)
		if err != nil {
			writeError(w, err)
			return
		}

		uploadsTotal.WithLabelValues(string(result.File.Type)).Inc()
		if result.Warning != nil {
			dispatchFailuresTotal.WithLabelValues(result.Warning.Queue).Inc()
			slog.Warn("Post-processing dispatch failed",
				"error", result.Warning.Err,
				"file_id", result.Warning.FileID,
				"queue", result.Warning.Queue,
			)
		}

		writeJSON(w, http.StatusCreated, result.File)
	}
}

func showFile(fileService *files.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		file, err := fileService.Show(r.Context(), token(r), id)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, file)
	}
}

func listFiles(fileService *files.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		parentID := files.ParseParentID(query.Get("parentId"))
		page, err := strconv.Atoi(query.Get("page"))
		if err != nil {
			page = 0
		}

		list, err := fileService.List(r.Context(), token(r), parentID, page)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, list)
	}
}

func publishFile(fileService *files.Service, public bool) http.HandlerFunc {
	update := fileService.Unpublish
	if public {
		update = fileService.Publish
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		file, err := update(r.Context(), token(r), id)
		if err != nil {
			writeError(w, err)
			return
		}

		slog.Info("Changed file visibility", "file_id", id, "is_public", public)
		writeJSON(w, http.StatusOK, file)
	}
}

func fileContent(fileService *files.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		size, err := strconv.Atoi(r.URL.Query().Get("size"))
		if err != nil {
			size = 0
		}

		content, err := fileService.Content(r.Context(), token(r), id, size)
		if err != nil {
			writeError(w, err)
			return
		}

		// Set response headers
		w.Header().Set("Content-Type", content.ContentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(content.Data)))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(content.Data); err != nil {
			slog.Error("Failed to write file content", "error", err, "file_id", id)
		}
	}
}

// token extracts the session token from X-Token or a Bearer Authorization header
func token(r *http.Request) string {
	if t := r.Header.Get("X-Token"); t != "" {
		return t
	}
	if t, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return t
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError maps service errors to a status code and a JSON error body
func writeError(w http.ResponseWriter, err error) {
	var fileErr *files.Error
	if !errors.As(err, &fileErr) {
		slog.Error("Request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	code := http.StatusInternalServerError
	switch fileErr.Code {
	case files.CodeUnauthorized:
		code = http.StatusUnauthorized
	case files.CodeValidation, files.CodeBadRequest:
		code = http.StatusBadRequest
	case files.CodeNotFound:
		code = http.StatusNotFound
	}
	writeJSON(w, code, map[string]string{"error": fileErr.Message})
}

func limitBody(next http.Handler, maxSize int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body == nil {
			next.ServeHTTP(w, r)
			return
		}

		// Create a limited reader that will return an error if the limit is exceeded
		r.Body = http.MaxBytesReader(w, r.Body, maxSize)

		// Read the body up front so oversized requests fail before any handler runs
		body, err := io.ReadAll(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "Request entity too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}
		r.Body = io.NopCloser(strings.NewReader(string(body)))

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests with structured logging
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create a response writer wrapper to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		// Process the request
		next.ServeHTTP(wrapped, r)

		// Calculate response time
		duration := time.Since(start)

		// Log the request with structured data
		slog.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"query", r.URL.RawQuery,
			"status", wrapped.statusCode,
			"duration_ms", duration.Milliseconds(),
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
