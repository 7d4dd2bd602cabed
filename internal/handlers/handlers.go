package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"hlspackager/internal/broadcast"
	"hlspackager/internal/jobs"
	"hlspackager/internal/logging"
	"hlspackager/internal/models"
	"hlspackager/templates"
)

const (
	defaultMaxUploadBytes = 2 << 30
	multipartMemory       = 32 << 20
	requestTimeout        = 45 * time.Minute
)

var allowedVideoTypes = map[string]bool{
	"video/mp4":        true,
	"video/quicktime":  true,
	"video/x-msvideo":  true,
	"video/x-ms-wmv":   true,
	"video/x-matroska": true,
}

// JobService is what the HTTP layer needs from the job orchestrator.
type JobService interface {
	Submit(sourcePath, originalName string) (string, error)
	Status(id string) (models.StatusView, error)
	Delete(id string) error
	Get(id string) (models.TranscodeJob, bool)
	Active() []models.TranscodeJob
}

// Library lists catalogued videos, most recent first.
type Library interface {
	List() ([]models.CatalogEntry, error)
}

type Options struct {
	UploadsDir     string
	OutputsDir     string
	MaxUploadBytes int64
	MetricsEnabled bool
}

type App struct {
	logger *slog.Logger

	router  *chi.Mux
	jobs    JobService
	library Library
	hub     *broadcast.Hub

	uploadsDir     string
	outputsDir     string
	maxUploadBytes int64
	metricsEnabled bool

	upgrader websocket.Upgrader
}

func NewApp(logger *slog.Logger, jobService JobService, library Library, hub *broadcast.Hub, opts Options) *App {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}

	app := &App{
		logger:         logging.WithComponent(logger, "http"),
		router:         chi.NewRouter(),
		jobs:           jobService,
		library:        library,
		hub:            hub,
		uploadsDir:     opts.UploadsDir,
		outputsDir:     opts.OutputsDir,
		maxUploadBytes: opts.MaxUploadBytes,
		metricsEnabled: opts.MetricsEnabled,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	app.registerRoutes()
	return app
}

func (a *App) Router() http.Handler {
	return a.router
}

func (a *App) registerRoutes() {
	a.router.Use(middleware.RequestID)
	a.router.Use(middleware.RealIP)
	a.router.Use(logging.RequestLogger(a.logger))
	a.router.Use(middleware.Recoverer)
	a.router.Use(a.corsMiddleware)

	// Long-lived push connections must not inherit the request deadline.
	a.router.Get("/ws", a.pushWS)

	a.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Get("/", a.index)
		r.Get("/healthz", a.health)
		r.Post("/upload", a.upload)
		r.Get("/videos", a.listVideos)
		r.Get("/videos/{id}/status", a.videoStatus)
		r.Delete("/videos/{id}", a.deleteVideo)

		outputFS := http.StripPrefix("/output/", http.FileServer(http.Dir(a.outputsDir)))
		r.Handle("/output/*", outputHeaders(outputFS))

		if a.metricsEnabled {
			r.Handle("/metrics", promhttp.Handler())
		}
	})
}

func (a *App) health(w http.ResponseWriter, r *http.Request) {
	a.respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "timestamp": time.Now().Format(time.RFC3339)})
}

func (a *App) index(w http.ResponseWriter, r *http.Request) {
	entries, err := a.library.List()
	if err != nil {
		a.logger.Error("failed to list catalog", "error", err)
		http.Error(w, "failed to load library", http.StatusInternalServerError)
		return
	}
	a.render(w, r, templates.IndexPage(entries, a.jobs.Active()))
}

func (a *App) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.respondError(w, http.StatusRequestEntityTooLarge, "File exceeds the upload limit")
			return
		}
		a.logger.Warn("invalid multipart upload", "error", err)
		a.respondError(w, http.StatusBadRequest, "Invalid multipart upload")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("video")
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	if header.Size > a.maxUploadBytes {
		a.respondError(w, http.StatusRequestEntityTooLarge, "File exceeds the upload limit")
		return
	}
	contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if !strings.HasPrefix(contentType, "video/") {
		a.respondError(w, http.StatusBadRequest, "Only video files are allowed")
		return
	}
	if !allowedVideoTypes[contentType] {
		a.respondError(w, http.StatusBadRequest, fmt.Sprintf("Unsupported video format: %s. Supported formats: MP4, MOV, AVI, WMV, MKV", contentType))
		return
	}

	if err := os.MkdirAll(a.uploadsDir, 0o755); err != nil {
		a.logger.Error("failed to ensure uploads dir", "error", err)
		a.respondError(w, http.StatusInternalServerError, "Failed to prepare upload")
		return
	}

	sourcePath := filepath.Join(a.uploadsDir, uuid.NewString()+"_"+sanitizeFileName(header.Filename))
	if err := saveUpload(sourcePath, file); err != nil {
		a.logger.Error("failed to persist upload", "error", err)
		_ = os.Remove(sourcePath)
		a.respondError(w, http.StatusInternalServerError, "Failed to save upload")
		return
	}

	id, err := a.jobs.Submit(sourcePath, displayName(header.Filename))
	if err != nil {
		_ = os.Remove(sourcePath)
		if errors.Is(err, jobs.ErrShuttingDown) {
			a.respondError(w, http.StatusServiceUnavailable, "Server is shutting down")
			return
		}
		a.logger.Error("failed to submit job", "error", err)
		a.respondError(w, http.StatusInternalServerError, "Failed to queue video")
		return
	}

	a.logger.Info("upload saved", "job_id", id, "file", header.Filename, "bytes", header.Size)
	a.respondJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": string(models.StatusQueued)})
}

func saveUpload(dst string, src io.Reader) error {
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func (a *App) listVideos(w http.ResponseWriter, r *http.Request) {
	entries, err := a.library.List()
	if err != nil {
		a.logger.Error("failed to list catalog", "error", err)
		a.respondError(w, http.StatusInternalServerError, "Failed to fetch videos")
		return
	}
	if entries == nil {
		entries = []models.CatalogEntry{}
	}
	a.respondJSON(w, http.StatusOK, entries)
}

func (a *App) videoStatus(w http.ResponseWriter, r *http.Request) {
	view, err := a.jobs.Status(chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		a.respondError(w, http.StatusNotFound, "Video not found")
	case err != nil:
		a.logger.Error("status lookup failed", "error", err)
		a.respondError(w, http.StatusInternalServerError, "Failed to fetch status")
	default:
		a.respondJSON(w, http.StatusOK, view)
	}
}

func (a *App) deleteVideo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := a.jobs.Delete(id)
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		a.respondError(w, http.StatusNotFound, "Video not found")
	case errors.Is(err, jobs.ErrJobActive):
		a.respondError(w, http.StatusConflict, "Video is still being processed")
	case err != nil:
		a.logger.Error("failed to delete video", "job_id", id, "error", err)
		a.respondError(w, http.StatusInternalServerError, "Failed to delete video")
	default:
		a.respondJSON(w, http.StatusOK, map[string]string{"message": "Video deleted successfully"})
	}
}

func (a *App) render(w http.ResponseWriter, r *http.Request, component templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := component.Render(r.Context(), w); err != nil {
		a.logger.Error("failed to render template", "error", err)
		http.Error(w, "failed to render page", http.StatusInternalServerError)
	}
}

func (a *App) respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.logger.Error("failed to encode json", "error", err)
	}
}

func (a *App) respondError(w http.ResponseWriter, code int, message string) {
	a.respondJSON(w, code, map[string]string{"error": message})
}

// outputHeaders serves HLS artifacts with their playback content types and
// refuses directory listings.
func outputHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		switch path.Ext(r.URL.Path) {
		case ".m3u8":
			w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		case ".ts":
			w.Header().Set("Content-Type", "video/mp2t")
		}
		next.ServeHTTP(w, r)
	})
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// sanitizeFileName folds accents to ASCII and keeps a conservative
// character set so the name is safe on any filesystem.
func sanitizeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if folded, _, err := transform.String(stripMarks, name); err == nil {
		name = folded
	}
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, name)
	if name == "" || name == "." || name == ".." {
		return "video.bin"
	}
	return name
}

// displayName is the client's file name as shown in the library.
func displayName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	name = norm.NFC.String(name)
	name = strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name))
	if name == "" || name == "." || name == "/" {
		return "video"
	}
	return name
}

func (a *App) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
