package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	app "github.com/CYCLOP5/vis-diff-trackshift/internal/application"
	"github.com/CYCLOP5/vis-diff-trackshift/internal/domain/entity"
)

// maxUploadBytes ограничивает суммарный размер multipart-запроса.
const maxUploadBytes = 256 << 20

// Server — HTTP-поверхность оркестратора.
type Server struct {
	pipeline *app.PipelineService
	jobRoot  func(jobID string) string
	log      zerolog.Logger
	router   chi.Router
}

// NewServer собирает маршруты HTTP API.
func NewServer(pipeline *app.PipelineService, jobRoot func(jobID string) string, log zerolog.Logger) *Server {
	s := &Server{
		pipeline: pipeline,
		jobRoot:  jobRoot,
		log:      log,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", s.handleHealth)
	r.Route("/api/jobs", func(r chi.Router) {
		r.Post("/", s.handleCreateJob)
		r.Get("/{jobID}", s.handleGetJob)
		r.Get("/{jobID}/artifacts/*", s.handleArtifact)
	})

	s.router = r
	return s
}

// Handler возвращает корневой http.Handler сервера.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleCreateJob принимает multipart-запрос с кадрами и параметрами
// сравнения, выполняет задачу синхронно и возвращает её итоговую запись.
// Кадры приходят либо серией в поле frames, либо парой before/after.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("parse multipart form: %v", err))
		return
	}

	mode, ok := entity.ParseComparisonMode(r.FormValue("comparisonMode"))
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown comparison mode %q", r.FormValue("comparisonMode")))
		return
	}

	baselineIndex := 0
	if raw := r.FormValue("baselineIndex"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "baselineIndex must be an integer")
			return
		}
		baselineIndex = parsed
	}

	// Остальные поля формы уходят в метаданные задачи как есть.
	metadata := map[string]string{}
	for key, values := range r.MultipartForm.Value {
		if key == "comparisonMode" || key == "baselineIndex" {
			continue
		}
		if len(values) > 0 {
			metadata[key] = values[0]
		}
	}

	files := r.MultipartForm.File["frames"]
	if len(files) == 0 {
		before := r.MultipartForm.File["before"]
		after := r.MultipartForm.File["after"]
		if len(before) > 0 && len(after) > 0 {
			files = []*multipart.FileHeader{before[0], after[0]}
		}
	}
	if len(files) < 2 {
		writeError(w, http.StatusBadRequest, "at least two frames are required to compute differences")
		return
	}

	frames := make([]app.FrameUpload, 0, len(files))
	for _, header := range files {
		f, err := header.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("open uploaded frame %q: %v", header.Filename, err))
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("read uploaded frame %q: %v", header.Filename, err))
			return
		}
		frames = append(frames, app.FrameUpload{Name: filepath.Base(header.Filename), Data: data})
	}

	job, err := s.pipeline.RunJob(r.Context(), frames, mode, baselineIndex, metadata)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.pipeline.GetJob(jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("job %q not found", jobID))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleArtifact раздаёт файлы из каталога задачи.
// Путь нормализуется, выход за пределы каталога задачи запрещён.
func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	relative := chi.URLParam(r, "*")

	clean := filepath.Clean("/" + relative)
	if strings.Contains(clean, "..") {
		writeError(w, http.StatusBadRequest, "invalid artifact path")
		return
	}
	root := s.jobRoot(jobID)
	full := filepath.Join(root, clean)
	if !strings.HasPrefix(full, filepath.Clean(root)+string(filepath.Separator)) {
		writeError(w, http.StatusBadRequest, "invalid artifact path")
		return
	}
	http.ServeFile(w, r, full)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
