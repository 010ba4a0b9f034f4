// Package server is the coordinator transport: it receives start-capture
// commands and selection results from other processes over local HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kpauljoseph/ankisnap/pkg/logger"
	"github.com/kpauljoseph/ankisnap/pkg/models"
)

// Message actions.
const (
	ActionCaptureArea     = "captureArea"
	ActionCaptureComplete = "captureComplete"
)

const shutdownTimeout = 5 * time.Second

type Coordinator interface {
	SelectedCard() (models.Card, error)
	StartCapture(ctx context.Context, tabID string) error
	OnSelectionFinalized(ctx context.Context, tabID string, rect models.SelectionRectangle, card models.Card) (*models.CaptureResult, error)
	OnCaptureComplete(ctx context.Context, imageData string, card models.Card) (*models.CaptureResult, error)
	Respond(result *models.CaptureResult, err error) models.Response
}

type TabFinder interface {
	ActiveTab(ctx context.Context) (string, error)
}

type CaptureCommand struct {
	TabID string `json:"tabId,omitempty"`
}

// Message is a request from a page or another process. Card defaults to the
// selected card when omitted.
type Message struct {
	Action    string                     `json:"action" validate:"required,oneof=captureArea captureComplete"`
	TabID     string                     `json:"tabId,omitempty" validate:"required_if=Action captureArea"`
	Rect      *models.SelectionRectangle `json:"rect,omitempty" validate:"required_if=Action captureArea"`
	ImageData string                     `json:"imageData,omitempty" validate:"required_if=Action captureComplete"`
	Card      *models.Card               `json:"card,omitempty"`
}

type Server struct {
	coord    Coordinator
	tabs     TabFinder
	gatherer prometheus.Gatherer
	validate *validator.Validate
	logger   *logger.Logger
}

func New(coord Coordinator, tabs TabFinder, gatherer prometheus.Gatherer, logger *logger.Logger) *Server {
	return &Server{
		coord:    coord,
		tabs:     tabs,
		gatherer: gatherer,
		validate: validator.New(),
		logger:   logger,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger(s.logger))

	r.Get("/healthz", s.health)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/commands/capture-screenshot", s.captureScreenshot)
		r.Post("/messages", s.message)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("Server stopped")
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) captureScreenshot(w http.ResponseWriter, r *http.Request) {
	var cmd CaptureCommand
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
			s.badRequest(w, "invalid request body: "+err.Error())
			return
		}
	}

	tabID := cmd.TabID
	if tabID == "" {
		if s.tabs == nil {
			s.badRequest(w, "tabId is required")
			return
		}
		active, err := s.tabs.ActiveTab(r.Context())
		if err != nil {
			writeJSON(w, http.StatusOK, s.coord.Respond(nil, models.NewError(models.KindCaptureFailed, err)))
			return
		}
		tabID = active
	}

	// Selection continues in the page after this request returns.
	if err := s.coord.StartCapture(context.WithoutCancel(r.Context()), tabID); err != nil {
		writeJSON(w, http.StatusOK, s.coord.Respond(nil, err))
		return
	}
	writeJSON(w, http.StatusOK, models.Success(CaptureCommand{TabID: tabID}))
}

func (s *Server) message(w http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		s.badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if err := s.validate.Struct(msg); err != nil {
		s.badRequest(w, "validation error: "+err.Error())
		return
	}

	card, err := s.cardFor(msg)
	if err != nil {
		writeJSON(w, http.StatusOK, s.coord.Respond(nil, err))
		return
	}

	// Once started, the upload and field update run to completion even if
	// the client goes away.
	ctx := context.WithoutCancel(r.Context())

	var result *models.CaptureResult
	switch msg.Action {
	case ActionCaptureArea:
		result, err = s.coord.OnSelectionFinalized(ctx, msg.TabID, *msg.Rect, card)
	case ActionCaptureComplete:
		result, err = s.coord.OnCaptureComplete(ctx, msg.ImageData, card)
	}
	writeJSON(w, http.StatusOK, s.coord.Respond(result, err))
}

func (s *Server) cardFor(msg Message) (models.Card, error) {
	if msg.Card != nil {
		return *msg.Card, nil
	}
	return s.coord.SelectedCard()
}

func (s *Server) badRequest(w http.ResponseWriter, detail string) {
	s.logger.Debug("Bad request: %s", detail)
	writeJSON(w, http.StatusBadRequest, models.Response{Success: false, Error: "BadRequest", Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			log.Debug("%s %s %d %s [%s]", r.Method, r.URL.Path, ww.Status(),
				time.Since(start), chimiddleware.GetReqID(r.Context()))
		})
	}
}
