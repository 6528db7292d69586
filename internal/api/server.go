// Package api exposes the translation service over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/beamstep/internal/logger"
	"github.com/samcharles93/beamstep/internal/search"
	"github.com/samcharles93/beamstep/internal/translate"
	"github.com/samcharles93/beamstep/internal/version"
)

const (
	// MaxSources caps the number of sentences accepted in one request.
	MaxSources = 1024
	// MaxBeamSize caps the per-request beam_size override.
	MaxBeamSize = search.MaxBeamSize
)

// Translator is the part of translate.Service the server needs.
type Translator interface {
	Translate(ctx context.Context, reqs []translate.Request, opts ...translate.Option) ([]translate.Response, translate.Stats, error)
}

type Server struct {
	store      *TranslationStore
	translator Translator
	clock      func() time.Time
	log        logger.Logger
}

func NewServer(store *TranslationStore, translator Translator, log logger.Logger) *Server {
	if store == nil {
		store = NewTranslationStore()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		store:      store,
		translator: translator,
		clock:      time.Now,
		log:        log.With("component", "api"),
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.Use(serverHeader)
	e.GET("/v1/health", s.handleHealth)
	e.POST("/v1/translations", s.handleCreateTranslation)
	e.GET("/v1/translations/:id", s.handleGetTranslation)
	e.DELETE("/v1/translations/:id", s.handleDeleteTranslation)
}

func serverHeader(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		c.Response().Header().Set("Server", version.UserAgent())
		return next(c)
	}
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:       "ok",
		Version:      version.Resolve().Version,
		Translations: s.store.Len(),
	})
}

func (s *Server) handleCreateTranslation(c *echo.Context) error {
	if s.translator == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "translation service not configured", "", "")
	}
	req, err := decodeJSON[TranslationRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if err := validateRequest(req); err != nil {
		return writeError(c, http.StatusBadRequest, "invalid_request_error", err.Error(), paramOf(err), "")
	}

	id := newTranslationID()
	log := s.log.With("request_id", id)

	reqs := make([]translate.Request, len(req.Sources))
	for i, src := range req.Sources {
		reqs[i] = translate.Request{ID: strconv.Itoa(i), Source: src}
	}
	var opts []translate.Option
	if req.BeamSize != nil {
		opts = append(opts, translate.WithBeamSize(*req.BeamSize))
	}
	if req.NBest != nil {
		opts = append(opts, translate.WithNBest(*req.NBest))
	}

	ctx := logger.WithContext(c.Request().Context(), log)
	results, stats, err := s.translator.Translate(ctx, reqs, opts...)
	if err != nil {
		switch {
		case errors.Is(err, search.ErrInvalidConfig), errors.Is(err, ErrInvalidRequest):
			return writeBadRequest(c, err.Error())
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			log.Warn("translation aborted", "error", err)
			return writeError(c, http.StatusServiceUnavailable, "server_error", "translation aborted", "", "")
		default:
			log.Error("translation failed", "error", err)
			return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
		}
	}

	resp := TranslationResponse{
		ID:        id,
		Object:    "translation",
		CreatedAt: s.clock().Unix(),
		Results:   results,
		Usage: TranslationUsage{
			Sentences:       stats.Sentences,
			TokensGenerated: stats.TokensGenerated,
			DurationMS:      stats.Duration.Milliseconds(),
			TokensPerSecond: stats.TPS,
		},
	}
	s.store.Save(resp)
	log.Info("translated", "sentences", stats.Sentences, "tokens", stats.TokensGenerated)
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetTranslation(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return writeNotFound(c, "translation not found")
	}
	resp, ok := s.store.Get(id)
	if !ok {
		return writeNotFound(c, "translation not found")
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDeleteTranslation(c *echo.Context) error {
	id := c.Param("id")
	if id == "" || !s.store.Delete(id) {
		return writeNotFound(c, "translation not found")
	}
	return c.JSON(http.StatusOK, DeleteTranslationResp{
		ID:      id,
		Object:  "translation",
		Deleted: true,
	})
}

func validateRequest(req TranslationRequest) error {
	if len(req.Sources) == 0 {
		return newInvalidParam("sources", "sources is required and must not be empty")
	}
	if len(req.Sources) > MaxSources {
		return newInvalidParam("sources", fmt.Sprintf("at most %d sources per request", MaxSources))
	}
	for i, src := range req.Sources {
		if strings.TrimSpace(src) == "" {
			return newInvalidParam("sources", fmt.Sprintf("source %d is empty", i))
		}
	}
	if req.BeamSize != nil && *req.BeamSize <= 0 {
		return newInvalidParam("beam_size", "beam_size must be positive")
	}
	if req.BeamSize != nil && *req.BeamSize > MaxBeamSize {
		return newInvalidParam("beam_size", fmt.Sprintf("beam_size must be at most %d", MaxBeamSize))
	}
	if req.NBest != nil && *req.NBest <= 0 {
		return newInvalidParam("n_best", "n_best must be positive")
	}
	return nil
}
