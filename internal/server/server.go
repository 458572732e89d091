// Package server exposes scans and saved analyses over a JSON HTTP API.
package server

import (
	"context"
	"errors"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"unsubscan/internal/gmail"
	"unsubscan/internal/model"
	"unsubscan/internal/store"
)

const userCookie = "user_email"

// Scanner runs one scan with a caller-supplied bearer token.
type Scanner interface {
	Scan(ctx context.Context, accessToken, after, before string) (model.AnalysisReport, error)
}

// Store is the persistence the API needs. *store.SQLiteStore implements it.
type Store interface {
	SaveAnalysis(ctx context.Context, p store.SaveParams) (string, error)
	ListAnalyses(ctx context.Context, userEmail string) ([]model.SavedAnalysis, error)
	GetAnalysis(ctx context.Context, id, userEmail string) (*model.SavedAnalysis, error)
	MarkSenderClicked(ctx context.Context, analysisID, senderEmail, userEmail string) (bool, error)
}

type Server struct {
	scanner     Scanner
	store       Store
	scanTimeout time.Duration
	log         zerolog.Logger
}

// New builds the fiber app with every route registered.
func New(scanner Scanner, st Store, scanTimeout time.Duration, log zerolog.Logger) *fiber.App {
	s := &Server{scanner: scanner, store: st, scanTimeout: scanTimeout, log: log}

	app := fiber.New(fiber.Config{
		AppName:               "unsubscan",
		DisableStartupMessage: true,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ErrorHandler:          s.handleError,
	})
	app.Use(recover.New())
	app.Use(s.requestLogger)

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/analyses", s.requireUser)
	api.Post("/", s.createAnalysis)
	api.Get("/", s.listAnalyses)
	api.Get("/:id", s.getAnalysis)
	api.Patch("/:id/senders", s.markSenderClicked)

	return app
}

func (s *Server) requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	status := c.Response().StatusCode()
	if err != nil {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}
	}
	s.log.Info().
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", status).
		Dur("took", time.Since(start)).
		Msg("request")
	return err
}

func (s *Server) requireUser(c *fiber.Ctx) error {
	user := c.Cookies(userCookie)
	if user == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Not authenticated"})
	}
	c.Locals(userCookie, user)
	return c.Next()
}

func userOf(c *fiber.Ctx) string {
	user, _ := c.Locals(userCookie).(string)
	return user
}

func bearerToken(c *fiber.Ctx) string {
	h := c.Get(fiber.HeaderAuthorization)
	const prefix = "bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

type createRequest struct {
	After  string `json:"after"`
	Before string `json:"before"`
}

type createResponse struct {
	ID string `json:"id"`
	model.AnalysisReport
}

func (s *Server) createAnalysis(c *fiber.Ctx) error {
	token := bearerToken(c)
	if token == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Missing bearer token"})
	}
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid JSON body"})
	}
	if req.After == "" || req.Before == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "after and before are required"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), s.scanTimeout)
	defer cancel()

	report, err := s.scanner.Scan(ctx, token, req.After, req.Before)
	if err != nil {
		return err
	}
	id, err := s.store.SaveAnalysis(c.UserContext(), store.SaveParams{
		UserEmail:      userOf(c),
		DateRangeStart: req.After,
		DateRangeEnd:   req.Before,
		Report:         report,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(createResponse{ID: id, AnalysisReport: report})
}

func (s *Server) listAnalyses(c *fiber.Ctx) error {
	list, err := s.store.ListAnalyses(c.UserContext(), userOf(c))
	if err != nil {
		return err
	}
	return c.JSON(list)
}

func (s *Server) getAnalysis(c *fiber.Ctx) error {
	a, err := s.store.GetAnalysis(c.UserContext(), c.Params("id"), userOf(c))
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Analysis not found"})
	}
	if err != nil {
		return err
	}
	return c.JSON(a)
}

type markRequest struct {
	SenderEmail string `json:"senderEmail"`
}

func (s *Server) markSenderClicked(c *fiber.Ctx) error {
	var req markRequest
	if err := c.BodyParser(&req); err != nil || req.SenderEmail == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "senderEmail is required"})
	}
	ok, err := s.store.MarkSenderClicked(c.UserContext(), c.Params("id"), req.SenderEmail, userOf(c))
	if err != nil {
		return err
	}
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Not found or already clicked"})
	}
	return c.JSON(fiber.Map{"ok": true})
}

// classify maps an error to an HTTP status and a stable kind string.
func classify(err error) (int, string) {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code, "http"
	case errors.Is(err, gmail.ErrListingFailed):
		return fiber.StatusBadGateway, "listing_failed"
	case errors.Is(err, gmail.ErrParse):
		return fiber.StatusBadGateway, "parse_error"
	case errors.Is(err, gmail.ErrFatalBatchItem):
		return fiber.StatusBadGateway, "fatal_item"
	case errors.Is(err, gmail.ErrRateLimited):
		return fiber.StatusServiceUnavailable, "rate_limited"
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout, "timeout"
	default:
		return fiber.StatusInternalServerError, "internal"
	}
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	status, kind := classify(err)
	if status >= fiber.StatusInternalServerError {
		s.log.Error().Err(err).Str("kind", kind).Str("path", c.Path()).Msg("request failed")
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error(), "kind": kind})
}
