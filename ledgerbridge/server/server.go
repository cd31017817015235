package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/emberhollow/ledgerbridge/ledgerbridge/database"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/database/repositories"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy/daily"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy/ledger"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy/regulator"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy/settings"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy/sync"
	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy/webhook"
)

// Server is the HTTP surface: the signed webhook intake plus the
// token-guarded administrative API.
type Server struct {
	app        *fiber.App
	db         *database.DB
	adminToken string

	ledger      *ledger.Ledger
	settings    *settings.Registry
	journal     repositories.JournalRepository
	snapshots   repositories.SnapshotRepository
	tracker     *daily.Tracker
	coordinator *sync.Coordinator
	regulator   *regulator.Regulator
	ingestor    *webhook.Ingestor
}

type Deps struct {
	DB          *database.DB
	AdminToken  string
	Ledger      *ledger.Ledger
	Settings    *settings.Registry
	Journal     repositories.JournalRepository
	Snapshots   repositories.SnapshotRepository
	Tracker     *daily.Tracker
	Coordinator *sync.Coordinator
	Regulator   *regulator.Regulator
	Ingestor    *webhook.Ingestor
}

func New(deps Deps) *Server {
	s := &Server{
		db:          deps.DB,
		adminToken:  deps.AdminToken,
		ledger:      deps.Ledger,
		settings:    deps.Settings,
		journal:     deps.Journal,
		snapshots:   deps.Snapshots,
		tracker:     deps.Tracker,
		coordinator: deps.Coordinator,
		regulator:   deps.Regulator,
		ingestor:    deps.Ingestor,
	}

	s.app = fiber.New(fiber.Config{
		AppName:      "LedgerBridge",
		ServerHeader: "LedgerBridge",
		ErrorHandler: errorHandler,
	})

	s.app.Use(recover.New())
	s.app.Use(loggingMiddleware())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/healthz", s.handleHealthz)
	s.app.Post("/webhook/economy", s.ingestor.Handle)

	api := s.app.Group("/api", s.adminAuth())
	api.Get("/communities/:community/settings", s.handleGetSettings)
	api.Put("/communities/:community/settings", s.handleUpdateSettings)
	api.Post("/communities/:community/regulator/run", s.handleRunRegulator)
	api.Get("/communities/:community/snapshots", s.handleSnapshots)
	api.Post("/communities/:community/members/:member/sync", s.handleForceSync)
	api.Post("/communities/:community/members/:member/checkin", s.handleCheckin)
	api.Post("/communities/:community/members/:member/grant", s.handleGrant)
	api.Post("/communities/:community/members/:member/spend", s.handleSpend)
	api.Post("/communities/:community/members/:member/penalty", s.handlePenalty)
	api.Get("/communities/:community/members/:member/transactions", s.handleListTransactions)
	api.Get("/communities/:community/members/:member/profile", s.handleProfile)
	api.Get("/communities/:community/leaderboard", s.handleLeaderboard)
}

func (s *Server) Listen(addr string) error {
	slog.Info("HTTP server listening",
		slog.String("type", "http"),
		slog.String("addr", addr))
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// App exposes the fiber app for handler tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// adminAuth guards the administrative API with a static bearer token.
func (s *Server) adminAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if s.adminToken == "" {
			return fiber.NewError(fiber.StatusServiceUnavailable, "admin API disabled: no token configured")
		}
		auth := c.Get(fiber.HeaderAuthorization)
		want := "Bearer " + s.adminToken
		if subtle.ConstantTimeCompare([]byte(auth), []byte(want)) != 1 {
			slog.Warn("Admin auth rejected",
				slog.String("type", "http"),
				slog.String("path", c.Path()),
				slog.String("ip", c.IP()))
			return fiber.NewError(fiber.StatusUnauthorized, "invalid admin token")
		}
		return c.Next()
	}
}

// errorHandler maps the economy error taxonomy onto HTTP statuses.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "internal server error"

	var fiberErr *fiber.Error
	var validationErr *economy.ValidationError
	var authErr *economy.AuthError
	var remoteErr *economy.RemoteError

	switch {
	case errors.As(err, &fiberErr):
		code = fiberErr.Code
		message = fiberErr.Message
	case errors.As(err, &validationErr):
		code = fiber.StatusBadRequest
		message = validationErr.Error()
	case errors.As(err, &authErr):
		code = fiber.StatusUnauthorized
		message = authErr.Error()
	case errors.Is(err, economy.ErrInsufficientFunds):
		code = fiber.StatusConflict
		message = err.Error()
	case errors.Is(err, daily.ErrAlreadyCheckedIn):
		code = fiber.StatusConflict
		message = err.Error()
	case errors.Is(err, repositories.ErrAccountNotFound):
		code = fiber.StatusNotFound
		message = err.Error()
	case errors.As(err, &remoteErr):
		code = fiber.StatusBadGateway
		message = remoteErr.Error()
	}

	if code >= 500 {
		slog.Error("Request failed",
			slog.String("type", "http"),
			slog.String("path", c.Path()),
			slog.Any("error", err))
	}
	return c.Status(code).JSON(fiber.Map{"error": message})
}

func loggingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		level := slog.LevelInfo
		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}

		slog.Log(c.Context(), level, "HTTP request processed",
			slog.String("type", "http"),
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
			slog.String("ip", c.IP()))
		return err
	}
}
