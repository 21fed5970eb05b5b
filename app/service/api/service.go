package api

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"xianyuagent/app/config"
	"xianyuagent/app/service/conversation"
	"xianyuagent/app/service/deadletter"
	"xianyuagent/app/service/engine"
	"xianyuagent/app/service/message"
	"xianyuagent/app/service/queue"
	"xianyuagent/app/util/fault"

	"github.com/gofiber/fiber/v2"
	"github.com/samber/do"
)

const shutdownTimeout = 5 * time.Second

var _ do.Shutdownable = (*Service)(nil)

// Service is the HTTP surface: inbound events from the transport collaborator
// and a few operator endpoints.
type Service struct {
	cfg         *config.Config
	engine      *engine.Service
	queueSvc    *queue.Service
	store       *conversation.Service
	deadLetters *deadletter.Service

	app *fiber.App
}

type errorResponse struct {
	Error string `json:"error"`
}

type pauseRequest struct {
	// Minutes to pause for, zero pauses until resumed.
	Minutes int `json:"minutes"`
}

type statsResponse struct {
	Queue       queue.Stats `json:"queue"`
	DeadLetters int         `json:"dead_letters"`
}

func New(di *do.Injector) (*Service, error) {
	s := &Service{
		cfg:         do.MustInvoke[*config.Config](di),
		engine:      do.MustInvoke[*engine.Service](di),
		queueSvc:    do.MustInvoke[*queue.Service](di),
		store:       do.MustInvoke[*conversation.Service](di),
		deadLetters: do.MustInvoke[*deadletter.Service](di),
	}

	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	s.routes()

	return s, nil
}

func (s *Service) routes() {
	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	api := s.app.Group("/api")
	api.Post("/events", s.postEvent)
	api.Get("/stats", s.getStats)
	api.Get("/conversations", s.listConversations)
	api.Get("/conversations/:id", s.getConversation)
	api.Post("/conversations/:id/pause", s.pauseConversation)
	api.Post("/conversations/:id/resume", s.resumeConversation)
	api.Get("/deadletters", s.listDeadLetters)
}

func (s *Service) App() *fiber.App {
	return s.app
}

// Run serves until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		if err := s.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			slog.Error("Failed to shutdown http server", "error", err)
		}
	}()

	slog.Info("HTTP server started", "listen", s.cfg.HTTP.Listen)

	return s.app.Listen(s.cfg.HTTP.Listen)
}

func (s *Service) Shutdown() error {
	return s.app.ShutdownWithTimeout(shutdownTimeout)
}

func (s *Service) postEvent(c *fiber.Ctx) error {
	var ev message.Event
	if err := c.BodyParser(&ev); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid event body")
	}

	receipt, err := s.engine.Submit(c.UserContext(), ev)
	switch {
	case err == nil:
	case fault.IsValidation(err):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, queue.ErrLaneFull):
		return fiber.NewError(fiber.StatusTooManyRequests, err.Error())
	case errors.Is(err, queue.ErrQueueFull), errors.Is(err, queue.ErrClosed):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	default:
		return err
	}

	status := fiber.StatusOK
	if receipt.Status == engine.StatusQueued {
		status = fiber.StatusAccepted
	}

	return c.Status(status).JSON(receipt)
}

func (s *Service) getStats(c *fiber.Ctx) error {
	return c.JSON(statsResponse{
		Queue:       s.queueSvc.Stats(),
		DeadLetters: s.deadLetters.Count(),
	})
}

func (s *Service) listConversations(c *fiber.Ctx) error {
	return c.JSON(s.store.List())
}

func (s *Service) getConversation(c *fiber.Ctx) error {
	state, ok := s.store.Lookup(c.Params("id"))
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "conversation not found")
	}

	return c.JSON(state)
}

func (s *Service) pauseConversation(c *fiber.Ctx) error {
	var req pauseRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid pause body")
		}
	}
	if req.Minutes < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "minutes must not be negative")
	}

	var until time.Time
	if req.Minutes > 0 {
		until = time.Now().Add(time.Duration(req.Minutes) * time.Minute)
	}

	s.queueSvc.Pause(c.Params("id"), "operator", until)

	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Service) resumeConversation(c *fiber.Ctx) error {
	s.queueSvc.Resume(c.Params("id"))

	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Service) listDeadLetters(c *fiber.Ctx) error {
	return c.JSON(s.deadLetters.List(c.Query("conversation_id")))
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}

	if code >= fiber.StatusInternalServerError {
		slog.Error("HTTP handler error",
			"path", c.Path(),
			"error", err)
	}

	return c.Status(code).JSON(errorResponse{Error: err.Error()})
}
