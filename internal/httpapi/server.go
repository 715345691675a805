// Package httpapi serves a read-mostly view of the running feed loops.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"feedbridge/internal/model"
)

// Controller is the part of the scheduler exposed over HTTP.
type Controller interface {
	Statuses() []model.FeedStatus
	Status(name string) (model.FeedStatus, bool)
	Trigger(name string) bool
}

// Server wraps a fiber app bound to a Controller.
type Server struct {
	app  *fiber.App
	ctrl Controller
	log  *slog.Logger
}

// New builds the routes. It does not start listening.
func New(ctrl Controller, log *slog.Logger) *Server {
	s := &Server{
		app: fiber.New(fiber.Config{
			AppName:               "feedbridge",
			DisableStartupMessage: true,
			UnescapePath:          true,
		}),
		ctrl: ctrl,
		log:  log,
	}

	s.app.Get("/healthz", s.handleHealth)
	s.app.Get("/feeds", s.handleList)
	s.app.Get("/feeds/:name", s.handleFeed)
	s.app.Post("/feeds/:name/check", s.handleCheck)
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("status server listening", "addr", addr)
		errCh <- s.app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen on %s: %w", addr, err)
	case <-ctx.Done():
		if err := s.app.ShutdownWithContext(context.WithoutCancel(ctx)); err != nil {
			return fmt.Errorf("shutdown status server: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			s.log.Debug("status server stopped", "error", err)
		}
		return nil
	}
}

type healthResponse struct {
	Status  string `json:"status"`
	Feeds   int    `json:"feeds"`
	Stopped int    `json:"stopped"`
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	statuses := s.ctrl.Statuses()
	resp := healthResponse{Status: "ok", Feeds: len(statuses)}
	for _, st := range statuses {
		if st.Stopped {
			resp.Stopped++
		}
	}
	// A bridge whose every feed stopped is not doing anything useful.
	if resp.Feeds > 0 && resp.Stopped == resp.Feeds {
		resp.Status = "degraded"
		return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
	}
	return c.JSON(resp)
}

func (s *Server) handleList(c *fiber.Ctx) error {
	return c.JSON(s.ctrl.Statuses())
}

func (s *Server) handleFeed(c *fiber.Ctx) error {
	name := c.Params("name")
	st, ok := s.ctrl.Status(name)
	if !ok {
		return notFound(c, name)
	}
	return c.JSON(st)
}

func (s *Server) handleCheck(c *fiber.Ctx) error {
	name := c.Params("name")
	st, ok := s.ctrl.Status(name)
	if !ok {
		return notFound(c, name)
	}
	if st.Stopped || !s.ctrl.Trigger(name) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": fmt.Sprintf("feed %q is stopped", name),
		})
	}
	s.log.Info("poll requested over http", "feed", name)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"feed": name, "queued": true})
}

func notFound(c *fiber.Ctx, name string) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": fmt.Sprintf("feed %q not found", name),
	})
}
