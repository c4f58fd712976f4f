package monitor

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/unav/navclient/pkg/feed"
	customlog "github.com/unav/navclient/pkg/log"
	"github.com/unav/navclient/pkg/multiplexer"
	"github.com/unav/navclient/pkg/processing"
	"github.com/unav/navclient/pkg/store"
)

// HistorySource lists persisted session lifecycle events.
type HistorySource interface {
	History(ctx context.Context, sessionID string, limit int) ([]store.SessionEvent, error)
}

// MonitorService serves the live session gallery
type MonitorService struct {
	mux     *multiplexer.Multiplexer
	gallery *Gallery
	history HistorySource
	logger  customlog.Logger
}

// NewMonitorService creates a monitor service. history may be nil.
func NewMonitorService(mux *multiplexer.Multiplexer, gallery *Gallery, history HistorySource, logger customlog.Logger) *MonitorService {
	return &MonitorService{
		mux:     mux,
		gallery: gallery,
		history: history,
		logger:  logger,
	}
}

// RegisterFeedHandlers routes camera events to the multiplexer.
func (s *MonitorService) RegisterFeedHandlers(d *processing.EventDirector) {
	d.Handle(feed.KindCameraFrame, s.mux.HandleEvent)
	d.Handle(feed.KindRemoveCameraStream, s.mux.HandleEvent)
}

// RegisterRoutes mounts the handlers under /api/monitor.
func (s *MonitorService) RegisterRoutes(app *fiber.App) {
	g := app.Group("/api/monitor")
	g.Get("/sessions", s.SessionsHandler)
	g.Get("/sessions/:id/frame", s.FrameHandler)
	g.Get("/sessions/:id/activate", s.ActivateHandler)
	g.Get("/history", s.HistoryHandler)
}

// SessionsHandler lists live sessions in creation order.
func (s *MonitorService) SessionsHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"sessions": s.mux.Sessions(),
	})
}

// FrameHandler returns a session's latest frame.
func (s *MonitorService) FrameHandler(c *fiber.Ctx) error {
	id := c.Params("id")
	frame, updated, ok := s.gallery.Frame(id)
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "no frame for session "+id)
	}
	c.Set(fiber.HeaderContentType, http.DetectContentType(frame))
	c.Set(fiber.HeaderLastModified, updated.UTC().Format(http.TimeFormat))
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Send(frame)
}

// ActivateHandler hands a session to its detail view.
func (s *MonitorService) ActivateHandler(c *fiber.Ctx) error {
	target, err := s.mux.Activate(c.Params("id"))
	if err != nil {
		if errors.Is(err, multiplexer.ErrUnknownSession) {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		return err
	}
	return c.Redirect(target, fiber.StatusFound)
}

// HistoryHandler returns persisted lifecycle events, newest first.
func (s *MonitorService) HistoryHandler(c *fiber.Ctx) error {
	if s.history == nil {
		return fiber.NewError(fiber.StatusNotImplemented, "session history disabled")
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return fiber.NewError(fiber.StatusBadRequest, "invalid limit")
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()
	events, err := s.history.History(ctx, c.Query("session_id"), limit)
	if err != nil {
		s.logger.Errorf("Failed to read session history: %v", err)
		return err
	}
	return c.JSON(fiber.Map{
		"events": events,
	})
}
