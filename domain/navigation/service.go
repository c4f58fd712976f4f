package navigation

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/unav/navclient/pkg/backend"
	"github.com/unav/navclient/pkg/geometry"
	customlog "github.com/unav/navclient/pkg/log"
	"github.com/unav/navclient/pkg/processing"
)

// OptionsProvider lists the places, buildings and floors the backend knows.
type OptionsProvider interface {
	GetOptions(ctx context.Context) (backend.Options, error)
}

// NavigationService exposes the navigator over HTTP.
type NavigationService struct {
	runner  *Runner
	options OptionsProvider
	logger  customlog.Logger
	timeout time.Duration
}

// NewNavigationService creates the HTTP surface. options may be nil.
func NewNavigationService(runner *Runner, options OptionsProvider, logger customlog.Logger) *NavigationService {
	return &NavigationService{
		runner:  runner,
		options: options,
		logger:  logger,
		timeout: 10 * time.Second,
	}
}

// RegisterRoutes mounts the handlers under /api/navigation.
func (s *NavigationService) RegisterRoutes(app *fiber.App) {
	g := app.Group("/api/navigation")
	g.Get("/state", s.StateHandler)
	g.Get("/frame", s.FrameHandler)
	g.Get("/instructions", s.InstructionsHandler)
	g.Get("/options", s.OptionsHandler)
	g.Post("/floorplan", s.LoadFloorplanHandler)
	g.Post("/localize", s.LocalizeHandler)
	g.Post("/click", s.ClickHandler)
	g.Post("/destination", s.SubmitDestinationHandler)
	g.Post("/navigate", s.NavigateHandler)
	g.Post("/pan", s.PanHandler)
	g.Post("/reset", s.ResetViewHandler)
}

type pointRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type panRequest struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

// StateHandler returns the current snapshot.
func (s *NavigationService) StateHandler(c *fiber.Ctx) error {
	return c.JSON(s.runner.Navigator().Snapshot())
}

// FrameHandler returns the last rendered frame as PNG.
func (s *NavigationService) FrameHandler(c *fiber.Ctx) error {
	frame := s.runner.Navigator().LastFrame()
	if frame == nil {
		return fiber.NewError(fiber.StatusNotFound, "no frame rendered yet")
	}
	c.Set(fiber.HeaderContentType, "image/png")
	return c.Send(frame)
}

// InstructionsHandler returns the instructions as text with the path.
func (s *NavigationService) InstructionsHandler(c *fiber.Ctx) error {
	snap := s.runner.Navigator().Snapshot()
	lines := make([]string, 0, len(snap.Instructions))
	for _, in := range snap.Instructions {
		lines = append(lines, in.String())
	}
	path := make([]string, 0, len(snap.Path))
	for _, w := range snap.Path {
		path = append(path, w.String())
	}
	return c.JSON(fiber.Map{
		"status":       snap.Status,
		"instructions": lines,
		"path":         path,
	})
}

// OptionsHandler proxies the backend's location tree.
func (s *NavigationService) OptionsHandler(c *fiber.Ctx) error {
	if s.options == nil {
		return fiber.NewError(fiber.StatusNotImplemented, "options not available")
	}
	ctx, cancel := context.WithTimeout(c.UserContext(), s.timeout)
	defer cancel()
	opts, err := s.options.GetOptions(ctx)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
	return c.JSON(opts)
}

// LoadFloorplanHandler reloads the floorplan.
func (s *NavigationService) LoadFloorplanHandler(c *fiber.Ctx) error {
	return s.apply(c, LoadFloorplan{})
}

// LocalizeHandler takes the raw query image as the request body.
func (s *NavigationService) LocalizeHandler(c *fiber.Ctx) error {
	body := c.Body()
	if len(body) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "query image required")
	}
	img := append([]byte(nil), body...)
	return s.apply(c, Localize{Image: img})
}

// ClickHandler selects the destination nearest a screen point.
func (s *NavigationService) ClickHandler(c *fiber.Ctx) error {
	var req pointRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return s.apply(c, Click{Screen: geometry.Point{X: req.X, Y: req.Y}})
}

// SubmitDestinationHandler sends the selection to the backend.
func (s *NavigationService) SubmitDestinationHandler(c *fiber.Ctx) error {
	return s.apply(c, SubmitDestination{})
}

// NavigateHandler requests a path.
func (s *NavigationService) NavigateHandler(c *fiber.Ctx) error {
	return s.apply(c, Navigate{})
}

// PanHandler pans the view by a screen delta.
func (s *NavigationService) PanHandler(c *fiber.Ctx) error {
	var req panRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return s.apply(c, PanBy{Deltas: []geometry.Point{{X: req.DX, Y: req.DY}}})
}

// ResetViewHandler restores the identity view.
func (s *NavigationService) ResetViewHandler(c *fiber.Ctx) error {
	return s.apply(c, ResetView{})
}

func (s *NavigationService) apply(c *fiber.Ctx, msg Msg) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), s.timeout)
	defer cancel()
	snap, err := s.runner.Do(ctx, msg)
	if err != nil {
		if errors.Is(err, processing.ErrLoopStopped) {
			return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
		}
		return err
	}
	return c.JSON(snap)
}
