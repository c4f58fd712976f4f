// Package backend talks to the localization and planning server.
package backend

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	customlog "github.com/unav/navclient/pkg/log"
	"github.com/unav/navclient/pkg/navigation"
)

// ErrLocalizationFailed means the server could not place the query image.
var ErrLocalizationFailed = errors.New("localization failed")

// StatusError is a non-2xx reply.
type StatusError struct {
	Endpoint string
	Code     int
	Message  string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Endpoint, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: status %d", e.Endpoint, e.Code)
}

// Client calls the backend over HTTP using fiber's fasthttp agent.
type Client struct {
	baseURL string
	timeout time.Duration
	logger  customlog.Logger
}

// NewClient creates a client for baseURL, e.g. "http://localhost:5001".
func NewClient(baseURL string, timeout time.Duration, logger customlog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		logger:  logger,
	}
}

// timeoutFor shortens the configured timeout to the context deadline.
func (c *Client) timeoutFor(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	t := c.timeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < t {
			t = left
		}
	}
	if t <= 0 {
		return 0, context.DeadlineExceeded
	}
	return t, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body interface{}, out interface{}) error {
	timeout, err := c.timeoutFor(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", endpoint, err)
	}

	url := c.baseURL + endpoint
	var agent *fiber.Agent
	switch method {
	case fiber.MethodPost:
		agent = fiber.Post(url)
		if body != nil {
			agent.JSON(body)
		}
	default:
		agent = fiber.Get(url)
	}
	agent.Timeout(timeout)

	start := time.Now()
	code, resp, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("%s: %w", endpoint, errors.Join(errs...))
	}
	c.logger.Debugf("%s %s -> %d (%d bytes, %s)", method, endpoint, code, len(resp), time.Since(start))

	if code < 200 || code >= 300 {
		var e errorDTO
		_ = json.Unmarshal(resp, &e)
		return &StatusError{Endpoint: endpoint, Code: code, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", endpoint, err)
	}
	return nil
}

// GetFloorplanAndDestinations fetches the current floorplan image and its
// destinations.
func (c *Client) GetFloorplanAndDestinations(ctx context.Context) (Floorplan, error) {
	var dto floorplanDTO
	if err := c.do(ctx, fiber.MethodGet, "/get_floorplan_and_destinations", nil, &dto); err != nil {
		return Floorplan{}, err
	}
	fp, err := dto.toFloorplan()
	if err != nil {
		return Floorplan{}, fmt.Errorf("/get_floorplan_and_destinations: %w", err)
	}
	return fp, nil
}

// Planner asks for a path from the last localized pose to the selected
// destination.
func (c *Client) Planner(ctx context.Context) (Plan, error) {
	var dto plannerDTO
	if err := c.do(ctx, fiber.MethodGet, "/planner", nil, &dto); err != nil {
		return Plan{}, err
	}
	path, err := parsePath(dto.Paths)
	if err != nil {
		return Plan{}, fmt.Errorf("/planner: %w", err)
	}
	plan := Plan{Path: path, Actions: dto.Actions}
	if dto.Floorplan != "" {
		raw, err := base64.StdEncoding.DecodeString(dto.Floorplan)
		if err != nil {
			return Plan{}, fmt.Errorf("/planner: floorplan is not base64: %w", err)
		}
		plan.Floorplan = raw
	}
	return plan, nil
}

// Localize sends a query image and returns the pose. A null pose is
// ErrLocalizationFailed.
func (c *Client) Localize(ctx context.Context, queryImage []byte) (navigation.Pose, error) {
	req := map[string]string{"query_image": base64.StdEncoding.EncodeToString(queryImage)}
	var dto poseDTO
	if err := c.do(ctx, fiber.MethodPost, "/localize", req, &dto); err != nil {
		return navigation.Pose{}, err
	}
	if len(dto.Pose) < 2 {
		return navigation.Pose{}, ErrLocalizationFailed
	}
	pose := navigation.Pose{X: dto.Pose[0], Y: dto.Pose[1]}
	if len(dto.Pose) > 2 {
		pose.Heading = dto.Pose[2]
	}
	return pose, nil
}

// SelectDestination tells the server which destination to plan for.
func (c *Client) SelectDestination(ctx context.Context, destinationID string) error {
	if destinationID == "" {
		return fmt.Errorf("/select_destination: missing destination id")
	}
	req := map[string]string{"destination_id": destinationID}
	return c.do(ctx, fiber.MethodPost, "/select_destination", req, nil)
}

// GetScale returns metres per pixel for a location.
func (c *Client) GetScale(ctx context.Context, loc Location) (float64, error) {
	var dto scaleDTO
	if err := c.do(ctx, fiber.MethodPost, "/get_scale", loc, &dto); err != nil {
		return 0, err
	}
	return dto.Scale, nil
}

// GetOptions lists the places, buildings and floors the server knows.
func (c *Client) GetOptions(ctx context.Context) (Options, error) {
	var opts Options
	if err := c.do(ctx, fiber.MethodGet, "/get_options", nil, &opts); err != nil {
		return nil, err
	}
	return opts, nil
}

// UpdateSettings switches the server to another location.
func (c *Client) UpdateSettings(ctx context.Context, loc Location) error {
	return c.do(ctx, fiber.MethodPost, "/settings", loc, nil)
}
