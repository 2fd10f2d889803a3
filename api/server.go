// Package api serves departure boards over HTTP as JSON.
package api

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"tidbyt.dev/departureboard"
	"tidbyt.dev/departureboard/clock"
	"tidbyt.dev/departureboard/model"
	"tidbyt.dev/departureboard/request"
)

// An engine together with the feed it answers from.
type Backend struct {
	Engine *departureboard.Engine
	Static *departureboard.Static
}

// Hands out the backend to answer a request with. Called once per
// request, so feeds can be swapped as they are refreshed.
type Source func(ctx context.Context) (*Backend, error)

type Server struct {
	source   Source
	defaults request.Options
	now      func() time.Time
	logger   zerolog.Logger
	status   map[string]func() any
}

type Option func(*Server)

// Request options used when a parameter is left out.
func WithDefaults(opts request.Options) Option {
	return func(s *Server) {
		s.defaults = opts
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// Adds a named entry to the /status report.
func WithStatus(name string, status func() any) Option {
	return func(s *Server) {
		s.status[name] = status
	}
}

func New(source Source, opts ...Option) *Server {
	s := &Server{
		source:   source,
		defaults: request.DefaultOptions(),
		now:      time.Now,
		logger:   zerolog.Nop(),
		status:   map[string]func() any{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(newLogger(s.logger))
	app.Use(recover.New())

	app.Get("/departures", s.departures)
	app.Get("/route_schedules", s.routeSchedules)
	app.Get("/terminus_schedules", s.terminusSchedules)
	app.Get("/status", s.getStatus)

	return app
}

func (s *Server) Listen(addr string) error {
	return s.App().Listen(addr)
}

func fail(c *fiber.Ctx, status int, msg string) error {
	c.Status(status)
	return c.JSON(fiber.Map{"error": msg})
}

func queryInt(c *fiber.Ctx, key string, value *int) error {
	text := c.Query(key)
	if text == "" {
		return nil
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return fmt.Errorf("parameter %s should be an integer", key)
	}
	*value = n
	return nil
}

func (s *Server) options(c *fiber.Ctx) (request.Options, error) {
	opts := s.defaults

	for key, value := range map[string]*int{
		"count":           &opts.Count,
		"start_page":      &opts.StartPage,
		"depth":           &opts.Depth,
		"items_per_point": &opts.ItemsPerPoint,
	} {
		if err := queryInt(c, key, value); err != nil {
			return opts, err
		}
	}

	if text := c.Query("rt_level"); text != "" {
		level, ok := model.ParseRTLevel(text)
		if !ok {
			return opts, fmt.Errorf("unknown rt_level '%s'", text)
		}
		opts.RTLevel = level
	}

	if calendar := c.Query("calendar"); calendar != "" {
		opts.CalendarID = calendar
	}

	if forbidden := c.Query("forbidden_ids"); forbidden != "" {
		opts.ForbiddenIDs = strings.Split(forbidden, ",")
	}

	return opts, nil
}

// Current time in the feed's calendar, formatted for the request
// parser.
func (s *Server) nowText(b *Backend) string {
	return b.Static.Relative(s.now()).Format(b.Static.Production())
}

func (s *Server) departures(c *fiber.Ctx) error {
	b, err := s.source(c.UserContext())
	if err != nil {
		return fail(c, fiber.StatusServiceUnavailable, err.Error())
	}

	opts, err := s.options(c)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}

	const api = "departures"
	env := b.Engine.Env()
	filter := c.Query("filter")
	from := c.Query("from_datetime", s.nowText(b))

	var d *request.Descriptor
	if text := c.Query("duration"); text != "" {
		duration, err := clock.ParseWindow(text)
		if err != nil {
			return fail(c, fiber.StatusBadRequest, api+" / "+err.Error())
		}
		dt, err := clock.ParseTime(from, env.Production)
		if err != nil {
			return fail(c, fiber.StatusBadRequest, api+" / "+err.Error())
		}
		d = request.Board(api, filter, dt, duration, opts, env)
	} else {
		maxCount := request.Unbounded
		if err := queryInt(c, "max_count", &maxCount); err != nil {
			return fail(c, fiber.StatusBadRequest, err.Error())
		}
		d = request.Departures(api, filter, from, c.Query("until_datetime"), maxCount, opts, env)
	}

	return s.execute(c, b, d)
}

func (s *Server) routeSchedules(c *fiber.Ctx) error {
	b, err := s.source(c.UserContext())
	if err != nil {
		return fail(c, fiber.StatusServiceUnavailable, err.Error())
	}

	opts, err := s.options(c)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}

	d := request.RouteSchedule(
		"route_schedules",
		c.Query("filter"),
		c.Query("from_datetime", s.nowText(b)),
		c.Query("change_time", "T04"),
		opts,
		b.Engine.Env(),
	)

	return s.execute(c, b, d)
}

// Route points are given as stop_id|route_id, comma separated.
func (s *Server) terminusSchedules(c *fiber.Ctx) error {
	b, err := s.source(c.UserContext())
	if err != nil {
		return fail(c, fiber.StatusServiceUnavailable, err.Error())
	}

	opts, err := s.options(c)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}

	pairs := []model.RoutePoint{}
	for _, text := range strings.Split(c.Query("route_points"), ",") {
		if text == "" {
			continue
		}
		stopID, routeID, found := strings.Cut(text, "|")
		if !found {
			return fail(c, fiber.StatusBadRequest, fmt.Sprintf("route point '%s' is not on form <stop_id>|<route_id>", text))
		}
		pairs = append(pairs, model.RoutePoint{StopID: stopID, RouteID: routeID})
	}

	d := request.TerminusSchedule(
		"terminus_schedules",
		c.Query("from_datetime", s.nowText(b)),
		pairs,
		opts,
		b.Engine.Env(),
	)

	return s.execute(c, b, d)
}

func (s *Server) execute(c *fiber.Ctx, b *Backend, d *request.Descriptor) error {
	result, err := b.Engine.Execute(c.UserContext(), d)
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, err.Error())
	}
	if result.Error != "" {
		return fail(c, fiber.StatusBadRequest, result.Error)
	}
	return c.JSON(render(result, b.Static))
}

type feedStatus struct {
	URL         string    `json:"url"`
	Hash        string    `json:"hash"`
	RetrievedAt time.Time `json:"retrieved_at"`
	Production  string    `json:"production_date"`
	Timezone    string    `json:"timezone"`
}

func (s *Server) getStatus(c *fiber.Ctx) error {
	b, err := s.source(c.UserContext())
	if err != nil {
		return fail(c, fiber.StatusServiceUnavailable, err.Error())
	}

	report := fiber.Map{}
	if md := b.Static.Metadata; md != nil {
		report["feed"] = feedStatus{
			URL:         md.URL,
			Hash:        md.Hash,
			RetrievedAt: md.RetrievedAt,
			Production:  md.CalendarStartDate,
			Timezone:    md.Timezone,
		}
	}
	for name, status := range s.status {
		report[name] = status()
	}

	return c.JSON(report)
}
