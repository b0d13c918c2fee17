// Package api provides a read-only REST API exposing the scanner status and
// the recorded measurements
package api

import (
	"fmt"

	"github.com/fako1024/esf37/pkg/scale"
	"github.com/gofiber/fiber/v2"
)

const (
	defaultLimit = 10
	maxLimit     = 1000
)

// API denotes a REST API for the scale logger
type API struct {
	status  scale.StatusProvider
	history scale.History
	router  *fiber.App

	logger scale.Logger
}

// New instantiates a new API, executing functional options, if any
func New(status scale.StatusProvider, options ...func(*API)) *API {

	api := &API{
		status: status,
		router: fiber.New(fiber.Config{
			DisableStartupMessage: true,
		}),
		logger: &scale.NullLogger{},
	}

	// Execute functional options (if any)
	for _, option := range options {
		option(api)
	}

	// Setup routes
	api.router.Get("/status", api.handleStatus())
	api.router.Get("/measurements/latest", api.handleLatest())
	api.router.Get("/measurements", api.handleMeasurements())

	return api
}

// WithHistory sets a source of past measurements
func WithHistory(history scale.History) func(*API) {
	return func(api *API) {
		api.history = history
	}
}

// WithLogger sets a logger
func WithLogger(logger scale.Logger) func(*API) {
	return func(api *API) {
		api.logger = logger
	}
}

// Listen starts to serve the API on the given endpoint in the background
func (api *API) Listen(endpoint string) {
	go func() {
		api.logger.Infof("serving status API on %s", endpoint)
		if err := api.router.Listen(endpoint); err != nil {
			api.logger.Errorf("status API terminated: %s", err)
		}
	}()
}

// Shutdown gracefully stops the API
func (api *API) Shutdown() error {
	return api.router.Shutdown()
}

////////////////////////////////////////////////////////////////////////////////

func (api *API) handleStatus() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		return c.JSON(api.status.Status())
	}
}

func (api *API) handleLatest() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		if m := api.status.Status().LastMeasurement; m != nil {
			return c.JSON(m)
		}

		// Fall back to the history (e.g. after a restart)
		if api.history != nil {
			ms, err := api.history.Recent(1)
			if err != nil {
				return err
			}
			if len(ms) > 0 {
				return c.JSON(ms[0])
			}
		}

		return fiber.NewError(fiber.StatusNotFound, "no measurement recorded yet")
	}
}

func (api *API) handleMeasurements() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		if api.history == nil {
			return fiber.NewError(fiber.StatusNotFound, "no measurement history available")
		}

		limit := c.QueryInt("limit", defaultLimit)
		if limit <= 0 || limit > maxLimit {
			return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("limit must be within [1, %d]", maxLimit))
		}

		ms, err := api.history.Recent(limit)
		if err != nil {
			api.logger.Errorf("failed to retrieve measurements: %s", err)
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}

		return c.JSON(ms)
	}
}
