package httpapi

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-history-collector/internal/store"
	"github.com/i474232898/weather-history-collector/internal/weather"
)

var validate = validator.New()

// CycleRunner is the part of weather.Service the API drives.
type CycleRunner interface {
	TryRunCycle(ctx context.Context, trigger string) (weather.CycleReport, error)
	LastReport() (weather.CycleReport, bool)
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, history weather.HistoryReader, cycles CycleRunner) {
	app.Get("/health", func(c *fiber.Ctx) error {
		if err := history.Ping(c.UserContext()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status":  "degraded",
				"storage": err.Error(),
			})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	v1 := app.Group("/api/v1")

	v1.Get("/weather/latest", func(c *fiber.Ctx) error {
		q := cityQuery{City: c.Query("city")}
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		obs, err := history.Latest(c.UserContext(), q.City)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no weather data for requested city")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch weather data")
		}

		return c.JSON(obs)
	})

	v1.Get("/weather/history", func(c *fiber.Ctx) error {
		var req historyQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		obs, err := history.History(c.UserContext(), req.City, req.From, req.To)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no weather history for requested range")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch weather history")
		}

		return c.JSON(fiber.Map{
			"city":         req.City,
			"from":         req.From,
			"to":           req.To,
			"observations": obs,
		})
	})

	v1.Get("/weather/summary", func(c *fiber.Ctx) error {
		var req historyQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		obs, err := history.History(c.UserContext(), req.City, req.From, req.To)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch weather history")
		}

		return c.JSON(weather.AggregateObservations(req.City, req.From, req.To, obs))
	})

	v1.Get("/cycles/last", func(c *fiber.Ctx) error {
		report, ok := cycles.LastReport()
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "no collection cycle has run yet")
		}
		return c.JSON(report)
	})

	v1.Post("/cycles", func(c *fiber.Ctx) error {
		report, err := cycles.TryRunCycle(c.UserContext(), "manual")
		if err != nil {
			if errors.Is(err, weather.ErrCycleRunning) {
				return fiber.NewError(fiber.StatusConflict, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to run collection cycle")
		}
		return c.JSON(report)
	})
}

type cityQuery struct {
	City string `validate:"required"`
}

// historyQuery holds query parameters for the history and summary endpoints.
type historyQuery struct {
	City string    `validate:"required"`
	From time.Time `validate:"required"`
	To   time.Time `validate:"required,gtefield=From"`
}

func (h *historyQuery) bind(c *fiber.Ctx) error {
	h.City = c.Query("city")

	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, _, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, dateOnly, err := parseTime(toStr)
	if err != nil {
		return err
	}
	if dateOnly {
		// A bare end date covers the whole day.
		to = to.Add(24*time.Hour - time.Second)
	}

	h.From = from
	h.To = to
	return validate.Struct(h)
}

// parseTime accepts RFC3339, a bare date (YYYY-MM-DD) or Unix seconds.
func parseTime(s string) (t time.Time, dateOnly bool, err error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), false, nil
	}
	if ts, err := time.Parse(time.DateOnly, s); err == nil {
		return ts, true, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), false, nil
	}
	return time.Time{}, false, errors.New("invalid time format; use RFC3339, YYYY-MM-DD or unix seconds")
}
