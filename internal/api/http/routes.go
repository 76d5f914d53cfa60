package httpapi

import (
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-ingest/internal/store"
	"github.com/i474232898/weather-ingest/internal/weather"
)

var validate = validator.New()

// RecordReader is the read side of the emitted-record store.
type RecordReader interface {
	GetLatest(site string) (weather.NormalizedRecord, error)
	GetRange(site string, from, to time.Time) ([]weather.NormalizedRecord, error)
	Sites() int
}

// StatsFunc returns the counters of the active run mode.
type StatsFunc func() interface{}

// RegisterRoutes wires the status handlers into the Fiber app. records may be
// nil when the active mode does not emit records.
func RegisterRoutes(app *fiber.App, records RecordReader, stats StatsFunc) {
	v1 := app.Group("/api/v1")

	v1.Get("/stats", func(c *fiber.Ctx) error {
		if stats == nil {
			return c.JSON(fiber.Map{})
		}
		return c.JSON(stats())
	})

	v1.Get("/records/sites", func(c *fiber.Ctx) error {
		if records == nil {
			return fiber.NewError(fiber.StatusNotFound, "records are not kept in this mode")
		}
		return c.JSON(fiber.Map{"sites": records.Sites()})
	})

	v1.Get("/records/latest", func(c *fiber.Ctx) error {
		if records == nil {
			return fiber.NewError(fiber.StatusNotFound, "records are not kept in this mode")
		}

		q, err := parseSiteQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		rec, err := records.GetLatest(q.Site)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no records for requested site")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read records")
		}

		return c.JSON(rec)
	})

	v1.Get("/records/history", func(c *fiber.Ctx) error {
		if records == nil {
			return fiber.NewError(fiber.StatusNotFound, "records are not kept in this mode")
		}

		var req historyQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		recs, err := records.GetRange(req.Site.Site, req.From, req.To)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no records for requested range")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read records")
		}

		return c.JSON(fiber.Map{
			"site":    req.Site.Site,
			"from":    req.From,
			"to":      req.To,
			"records": recs,
		})
	})
}

// siteQuery identifies one polled entity.
type siteQuery struct {
	Site string `validate:"required"`
}

func parseSiteQuery(c *fiber.Ctx) (siteQuery, error) {
	q := siteQuery{Site: c.Query("site")}

	if err := validate.Struct(q); err != nil {
		return q, err
	}

	return q, nil
}

// historyQuery holds query parameters for the history endpoint.
type historyQuery struct {
	Site siteQuery
	From time.Time `validate:"required"`
	To   time.Time `validate:"required,gtefield=From"`
}

func (h *historyQuery) bind(c *fiber.Ctx) error {
	site, err := parseSiteQuery(c)
	if err != nil {
		return err
	}
	h.Site = site

	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	h.From = from
	h.To = to
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
