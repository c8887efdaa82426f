package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/brettboylen/reddit-sentiment/api"
	"github.com/brettboylen/reddit-sentiment/stats"
)

type initRequest struct {
	APIKey string `json:"api_key"`
}

type searchRequest struct {
	Symbol string `json:"symbol"`
}

type dateRangeRequest struct {
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

type subredditRequest struct {
	Name string `json:"name"`
}

// New builds the HTTP API the dashboard talks to. searchesPerMinute limits how
// often a client may start a search, since each one fans out to Reddit and the
// sentiment API.
func New(analyzer *stats.Analyzer, log *logrus.Logger, searchesPerMinute int) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	if searchesPerMinute <= 0 {
		searchesPerMinute = 10
	}

	searchLimiter := middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: middleware.DefaultSkipper,
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(float64(searchesPerMinute) / 60.0),
				Burst:     1,
				ExpiresIn: 3 * time.Minute,
			},
		),
		IdentifierExtractor: func(ctx echo.Context) (string, error) {
			return ctx.RealIP(), nil
		},
		ErrorHandler: func(ctx echo.Context, err error) error {
			return ctx.JSON(http.StatusForbidden, errorBody("Could not identify client"))
		},
		DenyHandler: func(ctx echo.Context, identifier string, err error) error {
			return ctx.JSON(http.StatusTooManyRequests, errorBody("Too many searches, please try again later"))
		},
	})

	e.POST("/api/init", func(c echo.Context) error {
		var req initRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, errorBody("Invalid request body"))
		}
		if err := analyzer.Initialize(req.APIKey); err != nil {
			return c.JSON(http.StatusBadRequest, errorBody("Failed to initialize Gemini API. Please check your API key."))
		}
		return c.JSON(http.StatusOK, map[string]string{
			"message": "Gemini API has been successfully initialized.",
		})
	})

	e.POST("/api/search", func(c echo.Context) error {
		var req searchRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, errorBody("Invalid request body"))
		}

		// a closed dashboard tab doesn't cancel the search; its report is still stored
		ctx := context.WithoutCancel(c.Request().Context())

		report, err := analyzer.Search(ctx, req.Symbol)
		if err != nil {
			return c.JSON(statusFor(err), errorBody(err.Error()))
		}
		return c.JSON(http.StatusOK, report)
	}, searchLimiter)

	e.GET("/api/status", func(c echo.Context) error {
		return c.JSON(http.StatusOK, analyzer.Status())
	})

	e.GET("/api/report", func(c echo.Context) error {
		report := analyzer.GetReport()
		if report == nil {
			return c.JSON(http.StatusNotFound, errorBody("No analysis available yet"))
		}
		return c.JSON(http.StatusOK, report)
	})

	e.GET("/api/report/subreddits/:subreddit", func(c echo.Context) error {
		subreddit := c.Param("subreddit")
		report := analyzer.GetReport()
		if report == nil {
			return c.JSON(http.StatusNotFound, errorBody("No analysis available yet"))
		}

		subredditStats, exists := report.SubredditBreakdown[subreddit]
		if !exists {
			return c.JSON(http.StatusNotFound, errorBody(fmt.Sprintf("No statistics available for subreddit %s", subreddit)))
		}
		return c.JSON(http.StatusOK, subredditStats)
	})

	settings := analyzer.Settings()

	e.GET("/api/settings", func(c echo.Context) error {
		return c.JSON(http.StatusOK, settings.Current())
	})

	e.PUT("/api/settings/dates", func(c echo.Context) error {
		var req dateRangeRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, errorBody("Dates must be RFC 3339 timestamps"))
		}
		if req.StartDate.IsZero() || req.EndDate.IsZero() {
			return c.JSON(http.StatusBadRequest, errorBody("start_date and end_date are required"))
		}

		updated, err := settings.SetDateRange(req.StartDate, req.EndDate)
		if err != nil {
			return c.JSON(statusFor(err), errorBody(err.Error()))
		}
		return c.JSON(http.StatusOK, updated)
	})

	e.POST("/api/settings/subreddits", func(c echo.Context) error {
		var req subredditRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, errorBody("Invalid request body"))
		}

		updated, err := settings.AddSubreddit(req.Name)
		if err != nil {
			return c.JSON(statusFor(err), errorBody(err.Error()))
		}
		return c.JSON(http.StatusOK, updated)
	})

	e.DELETE("/api/settings/subreddits/:name", func(c echo.Context) error {
		updated, err := settings.RemoveSubreddit(c.Param("name"))
		if err != nil {
			return c.JSON(statusFor(err), errorBody(err.Error()))
		}
		return c.JSON(http.StatusOK, updated)
	})

	e.POST("/api/settings/reset", func(c echo.Context) error {
		return c.JSON(http.StatusOK, settings.Reset())
	})

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})

	log.WithField("routes", len(e.Routes())).Debug("HTTP routes registered")
	return e
}

// statusFor maps pipeline and settings errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, stats.ErrNoSymbol),
		errors.Is(err, stats.ErrEmptySubreddit),
		errors.Is(err, stats.ErrInvalidDateRange),
		errors.Is(err, stats.ErrLastSubreddit):
		return http.StatusBadRequest
	case errors.Is(err, stats.ErrNoPosts),
		errors.Is(err, stats.ErrUnknownSubreddit):
		return http.StatusNotFound
	case errors.Is(err, stats.ErrSearchInProgress),
		errors.Is(err, stats.ErrDuplicateSubreddit):
		return http.StatusConflict
	case errors.Is(err, api.ErrNotInitialized):
		return http.StatusPreconditionFailed
	case errors.Is(err, api.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(message string) map[string]string {
	return map[string]string{"error": message}
}
