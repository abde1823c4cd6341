package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"knowledge-api/internal/metrics"
)

// errorBody is the shape of every error response.
type errorBody struct {
	Detail string `json:"detail"`
}

// errorHandler renders errors as {"detail": "..."}.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	detail := http.StatusText(code)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		detail = fmt.Sprint(he.Message)
		if he.Internal != nil {
			log.Debug().Err(he.Internal).Int("status", code).Msg("Request failed")
		}
	} else {
		log.Error().Err(err).Str("uri", c.Request().RequestURI).Msg("Unhandled error")
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, errorBody{Detail: detail})
	}
	if err != nil {
		log.Warn().Err(err).Msg("Could not write error response")
	}
}

// requestLogger logs each request and records the HTTP metrics. Errors are
// rendered here so the logged status is the one the client sees.
func requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		if err := next(c); err != nil {
			c.Error(err)
		}
		duration := time.Since(start)

		req, res := c.Request(), c.Response()
		route := c.Path()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(req.Method, route, strconv.Itoa(res.Status)).Inc()
		metrics.HTTPDuration.WithLabelValues(req.Method, route).Observe(duration.Seconds())

		log.Info().
			Str("method", req.Method).
			Str("uri", req.RequestURI).
			Int("status", res.Status).
			Dur("duration", duration).
			Str("request_id", res.Header().Get(echo.HeaderXRequestID)).
			Msg("http request")
		return nil
	}
}
