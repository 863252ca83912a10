package middleware

import (
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/labportal/portal/internal/platform/metrics"
)

const maxStack = 8 << 10

// Recovery turns a handler panic into a 500, counts it per route and logs it
// with the same request_id, route and lab fields as Logger. A panic with
// http.ErrAbortHandler is re-raised so net/http aborts the response.
func Recovery(logger zerolog.Logger, m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}

				route := c.Path()
				m.Panic(route)

				stack := make([]byte, maxStack)
				stack = stack[:runtime.Stack(stack, false)]
				rid, _ := c.Get("request_id").(string)
				logger.Error().
					Str("request_id", rid).
					Str("route", route).
					Str("lab", c.QueryParam("lab")).
					Bool("committed", c.Response().Committed).
					Interface("panic", r).
					Bytes("stack", stack).
					Msg("panic recovered")

				err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
			}()
			return next(c)
		}
	}
}
