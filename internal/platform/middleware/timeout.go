package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout bounds each request with a context deadline. Simulation
// runs watch their context, so a run that outlives the deadline is
// interrupted and the client gets a 504.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			done := make(chan error, 1)
			go func() {
				done <- next(c)
			}()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				// Wait for the handler so it never writes after we return.
				<-done
				if ctx.Err() == context.DeadlineExceeded && !c.Response().Committed {
					return c.JSON(http.StatusGatewayTimeout, map[string]string{
						"error": "request exceeded " + timeout.String(),
					})
				}
				return ctx.Err()
			}
		}
	}
}
