// Package stub serves a stand-in for the demo's prediction API, so the
// supervisor and prober can be exercised without the Python stack.
package stub

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Features is the iris measurement the predict endpoint accepts.
type Features struct {
	SepalLength *float64 `json:"sepal_length"`
	SepalWidth  *float64 `json:"sepal_width"`
	PetalLength *float64 `json:"petal_length"`
	PetalWidth  *float64 `json:"petal_width"`
}

type Prediction struct {
	Prediction int `json:"prediction"`
}

// Classify is a fixed decision stump over the petal measurements:
// 0 setosa, 1 versicolor, 2 virginica.
func Classify(petalLength, petalWidth float64) int {
	switch {
	case petalLength < 2.5:
		return 0
	case petalWidth < 1.75:
		return 1
	default:
		return 2
	}
}

// BuildServer returns the echo instance with /predict and /health routes.
func BuildServer(l *slog.Logger) *echo.Echo {
	if l == nil {
		l = slog.Default()
	}
	log := l.With("component", "stub")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			begin := time.Now()
			err := next(c)
			log.Debug("request", "method", c.Request().Method, "path", c.Request().URL.Path,
				"status", c.Response().Status, "duration", time.Since(begin), "err", err)
			return err
		}
	})

	e.POST("/predict", handlePredict)
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	return e
}

func handlePredict(c echo.Context) error {
	var f Features
	if err := c.Bind(&f); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	if f.SepalLength == nil || f.SepalWidth == nil || f.PetalLength == nil || f.PetalWidth == nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "sepal_length, sepal_width, petal_length and petal_width are required")
	}
	return c.JSON(http.StatusOK, Prediction{Prediction: Classify(*f.PetalLength, *f.PetalWidth)})
}

// Serve runs the stub on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, l *slog.Logger) error {
	e := BuildServer(l)
	errCh := make(chan error, 1)
	go func() { errCh <- e.Start(addr) }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
