// Package server exposes the HTTP surface: process, download and health.
package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
)

// Build assembles the echo server around a processor.
func Build(proc Processor, maxUploadSize int64, loglevel string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	switch strings.ToLower(loglevel) {
	case "debug":
		e.Logger.SetLevel(log.DEBUG)
	case "info":
		e.Logger.SetLevel(log.INFO)
	case "warn", "":
		e.Logger.SetLevel(log.WARN)
	case "error":
		e.Logger.SetLevel(log.ERROR)
	case "off":
		e.Logger.SetLevel(log.OFF)
	default:
		e.Logger.SetLevel(log.WARN)
		e.Logger.Warnf("unknown loglevel: %s, fall-backed to warn", loglevel)
	}

	// Every failure body is {"error": ...}; internal causes stay in the log.
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		message := "internal error"
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			message = fmt.Sprintf("%v", he.Message)
			if he.Internal != nil {
				c.Logger().Errorf("request failed: %v", he.Internal)
			}
		} else {
			c.Logger().Errorf("request failed: %v", err)
		}

		if jerr := c.JSON(code, ErrorResponse{Error: message}); jerr != nil {
			c.Logger().Error(jerr)
		}
	}

	e.Use(middleware.Recover())

	// Cap the request body before echo buffers the multipart form: two
	// images per request, plus framing headroom.
	if maxUploadSize > 0 {
		e.Use(middleware.BodyLimit(fmt.Sprintf("%d", 2*maxUploadSize+8<<10)))
	}

	// logging for server-side latency.
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			meth := c.Request().Method
			path := c.Request().URL
			begin := time.Now()

			err := next(c)

			c.Logger().Infof(
				"%s %s -> %d in %v",
				meth, path, c.Response().Status, time.Since(begin),
			)
			return err
		}
	})

	e.POST("/api/process", ProcessHandler(proc, maxUploadSize))
	e.GET("/api/download/:session_id/:filename", DownloadHandler(proc))
	e.GET("/api/health", HealthHandler(proc))

	return e
}
