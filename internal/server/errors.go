package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dudu/inpaintd/internal/artifact"
	"github.com/dudu/inpaintd/internal/detector"
	"github.com/dudu/inpaintd/internal/ingest"
	"github.com/dudu/inpaintd/internal/orchestrator"
	"github.com/dudu/inpaintd/internal/session"
)

// mapError turns pipeline errors into HTTP errors with user-facing
// messages. Internal detail stays in the server log; callers see only the
// error kind.
func mapError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ingest.ErrInvalidImage):
		return echo.NewHTTPError(http.StatusBadRequest,
			"invalid image upload").SetInternal(err)
	case errors.Is(err, detector.ErrNoFaceDetected):
		return echo.NewHTTPError(http.StatusBadRequest,
			"no face detected in the source image").SetInternal(err)
	case errors.Is(err, orchestrator.ErrInferenceTimeout):
		return echo.NewHTTPError(http.StatusInternalServerError,
			"inference timed out").SetInternal(err)
	case errors.Is(err, orchestrator.ErrInferenceFailed):
		return echo.NewHTTPError(http.StatusInternalServerError,
			"inference failed").SetInternal(err)
	case errors.Is(err, session.ErrNotFound), errors.Is(err, artifact.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound,
			"unknown session or artifact").SetInternal(err)
	case errors.Is(err, artifact.ErrUnsafeName):
		// Path-escaping names are always rejected; to the caller they are
		// indistinguishable from artifacts that do not exist.
		return echo.NewHTTPError(http.StatusNotFound,
			"unknown session or artifact").SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError,
			"internal error").SetInternal(err)
	}
}

func contentType(name string) string {
	return artifact.ContentType(name)
}
