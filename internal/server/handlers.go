package server

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dudu/inpaintd/internal/ingest"
	"github.com/dudu/inpaintd/internal/pipeline"
)

// Processor is the part of the pipeline the handlers need.
type Processor interface {
	Process(ctx context.Context, sourceRaw, maskRaw []byte) (*pipeline.Outcome, error)
	Artifact(sessionID, name string) ([]byte, error)
	Ready() bool
}

// ProcessResponse is the success body of POST /api/process.
type ProcessResponse struct {
	ResultURL   string `json:"result_url"`
	LandmarkURL string `json:"landmark_url"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

func downloadURL(sessionID, name string) string {
	return fmt.Sprintf("/api/download/%s/%s", sessionID, name)
}

// ProcessHandler accepts the multipart (source, mask) pair and runs the
// pipeline. The pipeline runs on a context detached from the request so a
// client disconnect does not abandon a half-written session: the session
// completes or fails on its own and its artifacts stay fetchable by id.
func ProcessHandler(proc Processor, maxUploadSize int64) echo.HandlerFunc {
	return func(c echo.Context) error {
		sourceRaw, err := formImage(c, "source", maxUploadSize)
		if err != nil {
			return err
		}
		maskRaw, err := formImage(c, "mask", maxUploadSize)
		if err != nil {
			return err
		}

		outcome, err := proc.Process(context.WithoutCancel(c.Request().Context()), sourceRaw, maskRaw)
		if err != nil {
			return mapError(err)
		}

		return c.JSON(http.StatusOK, ProcessResponse{
			ResultURL:   downloadURL(outcome.SessionID, outcome.Result.Name),
			LandmarkURL: downloadURL(outcome.SessionID, outcome.Overlay.Name),
		})
	}
}

func formImage(c echo.Context, field string, maxUploadSize int64) ([]byte, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("missing %s image", field))
	}
	if fh.Filename == "" || !ingest.AllowedExtension(fh.Filename) {
		return nil, echo.NewHTTPError(http.StatusBadRequest,
			"invalid file type, upload PNG, JPG or JPEG")
	}
	if maxUploadSize > 0 && fh.Size > maxUploadSize {
		return nil, echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("%s image exceeds the %d byte limit", field, maxUploadSize))
	}

	f, err := fh.Open()
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("unreadable %s image", field))
	}
	defer func(f multipart.File) { _ = f.Close() }(f)

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("unreadable %s image", field))
	}
	return raw, nil
}

// DownloadHandler serves a stored artifact as an attachment.
func DownloadHandler(proc Processor) echo.HandlerFunc {
	return func(c echo.Context) error {
		sessionID := c.Param("session_id")
		name := c.Param("filename")

		data, err := proc.Artifact(sessionID, name)
		if err != nil {
			return mapError(err)
		}

		c.Response().Header().Set(echo.HeaderContentDisposition,
			fmt.Sprintf("attachment; filename=%q", name))
		return c.Blob(http.StatusOK, contentType(name), data)
	}
}

// HealthHandler reports liveness once startup model loading has finished.
func HealthHandler(proc Processor) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !proc.Ready() {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "models not loaded")
		}
		return c.NoContent(http.StatusOK)
	}
}
