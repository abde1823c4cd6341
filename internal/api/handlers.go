package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"knowledge-api/internal/db"
	"knowledge-api/internal/helper"
	"knowledge-api/internal/metrics"
	"knowledge-api/internal/models"
	"knowledge-api/internal/rag"
	"knowledge-api/internal/worker"
)

const (
	shuttingDownDetail = "Service is shutting down."
	invalidBodyDetail  = "Invalid request body."
)

type UploadResponse struct {
	Message  string `json:"message"`
	Filename string `json:"filename"`
	JobID    string `json:"job_id"`
}

type SearchRequest struct {
	Query string `json:"query"`
	Limit *int   `json:"limit"`
}

type SearchResponse struct {
	Results []models.SearchResult `json:"results"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "active", Version: s.cfg.Version})
}

// handleUpload stores the PDF and queues it. The response never waits for
// processing.
func (s *Server) handleUpload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil || !isPDFName(fh.Filename) {
		metrics.Uploads.WithLabelValues("rejected").Inc()
		return echo.NewHTTPError(http.StatusBadRequest, models.InvalidFileTypeDetail).SetInternal(err)
	}
	ctx := c.Request().Context()
	logger := log.With().Str("filename", fh.Filename).Logger()

	path, err := helper.TempPathForUpload(s.cfg.Server.UploadDir, fh.Filename)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Could not store upload.").SetInternal(err)
	}
	if err := saveUpload(fh, path); err != nil {
		helper.RemoveIfExists(path)
		logger.Error().Err(err).Msg("Error saving upload")
		return echo.NewHTTPError(http.StatusInternalServerError, "Could not store upload.").SetInternal(err)
	}

	jobID, err := helper.GenerateUUID()
	if err != nil {
		helper.RemoveIfExists(path)
		return err
	}
	job := &models.Job{
		ID:           jobID,
		Filename:     fh.Filename,
		DocumentName: helper.SafeDocumentName(fh.Filename),
		Status:       models.JobQueued,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		helper.RemoveIfExists(path)
		return fmt.Errorf("registering job: %w", err)
	}

	task := worker.Task{JobID: jobID, Path: path, Filename: fh.Filename}
	if err := s.pool.Submit(func(ctx context.Context) { s.pipeline.Run(ctx, task) }); err != nil {
		helper.RemoveIfExists(path)
		s.failJob(ctx, job, err)
		metrics.Uploads.WithLabelValues("rejected").Inc()
		return echo.NewHTTPError(http.StatusServiceUnavailable, shuttingDownDetail).SetInternal(err)
	}

	metrics.Uploads.WithLabelValues("accepted").Inc()
	logger.Info().Str("job_id", jobID).Int64("size", fh.Size).Msg("Upload accepted")
	return c.JSON(http.StatusAccepted, UploadResponse{
		Message:  models.UploadAcceptedMessage,
		Filename: fh.Filename,
		JobID:    jobID,
	})
}

func (s *Server) failJob(ctx context.Context, job *models.Job, cause error) {
	now := time.Now().UTC()
	job.Status = models.JobFailed
	job.Error = cause.Error()
	job.FinishedAt = &now
	if err := s.jobs.Update(context.WithoutCancel(ctx), job); err != nil {
		log.Warn().Err(err).Str("job_id", job.ID).Msg("Could not update job record")
	}
}

func (s *Server) handleGetJob(c echo.Context) error {
	job, err := s.jobs.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, db.ErrJobNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, models.JobNotFoundDetail)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, job)
}

func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, invalidBodyDetail).SetInternal(err)
	}

	results, err := s.search.Search(c.Request().Context(), req.Query, req.Limit)
	switch {
	case errors.Is(err, rag.ErrEmptyQuery), errors.Is(err, rag.ErrInvalidLimit):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "Search failed.").SetInternal(err)
	}
	if results == nil {
		results = []models.SearchResult{}
	}
	return c.JSON(http.StatusOK, SearchResponse{Results: results})
}

func isPDFName(name string) bool {
	return name != "" && strings.HasSuffix(strings.ToLower(name), ".pdf")
}

func saveUpload(fh *multipart.FileHeader, path string) error {
	src, err := fh.Open()
	if err != nil {
		return fmt.Errorf("opening upload: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return dst.Close()
}
