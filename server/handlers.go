package server

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"gifconv/callback"
	"gifconv/dispatch"
	"gifconv/models"
	"gifconv/store"
)

type messageResponse struct {
	Message string `json:"message"`
}

func (s *Server) handleListJobs(c echo.Context) error {
	records, err := s.store.List(c.Request().Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list jobs")
		return c.JSON(http.StatusInternalServerError, messageResponse{"unable to list jobs"})
	}
	return c.JSON(http.StatusOK, records)
}

// handleCreateJob accepts a video upload, stores it, and dispatches a
// conversion job for it.
func (s *Server) handleCreateJob(c echo.Context) error {
	ctx := c.Request().Context()

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, messageResponse{"file upload is required"})
	}

	contentType := fileHeader.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "video/") {
		return c.JSON(http.StatusBadRequest, messageResponse{"only video files are supported"})
	}

	file, err := fileHeader.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, messageResponse{"unable to read uploaded file"})
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return c.JSON(http.StatusBadRequest, messageResponse{"unable to read uploaded file"})
	}

	checksum := sha256.Sum256(data)
	sourceSHA256 := hex.EncodeToString(checksum[:])

	now := time.Now()
	filename := path.Base(fileHeader.Filename)
	sourceKey := fmt.Sprintf("%s%d-%s", s.uploadPrefix, now.UnixMilli(), filename)
	targetKey := fmt.Sprintf("%s%d-%s.gif", s.outputPrefix, now.UnixMilli(), strings.TrimSuffix(filename, path.Ext(filename)))

	if err := s.objects.UploadBuffer(ctx, sourceKey, data, contentType); err != nil {
		log.Error().Err(err).Str("source_key", sourceKey).Msg("upload to object store failed")
		return c.JSON(http.StatusInternalServerError, messageResponse{"unable to store uploaded file"})
	}

	jobID := uuid.NewString()
	record := models.JobRecord{
		ID:           jobID,
		Status:       models.StatusPending,
		SourceKey:    sourceKey,
		TargetKey:    targetKey,
		SourceSHA256: sourceSHA256,
		CreatedAt:    now,
	}
	if err := s.store.Create(ctx, record); err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("failed to persist job record")
		return c.JSON(http.StatusInternalServerError, messageResponse{"unable to create conversion job"})
	}

	if _, err := s.dispatcher.Dispatch(ctx, jobID, sourceKey, targetKey, sourceSHA256); err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("dispatch failed")

		// The record exists; mark it failed so the caller sees the outcome.
		failed := models.StatusFailed
		message := err.Error()
		if _, updErr := s.store.Update(ctx, jobID, store.Update{Status: &failed, ErrorMessage: &message}); updErr != nil {
			log.Error().Err(updErr).Str("job_id", jobID).Msg("failed to mark job failed after dispatch error")
		}
		s.cache.Record(ctx, jobID, failed, message)

		var confErr *dispatch.ConfigurationError
		if errors.As(err, &confErr) {
			return c.JSON(http.StatusServiceUnavailable, messageResponse{confErr.Error()})
		}
		return c.JSON(http.StatusInternalServerError, messageResponse{"unable to create conversion job"})
	}

	records, err := s.store.List(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list jobs after creation")
		return c.JSON(http.StatusInternalServerError, messageResponse{"unable to list jobs"})
	}
	return c.JSON(http.StatusCreated, records)
}

// handleJobStatus is the push channel: a status notification from the
// worker or cluster, in whatever shape that configuration produces.
func (s *Server) handleJobStatus(c echo.Context) error {
	ctx := c.Request().Context()

	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, messageResponse{"unable to read request body"})
	}

	payload := decodePayload(raw)

	note, err := callback.Resolve(payload)
	if err != nil {
		log.Warn().Err(err).Msg("rejected malformed status callback")
		return c.JSON(http.StatusBadRequest, messageResponse{"jobId and a valid status are required"})
	}

	downloadURL := note.DownloadURL
	if note.Status == models.StatusCompleted && downloadURL == "" && note.TargetKey != "" {
		url, err := s.objects.SignedURL(note.TargetKey)
		if err != nil {
			// Transient: record the completion, the poll channel retries
			// the URL.
			log.Error().Err(err).Str("job_id", note.JobID).Msg("failed to issue download url for callback")
		} else {
			downloadURL = url
		}
	}

	upd := store.Update{Status: &note.Status}
	if downloadURL != "" {
		upd.DownloadURL = &downloadURL
	}
	if note.ErrorMessage != "" {
		upd.ErrorMessage = &note.ErrorMessage
	}

	updated, err := s.store.Update(ctx, note.JobID, upd)
	if err != nil {
		if errors.Is(err, store.ErrUnknownJob) {
			log.Warn().Str("job_id", note.JobID).Msg("status callback for unknown job")
			return c.JSON(http.StatusNotFound, messageResponse{"unknown job"})
		}
		log.Error().Err(err).Str("job_id", note.JobID).Msg("failed to apply status callback")
		return c.JSON(http.StatusInternalServerError, messageResponse{"unable to update job"})
	}

	s.cache.Record(ctx, note.JobID, updated.Status, updated.ErrorMessage)

	log.Info().
		Str("job_id", note.JobID).
		Str("status", string(updated.Status)).
		Msg("status callback applied")
	return c.JSON(http.StatusOK, messageResponse{"job updated"})
}

// decodePayload tolerates both a JSON object body and a JSON string that
// itself contains JSON (some webhook relays double-encode).
func decodePayload(raw []byte) any {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil
	}

	if text, ok := payload.(string); ok {
		var nested any
		if err := json.Unmarshal([]byte(text), &nested); err == nil {
			return nested
		}
	}
	return payload
}
