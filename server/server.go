package server

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"gifconv/services"
	"gifconv/store"
)

// ObjectStore is the object-storage surface the handlers need.
type ObjectStore interface {
	UploadBuffer(ctx context.Context, key string, data []byte, contentType string) error
	SignedURL(key string) (string, error)
}

// Dispatcher submits an accepted job to the cluster.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID, sourceKey, targetKey, sourceSHA256 string) (string, error)
}

// Server exposes the job submission/list API and the inbound status
// callback endpoint.
type Server struct {
	echo       *echo.Echo
	store      store.Store
	objects    ObjectStore
	dispatcher Dispatcher
	cache      *services.StatusCache

	uploadPrefix string
	outputPrefix string
}

func New(jobStore store.Store, objects ObjectStore, dispatcher Dispatcher, cache *services.StatusCache, uploadPrefix, outputPrefix string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:         e,
		store:        jobStore,
		objects:      objects,
		dispatcher:   dispatcher,
		cache:        cache,
		uploadPrefix: uploadPrefix,
		outputPrefix: outputPrefix,
	}

	e.GET("/api/jobs", s.handleListJobs)
	e.POST("/api/jobs", s.handleCreateJob)
	e.POST("/api/job-status", s.handleJobStatus)

	return s
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start(addr string) error {
	err := s.echo.Start(addr)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
