// Package callbacks is the HTTP ingress external transcode workers report to.
//
//	POST /v1/jobs/{id}/renditions  one produced rendition
//	POST /v1/jobs/{id}/done        job finished, or {"cancelled": true}
//	POST /v1/jobs/{id}/failed      job failed, {"reason": "..."}
//
// Every request carries the job's callback token as a bearer token.
package callbacks

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/mediavault/internal/logging"
	"github.com/dmitrijs2005/mediavault/internal/server/models"
	"github.com/gorilla/mux"
)

// Reporter is the part of the orchestrator workers drive.
type Reporter interface {
	ReportRendition(ctx context.Context, jc models.JobContext, r models.Rendition) (*models.StoredFile, error)
	JobDone(ctx context.Context, out models.JobOutcome) error
	JobFailed(ctx context.Context, out models.JobOutcome) error
}

type Server struct {
	address   string
	reporter  Reporter
	logger    logging.Logger
	jwtSecret []byte
}

func NewServer(a string, l logging.Logger, reporter Reporter, secretKey string) *Server {
	return &Server{
		address:   a,
		logger:    l.With("module", "callbacks"),
		reporter:  reporter,
		jwtSecret: []byte(secretKey),
	}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	// A method mismatch answers 405.
	job := func(path string, h http.HandlerFunc) {
		r.Handle("/v1/jobs/{id}"+path, s.jobTokenMiddleware(h)).Methods(http.MethodPost)
	}
	job("/renditions", s.handleRendition)
	job("/done", s.handleDone)
	job("/failed", s.handleFailed)
	return r
}

func (s *Server) Run(ctx context.Context) error {

	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping callback server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting callback server", "address", s.address)

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
