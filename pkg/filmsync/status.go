package filmsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/filmindex/filmsync/pkg/pipeline"
	"github.com/gorilla/mux"
)

const shutdownTimeout = 5 * time.Second

// NewStatusRouter serves the liveness and progress endpoints:
//
//	GET /health - {"status":"ok"}
//	GET /status - pipeline.Stats as JSON
func NewStatusRouter(stats func() pipeline.Stats) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, stats())
	}).Methods(http.MethodGet)
	return router
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(response)
}

// Run connects to Postgres and runs the pipeline until ctx is done. When
// STATUS_ADDR is set the status server runs alongside it and is shut down
// when the pipeline returns.
func (a *App) Run(ctx context.Context) error {
	if err := a.extractor.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	if a.config.StatusAddr == "" {
		return a.pipeline.Run(ctx)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	server := &http.Server{
		Addr:              a.config.StatusAddr,
		Handler:           NewStatusRouter(a.pipeline.Stats),
		ReadHeaderTimeout: shutdownTimeout,
	}
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	a.log.Info("status server listening", "addr", a.config.StatusAddr)

	pipelineErr := make(chan error, 1)
	go func() {
		pipelineErr <- a.pipeline.Run(ctx)
	}()

	var err error
	select {
	case err = <-pipelineErr:
	case serr := <-serverErr:
		cancel()
		<-pipelineErr
		return fmt.Errorf("status server failed: %w", serr)
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		a.log.Warn("status server shutdown", "error", serr.Error())
	}
	return err
}
