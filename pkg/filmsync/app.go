package filmsync

import (
	"errors"
	"fmt"
	"io"

	"github.com/filmindex/filmsync/pkg/checkpoint"
	"github.com/filmindex/filmsync/pkg/logger"
	"github.com/filmindex/filmsync/pkg/pipeline"
	"github.com/filmindex/filmsync/pkg/search"
	"github.com/filmindex/filmsync/pkg/store/postgres"
	"gorm.io/gorm"
)

// App owns every long-lived resource of a filmsync process.
type App struct {
	config     Config
	log        *logger.LogData
	extractor  *postgres.Extractor
	loader     *search.Loader
	checkpoint *checkpoint.Store
	mappings   search.Mappings
	pipeline   *pipeline.Pipeline
}

type appOptions struct {
	output    io.Writer
	dialector gorm.Dialector
}

type AppOption func(*appOptions)

// WithLogOutput sends logs to w unless LOG_FILE is set.
func WithLogOutput(w io.Writer) AppOption {
	return func(o *appOptions) {
		o.output = w
	}
}

// WithDialector replaces the Postgres dialector, typically with one over
// an existing *sql.DB.
func WithDialector(d gorm.Dialector) AppOption {
	return func(o *appOptions) {
		o.dialector = d
	}
}

// NewApp wires the application from cfg. Nothing is contacted yet: the
// database is dialled by Run and the cluster by the first request.
func NewApp(cfg Config, opts ...AppOption) (*App, error) {
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}

	build := logger.New()
	if o.output != nil {
		build = build.FromBuffer(o.output)
	}
	if cfg.LogFile != "" {
		build = build.FromPath(cfg.LogFile)
	}
	build, err := build.WithLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: LOG_LEVEL: %v", ErrInvalidConfig, err)
	}
	log, err := build.Make()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	mappings := search.DefaultMappings()
	if cfg.IndexDir != "" {
		mappings, err = search.LoadMappings(cfg.IndexDir)
		if err != nil {
			_ = log.Close()
			return nil, err
		}
	}

	extOpts := []postgres.Option{postgres.WithLogger(log)}
	if o.dialector != nil {
		extOpts = append(extOpts, postgres.WithDialector(o.dialector))
	}
	extractor := postgres.New(cfg.Postgres, extOpts...)

	loader, err := search.NewLoader(cfg.Elastic, search.WithLogger(log))
	if err != nil {
		_ = log.Close()
		return nil, err
	}

	store := checkpoint.New(cfg.StateFile, checkpoint.WithLogger(log))

	app := &App{
		config:     cfg,
		log:        log,
		extractor:  extractor,
		loader:     loader,
		checkpoint: store,
		mappings:   mappings,
	}
	app.pipeline = pipeline.New(extractor, loader, store, pipeline.Config{
		Interval:        cfg.Interval,
		Mappings:        mappings,
		MaxRedeliveries: pipeline.DefaultMaxRedeliveries,
	}, pipeline.WithLogger(log))
	return app, nil
}

// Close releases the database pool and the log file.
func (a *App) Close() error {
	return errors.Join(a.extractor.Close(), a.log.Close())
}

func (a *App) Logger() logger.Logger {
	return a.log
}

func (a *App) Pipeline() *pipeline.Pipeline {
	return a.pipeline
}
