// Package postgres reads changed film works and their people and genres
// from the content schema.
//
// An [Extractor] answers two questions per cycle: which films changed
// since a checkpoint ([Extractor.FindChangedFilmIDs]), and what do those
// films, and the people and genres attached to them, look like now
// ([Extractor.FilmRows], [Extractor.PersonRows], [Extractor.GenreRows]).
// Row streams are read from the cursor FetchSize rows at a time, so memory
// stays bounded by the batch rather than the result.
//
// Only connection establishment is retried. Query errors end the cycle.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/filmindex/filmsync/pkg/logger"
	"github.com/filmindex/filmsync/pkg/retry"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const DefaultFetchSize = 100

var ErrNotConnected = errors.New("postgres: not connected")

type Config struct {
	DBName    string
	User      string
	Password  string
	Host      string
	Port      int
	SSLMode   string
	FetchSize int
}

// DSN renders the keyword/value connection string understood by pgx.
func (c Config) DSN() string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	parts := []string{
		"host=" + dsnValue(c.Host),
		fmt.Sprintf("port=%d", c.Port),
		"user=" + dsnValue(c.User),
		"password=" + dsnValue(c.Password),
		"dbname=" + dsnValue(c.DBName),
		"sslmode=" + dsnValue(sslmode),
	}
	return strings.Join(parts, " ")
}

func dsnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

type Extractor struct {
	cfg       Config
	log       logger.Logger
	policy    retry.Policy
	dialector gorm.Dialector
	db        *gorm.DB
}

type Option func(*Extractor)

func WithLogger(log logger.Logger) Option {
	return func(e *Extractor) {
		e.log = log
	}
}

// WithPolicy replaces the connection policy (10 attempts, exponential).
func WithPolicy(p retry.Policy) Option {
	return func(e *Extractor) {
		e.policy = p
	}
}

// WithDialector replaces the pgx dialector built from Config.DSN.
func WithDialector(d gorm.Dialector) Option {
	return func(e *Extractor) {
		e.dialector = d
	}
}

func New(cfg Config, opts ...Option) *Extractor {
	if cfg.FetchSize <= 0 {
		cfg.FetchSize = DefaultFetchSize
	}
	e := &Extractor{
		cfg:     cfg,
		log:     logger.Nop(),
		policy:  retry.ConnectPolicy(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.dialector == nil {
		e.dialector = postgres.Open(cfg.DSN())
	}
	return e
}

// Connect opens the pool and waits until the server answers a ping.
func (e *Extractor) Connect(ctx context.Context) error {
	db, err := gorm.Open(e.dialector, &gorm.Config{
		Logger:               gormlogger.Discard,
		DisableAutomaticPing: true,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database pool: %w", err)
	}

	op := fmt.Sprintf("connect postgres %s:%d/%s", e.cfg.Host, e.cfg.Port, e.cfg.DBName)
	err = retry.Do(ctx, e.policy, op, e.log, func(ctx context.Context) error {
		return sqlDB.PingContext(ctx)
	})
	if err != nil {
		_ = sqlDB.Close()
		return err
	}

	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	e.db = db
	e.log.Info("connected to postgres", "host", e.cfg.Host, "db", e.cfg.DBName)
	return nil
}

func (e *Extractor) Close() error {
	if e.db == nil {
		return nil
	}
	sqlDB, err := e.db.DB()
	if err != nil {
		return err
	}
	e.db = nil
	return sqlDB.Close()
}
