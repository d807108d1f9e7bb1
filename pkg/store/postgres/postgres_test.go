package postgres_test

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/filmindex/filmsync/internal/testenv"
	"github.com/filmindex/filmsync/pkg/logger"
	"github.com/filmindex/filmsync/pkg/models"
	"github.com/filmindex/filmsync/pkg/retry"
	"github.com/filmindex/filmsync/pkg/store/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormpostgres "gorm.io/driver/postgres"
)

type harness struct {
	mock sqlmock.Sqlmock
	ext  *postgres.Extractor
	rec  *testenv.LogRecorder

	mu      sync.Mutex
	queries []string
}

func (h *harness) seen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.queries...)
}

func newHarness(t *testing.T, cfg postgres.Config) *harness {
	t.Helper()
	h := &harness{}
	matcher := sqlmock.QueryMatcherFunc(func(expected, actual string) error {
		h.mu.Lock()
		h.queries = append(h.queries, actual)
		h.mu.Unlock()
		return sqlmock.QueryMatcherRegexp.Match(expected, actual)
	})
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(matcher), sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var log logger.Logger
	log, h.rec = testenv.NewLogger()
	h.mock = mock
	h.ext = postgres.New(cfg,
		postgres.WithDialector(gormpostgres.New(gormpostgres.Config{Conn: db})),
		postgres.WithPolicy(retry.Fixed(time.Millisecond, retry.ConnectAttempts)),
		postgres.WithLogger(log))
	return h
}

func connected(t *testing.T, cfg postgres.Config) *harness {
	t.Helper()
	h := newHarness(t, cfg)
	h.mock.ExpectPing()
	require.NoError(t, h.ext.Connect(context.Background()))
	return h
}

func collect[T any](t *testing.T, seq iter.Seq2[T, error]) ([]T, error) {
	t.Helper()
	var out []T
	for v, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

func TestDSN(t *testing.T) {
	cfg := postgres.Config{DBName: "movies", User: "app", Password: "s3cr'et pw", Host: "db", Port: 5432}
	assert.Equal(t, `host=db port=5432 user=app password='s3cr\'et pw' dbname=movies sslmode=disable`, cfg.DSN())

	cfg.Password = ""
	cfg.SSLMode = "require"
	assert.Equal(t, `host=db port=5432 user=app password='' dbname=movies sslmode=require`, cfg.DSN())
}

func TestConnectRetriesTransientFailures(t *testing.T) {
	h := newHarness(t, postgres.Config{Host: "db", Port: 5432, DBName: "movies"})
	for i := 0; i < 3; i++ {
		h.mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	}
	h.mock.ExpectPing()

	require.NoError(t, h.ext.Connect(context.Background()))
	assert.Equal(t, 3, h.rec.Count(slog.LevelWarn, "retrying"))
	assert.Equal(t, 1, h.rec.Count(slog.LevelInfo, "connected to postgres"))
	require.NoError(t, h.mock.ExpectationsWereMet())

	h.mock.ExpectClose()
	require.NoError(t, h.ext.Close())
	require.NoError(t, h.ext.Close(), "closing twice is a no-op")
}

func TestConnectGivesUpAfterTenAttempts(t *testing.T) {
	h := newHarness(t, postgres.Config{Host: "db", Port: 5432, DBName: "movies"})
	for i := 0; i < retry.ConnectAttempts; i++ {
		h.mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	}

	err := h.ext.Connect(context.Background())
	require.Error(t, err)

	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, retry.ConnectAttempts, exhausted.Attempts)
	assert.Equal(t, retry.ConnectAttempts-1, h.rec.Count(slog.LevelWarn, "retrying"))
}

func TestNotConnected(t *testing.T) {
	h := newHarness(t, postgres.Config{})

	_, err := h.ext.FindChangedFilmIDs(context.Background(), time.Now())
	assert.ErrorIs(t, err, postgres.ErrNotConnected)

	_, err = collect(t, h.ext.FilmRows(context.Background(), []string{"a"}))
	assert.ErrorIs(t, err, postgres.ErrNotConnected)
}

func TestFindChangedFilmIDs(t *testing.T) {
	h := connected(t, postgres.Config{})
	since := time.Date(2021, 6, 16, 20, 14, 9, 0, time.UTC)

	h.mock.ExpectQuery(regexp.QuoteMeta("WHERE GREATEST(fw.modified, pr.modified, gn.modified) > $1")).
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("f1").AddRow("f2"))

	ids, err := h.ext.FindChangedFilmIDs(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, []string{"f1", "f2"}, ids)
	assert.Contains(t, h.seen()[0], "SELECT DISTINCT fw.id")
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestFindChangedFilmIDsNothingChanged(t *testing.T) {
	h := connected(t, postgres.Config{})
	h.mock.ExpectQuery("GREATEST").WillReturnRows(sqlmock.NewRows([]string{"id"}))

	ids, err := h.ext.FindChangedFilmIDs(context.Background(), time.Now())
	require.NoError(t, err)
	assert.NotNil(t, ids)
	assert.Empty(t, ids)
}

func TestFindChangedFilmIDsQueryError(t *testing.T) {
	h := connected(t, postgres.Config{})
	h.mock.ExpectQuery("GREATEST").WillReturnError(errors.New(`permission denied for schema content`))

	_, err := h.ext.FindChangedFilmIDs(context.Background(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}

var filmColumns = []string{"id", "title", "description", "rating", "type",
	"person_id", "full_name", "role", "genre_id", "name"}

func TestFilmRowsBindsIDs(t *testing.T) {
	h := connected(t, postgres.Config{})
	ids := []string{"f1", "f2') OR 1=1 --", "f3'"}

	h.mock.ExpectQuery(regexp.QuoteMeta("WHERE fw.id IN ($1,$2,$3)")).
		WithArgs("f1", "f2') OR 1=1 --", "f3'").
		WillReturnRows(sqlmock.NewRows(filmColumns).
			AddRow("f1", "Star Wars", nil, 8.6, "movie", "p1", "Mark Hamill", "actor", "g1", "Sci-Fi"))

	rows, err := collect(t, h.ext.FilmRows(context.Background(), ids))
	require.NoError(t, err)
	require.Len(t, rows, 1)

	sql := h.seen()[0]
	assert.NotContains(t, sql, "OR 1=1")
	assert.NotContains(t, sql, "f3'")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(sql), "ORDER BY fw.id"))
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestFilmRowsChunksLargeIDSets(t *testing.T) {
	h := connected(t, postgres.Config{})

	// a first sync from the epoch asks for every film in the catalog
	const total = 70001
	ids := make([]string, total)
	for i := range ids {
		ids[i] = fmt.Sprintf("f%06d", i)
	}

	var chunks int
	for start := 0; start < total; start += postgres.MaxQueryIDs {
		chunk := ids[start:min(start+postgres.MaxQueryIDs, total)]
		args := make([]driver.Value, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		h.mock.ExpectQuery("FROM content.film_work").
			WithArgs(args...).
			WillReturnRows(sqlmock.NewRows(filmColumns).
				AddRow(chunk[0], "Film "+chunk[0], nil, nil, "movie", nil, nil, nil, nil, nil)).
			RowsWillBeClosed()
		chunks++
	}
	require.Equal(t, 8, chunks)

	rows, err := collect(t, h.ext.FilmRows(context.Background(), ids))
	require.NoError(t, err)
	require.Len(t, rows, chunks)
	assert.Equal(t, "f000000", rows[0].FilmID)
	assert.Equal(t, "f070000", rows[chunks-1].FilmID)

	placeholder := regexp.MustCompile(`\$\d+`)
	seen := h.seen()
	require.Len(t, seen, chunks)
	for _, sql := range seen {
		n := len(placeholder.FindAllString(sql, -1))
		assert.LessOrEqual(t, n, postgres.MaxQueryIDs)
		assert.Less(t, n, 65536)
	}
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestPersonRowsChunkErrorStopsStream(t *testing.T) {
	h := connected(t, postgres.Config{})
	ids := make([]string, postgres.MaxQueryIDs+1)
	for i := range ids {
		ids[i] = fmt.Sprintf("p%05d", i)
	}

	h.mock.ExpectQuery("FROM content.person").
		WillReturnRows(sqlmock.NewRows([]string{"id", "full_name", "role", "film_id", "title"}).
			AddRow("p00000", "George Lucas", "director", "f1", "Star Wars"))
	h.mock.ExpectQuery("FROM content.person").WillReturnError(errors.New("canceling statement due to statement timeout"))

	rows, err := collect(t, h.ext.PersonRows(context.Background(), ids))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statement timeout")
	assert.Len(t, rows, 1)
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestFilmRowsEmptyIDsNeverQuery(t *testing.T) {
	h := connected(t, postgres.Config{})

	rows, err := collect(t, h.ext.FilmRows(context.Background(), nil))
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Empty(t, h.seen())
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestFilmRowsBatches(t *testing.T) {
	h := connected(t, postgres.Config{FetchSize: 2})

	result := sqlmock.NewRows(filmColumns).
		AddRow("f1", "Star Wars", "A long time ago", 8.6, "movie", "p1", "George Lucas", "director", "g1", "Sci-Fi").
		AddRow("f1", "Star Wars", "A long time ago", 8.6, "movie", "p2", "Mark Hamill", "actor", "g1", "Sci-Fi").
		AddRow("f1", "Star Wars", "A long time ago", 8.6, "movie", "p2", "Mark Hamill", "actor", "g2", "Adventure").
		AddRow("f2", "Untitled", nil, nil, "tv_show", nil, nil, nil, nil, nil).
		AddRow("f3", "Short", nil, 5.0, "movie", nil, nil, nil, "g1", "Sci-Fi")
	h.mock.ExpectQuery("FROM content.film_work").WillReturnRows(result).RowsWillBeClosed()

	rows, err := collect(t, h.ext.FilmRows(context.Background(), []string{"f1", "f2", "f3"}))
	require.NoError(t, err)
	require.Len(t, rows, 5)

	assert.Equal(t, "George Lucas", rows[0].PersonName)
	assert.Equal(t, 8.6, *rows[0].Rating)
	assert.Equal(t, models.FilmRow{FilmID: "f2", Title: "Untitled", Type: "tv_show"}, rows[3])
	assert.Equal(t, 3, h.rec.Count(slog.LevelDebug, "fetched batch"))
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestFilmRowsEarlyBreakClosesCursor(t *testing.T) {
	h := connected(t, postgres.Config{FetchSize: 1})
	result := sqlmock.NewRows(filmColumns).
		AddRow("f1", "A", nil, nil, "movie", nil, nil, nil, nil, nil).
		AddRow("f2", "B", nil, nil, "movie", nil, nil, nil, nil, nil)
	h.mock.ExpectQuery("FROM content.film_work").WillReturnRows(result).RowsWillBeClosed()

	for row, err := range h.ext.FilmRows(context.Background(), []string{"f1", "f2"}) {
		require.NoError(t, err)
		require.Equal(t, "f1", row.FilmID)
		break
	}
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestFilmRowsSingleUse(t *testing.T) {
	h := connected(t, postgres.Config{})
	h.mock.ExpectQuery("FROM content.film_work").
		WillReturnRows(sqlmock.NewRows(filmColumns).AddRow("f1", "A", nil, nil, "movie", nil, nil, nil, nil, nil))

	seq := h.ext.FilmRows(context.Background(), []string{"f1"})
	rows, err := collect(t, seq)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	_, err = collect(t, seq)
	assert.ErrorIs(t, err, postgres.ErrStreamConsumed)
}

func TestFilmRowsQueryError(t *testing.T) {
	h := connected(t, postgres.Config{})
	h.mock.ExpectQuery("FROM content.film_work").WillReturnError(errors.New(`column "rating" does not exist`))

	_, err := collect(t, h.ext.FilmRows(context.Background(), []string{"f1"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "film rows")
}

func TestFilmRowsCursorError(t *testing.T) {
	h := connected(t, postgres.Config{})
	result := sqlmock.NewRows(filmColumns).
		AddRow("f1", "A", nil, nil, "movie", nil, nil, nil, nil, nil).
		RowError(0, errors.New("connection reset by peer"))
	h.mock.ExpectQuery("FROM content.film_work").WillReturnRows(result)

	_, err := collect(t, h.ext.FilmRows(context.Background(), []string{"f1"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset by peer")
}

func TestPersonAndGenreRows(t *testing.T) {
	h := connected(t, postgres.Config{})

	h.mock.ExpectQuery(regexp.QuoteMeta("WHERE pr.id IN ($1,$2)")).
		WithArgs("p1", "p9").
		WillReturnRows(sqlmock.NewRows([]string{"id", "full_name", "role", "film_id", "title"}).
			AddRow("p1", "George Lucas", "director", "f1", "Star Wars").
			AddRow("p9", "Nobody Yet", nil, nil, nil))
	h.mock.ExpectQuery(regexp.QuoteMeta("WHERE gn.id IN ($1)")).
		WithArgs("g1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "film_id", "title"}).
			AddRow("g1", "Sci-Fi", "f1", "Star Wars"))

	persons, err := collect(t, h.ext.PersonRows(context.Background(), []string{"p1", "p9"}))
	require.NoError(t, err)
	assert.Equal(t, []models.LinkRow{
		{EntityID: "p1", Name: "George Lucas", Role: "director", FilmID: "f1", FilmTitle: "Star Wars"},
		{EntityID: "p9", Name: "Nobody Yet"},
	}, persons)

	genres, err := collect(t, h.ext.GenreRows(context.Background(), []string{"g1"}))
	require.NoError(t, err)
	assert.Equal(t, []models.LinkRow{{EntityID: "g1", Name: "Sci-Fi", FilmID: "f1", FilmTitle: "Star Wars"}}, genres)
	require.NoError(t, h.mock.ExpectationsWereMet())
}
