package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync/atomic"
	"time"

	"github.com/filmindex/filmsync/pkg/logger"
	"github.com/filmindex/filmsync/pkg/models"
)

// ErrStreamConsumed is yielded when a row stream is ranged over twice.
var ErrStreamConsumed = errors.New("postgres: row stream already consumed")

// FindChangedFilmIDs returns the distinct ids of films whose own row, or a
// linked person or genre row, was modified after since. Nothing changed is
// an empty slice, not an error.
func (e *Extractor) FindChangedFilmIDs(ctx context.Context, since time.Time) ([]string, error) {
	if e.db == nil {
		return nil, ErrNotConnected
	}
	ids := []string{}
	err := e.db.WithContext(ctx).Raw(changedFilmIDsQuery, since.UTC()).Scan(&ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find changed films: %w", err)
	}
	logger.FromContext(ctx, e.log).Debug("changed films found", "since", since.UTC().Format(time.DateTime), "count", len(ids))
	return ids, nil
}

// FilmRows streams the denormalized film join for ids. Rows are ordered by
// film id within each chunk of MaxQueryIDs ids.
func (e *Extractor) FilmRows(ctx context.Context, ids []string) iter.Seq2[models.FilmRow, error] {
	return stream(ctx, e, "film rows", filmRowsQuery, ids, scanFilmRow)
}

// PersonRows streams person→film links for ids, ordered by person id.
func (e *Extractor) PersonRows(ctx context.Context, ids []string) iter.Seq2[models.LinkRow, error] {
	return stream(ctx, e, "person rows", personRowsQuery, ids, scanPersonRow)
}

// GenreRows streams genre→film links for ids, ordered by genre id.
func (e *Extractor) GenreRows(ctx context.Context, ids []string) iter.Seq2[models.LinkRow, error] {
	return stream(ctx, e, "genre rows", genreRowsQuery, ids, scanGenreRow)
}

// MaxQueryIDs is how many ids one statement binds. Longer id lists are
// queried in consecutive chunks, which keeps every statement well under
// the 65535 parameters the extended protocol allows.
const MaxQueryIDs = 10000

// stream runs query once per chunk of at most MaxQueryIDs ids, bound to its
// single IN placeholder, and yields the scanned rows. Rows are pulled from
// each cursor in batches of FetchSize. The returned sequence can be ranged
// over once.
func stream[T any](ctx context.Context, e *Extractor, op, query string, ids []string, scan func(*sql.Rows) (T, error)) iter.Seq2[T, error] {
	var used atomic.Bool
	return func(yield func(T, error) bool) {
		var zero T
		if used.Swap(true) {
			yield(zero, ErrStreamConsumed)
			return
		}
		if len(ids) == 0 {
			return
		}
		if e.db == nil {
			yield(zero, ErrNotConnected)
			return
		}

		log := logger.FromContext(ctx, e.log)
		fetched := 0
		for chunk := range slices.Chunk(ids, MaxQueryIDs) {
			if !streamChunk(ctx, e, log, op, query, chunk, scan, &fetched, yield) {
				return
			}
		}
	}
}

// streamChunk reports whether the caller should go on with the next chunk.
func streamChunk[T any](ctx context.Context, e *Extractor, log logger.Logger, op, query string, ids []string,
	scan func(*sql.Rows) (T, error), fetched *int, yield func(T, error) bool) bool {
	var zero T
	rows, err := e.db.WithContext(ctx).Raw(query, ids).Rows()
	if err != nil {
		yield(zero, fmt.Errorf("failed to query %s: %w", op, err))
		return false
	}
	defer rows.Close()

	batch := make([]T, 0, e.cfg.FetchSize)
	for {
		batch = batch[:0]
		for len(batch) < e.cfg.FetchSize && rows.Next() {
			v, err := scan(rows)
			if err != nil {
				yield(zero, fmt.Errorf("failed to scan %s: %w", op, err))
				return false
			}
			batch = append(batch, v)
		}
		if len(batch) == 0 {
			break
		}
		*fetched += len(batch)
		log.Debug("fetched batch", "op", op, "rows", len(batch), "total", *fetched)
		for _, v := range batch {
			if !yield(v, nil) {
				return false
			}
		}
		if len(batch) < e.cfg.FetchSize {
			break
		}
	}
	if err := rows.Err(); err != nil {
		yield(zero, fmt.Errorf("failed to read %s: %w", op, err))
		return false
	}
	return true
}

func scanFilmRow(rows *sql.Rows) (models.FilmRow, error) {
	var (
		filmID                                         string
		title, description, kind                       sql.NullString
		personID, personName, role, genreID, genreName sql.NullString
		rating                                         sql.NullFloat64
	)
	err := rows.Scan(&filmID, &title, &description, &rating, &kind,
		&personID, &personName, &role, &genreID, &genreName)
	if err != nil {
		return models.FilmRow{}, err
	}
	row := models.FilmRow{
		FilmID:      filmID,
		Title:       title.String,
		Description: description.String,
		Type:        kind.String,
		PersonID:    personID.String,
		PersonName:  personName.String,
		Role:        role.String,
		GenreID:     genreID.String,
		GenreName:   genreName.String,
	}
	if rating.Valid {
		v := rating.Float64
		row.Rating = &v
	}
	return row, nil
}

func scanPersonRow(rows *sql.Rows) (models.LinkRow, error) {
	var (
		id                        string
		name, role, filmID, title sql.NullString
	)
	if err := rows.Scan(&id, &name, &role, &filmID, &title); err != nil {
		return models.LinkRow{}, err
	}
	return models.LinkRow{
		EntityID:  id,
		Name:      name.String,
		Role:      role.String,
		FilmID:    filmID.String,
		FilmTitle: title.String,
	}, nil
}

func scanGenreRow(rows *sql.Rows) (models.LinkRow, error) {
	var (
		id                  string
		name, filmID, title sql.NullString
	)
	if err := rows.Scan(&id, &name, &filmID, &title); err != nil {
		return models.LinkRow{}, err
	}
	return models.LinkRow{
		EntityID:  id,
		Name:      name.String,
		FilmID:    filmID.String,
		FilmTitle: title.String,
	}, nil
}
