// Package transform folds flat join rows into nested search documents.
// Nothing here does I/O: the same rows always produce the same documents.
package transform

import (
	"strings"

	"github.com/filmindex/filmsync/pkg/models"
)

// MovieMerger accumulates FilmRows into Movie documents keyed by film id.
// Movies are returned in the order their id was first seen.
type MovieMerger struct {
	index   map[string]int
	movies  []models.Movie
	persons models.RefSet
	genres  models.RefSet
	skipped int
}

func NewMovieMerger() *MovieMerger {
	return &MovieMerger{index: make(map[string]int)}
}

func (m *MovieMerger) Add(row models.FilmRow) {
	movie := m.getOrCreate(row)

	if row.PersonName != "" && row.Role != "" {
		role := strings.ToLower(row.Role)
		if people := movie.People(role); people != nil {
			people.Add(models.Ref{ID: row.PersonID, Name: row.PersonName})
			m.persons.Add(models.Ref{ID: row.PersonID, Name: row.PersonName})
		} else {
			m.skipped++
		}
	}

	if row.GenreName != "" {
		movie.Genres.Add(models.Ref{ID: row.GenreID, Name: row.GenreName})
		m.genres.Add(models.Ref{ID: row.GenreID, Name: row.GenreName})
	}
}

func (m *MovieMerger) getOrCreate(row models.FilmRow) *models.Movie {
	if i, ok := m.index[row.FilmID]; ok {
		return &m.movies[i]
	}
	m.index[row.FilmID] = len(m.movies)
	m.movies = append(m.movies, models.Movie{
		ID:          row.FilmID,
		Title:       row.Title,
		Description: row.Description,
		Rating:      row.Rating,
		Type:        row.Type,
	})
	return &m.movies[len(m.movies)-1]
}

// Movies returns the merged documents. The merger must not be used after.
func (m *MovieMerger) Movies() []models.Movie {
	if m.movies == nil {
		return []models.Movie{}
	}
	return m.movies
}

// PersonIDs lists every person attached to some movie, in first-seen order.
func (m *MovieMerger) PersonIDs() []string {
	return m.persons.IDs()
}

// GenreIDs lists every genre attached to some movie, in first-seen order.
func (m *MovieMerger) GenreIDs() []string {
	return m.genres.IDs()
}

// Skipped counts rows whose role is none of director, actor or writer.
func (m *MovieMerger) Skipped() int {
	return m.skipped
}

func MergeMovies(rows []models.FilmRow) []models.Movie {
	m := NewMovieMerger()
	for _, row := range rows {
		m.Add(row)
	}
	return m.Movies()
}
