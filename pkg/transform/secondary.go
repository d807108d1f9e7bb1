package transform

import (
	"slices"
	"strings"

	"github.com/filmindex/filmsync/pkg/models"
)

// MergePersons folds person→film rows into Person documents. Roles are
// lower-cased and kept in first-seen order.
func MergePersons(rows []models.LinkRow) []models.Person {
	index := make(map[string]int)
	out := []models.Person{}
	for _, row := range rows {
		i, ok := index[row.EntityID]
		if !ok {
			i = len(out)
			index[row.EntityID] = i
			out = append(out, models.Person{ID: row.EntityID, Name: row.Name, Roles: []string{}})
		}
		p := &out[i]
		if row.Role != "" {
			role := strings.ToLower(row.Role)
			if !slices.Contains(p.Roles, role) {
				p.Roles = append(p.Roles, role)
			}
		}
		if row.FilmID != "" {
			p.Films.Add(models.Ref{ID: row.FilmID, Name: row.FilmTitle})
		}
	}
	return out
}

// MergeGenres folds genre→film rows into Genre documents.
func MergeGenres(rows []models.LinkRow) []models.Genre {
	index := make(map[string]int)
	out := []models.Genre{}
	for _, row := range rows {
		i, ok := index[row.EntityID]
		if !ok {
			i = len(out)
			index[row.EntityID] = i
			out = append(out, models.Genre{ID: row.EntityID, Name: row.Name})
		}
		if row.FilmID != "" {
			out[i].Films.Add(models.Ref{ID: row.FilmID, Name: row.FilmTitle})
		}
	}
	return out
}
