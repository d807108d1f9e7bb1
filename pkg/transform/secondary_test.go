package transform_test

import (
	"testing"

	"github.com/filmindex/filmsync/pkg/models"
	"github.com/filmindex/filmsync/pkg/transform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergePersons(t *testing.T) {
	rows := []models.LinkRow{
		{EntityID: "p1", Name: "George Lucas", Role: "director", FilmID: "f1", FilmTitle: "Star Wars"},
		{EntityID: "p1", Name: "George Lucas", Role: "Writer", FilmID: "f1", FilmTitle: "Star Wars"},
		{EntityID: "p2", Name: "Mark Hamill", Role: "actor", FilmID: "f1", FilmTitle: "Star Wars"},
		{EntityID: "p1", Name: "George Lucas", Role: "director", FilmID: "f3", FilmTitle: "THX 1138"},
		{EntityID: "p1", Name: "George Lucas", Role: "director", FilmID: "f3", FilmTitle: "THX 1138"},
		{EntityID: "p9", Name: "Nobody Yet"},
	}

	persons := transform.MergePersons(rows)
	require.Len(t, persons, 3)

	assert.Equal(t, "George Lucas", persons[0].Name)
	assert.Equal(t, []string{"director", "writer"}, persons[0].Roles)
	assert.Equal(t, []models.Ref{{ID: "f1", Name: "Star Wars"}, {ID: "f3", Name: "THX 1138"}}, persons[0].Films.Items())

	assert.Equal(t, []string{"actor"}, persons[1].Roles)

	assert.Equal(t, "p9", persons[2].ID)
	assert.Empty(t, persons[2].Roles)
	assert.NotNil(t, persons[2].Roles)
	assert.Zero(t, persons[2].Films.Len())
}

func TestMergeGenres(t *testing.T) {
	rows := []models.LinkRow{
		{EntityID: "g1", Name: "Sci-Fi", FilmID: "f1", FilmTitle: "Star Wars"},
		{EntityID: "g2", Name: "Adventure", FilmID: "f1", FilmTitle: "Star Wars"},
		{EntityID: "g1", Name: "Sci-Fi", FilmID: "f1", FilmTitle: "Star Wars"},
		{EntityID: "g1", Name: "Sci-Fi", FilmID: "f3", FilmTitle: "THX 1138"},
	}

	genres := transform.MergeGenres(rows)
	require.Len(t, genres, 2)
	assert.Equal(t, []string{"f1", "f3"}, genres[0].Films.IDs())
	assert.Equal(t, []string{"Star Wars"}, genres[1].Films.Names())

	assert.Equal(t, genres, transform.MergeGenres(append(rows, rows[1])))
	assert.Empty(t, transform.MergeGenres(nil))
}
