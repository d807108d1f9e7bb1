package search

import "github.com/filmindex/filmsync/pkg/models"

// PersonRef is a person inside a movie document.
type PersonRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FilmRef is a film inside a person or genre document.
type FilmRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// MovieDocument is what the movies index stores. Every list is non-nil so
// it encodes as [] rather than null.
type MovieDocument struct {
	ID           string      `json:"id"`
	IMDBRating   *float64    `json:"imdb_rating"`
	Genre        []string    `json:"genre"`
	Title        string      `json:"title"`
	Description  string      `json:"description"`
	Director     []string    `json:"director"`
	ActorsNames  []string    `json:"actors_names"`
	WritersNames []string    `json:"writers_names"`
	Actors       []PersonRef `json:"actors"`
	Writers      []PersonRef `json:"writers"`
}

type PersonDocument struct {
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	Roles []string  `json:"roles"`
	Films []FilmRef `json:"films"`
}

type GenreDocument struct {
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	Films []FilmRef `json:"films"`
}

func ProjectMovie(m *models.Movie) MovieDocument {
	return MovieDocument{
		ID:           m.ID,
		IMDBRating:   m.Rating,
		Genre:        m.Genres.Names(),
		Title:        m.Title,
		Description:  m.Description,
		Director:     m.Directors.Names(),
		ActorsNames:  m.Actors.Names(),
		WritersNames: m.Writers.Names(),
		Actors:       personRefs(&m.Actors),
		Writers:      personRefs(&m.Writers),
	}
}

func ProjectPerson(p *models.Person) PersonDocument {
	roles := p.Roles
	if roles == nil {
		roles = []string{}
	}
	return PersonDocument{
		ID:    p.ID,
		Name:  p.Name,
		Roles: roles,
		Films: filmRefs(&p.Films),
	}
}

func ProjectGenre(g *models.Genre) GenreDocument {
	return GenreDocument{
		ID:    g.ID,
		Name:  g.Name,
		Films: filmRefs(&g.Films),
	}
}

func personRefs(s *models.RefSet) []PersonRef {
	out := make([]PersonRef, 0, s.Len())
	for _, r := range s.Items() {
		out = append(out, PersonRef{ID: r.ID, Name: r.Name})
	}
	return out
}

func filmRefs(s *models.RefSet) []FilmRef {
	out := make([]FilmRef, 0, s.Len())
	for _, r := range s.Items() {
		out = append(out, FilmRef{ID: r.ID, Title: r.Name})
	}
	return out
}
