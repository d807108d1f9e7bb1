package models

// FilmRow is one row of the denormalized film join: a film work repeated
// once per (person, role, genre) combination. Nullable columns from the
// outer joins arrive as empty strings, and a missing rating as nil.
type FilmRow struct {
	FilmID      string
	Title       string
	Description string
	Rating      *float64
	Type        string
	PersonID    string
	PersonName  string
	Role        string
	GenreID     string
	GenreName   string
}

// LinkRow is one row of a person→film or genre→film join.
// Role is empty for genres.
type LinkRow struct {
	EntityID  string
	Name      string
	Role      string
	FilmID    string
	FilmTitle string
}
