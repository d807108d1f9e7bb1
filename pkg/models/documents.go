package models

// Role names used to partition a film's people.
const (
	RoleDirector = "director"
	RoleActor    = "actor"
	RoleWriter   = "writer"
)

// Movie is the root entity document.
type Movie struct {
	ID          string
	Title       string
	Description string
	Rating      *float64
	Type        string

	Directors RefSet
	Actors    RefSet
	Writers   RefSet
	Genres    RefSet
}

// People returns the collection for a lower-cased role name, or nil for a
// role the movie document does not carry.
func (m *Movie) People(role string) *RefSet {
	switch role {
	case RoleDirector:
		return &m.Directors
	case RoleActor:
		return &m.Actors
	case RoleWriter:
		return &m.Writers
	default:
		return nil
	}
}

// Person is a secondary document for someone credited on one or more films.
type Person struct {
	ID    string
	Name  string
	Roles []string
	Films RefSet
}

// Genre is a secondary document for a genre and the films tagged with it.
type Genre struct {
	ID    string
	Name  string
	Films RefSet
}
