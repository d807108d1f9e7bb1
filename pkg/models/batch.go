package models

import "fmt"

// Kind names an entity kind that has its own search index.
type Kind int

const (
	KindMovie Kind = iota
	KindPerson
	KindGenre
)

// Kinds lists every kind in load order.
var Kinds = []Kind{KindMovie, KindPerson, KindGenre}

func (k Kind) String() string {
	switch k {
	case KindMovie:
		return "movie"
	case KindPerson:
		return "person"
	case KindGenre:
		return "genre"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Batch is a group of documents of one kind. Only the three batch types
// in this package implement it.
type Batch interface {
	Kind() Kind
	Len() int
	batch()
}

type MovieBatch []Movie

func (MovieBatch) Kind() Kind { return KindMovie }
func (b MovieBatch) Len() int { return len(b) }
func (MovieBatch) batch() {}

type PersonBatch []Person

func (PersonBatch) Kind() Kind { return KindPerson }
func (b PersonBatch) Len() int { return len(b) }
func (PersonBatch) batch() {}

type GenreBatch []Genre

func (GenreBatch) Kind() Kind { return KindGenre }
func (b GenreBatch) Len() int { return len(b) }
func (GenreBatch) batch() {}
