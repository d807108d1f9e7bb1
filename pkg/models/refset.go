package models

// Ref is an id with a display value: a person name, genre name or film title.
type Ref struct {
	ID   string
	Name string
}

// RefSet is an id-keyed collection that remembers insertion order.
// The zero value is ready to use.
type RefSet struct {
	index map[string]int
	items []Ref
}

// Add inserts ref unless its id is already present. It reports whether
// the set changed.
func (s *RefSet) Add(ref Ref) bool {
	if s.index == nil {
		s.index = make(map[string]int)
	}
	if _, ok := s.index[ref.ID]; ok {
		return false
	}
	s.index[ref.ID] = len(s.items)
	s.items = append(s.items, ref)
	return true
}

func (s *RefSet) Has(id string) bool {
	_, ok := s.index[id]
	return ok
}

func (s *RefSet) Len() int {
	return len(s.items)
}

// Items returns the refs in insertion order. The slice is a copy and
// never nil.
func (s *RefSet) Items() []Ref {
	out := make([]Ref, len(s.items))
	copy(out, s.items)
	return out
}

// IDs returns the ids in insertion order.
func (s *RefSet) IDs() []string {
	out := make([]string, len(s.items))
	for i, r := range s.items {
		out[i] = r.ID
	}
	return out
}

// Names returns the display values in insertion order.
func (s *RefSet) Names() []string {
	out := make([]string, len(s.items))
	for i, r := range s.items {
		out[i] = r.Name
	}
	return out
}
