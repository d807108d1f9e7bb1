package search

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/filmindex/filmsync/pkg/models"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrInvalidMapping is returned for an index definition that is not JSON
// or does not look like index settings and mappings.
var ErrInvalidMapping = errors.New("invalid index mapping")

//go:embed mappings/*.json
var embedded embed.FS

const schemaURL = "schema://filmsync/index.schema.json"

// Mappings holds the index creation body for each kind.
type Mappings struct {
	Movies  []byte
	Persons []byte
	Genres  []byte
}

// For returns the body for kind, or nil for an unknown kind.
func (m Mappings) For(kind models.Kind) []byte {
	switch kind {
	case models.KindMovie:
		return m.Movies
	case models.KindPerson:
		return m.Persons
	case models.KindGenre:
		return m.Genres
	default:
		return nil
	}
}

// DefaultMappings returns the built-in definitions.
func DefaultMappings() Mappings {
	return Mappings{
		Movies:  mustRead("mappings/movies.json"),
		Persons: mustRead("mappings/roles.json"),
		Genres:  mustRead("mappings/genres.json"),
	}
}

func mustRead(name string) []byte {
	data, err := embedded.ReadFile(name)
	if err != nil {
		panic(err)
	}
	return data
}

// LoadMappings reads movies.json, roles.json and genres.json from dir and
// validates each of them.
func LoadMappings(dir string) (Mappings, error) {
	var m Mappings
	files := []struct {
		name string
		dst  *[]byte
	}{
		{"movies.json", &m.Movies},
		{"roles.json", &m.Persons},
		{"genres.json", &m.Genres},
	}
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		data, err := os.ReadFile(path)
		if err != nil {
			return Mappings{}, fmt.Errorf("failed to read mapping: %w", err)
		}
		if err := ValidateMapping(data); err != nil {
			return Mappings{}, fmt.Errorf("%s: %w", path, err)
		}
		*f.dst = data
	}
	return m, nil
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(mustRead("mappings/index.schema.json")))
		if err != nil {
			schemaErr = fmt.Errorf("parse index schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("add index schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// ValidateMapping checks data against the index definition schema.
func ValidateMapping(data []byte) error {
	sch, err := compiledSchema()
	if err != nil {
		return err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMapping, err)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMapping, err)
	}
	return nil
}
