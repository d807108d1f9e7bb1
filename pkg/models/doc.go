// Package models holds the rows read from the relational source and the
// documents written to the search index.
package models
