// Package search writes filmsync documents into Elasticsearch.
//
// A [Loader] creates the indices and sends batches of documents through the
// bulk API. The client's own retries are turned off: transport failures and
// overload statuses (429, 502, 503, 504) are retried by [retry.Do] under the
// transport policy, so every attempt is logged in one place. Documents the
// cluster rejects come back in a [Report] and never fail the batch.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/filmindex/filmsync/pkg/logger"
	"github.com/filmindex/filmsync/pkg/models"
	"github.com/filmindex/filmsync/pkg/retry"
)

// ErrUnknownKind is returned by Send for a batch it has no projection for.
var ErrUnknownKind = errors.New("unknown entity kind")

const DefaultBulkSize = 500

// IndexNames maps each kind to its index.
type IndexNames struct {
	Movies  string
	Persons string
	Genres  string
}

func DefaultIndexNames() IndexNames {
	return IndexNames{Movies: "movies", Persons: "roles", Genres: "genres"}
}

func (n IndexNames) For(kind models.Kind) string {
	switch kind {
	case models.KindMovie:
		return n.Movies
	case models.KindPerson:
		return n.Persons
	case models.KindGenre:
		return n.Genres
	default:
		return ""
	}
}

type Config struct {
	Host     string
	Port     int
	Scheme   string
	BulkSize int
	Indices  IndexNames
}

// URL is the cluster address built from Scheme, Host and Port.
func (c Config) URL() string {
	scheme := c.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)
}

type Loader struct {
	cfg       Config
	es        *elasticsearch.Client
	log       logger.Logger
	policy    retry.Policy
	transport http.RoundTripper
}

type Option func(*Loader)

func WithLogger(log logger.Logger) Option {
	return func(l *Loader) {
		l.log = log
	}
}

// WithPolicy replaces the transport policy (500 attempts, exponential).
func WithPolicy(p retry.Policy) Option {
	return func(l *Loader) {
		l.policy = p
	}
}

func WithTransport(rt http.RoundTripper) Option {
	return func(l *Loader) {
		l.transport = rt
	}
}

func NewLoader(cfg Config, opts ...Option) (*Loader, error) {
	if cfg.BulkSize <= 0 {
		cfg.BulkSize = DefaultBulkSize
	}
	if cfg.Indices == (IndexNames{}) {
		cfg.Indices = DefaultIndexNames()
	}
	l := &Loader{
		cfg:     cfg,
		log:     logger.Nop(),
		policy:  retry.TransportPolicy(),
	}
	for _, opt := range opts {
		opt(l)
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    []string{cfg.URL()},
		DisableRetry: true,
		Transport:    l.transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	l.es = es
	return l, nil
}

func (l *Loader) Indices() IndexNames {
	return l.cfg.Indices
}

// statusError is a non-2xx answer from the cluster.
type statusError struct {
	Status int
	Type   string
	Reason string
}

func (e *statusError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("elasticsearch: status %d", e.Status)
	}
	return fmt.Sprintf("elasticsearch: status %d: %s: %s", e.Status, e.Type, e.Reason)
}

func readStatusError(res *esapi.Response) *statusError {
	se := &statusError{Status: res.StatusCode}
	var body struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil || len(body.Error) == 0 {
		return se
	}
	var detail struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(body.Error, &detail); err == nil {
		se.Type, se.Reason = detail.Type, detail.Reason
	} else {
		se.Reason = strings.Trim(string(body.Error), `"`)
	}
	return se
}

// classify turns an error response into a transient error, or a permanent
// one the retry loop must not repeat.
func classify(res *esapi.Response) error {
	se := readStatusError(res)
	switch res.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return se
	default:
		return retry.Permanent(se)
	}
}

func drain(res *esapi.Response) {
	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()
}

// EnsureIndex creates the index from mapping. An index that already exists
// counts as success.
func (l *Loader) EnsureIndex(ctx context.Context, name string, mapping []byte) error {
	log := logger.FromContext(ctx, l.log)
	created := false
	err := retry.Do(ctx, l.policy, "ensure index "+name, log, func(ctx context.Context) error {
		res, err := l.es.Indices.Create(name,
			l.es.Indices.Create.WithBody(bytes.NewReader(mapping)),
			l.es.Indices.Create.WithContext(ctx))
		if err != nil {
			return err
		}
		defer drain(res)

		if !res.IsError() {
			created = true
			return nil
		}
		cerr := classify(res)
		var se *statusError
		if errors.As(cerr, &se) && se.Status == http.StatusBadRequest && se.Type == "resource_already_exists_exception" {
			return nil
		}
		return cerr
	})
	if err != nil {
		return fmt.Errorf("failed to ensure index %s: %w", name, err)
	}
	if created {
		log.Info("index created", "index", name)
	} else {
		log.Debug("index exists", "index", name)
	}
	return nil
}

// EnsureIndices ensures the index of every kind.
func (l *Loader) EnsureIndices(ctx context.Context, mappings Mappings) error {
	for _, kind := range models.Kinds {
		if err := l.EnsureIndex(ctx, l.cfg.Indices.For(kind), mappings.For(kind)); err != nil {
			return err
		}
	}
	return nil
}

// Failure is one document the cluster refused.
type Failure struct {
	ID     string
	Status int
	Reason string
}

// Report summarizes one Send.
type Report struct {
	Kind    models.Kind
	Index   string
	Indexed int
	Failed  []Failure
}

// FailedIDs lists the ids in Failed.
func (r *Report) FailedIDs() []string {
	ids := make([]string, len(r.Failed))
	for i, f := range r.Failed {
		ids[i] = f.ID
	}
	return ids
}

type action struct {
	id  string
	doc any
}

func (l *Loader) project(batch models.Batch) (string, []action, error) {
	switch b := batch.(type) {
	case models.MovieBatch:
		acts := make([]action, len(b))
		for i := range b {
			acts[i] = action{id: b[i].ID, doc: ProjectMovie(&b[i])}
		}
		return l.cfg.Indices.Movies, acts, nil
	case models.PersonBatch:
		acts := make([]action, len(b))
		for i := range b {
			acts[i] = action{id: b[i].ID, doc: ProjectPerson(&b[i])}
		}
		return l.cfg.Indices.Persons, acts, nil
	case models.GenreBatch:
		acts := make([]action, len(b))
		for i := range b {
			acts[i] = action{id: b[i].ID, doc: ProjectGenre(&b[i])}
		}
		return l.cfg.Indices.Genres, acts, nil
	default:
		return "", nil, fmt.Errorf("%w: %T", ErrUnknownKind, batch)
	}
}

func encodeBulk(acts []action) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, a := range acts {
		meta := map[string]map[string]string{"index": {"_id": a.id}}
		if err := enc.Encode(meta); err != nil {
			return nil, err
		}
		if err := enc.Encode(a.doc); err != nil {
			return nil, fmt.Errorf("encode document %s: %w", a.id, err)
		}
	}
	return buf.Bytes(), nil
}

type bulkResponse struct {
	Errors bool                        `json:"errors"`
	Items  []map[string]bulkItemResult `json:"items"`
}

type bulkItemResult struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

// Send projects every document of batch and writes them with the bulk
// API, BulkSize actions per request. Rejected documents are logged and
// reported. The returned error is set only when a request could not be
// delivered within the retry policy, or for a batch of unknown kind.
func (l *Loader) Send(ctx context.Context, batch models.Batch) (*Report, error) {
	index, acts, err := l.project(batch)
	if err != nil {
		return nil, err
	}
	report := &Report{Kind: batch.Kind(), Index: index}
	log := logger.FromContext(ctx, l.log)

	for start := 0; start < len(acts); start += l.cfg.BulkSize {
		end := min(start+l.cfg.BulkSize, len(acts))
		chunk := acts[start:end]
		if err := l.sendChunk(ctx, index, chunk, report); err != nil {
			return report, err
		}
	}

	for _, f := range report.Failed {
		log.Warn("document rejected", "index", index, "id", f.ID, "status", f.Status, "reason", f.Reason)
	}
	log.Info("batch sent", "index", index, "kind", report.Kind.String(),
		"indexed", report.Indexed, "failed", len(report.Failed))
	return report, nil
}

func (l *Loader) sendChunk(ctx context.Context, index string, chunk []action, report *Report) error {
	body, err := encodeBulk(chunk)
	if err != nil {
		return err
	}

	var resp bulkResponse
	op := "bulk " + index + " (" + strconv.Itoa(len(chunk)) + " docs)"
	err = retry.Do(ctx, l.policy, op, logger.FromContext(ctx, l.log), func(ctx context.Context) error {
		res, err := l.es.Bulk(bytes.NewReader(body),
			l.es.Bulk.WithIndex(index),
			l.es.Bulk.WithContext(ctx))
		if err != nil {
			return err
		}
		defer drain(res)
		if res.IsError() {
			return classify(res)
		}
		resp = bulkResponse{}
		if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
			return fmt.Errorf("decode bulk response: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, item := range resp.Items {
		for _, r := range item {
			if r.Status >= 200 && r.Status < 300 {
				report.Indexed++
				continue
			}
			f := Failure{ID: r.ID, Status: r.Status}
			if r.Error != nil {
				f.Reason = r.Error.Type + ": " + r.Error.Reason
			}
			report.Failed = append(report.Failed, f)
		}
	}
	return nil
}
