// Package fakees provides a fake Elasticsearch HTTP server for tests.
//
// It understands just enough of the REST API for filmsync: index creation
// (PUT /{index}) and NDJSON bulk writes (POST /{index}/_bulk and
// POST /_bulk). Documents are kept in memory per index.
//
// Failures can be injected for the next N requests, either as HTTP error
// statuses or by dropping the connection, and single documents can be
// rejected by id to produce partial bulk failures.
package fakees

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

// FailureType is how a request is made to fail.
type FailureType string

const (
	// FailureDropConnection closes the TCP connection without responding.
	FailureDropConnection FailureType = "drop_connection"
	// FailureUnavailable answers 503 Service Unavailable.
	FailureUnavailable FailureType = "unavailable"
	// FailureTooManyRequests answers 429 Too Many Requests.
	FailureTooManyRequests FailureType = "too_many_requests"
	// FailureRequestDelay sleeps for Delay, then handles the request normally.
	FailureRequestDelay FailureType = "request_delay"
)

// FailureConfig is one queued failure.
type FailureConfig struct {
	Type  FailureType
	Delay time.Duration
}

// Rejection describes how a rejected document is reported in a bulk response.
type Rejection struct {
	Status int
	Type   string
	Reason string
}

type indexState struct {
	body []byte
	docs map[string]json.RawMessage
}

type Server struct {
	mu          sync.Mutex
	srv         *httptest.Server
	indices     map[string]*indexState
	failures    []FailureConfig
	rejections  map[string]Rejection
	createError map[string]int
	requests    int
	bulkCalls   int
	createCalls int
}

func NewServer() *Server {
	return &Server{
		indices:     make(map[string]*indexState),
		rejections:  make(map[string]Rejection),
		createError: make(map[string]int),
	}
}

// Start listens on a random local port.
func (s *Server) Start() {
	r := mux.NewRouter()
	r.Use(s.productHeader, s.countAndFail)
	r.HandleFunc("/", s.handleInfo).Methods(http.MethodGet)
	r.HandleFunc("/_bulk", s.handleBulk).Methods(http.MethodPost, http.MethodPut)
	r.HandleFunc("/{index}/_bulk", s.handleBulk).Methods(http.MethodPost, http.MethodPut)
	r.HandleFunc("/{index}", s.handleCreateIndex).Methods(http.MethodPut)
	r.HandleFunc("/{index}", s.handleIndexExists).Methods(http.MethodHead)
	s.srv = httptest.NewServer(r)
}

func (s *Server) Stop() {
	if s.srv != nil {
		s.srv.Close()
	}
}

// URL is the base address, e.g. http://127.0.0.1:41234.
func (s *Server) URL() string {
	return s.srv.URL
}

// Endpoint splits URL into scheme, host and port.
func (s *Server) Endpoint() (scheme, host string, port int) {
	u, err := url.Parse(s.srv.URL)
	if err != nil {
		panic(err)
	}
	h, p, err := net.SplitHostPort(u.Host)
	if err != nil {
		panic(err)
	}
	port, err = strconv.Atoi(p)
	if err != nil {
		panic(err)
	}
	return u.Scheme, h, port
}

// FailNext makes the next n requests fail with the given failure.
func (s *Server) FailNext(n int, f FailureConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.failures = append(s.failures, f)
	}
}

// RejectIDs makes bulk index actions for these document ids fail with a
// 400 mapper_parsing_exception.
func (s *Server) RejectIDs(ids ...string) {
	for _, id := range ids {
		s.Reject(id, Rejection{
			Status: http.StatusBadRequest,
			Type:   "mapper_parsing_exception",
			Reason: "failed to parse field [imdb_rating] of type [float]",
		})
	}
}

func (s *Server) Reject(id string, r Rejection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejections[id] = r
}

// Accept clears a rejection set with Reject or RejectIDs.
func (s *Server) Accept(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rejections, id)
}

// FailCreate makes PUT /{index} answer status with an illegal_argument_exception.
func (s *Server) FailCreate(index string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createError[index] = status
}

// CreateIndex pre-creates an index, as if another process had done so.
func (s *Server) CreateIndex(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indices[name]; !ok {
		s.indices[name] = &indexState{docs: make(map[string]json.RawMessage)}
	}
}

// Indices returns the names of existing indices.
func (s *Server) Indices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.indices))
	for name := range s.indices {
		names = append(names, name)
	}
	return names
}

// IndexBody returns the body the index was created with.
func (s *Server) IndexBody(name string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.indices[name]; ok {
		return idx.body
	}
	return nil
}

// Documents returns every stored document of an index, decoded.
func (s *Server) Documents(index string) map[string]map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]map[string]any)
	idx, ok := s.indices[index]
	if !ok {
		return out
	}
	for id, raw := range idx.docs {
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err == nil {
			out[id] = doc
		}
	}
	return out
}

// Requests counts every request received, failed ones included.
func (s *Server) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// BulkCalls counts bulk requests that reached the handler.
func (s *Server) BulkCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bulkCalls
}

// CreateCalls counts index creation requests that reached the handler.
func (s *Server) CreateCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createCalls
}

func (s *Server) productHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) countAndFail(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests++
		var failure *FailureConfig
		if len(s.failures) > 0 {
			f := s.failures[0]
			s.failures = s.failures[1:]
			failure = &f
		}
		s.mu.Unlock()

		if failure == nil {
			next.ServeHTTP(w, r)
			return
		}
		switch failure.Type {
		case FailureDropConnection:
			hj, ok := w.(http.Hijacker)
			if !ok {
				http.Error(w, "hijacking not supported", http.StatusInternalServerError)
				return
			}
			conn, _, err := hj.Hijack()
			if err == nil {
				_ = conn.Close()
			}
		case FailureUnavailable:
			writeError(w, http.StatusServiceUnavailable, "unavailable_shards_exception", "no shard available")
		case FailureTooManyRequests:
			writeError(w, http.StatusTooManyRequests, "es_rejected_execution_exception", "rejected execution")
		case FailureRequestDelay:
			time.Sleep(failure.Delay)
			next.ServeHTTP(w, r)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":         "fakees",
		"cluster_name": "filmsync-test",
		"version":      map[string]any{"number": "8.13.0", "build_flavor": "default"},
		"tagline":      "You Know, for Search",
	})
}

func (s *Server) handleIndexExists(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["index"]
	s.mu.Lock()
	_, ok := s.indices[name]
	s.mu.Unlock()
	if ok {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func (s *Server) handleCreateIndex(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["index"]
	body, err := readAll(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "parse_exception", err.Error())
		return
	}
	if len(body) > 0 && !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "parse_exception", "request body is not valid JSON")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++

	if status, ok := s.createError[name]; ok {
		writeError(w, status, "illegal_argument_exception", "unknown setting [index.foo]")
		return
	}
	if _, ok := s.indices[name]; ok {
		writeError(w, http.StatusBadRequest, "resource_already_exists_exception",
			fmt.Sprintf("index [%s/abc123] already exists", name))
		return
	}
	s.indices[name] = &indexState{body: body, docs: make(map[string]json.RawMessage)}
	writeJSON(w, http.StatusOK, map[string]any{
		"acknowledged":        true,
		"shards_acknowledged": true,
		"index":               name,
	})
}

type bulkAction struct {
	Index string `json:"_index"`
	ID    string `json:"_id"`
}

func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request) {
	defaultIndex := mux.Vars(r)["index"]
	body, err := readAll(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "parse_exception", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulkCalls++

	start := time.Now()
	items := []map[string]any{}
	hasErrors := false

	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var action map[string]bulkAction
		if err := json.Unmarshal(line, &action); err != nil {
			writeError(w, http.StatusBadRequest, "illegal_argument_exception", "malformed action/metadata line")
			return
		}
		op, meta, ok := single(action)
		if !ok || op != "index" {
			writeError(w, http.StatusBadRequest, "illegal_argument_exception", "only index actions are supported")
			return
		}
		if !sc.Scan() {
			writeError(w, http.StatusBadRequest, "illegal_argument_exception", "missing document source")
			return
		}
		source := append(json.RawMessage(nil), bytes.TrimSpace(sc.Bytes())...)

		index := meta.Index
		if index == "" {
			index = defaultIndex
		}
		item := map[string]any{"_index": index, "_id": meta.ID}

		if rej, rejected := s.rejections[meta.ID]; rejected {
			hasErrors = true
			item["status"] = rej.Status
			item["error"] = map[string]any{"type": rej.Type, "reason": rej.Reason}
		} else if !json.Valid(source) {
			hasErrors = true
			item["status"] = http.StatusBadRequest
			item["error"] = map[string]any{"type": "mapper_parsing_exception", "reason": "failed to parse"}
		} else {
			idx, ok := s.indices[index]
			if !ok {
				// auto-create, as a default cluster would
				idx = &indexState{docs: make(map[string]json.RawMessage)}
				s.indices[index] = idx
			}
			status := http.StatusCreated
			result := "created"
			if _, exists := idx.docs[meta.ID]; exists {
				status = http.StatusOK
				result = "updated"
			}
			idx.docs[meta.ID] = source
			item["status"] = status
			item["result"] = result
		}
		items = append(items, map[string]any{"index": item})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"took":   time.Since(start).Milliseconds(),
		"errors": hasErrors,
		"items":  items,
	})
}

func single(m map[string]bulkAction) (string, bulkAction, bool) {
	if len(m) != 1 {
		return "", bulkAction{}, false
	}
	for k, v := range m {
		return k, v, true
	}
	return "", bulkAction{}, false
}

func readAll(r *http.Request) ([]byte, error) {
	var buf bytes.Buffer
	if r.Body == nil {
		return nil, nil
	}
	_, err := buf.ReadFrom(r.Body)
	return buf.Bytes(), err
}

func writeError(w http.ResponseWriter, status int, errType, reason string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"root_cause": []any{map[string]any{"type": errType, "reason": reason}},
			"type":       errType,
			"reason":     reason,
		},
		"status": status,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
