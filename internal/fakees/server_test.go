package fakees

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(res.Body).Decode(&out)
	return res, out
}

func TestCreateIndex(t *testing.T) {
	s := NewServer()
	s.Start()
	defer s.Stop()

	res, body := do(t, http.MethodPut, s.URL()+"/movies", `{"settings":{}}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "Elasticsearch", res.Header.Get("X-Elastic-Product"))
	assert.Equal(t, true, body["acknowledged"])
	assert.JSONEq(t, `{"settings":{}}`, string(s.IndexBody("movies")))

	res, body = do(t, http.MethodPut, s.URL()+"/movies", `{}`)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "resource_already_exists_exception", body["error"].(map[string]any)["type"])
	assert.Equal(t, 2, s.CreateCalls())
}

func TestBulk(t *testing.T) {
	s := NewServer()
	s.Start()
	defer s.Stop()
	s.RejectIDs("bad")

	payload := `{"index":{"_id":"a"}}
{"title":"A"}
{"index":{"_id":"bad"}}
{"title":"B"}
{"index":{"_index":"genres","_id":"g"}}
{"name":"Drama"}
`
	res, body := do(t, http.MethodPost, s.URL()+"/movies/_bulk", payload)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, true, body["errors"])

	items := body["items"].([]any)
	require.Len(t, items, 3)
	bad := items[1].(map[string]any)["index"].(map[string]any)
	assert.EqualValues(t, http.StatusBadRequest, bad["status"])

	assert.Equal(t, map[string]map[string]any{"a": {"title": "A"}}, s.Documents("movies"))
	assert.Len(t, s.Documents("genres"), 1)
	assert.Equal(t, 1, s.BulkCalls())
}

func TestFailNext(t *testing.T) {
	s := NewServer()
	s.Start()
	defer s.Stop()

	s.FailNext(2, FailureConfig{Type: FailureUnavailable})
	s.FailNext(1, FailureConfig{Type: FailureTooManyRequests})

	res, _ := do(t, http.MethodGet, s.URL()+"/", "")
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	res, _ = do(t, http.MethodGet, s.URL()+"/", "")
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	res, _ = do(t, http.MethodGet, s.URL()+"/", "")
	assert.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	res, _ = do(t, http.MethodGet, s.URL()+"/", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, 4, s.Requests())

	s.FailNext(1, FailureConfig{Type: FailureDropConnection})
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	_, err := client.Get(s.URL() + "/")
	require.Error(t, err)
}
