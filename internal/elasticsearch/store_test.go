package elasticsearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"

	"artifact-ingest/config"
)

func TestIndexName(t *testing.T) {
	assert.Equal(t, "artifacts-bodyfile", IndexName("artifacts", "bodyfile"))
	assert.Equal(t, "ps_axo", IndexName("", "PS_AXO"))
}

// fakeBulkServer answers _bulk requests, failing items whose body contains
// failMarker.
func fakeBulkServer(t *testing.T, failMarker string) (*httptest.Server, *[]string) {
	var mu sync.Mutex
	var indices []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		if !strings.HasSuffix(r.URL.Path, "/_bulk") {
			fmt.Fprint(w, `{}`)
			return
		}
		body, _ := io.ReadAll(r.Body)
		lines := strings.Split(strings.TrimSpace(string(body)), "\n")
		mu.Lock()
		indices = append(indices, r.URL.Path)
		mu.Unlock()

		var items []string
		hasErrors := false
		for i := 1; i < len(lines); i += 2 {
			if failMarker != "" && strings.Contains(lines[i], failMarker) {
				hasErrors = true
				items = append(items, `{"index":{"status":400,"error":{"type":"mapper_parsing_exception","reason":"bad"}}}`)
				continue
			}
			items = append(items, `{"index":{"status":201}}`)
		}
		fmt.Fprintf(w, `{"took":1,"errors":%t,"items":[%s]}`, hasErrors, strings.Join(items, ","))
	}))
	t.Cleanup(srv.Close)
	return srv, &indices
}

func testStore(t *testing.T, url string) *elasticEventStore {
	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{url}})
	require.NoError(t, err)
	return newStore(client, config.ElasticsearchConfig{IndexPrefix: "artifacts", BulkWorkers: 1, FlushBytes: 1 << 20})
}

func TestStore_Send(t *testing.T) {
	srv, indices := fakeBulkServer(t, "")
	store := testStore(t, srv.URL)

	events := []json.RawMessage{
		json.RawMessage(`{"principal":{"hostname":"web-01"}}`),
		json.RawMessage(`{"principal":{"hostname":"db-02"}}`),
	}
	require.NoError(t, store.Send(context.Background(), "bodyfile", events))
	require.NotEmpty(t, *indices)
	assert.Equal(t, "/artifacts-bodyfile/_bulk", (*indices)[0])
	assert.Equal(t, "elasticsearch", store.Name())
}

func TestStore_SendReportsItemFailures(t *testing.T) {
	srv, _ := fakeBulkServer(t, "poison")
	store := testStore(t, srv.URL)

	events := []json.RawMessage{
		json.RawMessage(`{"ok":true}`),
		json.RawMessage(`{"poison":true}`),
	}
	err := store.Send(context.Background(), "bodyfile", events)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 events failed")
}

func TestNewElasticEventStore_Disabled(t *testing.T) {
	store, err := NewElasticEventStore(fxtest.NewLifecycle(t), &config.Config{})
	require.NoError(t, err)
	assert.Nil(t, store)
}
