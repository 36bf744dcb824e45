package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"dream-weaver-go/internal/config"
	"dream-weaver-go/internal/model"
	"dream-weaver-go/pkg/es"
	"dream-weaver-go/pkg/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProcessor(t *testing.T, status int) (*Processor, *sync.Map) {
	t.Helper()
	docs := &sync.Map{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/dreams/_doc/") {
			body, _ := io.ReadAll(r.Body)
			var doc model.DreamDocument
			_ = json.Unmarshal(body, &doc)
			docs.Store(strings.TrimPrefix(r.URL.Path, "/dreams/_doc/"), doc)
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{}`))
			return
		}
		_, _ = w.Write([]byte(`{"version":{"number":"8.19.0","build_flavor":"default"},"tagline":"You Know, for Search"}`))
	}))
	t.Cleanup(srv.Close)

	client, err := es.NewClient(config.ElasticsearchConfig{Addresses: srv.URL})
	require.NoError(t, err)
	return NewProcessor(client, "dreams"), docs
}

func TestProcessor_IndexDream(t *testing.T) {
	p, docs := newProcessor(t, http.StatusCreated)

	entry := model.DreamEntry{ID: "d1", Transcript: "a purple ocean", Interpretation: "emotion", Tags: model.Tags{"sea"}, CreatedAt: 5}
	require.NoError(t, p.IndexDream(context.Background(), entry))

	stored, ok := docs.Load("d1")
	require.True(t, ok)
	assert.Equal(t, model.NewDreamDocument(entry), stored)
}

func TestProcessor_Errors(t *testing.T) {
	p, _ := newProcessor(t, http.StatusBadRequest)

	assert.Error(t, p.Process(context.Background(), tasks.DreamIndexTask{}))
	assert.Error(t, p.Process(context.Background(), tasks.DreamIndexTask{DreamID: "d1"}))
}
