package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"whattoeat/config"
)

func TestRun_NoRemote(t *testing.T) {
	err := run(context.Background(), config.Config{}, "../../internal/catalog/testdata/recipes.csv", zap.NewNop().Sugar())
	assert.ErrorIs(t, err, errNoRemote)
}

func TestRun_MissingFile(t *testing.T) {
	err := run(context.Background(), config.Config{}, "does-not-exist.csv", zap.NewNop().Sugar())
	assert.Error(t, err)
}

func TestRun_InsertsMissingDishes(t *testing.T) {
	var mu sync.Mutex
	var inserted []map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.URL.Path, "/rest/v1/dishes"))
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`[{"id":"1","name":"红烧肉"}]`))
		case http.MethodPost:
			var rows []map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&rows))
			mu.Lock()
			inserted = append(inserted, rows...)
			mu.Unlock()
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer srv.Close()

	cfg := config.Config{
		Backend: config.Backend{URL: srv.URL, Key: "anon-key", Timeout: time.Second},
		Retry:   config.Retry{Attempts: 1, Delay: time.Millisecond},
	}
	err := run(context.Background(), cfg, "../../internal/catalog/testdata/recipes.csv", zap.NewNop().Sugar())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, inserted, 3)
	for _, row := range inserted {
		assert.NotEqual(t, "红烧肉", row["name"])
	}
}
