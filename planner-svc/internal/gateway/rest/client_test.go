package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"whattoeat/planner-svc/internal/domain"
	"whattoeat/planner-svc/internal/gateway"
	"whattoeat/planner-svc/internal/kv"
	"whattoeat/planner-svc/internal/mocks"
)

var fastRetry = gateway.RetryPolicy{Attempts: 3, Delay: time.Millisecond}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, kv.Store) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store := kv.NewMemory()
	c := New(Config{URL: srv.URL + "/", Key: "anon", Timeout: time.Second, Retry: fastRetry}, srv.Client(), store, zap.NewNop().Sugar())
	return c, store
}

func TestSelect_BuildsQuery(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/rest/v1/meal_history", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "*", q.Get("select"))
		assert.Equal(t, "eq.u1", q.Get("user_id"))
		assert.Equal(t, "eq.700", q.Get("total_calories"))
		assert.Equal(t, "meal_date.desc", q.Get("order"))
		assert.Equal(t, "5", q.Get("limit"))
		assert.Equal(t, "anon", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer anon", r.Header.Get("Authorization"))

		w.Write([]byte(`[{"id":"m1","user_id":"u1","meal_date":"2024-01-02","total_calories":700}]`))
	})

	q := gateway.Where(gateway.Eq("user_id", "u1"), gateway.Eq("total_calories", 700)).OrderBy("meal_date", true).Take(5)
	rows, err := gateway.List[domain.MealHistoryRecord](context.Background(), c, domain.TableMealHistory, q)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "m1", rows[0].ID)
	assert.Equal(t, 700, rows[0].TotalCalories)
}

func TestInsert_RetriesTransientFailures(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "return=representation", r.Header.Get("Prefer"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `[{"user_id":"u1","dish_ids":["a"],"meal_date":"2024-01-02","dishes":null,"total_calories":0,"total_protein":0,"total_carbs":0,"total_fat":0}]`, string(body))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`[{"id":"m9","user_id":"u1"}]`))
	})

	var stored []domain.MealHistoryRecord
	err := c.Insert(context.Background(), domain.TableMealHistory, []domain.MealHistoryRecord{{UserID: "u1", DishIDs: []string{"a"}, MealDate: "2024-01-02"}}, &stored)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	require.Len(t, stored, 1)
	assert.Equal(t, "m9", stored[0].ID)
}

func TestInsert_GivesUpAfterAttempts(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	})

	err := c.Insert(context.Background(), domain.TableMealHistory, []domain.MealHistoryRecord{{UserID: "u1"}}, nil)
	assert.True(t, gateway.IsUnavailable(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestTableMissing(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "postgrest code", body: `{"code":"PGRST205","message":"Could not find the table 'public.user_dishes' in the schema cache"}`},
		{name: "postgres code", body: `{"code":"42P01","message":"relation \"public.user_dishes\" does not exist"}`},
		{name: "message only", body: `{"message":"relation \"public.user_dishes\" does not exist"}`},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			var calls int32
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte(testCase.body))
			})

			err := c.Insert(context.Background(), domain.TableUserDishes, []domain.CustomDish{{UserID: "u1"}}, nil)
			assert.True(t, gateway.IsTableMissing(err))
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "not retried")
		})
	}
}

func TestUpsert_OnConflict(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "user_id", r.URL.Query().Get("on_conflict"))
		assert.Contains(t, r.Header.Get("Prefer"), "resolution=merge-duplicates")
		w.WriteHeader(http.StatusCreated)
	})

	err := c.Upsert(context.Background(), domain.TableSelections, domain.Selection{UserID: "u1", DishIDs: []string{"a"}}, "user_id")
	assert.NoError(t, err)
}

func TestUpdateDelete(t *testing.T) {
	var methods []string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		assert.Equal(t, "eq.d1", r.URL.Query().Get("id"))
		w.WriteHeader(http.StatusNoContent)
	})
	ctx := context.Background()

	require.NoError(t, c.Update(ctx, domain.TableDishes, map[string]any{"calories": 100}, gateway.Eq("id", "d1")))
	require.NoError(t, c.Delete(ctx, domain.TableDishes, gateway.Eq("id", "d1")))
	assert.Equal(t, []string{http.MethodPatch, http.MethodDelete}, methods)

	assert.ErrorIs(t, c.Update(ctx, domain.TableDishes, map[string]any{"calories": 1}), gateway.ErrInvalidQuery)
	assert.ErrorIs(t, c.Delete(ctx, domain.TableDishes), gateway.ErrInvalidQuery)
}

func TestNetworkFailure(t *testing.T) {
	client := mocks.NewHTTPClient(t)
	client.On("Do", mock.Anything).Return(nil, errors.New("connection refused")).Once()

	c := New(Config{URL: "http://backend", Key: "anon", Retry: gateway.RetryPolicy{Attempts: 1}}, client, kv.NewMemory(), zap.NewNop().Sugar())

	var rows []domain.Dish
	err := c.Select(context.Background(), domain.TableDishes, gateway.Query{}, &rows)
	assert.True(t, gateway.IsUnavailable(err))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestUpload(t *testing.T) {
	t.Run("stored", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/storage/v1/object/dish-images/u1/1700-a%20b.png", r.URL.EscapedPath())
			assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
			w.Write([]byte(`{"Key":"dish-images/u1/1700-a b.png"}`))
		})

		url, err := c.Upload(context.Background(), "dish-images", "u1/1700-a b.png", []byte("png"), "image/png")
		require.NoError(t, err)
		assert.Equal(t, c.cfg.URL+"/storage/v1/object/public/dish-images/u1/1700-a%20b.png", url)
	})

	t.Run("retries transient failure", func(t *testing.T) {
		var calls int32
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			assert.Equal(t, "png", string(body))
			if atomic.AddInt32(&calls, 1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"message":"upstream down"}`))
				return
			}
			w.Write([]byte(`{"Key":"dish-images/u1/a.png"}`))
		})

		url, err := c.Upload(context.Background(), "dish-images", "u1/a.png", []byte("png"), "image/png")
		require.NoError(t, err)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
		assert.Equal(t, c.cfg.URL+"/storage/v1/object/public/dish-images/u1/a.png", url)
	})

	t.Run("bucket missing", func(t *testing.T) {
		var calls int32
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"statusCode":"404","error":"Bucket not found","message":"Bucket not found"}`))
		})

		url, err := c.Upload(context.Background(), "dish-images", "u1/a.png", []byte("png"), "image/png")
		require.NoError(t, err)
		assert.Equal(t, "data:image/png;base64,cG5n", url)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})
}

func TestAuth_SessionLifecycle(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		var creds credentials
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		if creds.Password != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid login credentials"}`))
			return
		}
		w.Write([]byte(`{"access_token":"tok","user":{"id":"u1","email":"cook@example.com"}}`))
	})
	mux.HandleFunc("/auth/v1/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"id":"u1","email":"cook@example.com"}`))
	})
	mux.HandleFunc("/auth/v1/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	c, store := newTestClient(t, mux.ServeHTTP)
	ctx := context.Background()
	auth := c.Auth()

	_, err := auth.SignIn(ctx, "cook@example.com", "wrong")
	assert.ErrorIs(t, err, gateway.ErrUnauthorized)

	user, err := auth.SignIn(ctx, "cook@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)

	var session gateway.Session
	found, err := kv.GetJSON(ctx, store, gateway.SessionKey, &session)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "tok", session.AccessToken)

	// a fresh client restores from the stored session
	restored := New(c.cfg, c.client, store, zap.NewNop().Sugar())
	current, err := restored.Auth().CurrentUser(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "cook@example.com", current.Email)

	require.NoError(t, restored.Auth().SignOut(ctx))
	current, err = restored.Auth().CurrentUser(ctx)
	require.NoError(t, err)
	assert.Nil(t, current)
}

func TestAuth_SignUpWithoutSession(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/signup", r.URL.Path)
		w.Write([]byte(`{"id":"u2","email":"new@example.com"}`))
	})

	user, err := c.Auth().SignUp(context.Background(), "new@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "u2", user.ID)
}

func TestAuth_CurrentUserOffline(t *testing.T) {
	client := mocks.NewHTTPClient(t)
	client.On("Do", mock.Anything).Return(nil, errors.New("no route to host")).Once()

	store := kv.NewMemory()
	require.NoError(t, kv.SetJSON(context.Background(), store, gateway.SessionKey, gateway.Session{User: domain.User{ID: "u1"}, AccessToken: "tok"}))

	c := New(Config{URL: "http://backend", Key: "anon"}, client, store, zap.NewNop().Sugar())
	user, err := c.Auth().CurrentUser(context.Background())
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "u1", user.ID)
}
