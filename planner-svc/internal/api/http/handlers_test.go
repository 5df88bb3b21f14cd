package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"whattoeat/planner-svc/internal/catalog"
	"whattoeat/planner-svc/internal/domain"
	"whattoeat/planner-svc/internal/kv"
	"whattoeat/planner-svc/internal/planner"
	"whattoeat/planner-svc/internal/reconcile"
	"whattoeat/planner-svc/internal/storage"
)

type server struct {
	handler http.Handler
	tasks   *reconcile.Tasks
}

func newServer(t *testing.T) *server {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop().Sugar()

	store, err := storage.NewLocalStore(ctx, kv.NewMemory(), logger)
	require.NoError(t, err)

	tasks := &reconcile.Tasks{}
	status := reconcile.NewStatus()
	rd := reconcile.Deps{Gateway: store, KV: kv.NewMemory(), Status: status, Tasks: tasks, Logger: logger}
	custom := reconcile.NewCustomDishes(rd)
	seed := func() ([]domain.Dish, error) { return catalog.LoadSeedFile("../../catalog/testdata/recipes.csv") }

	p := planner.New(planner.Deps{
		Gateway:      store,
		Catalog:      catalog.NewLoader(store, seed, custom, logger, catalog.WithSeedImport()),
		Selection:    reconcile.NewSelection(rd),
		Cart:         reconcile.NewCart(rd),
		History:      reconcile.NewHistory(rd),
		CustomDishes: custom,
		Status:       status,
		Tasks:        tasks,
		Logger:       logger,
	}, planner.Config{Now: func() time.Time { return time.Date(2024, 3, 15, 12, 0, 0, 0, time.Local) }})
	t.Cleanup(func() {
		tasks.Wait()
		p.Close()
	})
	require.NoError(t, p.Restore(ctx))

	return &server{handler: NewRouter(NewHandler(p, DefaultQRGenerator{}, logger)), tasks: tasks}
}

func (s *server) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func (s *server) login(t *testing.T) {
	t.Helper()
	w := s.do(t, "POST", "/api/auth/login", `{"email":"cook@example.com","password":"pw"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	s := newServer(t)

	w := s.do(t, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "local", body["backend"])
}

func TestAuthHandlers(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		body     string
		wantCode int
	}{
		{name: "login", path: "/api/auth/login", body: `{"email":"a@b.c","password":"pw"}`, wantCode: http.StatusOK},
		{name: "register", path: "/api/auth/register", body: `{"email":"a@b.c","password":"pw"}`, wantCode: http.StatusCreated},
		{name: "invalid JSON", path: "/api/auth/login", body: `{invalid}`, wantCode: http.StatusBadRequest},
		{name: "missing password", path: "/api/auth/login", body: `{"email":"a@b.c"}`, wantCode: http.StatusBadRequest},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			s := newServer(t)
			w := s.do(t, "POST", testCase.path, testCase.body)
			assert.Equal(t, testCase.wantCode, w.Code)
		})
	}
}

func TestCurrentUserAndLogout(t *testing.T) {
	s := newServer(t)

	w := s.do(t, "GET", "/api/auth/user", "")
	assert.Equal(t, `{"user":null}`, strings.TrimSpace(w.Body.String()))

	s.login(t)
	w = s.do(t, "GET", "/api/auth/user", "")
	body := decode[map[string]domain.User](t, w)
	assert.Equal(t, "cook@example.com", body["user"].Email)

	w = s.do(t, "POST", "/api/auth/logout", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestDishes(t *testing.T) {
	s := newServer(t)

	w := s.do(t, "GET", "/api/dishes", "")
	require.Equal(t, http.StatusOK, w.Code)
	dishes := decode[[]domain.Dish](t, w)
	assert.NotEmpty(t, dishes)

	w = s.do(t, "GET", "/api/dishes/categories", "")
	require.Equal(t, http.StatusOK, w.Code)
	groups := decode[[]catalog.CategoryGroup](t, w)
	assert.Equal(t, domain.CategoryMeat, groups[0].Category)

	w = s.do(t, "POST", "/api/dishes/reload", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSelectionFlow(t *testing.T) {
	s := newServer(t)
	s.login(t)

	dishes := decode[[]domain.Dish](t, s.do(t, "GET", "/api/dishes", ""))
	require.NotEmpty(t, dishes)

	w := s.do(t, "POST", "/api/selection/nope/toggle", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, "POST", "/api/selection/"+dishes[0].ID+"/toggle", "")
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[selectionView](t, w)
	assert.Equal(t, []string{dishes[0].ID}, view.DishIDs)
	assert.Equal(t, dishes[0].CaloriesOrZero(), view.Totals.Calories)

	w = s.do(t, "POST", "/api/selection/cart", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, len(decode[[]domain.Ingredient](t, w)), len(decode[[]domain.Ingredient](t, s.do(t, "GET", "/api/cart", ""))))

	w = s.do(t, "POST", "/api/selection/meal", "")
	require.Equal(t, http.StatusCreated, w.Code)
	record := decode[domain.MealHistoryRecord](t, w)
	assert.Equal(t, "2024-03-15", record.MealDate)

	w = s.do(t, "GET", "/api/history?date=2024-03-15", "")
	assert.Len(t, decode[[]domain.MealHistoryRecord](t, w), 1)

	w = s.do(t, "GET", "/api/history?month=2024-03", "")
	stats := decode[planner.MonthStats](t, w)
	assert.Equal(t, 1, stats.MealCount)

	w = s.do(t, "DELETE", "/api/history/"+record.ID, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, "DELETE", "/api/selection", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(t, "POST", "/api/selection/meal", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRandomMenuHandler(t *testing.T) {
	s := newServer(t)

	w := s.do(t, "POST", "/api/selection/random", `{"diners":1}`)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[selectionView](t, w)
	assert.NotEmpty(t, view.DishIDs)
	assert.LessOrEqual(t, len(view.DishIDs), 2)

	w = s.do(t, "POST", "/api/selection/random", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCartHandlers(t *testing.T) {
	s := newServer(t)

	w := s.do(t, "POST", "/api/cart/items", `{"name":"牛肉","quantity":"1","unit":"斤"}`)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, "POST", "/api/cart/items", `{"quantity":"1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, "PUT", "/api/cart/items/0", `{"name":"牛肉","quantity":"2","unit":"斤"}`)
	require.Equal(t, http.StatusOK, w.Code)
	items := decode[[]domain.Ingredient](t, w)
	assert.Equal(t, "2", items[0].Quantity)

	w = s.do(t, "PUT", "/api/cart/items/3", `{"name":"x"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = s.do(t, "DELETE", "/api/cart/items/abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, "GET", "/api/cart/export", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "购物清单\n\n牛肉 - 2斤", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")

	w = s.do(t, "GET", "/api/cart/qrcode", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))

	w = s.do(t, "POST", "/api/cart/save", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	s.login(t)
	w = s.do(t, "POST", "/api/cart/items", `{"name":"土豆","quantity":"2","unit":"个"}`)
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, "POST", "/api/cart/save", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, "DELETE", "/api/cart/items/0", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, "DELETE", "/api/cart", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "[]", strings.TrimSpace(s.do(t, "GET", "/api/cart", "").Body.String()))
}

func multipartDish(t *testing.T, contentType string, image []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("name", "可乐鸡翅"))
	require.NoError(t, mw.WriteField("category", domain.CategoryMeat))
	require.NoError(t, mw.WriteField("ingredients", "鸡翅"))
	require.NoError(t, mw.WriteField("ingredients", "可乐"))
	require.NoError(t, mw.WriteField("steps", "焯水"))
	require.NoError(t, mw.WriteField("calories", "450"))

	if image != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="image"; filename="wings.png"`)
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestCustomDishHandlers(t *testing.T) {
	tests := []struct {
		name        string
		signedIn    bool
		contentType string
		image       []byte
		wantCode    int
		wantField   string
	}{
		{name: "created", signedIn: true, contentType: "image/png", image: []byte("png"), wantCode: http.StatusCreated},
		{name: "not signed in", contentType: "image/png", image: []byte("png"), wantCode: http.StatusBadRequest, wantField: "user"},
		{name: "missing image", signedIn: true, wantCode: http.StatusBadRequest, wantField: "image"},
		{name: "wrong type", signedIn: true, contentType: "image/gif", image: []byte("gif"), wantCode: http.StatusBadRequest, wantField: "image"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			s := newServer(t)
			if testCase.signedIn {
				s.login(t)
			}

			body, ct := multipartDish(t, testCase.contentType, testCase.image)
			req := httptest.NewRequest("POST", "/api/custom-dishes", body)
			req.Header.Set("Content-Type", ct)
			w := httptest.NewRecorder()
			s.handler.ServeHTTP(w, req)

			require.Equal(t, testCase.wantCode, w.Code, w.Body.String())
			if testCase.wantField != "" {
				assert.Equal(t, testCase.wantField, decode[planner.ValidationError](t, w).Field)
				return
			}

			dish := decode[domain.CustomDish](t, w)
			assert.Equal(t, "鸡翅,可乐", dish.Ingredients)
			w = s.do(t, "DELETE", "/api/custom-dishes/"+dish.ID, "")
			assert.Equal(t, http.StatusNoContent, w.Code)
		})
	}
}

func TestNutritionAndSync(t *testing.T) {
	s := newServer(t)
	s.login(t)

	w := s.do(t, "GET", "/api/nutrition?range=30", "")
	require.Equal(t, http.StatusOK, w.Code)
	report := decode[planner.Report](t, w)
	assert.Equal(t, 30, report.Range)

	w = s.do(t, "GET", "/api/nutrition?range=5", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(t, "GET", "/api/nutrition?range=x", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, "POST", "/api/history/sync", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[map[string]int](t, w)["flushed"])

	s.tasks.Wait()
	w = s.do(t, "GET", "/api/sync", "")
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[struct {
		Backend string            `json:"backend"`
		Sources map[string]string `json:"sources"`
	}](t, w)
	assert.Equal(t, "local", status.Backend)
	assert.Equal(t, "remote", status.Sources["selection"])
}
