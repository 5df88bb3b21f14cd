package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"whattoeat/planner-svc/internal/domain"
	"whattoeat/planner-svc/internal/gateway"
	"whattoeat/planner-svc/internal/planner"
)

const (
	maxUploadBytes = 10 << 20
	defaultDiners  = 2
	maxDiners      = 10
	exportFilename = "购物清单.txt"
)

type Handler struct {
	Planner *planner.Planner
	QR      QRGenerator
	Logger  *zap.SugaredLogger
}

func NewHandler(p *planner.Planner, qr QRGenerator, logger *zap.SugaredLogger) *Handler {
	return &Handler{Planner: p, QR: qr, Logger: logger}
}

func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.healthCheck).Methods("GET")

	r.HandleFunc("/api/auth/login", h.login).Methods("POST")
	r.HandleFunc("/api/auth/register", h.register).Methods("POST")
	r.HandleFunc("/api/auth/logout", h.logout).Methods("POST")
	r.HandleFunc("/api/auth/user", h.currentUser).Methods("GET")

	r.HandleFunc("/api/dishes", h.getDishes).Methods("GET")
	r.HandleFunc("/api/dishes/categories", h.getCategories).Methods("GET")
	r.HandleFunc("/api/dishes/reload", h.reloadDishes).Methods("POST")

	r.HandleFunc("/api/custom-dishes", h.createCustomDish).Methods("POST")
	r.HandleFunc("/api/custom-dishes/{id}", h.deleteCustomDish).Methods("DELETE")

	r.HandleFunc("/api/selection", h.getSelection).Methods("GET")
	r.HandleFunc("/api/selection", h.clearSelection).Methods("DELETE")
	r.HandleFunc("/api/selection/random", h.randomMenu).Methods("POST")
	r.HandleFunc("/api/selection/meal", h.saveMeal).Methods("POST")
	r.HandleFunc("/api/selection/cart", h.selectionToCart).Methods("POST")
	r.HandleFunc("/api/selection/{dishId}/toggle", h.toggleDish).Methods("POST")

	r.HandleFunc("/api/cart", h.getCart).Methods("GET")
	r.HandleFunc("/api/cart", h.clearCart).Methods("DELETE")
	r.HandleFunc("/api/cart/items", h.addCartItem).Methods("POST")
	r.HandleFunc("/api/cart/items/{index}", h.updateCartItem).Methods("PUT")
	r.HandleFunc("/api/cart/items/{index}", h.removeCartItem).Methods("DELETE")
	r.HandleFunc("/api/cart/save", h.saveCart).Methods("POST")
	r.HandleFunc("/api/cart/export", h.exportCart).Methods("GET")
	r.HandleFunc("/api/cart/qrcode", h.cartQRCode).Methods("GET")

	r.HandleFunc("/api/history", h.getHistory).Methods("GET")
	r.HandleFunc("/api/history/sync", h.syncHistory).Methods("POST")
	r.HandleFunc("/api/history/{id}", h.deleteMeal).Methods("DELETE")

	r.HandleFunc("/api/nutrition", h.getNutrition).Methods("GET")
	r.HandleFunc("/api/sync", h.getSyncStatus).Methods("GET")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps planner and gateway errors onto status codes.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *planner.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, verr)
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, planner.ErrNotSignedIn), errors.Is(err, gateway.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, planner.ErrUnknownDish), errors.Is(err, planner.ErrIndexRange):
		status = http.StatusNotFound
	case errors.Is(err, planner.ErrEmptySelection), errors.Is(err, planner.ErrInvalidRange),
		errors.Is(err, gateway.ErrRejected), errors.Is(err, gateway.ErrInvalidQuery):
		status = http.StatusBadRequest
	case gateway.IsUnavailable(err), gateway.IsTableMissing(err):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		h.Logger.Errorw("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	http.Error(w, err.Error(), status)
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   "planner-svc",
		"backend":   h.Planner.Backend(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func decodeCredentials(r *http.Request) (credentials, error) {
	var c credentials
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		return c, err
	}
	if c.Email == "" || c.Password == "" {
		return c, errors.New("email and password are required")
	}
	return c, nil
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	c, err := decodeCredentials(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	u, err := h.Planner.Login(r.Context(), c.Email, c.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	c, err := decodeCredentials(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	u, err := h.Planner.Register(r.Context(), c.Email, c.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Planner.Logout(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.Planner.CurrentUser(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*domain.User{"user": u})
}

func (h *Handler) getDishes(w http.ResponseWriter, r *http.Request) {
	dishes, err := h.Planner.Dishes(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dishes)
}

func (h *Handler) getCategories(w http.ResponseWriter, r *http.Request) {
	groups, err := h.Planner.Categories(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (h *Handler) reloadDishes(w http.ResponseWriter, r *http.Request) {
	if err := h.Planner.ReloadDishes(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.getDishes(w, r)
}

func (h *Handler) createCustomDish(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "File too large", http.StatusBadRequest)
		return
	}

	form := r.MultipartForm.Value
	first := func(key string) string {
		if v := form[key]; len(v) > 0 {
			return v[0]
		}
		return ""
	}
	in := planner.CustomDishInput{
		Name:        first("name"),
		Category:    first("category"),
		Ingredients: form["ingredients"],
		Steps:       form["steps"],
		Calories:    first("calories"),
		Protein:     first("protein"),
		Carbs:       first("carbs"),
		Fat:         first("fat"),
	}

	file, header, err := r.FormFile("image")
	if err == nil {
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			http.Error(w, "Error retrieving file", http.StatusBadRequest)
			return
		}
		in.Image = &planner.Image{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		}
	}

	dish, err := h.Planner.SubmitCustomDish(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dish)
}

func (h *Handler) deleteCustomDish(w http.ResponseWriter, r *http.Request) {
	if err := h.Planner.DeleteCustomDish(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type selectionView struct {
	DishIDs []string      `json:"dish_ids"`
	Dishes  []domain.Dish `json:"dishes"`
	Totals  domain.Totals `json:"totals"`
}

func (h *Handler) writeSelection(w http.ResponseWriter, r *http.Request) {
	ids, err := h.Planner.Selected(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dishes, err := h.Planner.SelectedDishes(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, selectionView{DishIDs: ids, Dishes: dishes, Totals: domain.SumDishes(dishes)})
}

func (h *Handler) getSelection(w http.ResponseWriter, r *http.Request) {
	h.writeSelection(w, r)
}

func (h *Handler) toggleDish(w http.ResponseWriter, r *http.Request) {
	if _, err := h.Planner.Toggle(r.Context(), mux.Vars(r)["dishId"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSelection(w, r)
}

func (h *Handler) clearSelection(w http.ResponseWriter, r *http.Request) {
	if err := h.Planner.ClearSelection(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) randomMenu(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Diners int `json:"diners"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	diners := min(max(body.Diners, 1), maxDiners)
	if body.Diners == 0 {
		diners = defaultDiners
	}

	if _, err := h.Planner.RandomMenu(r.Context(), diners); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSelection(w, r)
}

func (h *Handler) saveMeal(w http.ResponseWriter, r *http.Request) {
	record, err := h.Planner.SaveMeal(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (h *Handler) selectionToCart(w http.ResponseWriter, r *http.Request) {
	items, err := h.Planner.AddSelectionToCart(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	items, err := h.Planner.CartItems(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func decodeIngredient(r *http.Request) (domain.Ingredient, error) {
	var ing domain.Ingredient
	if err := json.NewDecoder(r.Body).Decode(&ing); err != nil {
		return ing, err
	}
	if ing.Name == "" {
		return ing, errors.New("ingredient name is required")
	}
	return ing, nil
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	ing, err := decodeIngredient(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	items, err := h.Planner.AddIngredient(r.Context(), ing)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) updateCartItem(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		http.Error(w, "Invalid index", http.StatusBadRequest)
		return
	}
	ing, err := decodeIngredient(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	items, err := h.Planner.UpdateIngredient(r.Context(), index, ing)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		http.Error(w, "Invalid index", http.StatusBadRequest)
		return
	}
	items, err := h.Planner.RemoveIngredient(r.Context(), index)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.Planner.ClearCart(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) saveCart(w http.ResponseWriter, r *http.Request) {
	if err := h.Planner.SaveCart(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) shoppingList(w http.ResponseWriter, r *http.Request) (string, bool) {
	items, err := h.Planner.CartItems(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return "", false
	}
	return planner.ExportText(items), true
}

func (h *Handler) exportCart(w http.ResponseWriter, r *http.Request) {
	text, ok := h.shoppingList(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": exportFilename}))
	io.WriteString(w, text)
}

func (h *Handler) cartQRCode(w http.ResponseWriter, r *http.Request) {
	text, ok := h.shoppingList(w, r)
	if !ok {
		return
	}
	png, err := h.QR.Generate(text)
	if err != nil {
		http.Error(w, "Failed to generate QR code", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (h *Handler) getHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch {
	case q.Get("date") != "":
		meals, err := h.Planner.MealsOn(r.Context(), q.Get("date"))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, meals)
	case q.Get("month") != "":
		stats, err := h.Planner.MealsIn(r.Context(), q.Get("month"))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	default:
		meals, err := h.Planner.Meals(r.Context())
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, meals)
	}
}

func (h *Handler) deleteMeal(w http.ResponseWriter, r *http.Request) {
	if err := h.Planner.DeleteMeal(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) syncHistory(w http.ResponseWriter, r *http.Request) {
	n, err := h.Planner.SyncMeals(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"flushed": n})
}

func (h *Handler) getNutrition(w http.ResponseWriter, r *http.Request) {
	days := 7
	if v := r.URL.Query().Get("range"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "Invalid range", http.StatusBadRequest)
			return
		}
		days = n
	}
	report, err := h.Planner.Report(r.Context(), days)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) getSyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"backend": h.Planner.Backend(),
		"sources": h.Planner.SyncStatus(),
	})
}
