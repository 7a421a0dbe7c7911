// Package api exposes the catalog, order and auth REST endpoints. Simple
// data-access glue; the interesting payment logic lives in
// internal/payments and internal/reconcile.
package api

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"quiosque/api/internal/auth"
	"quiosque/api/internal/config"
	"quiosque/api/internal/repository"
)

// Handler provides HTTP handlers for the catalog and order endpoints.
type Handler struct {
	db  *sql.DB
	cfg *config.Config
}

func NewHandler(db *sql.DB, cfg *config.Config) *Handler {
	return &Handler{db: db, cfg: cfg}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// ---------- Products ----------

// ListProducts handles GET /api/products
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	products, err := repository.ListProducts(h.db, true)
	if err != nil {
		log.Printf("api: list products: %v", err)
		respondError(w, http.StatusInternalServerError, "erro ao listar produtos")
		return
	}
	respondJSON(w, http.StatusOK, products)
}

// ---------- Orders ----------

// CreateOrder handles POST /api/orders
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		UserID string                    `json:"userId"`
		Items  []repository.NewOrderItem `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "corpo inválido")
		return
	}
	if len(req.Items) == 0 {
		respondError(w, http.StatusBadRequest, "pedido sem itens")
		return
	}
	if req.UserID == "" {
		// Walk-up kiosk orders run under the shared kiosk account.
		req.UserID = "kiosk"
	}

	order, err := repository.CreateOrder(h.db, req.UserID, req.Items)
	if err != nil {
		log.Printf("api: create order: %v", err)
		respondError(w, http.StatusBadRequest, "erro ao criar pedido: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// GetOrder handles GET /api/orders/{id} and
// POST /api/orders/{id}/complete
func (h *Handler) OrderRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/orders/")
	if rest == "" {
		respondError(w, http.StatusBadRequest, "id é obrigatório")
		return
	}
	if strings.HasSuffix(rest, "/complete") {
		h.completeOrder(w, r, strings.TrimSuffix(rest, "/complete"))
		return
	}
	h.getOrder(w, r, rest)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request, orderID string) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	order, err := repository.OrderByID(h.db, orderID)
	if err == sql.ErrNoRows {
		respondError(w, http.StatusNotFound, "pedido não encontrado")
		return
	}
	if err != nil {
		log.Printf("api: get order %s: %v", orderID, err)
		respondError(w, http.StatusInternalServerError, "erro ao buscar pedido")
		return
	}
	order.Items, _ = repository.OrderItemsByOrderID(h.db, orderID)
	history, _ := repository.OrderHistory(h.db, orderID)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"order":   order,
		"history": history,
	})
}

func (h *Handler) completeOrder(w http.ResponseWriter, r *http.Request, orderID string) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	done, err := repository.CompleteOrder(h.db, orderID)
	if err != nil {
		log.Printf("api: complete order %s: %v", orderID, err)
		respondError(w, http.StatusInternalServerError, "erro ao concluir pedido")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": done,
		"orderId": orderID,
	})
}

// ---------- Auth ----------

// Register handles POST /api/auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "corpo inválido")
		return
	}
	if req.Name == "" || req.Email == "" || len(req.Password) < 6 {
		respondError(w, http.StatusBadRequest, "nome, email e senha (mín. 6) são obrigatórios")
		return
	}

	if existing, _ := repository.UserByEmail(h.db, req.Email); existing != nil {
		respondError(w, http.StatusBadRequest, "email já cadastrado")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "erro ao criar usuário")
		return
	}
	id, err := repository.CreateUser(h.db, req.Name, req.Email, hash, "customer")
	if err != nil {
		log.Printf("api: create user: %v", err)
		respondError(w, http.StatusInternalServerError, "erro ao criar usuário")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": id})
}

// Login handles POST /api/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "corpo inválido")
		return
	}

	user, err := repository.UserByEmail(h.db, req.Email)
	if err != nil || user == nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		respondError(w, http.StatusUnauthorized, "email ou senha inválidos")
		return
	}

	token, err := auth.NewToken(user.ID, user.Role, h.cfg.JWTSecret, 24*time.Hour)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "erro ao gerar token")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"token": token,
		"name":  user.Name,
		"role":  user.Role,
	})
}
