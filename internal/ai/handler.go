package ai

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"

	"quiosque/api/internal/repository"
)

// Handler serves the upsell endpoint.
type Handler struct {
	client *Client
	db     *sql.DB
}

func NewHandler(client *Client, db *sql.DB) *Handler {
	return &Handler{client: client, db: db}
}

// Upsell handles POST /api/ai/upsell
// Returns a suggestion line for the current cart. Falls back to a fixed line
// when no AI key is configured or the model call fails — the kiosk flow never
// depends on it.
func (h *Handler) Upsell(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Items []string `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "corpo inválido"})
		return
	}

	suggestion := "Que tal uma bebida gelada para acompanhar?"

	if h.client.Configured() {
		var menu []string
		if products, err := repository.ListProducts(h.db, true); err == nil {
			for _, p := range products {
				menu = append(menu, p.Name)
			}
		}
		if s, err := h.client.Suggest(r.Context(), req.Items, menu); err != nil {
			log.Printf("ai: suggest error: %v", err)
		} else {
			suggestion = s
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"suggestion": suggestion})
}
