// Package payments exposes the payment REST endpoints: PIX and card charge
// creation, status polling, cancellation and terminal-queue management.
package payments

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	"quiosque/api/internal/config"
	"quiosque/api/internal/mercadopago"
	"quiosque/api/internal/reconcile"
	"quiosque/api/internal/repository"
)

// ErrCredentialsMissing means the resolved store has no gateway credentials.
var ErrCredentialsMissing = errors.New("payments: store gateway credentials missing")

const storeHeader = "X-Store-ID"

// Handler provides HTTP handlers for the payment endpoints. One reconcile
// engine is kept per store (tenant); all share the confirmed-payment
// registry.
type Handler struct {
	db       *sql.DB
	cfg      *config.Config
	registry *reconcile.Registry

	// newGateway builds a gateway client from store credentials.
	// Overridable in tests.
	newGateway func(creds config.StoreCredentials) reconcile.Gateway

	mu      sync.Mutex
	engines map[string]*reconcile.Engine
}

// NewHandler creates the payments HTTP handler.
func NewHandler(db *sql.DB, cfg *config.Config, registry *reconcile.Registry) *Handler {
	return &Handler{
		db:       db,
		cfg:      cfg,
		registry: registry,
		newGateway: func(creds config.StoreCredentials) reconcile.Gateway {
			return mercadopago.NewClient(creds.AccessToken, cfg.MPBaseURL)
		},
		engines: make(map[string]*reconcile.Engine),
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// storeID resolves the tenant from the X-Store-ID header, falling back to the
// configured default store.
func (h *Handler) storeID(r *http.Request) string {
	if id := r.Header.Get(storeHeader); id != "" {
		return id
	}
	return h.cfg.DefaultStoreID
}

// engineFor returns the reconcile engine for a store, creating it on first
// use. ErrCredentialsMissing when the store id does not resolve to gateway
// credentials.
func (h *Handler) engineFor(storeID string) (*reconcile.Engine, config.StoreCredentials, error) {
	creds, ok := h.cfg.Stores[storeID]
	if !ok || creds.AccessToken == "" {
		return nil, config.StoreCredentials{}, fmt.Errorf("%w (store %s)", ErrCredentialsMissing, storeID)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if eng, ok := h.engines[storeID]; ok {
		return eng, creds, nil
	}
	eng := reconcile.NewEngine(h.newGateway(creds), h.registry, creds.DeviceID, reconcile.Options{})
	h.engines[storeID] = eng
	return eng, creds, nil
}

// DefaultEngine returns the engine for the default store, used by the
// periodic queue sweep. Nil when the default store has no credentials.
func (h *Handler) DefaultEngine() *reconcile.Engine {
	eng, _, err := h.engineFor(h.cfg.DefaultStoreID)
	if err != nil {
		return nil
	}
	return eng
}

// ---------- PIX ----------

// CreatePix handles POST /api/payment/create-pix
// Creates a PIX payment for an order and returns the QR payload.
func (h *Handler) CreatePix(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Amount      float64 `json:"amount"`
		Description string  `json:"description"`
		OrderID     string  `json:"orderId"`
		Email       string  `json:"email"`
		PayerName   string  `json:"payerName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "corpo inválido")
		return
	}
	if req.Amount <= 0 || req.OrderID == "" {
		respondError(w, http.StatusBadRequest, "amount e orderId são obrigatórios")
		return
	}

	eng, _, err := h.engineFor(h.storeID(r))
	if err != nil {
		respondError(w, http.StatusNotFound, "loja não configurada para pagamentos")
		return
	}

	payment, ref, err := eng.CreatePixPayment(r.Context(), mercadopago.PixParams{
		Amount:      req.Amount,
		Description: req.Description,
		Reference:   req.OrderID,
		Email:       req.Email,
		PayerName:   req.PayerName,
	})
	if err != nil {
		// Creation is the one place gateway failures surface: the
		// operator needs to offer another payment path.
		log.Printf("payments: create pix error: %v", err)
		respondError(w, http.StatusInternalServerError, "erro ao criar pagamento PIX: "+err.Error())
		return
	}

	if err := repository.SetOrderPaymentID(h.db, req.OrderID, ref.PublicID()); err != nil {
		log.Printf("payments: save payment id for order %s: %v", req.OrderID, err)
	}

	resp := map[string]interface{}{
		"paymentId": ref.PublicID(),
		"status":    payment.Status,
	}
	if payment.PointOfInteraction != nil {
		resp["qrCodeBase64"] = payment.PointOfInteraction.TransactionData.QRCodeBase64
		resp["qrCodeCopyPaste"] = payment.PointOfInteraction.TransactionData.QRCode
	}
	respondJSON(w, http.StatusOK, resp)
}

// ---------- Card (Point terminal) ----------

// CreateCard handles POST /api/payment/create
// Registers a charge on the store's terminal. Requires a configured device.
func (h *Handler) CreateCard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Amount      float64 `json:"amount"`
		Description string  `json:"description"`
		OrderID     string  `json:"orderId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "corpo inválido")
		return
	}
	if req.Amount <= 0 || req.OrderID == "" {
		respondError(w, http.StatusBadRequest, "amount e orderId são obrigatórios")
		return
	}

	eng, creds, err := h.engineFor(h.storeID(r))
	if err != nil {
		respondError(w, http.StatusNotFound, "loja não configurada para pagamentos")
		return
	}
	if creds.DeviceID == "" {
		respondError(w, http.StatusBadRequest, "loja não possui maquininha configurada")
		return
	}

	// The terminal API takes centavos.
	amountCentavos := int64(req.Amount*100 + 0.5)
	ref, err := eng.CreateCardPayment(r.Context(), amountCentavos, req.OrderID)
	if err != nil {
		log.Printf("payments: create card payment error: %v", err)
		respondError(w, http.StatusInternalServerError, "erro ao criar pagamento na maquininha: "+err.Error())
		return
	}

	if err := repository.SetOrderPaymentID(h.db, req.OrderID, ref.PublicID()); err != nil {
		log.Printf("payments: save intent id for order %s: %v", req.OrderID, err)
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"intentId": ref.PublicID(),
		"status":   "pending",
	})
}

// ---------- Status / cancel ----------

// GetStatus handles GET /api/payment/status/{paymentId}
// Frontend polls this (~every 2s). Gateway faults never surface here: the
// kiosk only ever sees pending, approved or canceled.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	paymentID := strings.TrimPrefix(r.URL.Path, "/api/payment/status/")
	if paymentID == "" {
		respondError(w, http.StatusBadRequest, "paymentId é obrigatório")
		return
	}

	eng, _, err := h.engineFor(h.storeID(r))
	if err != nil {
		respondError(w, http.StatusNotFound, "loja não configurada para pagamentos")
		return
	}

	status := eng.CheckPaymentStatus(r.Context(), paymentID)

	if status == reconcile.StatusApproved {
		// Multiple polls may see approved; MarkOrderPaid is the
		// idempotency gate.
		if orderID, err := repository.OrderIDByPaymentID(h.db, paymentID); err == nil && orderID != "" {
			h.settleOrder(orderID, paymentID)
		}
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

// settleOrder makes the pending→paid transition (at most once) and logs the
// outcome.
func (h *Handler) settleOrder(orderID, paymentID string) {
	won, err := repository.MarkOrderPaid(h.db, orderID, paymentID)
	if err != nil {
		log.Printf("payments: mark order %s paid: %v", orderID, err)
		return
	}
	if won {
		log.Printf("payments: order %s paid (payment: %s)", orderID, paymentID)
	}
}

// Cancel handles DELETE /api/payment/cancel/{paymentId}
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	paymentID := strings.TrimPrefix(r.URL.Path, "/api/payment/cancel/")
	if paymentID == "" {
		respondError(w, http.StatusBadRequest, "paymentId é obrigatório")
		return
	}

	eng, _, err := h.engineFor(h.storeID(r))
	if err != nil {
		respondError(w, http.StatusNotFound, "loja não configurada para pagamentos")
		return
	}

	if err := eng.CancelPayment(r.Context(), paymentID); err != nil {
		log.Printf("payments: cancel %s error: %v", paymentID, err)
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"success": false,
			"message": "não foi possível cancelar o pagamento",
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "pagamento cancelado",
	})
}

// ClearQueue handles POST /api/payment/clear-queue
// Removes every intent queued on the store's terminal, regardless of state.
// The periodic background sweep is gentler (done states only); this endpoint
// is the operator's big hammer for a stuck terminal.
func (h *Handler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	eng, _, err := h.engineFor(h.storeID(r))
	if err != nil {
		respondError(w, http.StatusNotFound, "loja não configurada para pagamentos")
		return
	}

	cleared, err := eng.ClearQueue(r.Context(), false)
	if err != nil {
		log.Printf("payments: clear queue error: %v", err)
		respondError(w, http.StatusInternalServerError, "erro ao limpar fila da maquininha")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"cleared": cleared,
	})
}

// ---------- Point terminal ----------

// ConfigurePoint handles POST /api/payment/point/configure
// Switches the terminal operating mode (PDV is required for API-driven
// charges).
func (h *Handler) ConfigurePoint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		OperatingMode string `json:"operating_mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "corpo inválido")
		return
	}
	if req.OperatingMode == "" {
		req.OperatingMode = "PDV"
	}

	storeID := h.storeID(r)
	creds, ok := h.cfg.Stores[storeID]
	if !ok || creds.AccessToken == "" {
		respondError(w, http.StatusNotFound, "loja não configurada para pagamentos")
		return
	}
	if creds.DeviceID == "" {
		respondError(w, http.StatusBadRequest, "loja não possui maquininha configurada")
		return
	}

	client := mercadopago.NewClient(creds.AccessToken, h.cfg.MPBaseURL)
	if err := client.PatchDeviceMode(r.Context(), creds.DeviceID, req.OperatingMode); err != nil {
		log.Printf("payments: patch device mode error: %v", err)
		respondError(w, http.StatusInternalServerError, "erro ao configurar maquininha")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"device_id":      creds.DeviceID,
		"operating_mode": req.OperatingMode,
		"status":         "updated",
	})
}

// PointStatus handles GET /api/payment/point/status
func (h *Handler) PointStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	storeID := h.storeID(r)
	creds, ok := h.cfg.Stores[storeID]
	if !ok || creds.AccessToken == "" {
		respondError(w, http.StatusNotFound, "loja não configurada para pagamentos")
		return
	}
	if creds.DeviceID == "" {
		respondError(w, http.StatusBadRequest, "loja não possui maquininha configurada")
		return
	}

	client := mercadopago.NewClient(creds.AccessToken, h.cfg.MPBaseURL)
	dev, err := client.GetDevice(r.Context(), creds.DeviceID)
	if err != nil {
		log.Printf("payments: get device error: %v", err)
		respondError(w, http.StatusInternalServerError, "erro ao consultar maquininha")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"id":             dev.ID,
		"operating_mode": dev.OperatingMode,
		"status":         dev.Status,
	})
}
