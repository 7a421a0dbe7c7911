package payments

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiosque/api/internal/config"
	"quiosque/api/internal/db"
	"quiosque/api/internal/mercadopago"
	"quiosque/api/internal/reconcile"
	"quiosque/api/internal/repository"
)

// stubGateway implements reconcile.Gateway for handler tests.
type stubGateway struct {
	mu       sync.Mutex
	payments map[int64]*mercadopago.Payment
	intents  map[string]*mercadopago.PaymentIntent
	failAll  bool
}

func newStubGateway() *stubGateway {
	return &stubGateway{
		payments: make(map[int64]*mercadopago.Payment),
		intents:  make(map[string]*mercadopago.PaymentIntent),
	}
}

func (s *stubGateway) CreateIntent(_ context.Context, deviceID string, amount int64, reference string) (string, error) {
	if s.failAll {
		return "", fmt.Errorf("%w: down", mercadopago.ErrUnavailable)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := fmt.Sprintf("intent-%d", len(s.intents)+1)
	intent := &mercadopago.PaymentIntent{ID: id, DeviceID: deviceID, State: mercadopago.IntentOpen, Amount: amount}
	intent.AdditionalInfo.ExternalReference = reference
	s.intents[id] = intent
	return id, nil
}

func (s *stubGateway) GetIntent(_ context.Context, intentID string) (*mercadopago.PaymentIntent, error) {
	if s.failAll {
		return nil, fmt.Errorf("%w: down", mercadopago.ErrUnavailable)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	intent, ok := s.intents[intentID]
	if !ok {
		return nil, fmt.Errorf("%w (stub)", mercadopago.ErrNotFound)
	}
	cp := *intent
	return &cp, nil
}

func (s *stubGateway) DeleteIntent(_ context.Context, _, intentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.intents, intentID)
	return nil
}

func (s *stubGateway) ListIntents(_ context.Context, _ string) ([]mercadopago.PaymentIntent, error) {
	if s.failAll {
		return nil, fmt.Errorf("%w: down", mercadopago.ErrUnavailable)
	}
	return nil, nil
}

func (s *stubGateway) CreatePixPayment(_ context.Context, params mercadopago.PixParams) (*mercadopago.Payment, error) {
	if s.failAll {
		return nil, fmt.Errorf("%w: down", mercadopago.ErrUnavailable)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &mercadopago.Payment{
		ID:                int64(7000 + len(s.payments)),
		Status:            "pending",
		TransactionAmount: params.Amount,
		ExternalReference: params.Reference,
		PointOfInteraction: &mercadopago.PointOfInteraction{},
	}
	p.PointOfInteraction.TransactionData.QRCode = "00020126pix"
	p.PointOfInteraction.TransactionData.QRCodeBase64 = "aXBpeA=="
	s.payments[p.ID] = p
	return p, nil
}

func (s *stubGateway) GetPayment(_ context.Context, paymentID int64) (*mercadopago.Payment, error) {
	if s.failAll {
		return nil, fmt.Errorf("%w: down", mercadopago.ErrUnavailable)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentID]
	if !ok {
		return nil, fmt.Errorf("%w (stub)", mercadopago.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *stubGateway) SearchPayments(_ context.Context, _ mercadopago.SearchFilter) ([]mercadopago.Payment, error) {
	if s.failAll {
		return nil, fmt.Errorf("%w: down", mercadopago.ErrUnavailable)
	}
	return nil, nil
}

func (s *stubGateway) setPaymentStatus(id int64, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.payments[id]; ok {
		p.Status = status
	}
}

func testHandler(t *testing.T) (*Handler, *stubGateway, *sql.DB) {
	t.Helper()
	conn, err := db.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, db.Migrate(conn))
	_, err = conn.Exec(`INSERT INTO users (id, name, email, password_hash) VALUES ('u1', 'Cliente', 'c@x.com', 'hash')`)
	require.NoError(t, err)
	_, err = conn.Exec(`INSERT INTO products (id, name, price, active) VALUES ('acai', 'Açaí', 25.00, 1)`)
	require.NoError(t, err)

	cfg := &config.Config{
		DefaultStoreID: "default",
		Stores: map[string]config.StoreCredentials{
			"default": {AccessToken: "tok", DeviceID: "dev-1"},
			"no-pos":  {AccessToken: "tok"},
		},
		RegistryRetention: time.Hour,
	}
	registry := reconcile.NewRegistry(reconcile.NewMemoryStore(), cfg.RegistryRetention)
	h := NewHandler(conn, cfg, registry)

	gw := newStubGateway()
	h.newGateway = func(config.StoreCredentials) reconcile.Gateway { return gw }
	return h, gw, conn
}

func createTestOrder(t *testing.T, conn *sql.DB) *repository.Order {
	t.Helper()
	order, err := repository.CreateOrder(conn, "u1", []repository.NewOrderItem{{ProductID: "acai", Quantity: 1}})
	require.NoError(t, err)
	return order
}

func postJSON(t *testing.T, h http.HandlerFunc, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func TestCreateCard(t *testing.T) {
	h, _, conn := testHandler(t)
	order := createTestOrder(t, conn)

	w := postJSON(t, h.CreateCard, "/api/payment/create", map[string]interface{}{
		"amount":  25.00,
		"orderId": order.ID,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "pending", resp["status"])
	assert.NotEmpty(t, resp["intentId"])

	// The order now carries the public charge id for the status poll.
	got, err := repository.OrderByID(conn, order.ID)
	require.NoError(t, err)
	assert.Equal(t, resp["intentId"], got.PaymentID)
}

func TestCreateCard_NoDeviceConfigured(t *testing.T) {
	h, _, conn := testHandler(t)
	order := createTestOrder(t, conn)

	payload, _ := json.Marshal(map[string]interface{}{"amount": 25.00, "orderId": order.ID})
	req := httptest.NewRequest(http.MethodPost, "/api/payment/create", bytes.NewReader(payload))
	req.Header.Set(storeHeader, "no-pos")
	w := httptest.NewRecorder()
	h.CreateCard(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateCard_UnknownStore(t *testing.T) {
	h, _, _ := testHandler(t)

	payload, _ := json.Marshal(map[string]interface{}{"amount": 25.00, "orderId": "o1"})
	req := httptest.NewRequest(http.MethodPost, "/api/payment/create", bytes.NewReader(payload))
	req.Header.Set(storeHeader, "ghost")
	w := httptest.NewRecorder()
	h.CreateCard(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateCard_GatewayDownSurfaces(t *testing.T) {
	h, gw, conn := testHandler(t)
	order := createTestOrder(t, conn)
	gw.failAll = true

	w := postJSON(t, h.CreateCard, "/api/payment/create", map[string]interface{}{
		"amount":  25.00,
		"orderId": order.ID,
	})
	// Creation failures are real errors: the operator must see them.
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCreatePix(t *testing.T) {
	h, _, conn := testHandler(t)
	order := createTestOrder(t, conn)

	w := postJSON(t, h.CreatePix, "/api/payment/create-pix", map[string]interface{}{
		"amount":  25.00,
		"orderId": order.ID,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "pending", resp["status"])
	assert.Equal(t, "00020126pix", resp["qrCodeCopyPaste"])
	assert.NotEmpty(t, resp["qrCodeBase64"])
	assert.NotEmpty(t, resp["paymentId"])
}

func TestGetStatus_DegradesToPendingOnGatewayFault(t *testing.T) {
	h, gw, conn := testHandler(t)
	order := createTestOrder(t, conn)

	w := postJSON(t, h.CreateCard, "/api/payment/create", map[string]interface{}{
		"amount":  25.00,
		"orderId": order.ID,
	})
	require.Equal(t, http.StatusOK, w.Code)
	var created map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	gw.failAll = true
	req := httptest.NewRequest(http.MethodGet, "/api/payment/status/"+created["intentId"], nil)
	rec := httptest.NewRecorder()
	h.GetStatus(rec, req)

	// Never an HTTP error mid-checkout: the kiosk keeps polling.
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "pending", resp["status"])
}

func TestNotification_SettlesOrderAndPrimesRegistry(t *testing.T) {
	h, gw, conn := testHandler(t)
	order := createTestOrder(t, conn)

	// Create the PIX payment so the stub gateway knows it.
	w := postJSON(t, h.CreatePix, "/api/payment/create-pix", map[string]interface{}{
		"amount":  25.00,
		"orderId": order.ID,
	})
	require.Equal(t, http.StatusOK, w.Code)
	var created map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	gw.setPaymentStatus(7000, "approved")

	rec := postJSON(t, h.HandleNotification, "/api/notifications/payment-events", map[string]interface{}{
		"id":   11,
		"type": "payment",
		"data": map[string]interface{}{"id": "7000"},
	})
	// Gateway contract: always 200, processing is async.
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		got, err := repository.OrderByID(conn, order.ID)
		return err == nil && got.PaymentStatus == "paid"
	}, 2*time.Second, 10*time.Millisecond)

	// The next poll resolves from the registry without touching the
	// gateway.
	gw.failAll = true
	req := httptest.NewRequest(http.MethodGet, "/api/payment/status/"+created["paymentId"], nil)
	pollRec := httptest.NewRecorder()
	h.GetStatus(pollRec, req)
	require.Equal(t, http.StatusOK, pollRec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(pollRec.Body.Bytes(), &resp))
	assert.Equal(t, "approved", resp["status"])
}

func TestNotification_IgnoresNonPaymentEvents(t *testing.T) {
	h, _, conn := testHandler(t)
	order := createTestOrder(t, conn)

	rec := postJSON(t, h.HandleNotification, "/api/notifications/payment-events", map[string]interface{}{
		"id":   12,
		"type": "merchant_order",
		"data": map[string]interface{}{"id": "99"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	time.Sleep(50 * time.Millisecond)
	got, err := repository.OrderByID(conn, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "pending", got.PaymentStatus)
}

func TestCancel_ReportsOutcome(t *testing.T) {
	h, _, conn := testHandler(t)
	order := createTestOrder(t, conn)

	w := postJSON(t, h.CreateCard, "/api/payment/create", map[string]interface{}{
		"amount":  25.00,
		"orderId": order.ID,
	})
	require.Equal(t, http.StatusOK, w.Code)
	var created map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	req := httptest.NewRequest(http.MethodDelete, "/api/payment/cancel/"+created["intentId"], nil)
	rec := httptest.NewRecorder()
	h.Cancel(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])
}
