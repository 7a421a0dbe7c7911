package repository

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiosque/api/internal/db"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, db.Migrate(conn))

	_, err = conn.Exec(`INSERT INTO users (id, name, email, password_hash) VALUES ('u1', 'Cliente', 'c@x.com', 'hash')`)
	require.NoError(t, err)
	return conn
}

func seedProduct(t *testing.T, conn *sql.DB, id string, price float64, stock *int) {
	t.Helper()
	_, err := conn.Exec(`INSERT INTO products (id, name, price, stock, active) VALUES (?, ?, ?, ?, 1)`, id, id, price, stock)
	require.NoError(t, err)
}

func TestCreateOrder(t *testing.T) {
	conn := testDB(t)
	seedProduct(t, conn, "acai", 15.00, nil)
	seedProduct(t, conn, "agua", 4.00, nil)

	order, err := CreateOrder(conn, "u1", []NewOrderItem{
		{ProductID: "acai", Quantity: 2},
		{ProductID: "agua", Quantity: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 34.00, order.Total)
	assert.Equal(t, "pending", order.PaymentStatus)
	assert.Equal(t, "active", order.Status)
	require.Len(t, order.Items, 2)

	history, err := OrderHistory(conn, order.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "order created", history[0].Note)
}

func TestCreateOrder_UnknownProduct(t *testing.T) {
	conn := testDB(t)
	_, err := CreateOrder(conn, "u1", []NewOrderItem{{ProductID: "nope", Quantity: 1}})
	assert.Error(t, err)

	// Nothing persisted from the failed transaction.
	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM order_items`).Scan(&n))
	assert.Zero(t, n)
}

func TestMarkOrderPaid_AtMostOnce(t *testing.T) {
	conn := testDB(t)
	stock := 10
	seedProduct(t, conn, "refri", 6.00, &stock)

	order, err := CreateOrder(conn, "u1", []NewOrderItem{{ProductID: "refri", Quantity: 3}})
	require.NoError(t, err)

	// First settle wins and decrements stock.
	won, err := MarkOrderPaid(conn, order.ID, "pay-1")
	require.NoError(t, err)
	assert.True(t, won)

	p, err := ProductByID(conn, "refri")
	require.NoError(t, err)
	require.NotNil(t, p.Stock)
	assert.Equal(t, 7, *p.Stock)

	// Replays (poll + webhook racing) are no-ops: no second decrement.
	for i := 0; i < 3; i++ {
		won, err = MarkOrderPaid(conn, order.ID, "pay-1")
		require.NoError(t, err)
		assert.False(t, won)
	}
	p, err = ProductByID(conn, "refri")
	require.NoError(t, err)
	assert.Equal(t, 7, *p.Stock)

	got, err := OrderByID(conn, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "paid", got.PaymentStatus)
	assert.Equal(t, "pay-1", got.PaymentID)
}

func TestMarkOrderPaid_StockClampedAtZero(t *testing.T) {
	conn := testDB(t)
	stock := 2
	seedProduct(t, conn, "brownie", 9.50, &stock)

	order, err := CreateOrder(conn, "u1", []NewOrderItem{{ProductID: "brownie", Quantity: 5}})
	require.NoError(t, err)

	won, err := MarkOrderPaid(conn, order.ID, "pay-2")
	require.NoError(t, err)
	require.True(t, won)

	p, err := ProductByID(conn, "brownie")
	require.NoError(t, err)
	require.NotNil(t, p.Stock)
	assert.Equal(t, 0, *p.Stock, "stock never goes negative")
}

func TestMarkOrderPaid_UnlimitedStockUntouched(t *testing.T) {
	conn := testDB(t)
	seedProduct(t, conn, "tapioca", 12.00, nil)

	order, err := CreateOrder(conn, "u1", []NewOrderItem{{ProductID: "tapioca", Quantity: 4}})
	require.NoError(t, err)

	won, err := MarkOrderPaid(conn, order.ID, "pay-3")
	require.NoError(t, err)
	require.True(t, won)

	p, err := ProductByID(conn, "tapioca")
	require.NoError(t, err)
	assert.Nil(t, p.Stock)
}

func TestCompleteOrder_Idempotent(t *testing.T) {
	conn := testDB(t)
	seedProduct(t, conn, "cafe", 5.50, nil)

	order, err := CreateOrder(conn, "u1", []NewOrderItem{{ProductID: "cafe", Quantity: 1}})
	require.NoError(t, err)

	done, err := CompleteOrder(conn, order.ID)
	require.NoError(t, err)
	assert.True(t, done)

	done, err = CompleteOrder(conn, order.ID)
	require.NoError(t, err)
	assert.False(t, done)

	got, err := OrderByID(conn, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestOrderIDByPaymentID(t *testing.T) {
	conn := testDB(t)
	seedProduct(t, conn, "pastel", 10.00, nil)

	order, err := CreateOrder(conn, "u1", []NewOrderItem{{ProductID: "pastel", Quantity: 1}})
	require.NoError(t, err)
	require.NoError(t, SetOrderPaymentID(conn, order.ID, "intent-9"))

	got, err := OrderIDByPaymentID(conn, "intent-9")
	require.NoError(t, err)
	assert.Equal(t, order.ID, got)

	got, err = OrderIDByPaymentID(conn, "missing")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWebhookEventDedup(t *testing.T) {
	conn := testDB(t)

	assert.False(t, WebhookEventExists(conn, "evt-1"))
	require.NoError(t, InsertWebhookEvent(conn, "evt-1", "payment"))
	assert.True(t, WebhookEventExists(conn, "evt-1"))

	// Replayed insert is ignored, not duplicated.
	require.NoError(t, InsertWebhookEvent(conn, "evt-1", "payment"))
	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM webhook_events`).Scan(&n))
	assert.Equal(t, 1, n)

	require.NoError(t, MarkWebhookEventProcessed(conn, "evt-1"))
}
