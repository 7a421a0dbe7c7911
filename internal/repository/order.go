package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Order struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	Status        string     `json:"status"`        // active | completed
	PaymentStatus string     `json:"paymentStatus"` // pending | paid
	PaymentID     string     `json:"paymentId,omitempty"`
	Total         float64    `json:"total"`
	CreatedAt     string     `json:"createdAt"`
	CompletedAt   *string    `json:"completedAt,omitempty"`
	Items         []OrderItem `json:"items,omitempty"`
}

type OrderItem struct {
	ID        string  `json:"id"`
	OrderID   string  `json:"-"`
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

// NewOrderItem is the client-supplied shape; unit price is resolved from the
// product row, never trusted from the request.
type NewOrderItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// CreateOrder inserts the order, its items and the first history row in one
// transaction. Prices come from the products table at order time.
func CreateOrder(db *sql.DB, userID string, items []NewOrderItem) (*Order, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	order := &Order{
		ID:            uuid.New().String(),
		UserID:        userID,
		Status:        "active",
		PaymentStatus: "pending",
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
	}

	// Resolve prices first; the order row must exist before its items
	// (foreign keys are on).
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("invalid quantity for product %s", it.ProductID)
		}
		var price float64
		err := tx.QueryRow(`SELECT price FROM products WHERE id = ? AND active = 1`, it.ProductID).Scan(&price)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("product %s not found", it.ProductID)
		}
		if err != nil {
			return nil, err
		}
		item := OrderItem{
			ID:        uuid.New().String(),
			OrderID:   order.ID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: price,
		}
		order.Total += price * float64(it.Quantity)
		order.Items = append(order.Items, item)
	}

	if _, err := tx.Exec(`INSERT INTO orders (id, user_id, status, payment_status, total, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		order.ID, order.UserID, order.Status, order.PaymentStatus, order.Total, order.CreatedAt,
	); err != nil {
		return nil, err
	}
	for _, item := range order.Items {
		if _, err := tx.Exec(`INSERT INTO order_items (id, order_id, product_id, quantity, unit_price) VALUES (?, ?, ?, ?, ?)`,
			item.ID, item.OrderID, item.ProductID, item.Quantity, item.UnitPrice,
		); err != nil {
			return nil, err
		}
	}
	if err := appendHistory(tx, order.ID, order.Status, order.PaymentStatus, "order created"); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return order, nil
}

func OrderByID(db *sql.DB, id string) (*Order, error) {
	var o Order
	var paymentID, completedAt sql.NullString
	err := db.QueryRow(`SELECT id, user_id, status, payment_status, payment_id, total, created_at, completed_at FROM orders WHERE id = ?`, id).
		Scan(&o.ID, &o.UserID, &o.Status, &o.PaymentStatus, &paymentID, &o.Total, &o.CreatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	o.PaymentID = paymentID.String
	if completedAt.Valid {
		o.CompletedAt = &completedAt.String
	}
	return &o, nil
}

func OrderItemsByOrderID(db *sql.DB, orderID string) ([]OrderItem, error) {
	rows, err := db.Query(`SELECT id, order_id, product_id, quantity, unit_price FROM order_items WHERE order_id = ?`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, err
		}
		list = append(list, it)
	}
	return list, rows.Err()
}

// SetOrderPaymentID links the gateway payment/intent reference to the order.
func SetOrderPaymentID(db *sql.DB, orderID, paymentID string) error {
	_, err := db.Exec(`UPDATE orders SET payment_id = ? WHERE id = ?`, paymentID, orderID)
	return err
}

func OrderIDByPaymentID(db *sql.DB, paymentID string) (string, error) {
	var id string
	err := db.QueryRow(`SELECT id FROM orders WHERE payment_id = ?`, paymentID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return id, err
}

// MarkOrderPaid makes the pending→paid transition at most once. The guarded
// UPDATE is the arbiter between concurrent pollers and the webhook path: only
// the caller that wins it decrements stock and appends history. Returns
// whether this call made the transition.
func MarkOrderPaid(db *sql.DB, orderID, paymentID string) (bool, error) {
	tx, err := db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`UPDATE orders SET payment_status = 'paid', payment_id = ? WHERE id = ? AND payment_status = 'pending'`,
		paymentID, orderID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// Already paid (or unknown order): nothing else to do.
		return false, nil
	}

	// Decrement finite stock, clamped at zero. NULL stock means unlimited.
	rows, err := tx.Query(`SELECT product_id, quantity FROM order_items WHERE order_id = ?`, orderID)
	if err != nil {
		return false, err
	}
	type line struct {
		productID string
		qty       int
	}
	var lines []line
	for rows.Next() {
		var l line
		if err := rows.Scan(&l.productID, &l.qty); err != nil {
			rows.Close()
			return false, err
		}
		lines = append(lines, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, err
	}
	for _, l := range lines {
		if _, err := tx.Exec(`UPDATE products SET stock = MAX(stock - ?, 0) WHERE id = ? AND stock IS NOT NULL`, l.qty, l.productID); err != nil {
			return false, err
		}
	}

	if err := appendHistory(tx, orderID, "active", "paid", "payment confirmed"); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// CompleteOrder marks a paid order as completed (picked up). Idempotent.
func CompleteOrder(db *sql.DB, orderID string) (bool, error) {
	tx, err := db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	res, err := tx.Exec(`UPDATE orders SET status = 'completed', completed_at = ? WHERE id = ? AND status = 'active'`, now, orderID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}
	if err := appendHistory(tx, orderID, "completed", "", "order completed"); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func appendHistory(tx *sql.Tx, orderID, status, paymentStatus, note string) error {
	_, err := tx.Exec(`INSERT INTO order_status_history (order_id, status, payment_status, note, created_at) VALUES (?, ?, ?, ?, ?)`,
		orderID, status, paymentStatus, note, time.Now().UTC().Format(time.RFC3339))
	return err
}

type HistoryEntry struct {
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"`
	Note          string `json:"note"`
	CreatedAt     string `json:"createdAt"`
}

func OrderHistory(db *sql.DB, orderID string) ([]HistoryEntry, error) {
	rows, err := db.Query(`SELECT status, payment_status, note, created_at FROM order_status_history WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.Status, &h.PaymentStatus, &h.Note, &h.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, h)
	}
	return list, rows.Err()
}
