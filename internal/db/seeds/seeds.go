package seeds

import (
	"database/sql"
	"fmt"
	"time"

	"quiosque/api/internal/auth"
)

// Run clears seed-related data and inserts fresh seed data.
// Safe to run multiple times (resets to seed state).
func Run(db *sql.DB) error {
	if err := clear(db); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	if err := insert(db); err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	return nil
}

func clear(db *sql.DB) error {
	tables := []string{
		"order_status_history", "order_items", "orders",
		"webhook_events", "products", "users",
	}
	for _, t := range tables {
		if _, err := db.Exec("DELETE FROM " + t); err != nil {
			return fmt.Errorf("delete %s: %w", t, err)
		}
	}
	return nil
}

func insert(db *sql.DB) error {
	// Password for all seed users: "123456"
	passwordHash, err := auth.HashPassword("123456")
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC().Format("2006-01-02T15:04:05Z")

	// Users: the shared kiosk account plus an operator
	users := []struct {
		id           string
		name         string
		email        string
		passwordHash string
		role         string
	}{
		{"kiosk", "Quiosque Balcão", "balcao@quiosque.local", passwordHash, "customer"},
		{"seed-operator", "Operador", "operador@quiosque.local", passwordHash, "operator"},
	}
	for _, u := range users {
		_, err := db.Exec(`INSERT INTO users (id, name, email, password_hash, role, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			u.id, u.name, u.email, u.passwordHash, u.role, now)
		if err != nil {
			return fmt.Errorf("insert user %s: %w", u.id, err)
		}
	}

	// Menu. stock nil = unlimited (made to order), finite for bottled items.
	limited := func(n int) *int { return &n }
	products := []struct {
		id          string
		name        string
		description string
		category    string
		price       float64
		stock       *int
	}{
		{"seed-acai-p", "Açaí 300ml", "Açaí batido na hora com banana", "açaí", 15.00, nil},
		{"seed-acai-g", "Açaí 500ml", "Açaí batido na hora com granola e mel", "açaí", 22.00, nil},
		{"seed-tapioca", "Tapioca de Queijo", "Tapioca quentinha com queijo coalho", "salgados", 12.00, nil},
		{"seed-coxinha", "Coxinha de Frango", "Coxinha crocante, frango desfiado", "salgados", 8.50, nil},
		{"seed-pastel", "Pastel de Carne", "Pastel frito na hora", "salgados", 10.00, nil},
		{"seed-agua", "Água Mineral 500ml", "Sem gás, gelada", "bebidas", 4.00, limited(48)},
		{"seed-refri", "Refrigerante Lata", "Coca, Guaraná ou Fanta", "bebidas", 6.00, limited(36)},
		{"seed-suco", "Suco de Laranja 400ml", "Espremido na hora", "bebidas", 9.00, nil},
		{"seed-cafe", "Café Espresso", "Grão torrado artesanal", "bebidas", 5.50, nil},
		{"seed-brownie", "Brownie", "Chocolate meio amargo com nozes", "doces", 9.50, limited(20)},
	}
	for _, p := range products {
		_, err := db.Exec(`INSERT INTO products (id, name, description, category, price, stock, active, created_at) VALUES (?, ?, ?, ?, ?, ?, 1, ?)`,
			p.id, p.name, p.description, p.category, p.price, p.stock, now)
		if err != nil {
			return fmt.Errorf("insert product %s: %w", p.id, err)
		}
	}

	return nil
}
