package repository

import (
	"database/sql"

	"github.com/google/uuid"
)

type Product struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	Price       float64 `json:"price"`
	// nil = unlimited
	Stock  *int `json:"stock"`
	Active bool `json:"active"`
}

func CreateProduct(db *sql.DB, p *Product) (string, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	_, err := db.Exec(`INSERT INTO products (id, name, description, category, price, stock, active) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, p.Category, p.Price, p.Stock, boolToInt(p.Active))
	return p.ID, err
}

func ProductByID(db *sql.DB, id string) (*Product, error) {
	var p Product
	var stock sql.NullInt64
	var active int
	err := db.QueryRow(`SELECT id, name, description, category, price, stock, active FROM products WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.Price, &stock, &active)
	if err != nil {
		return nil, err
	}
	if stock.Valid {
		s := int(stock.Int64)
		p.Stock = &s
	}
	p.Active = active == 1
	return &p, nil
}

func ListProducts(db *sql.DB, activeOnly bool) ([]Product, error) {
	query := `SELECT id, name, description, category, price, stock, active FROM products ORDER BY category, name`
	if activeOnly {
		query = `SELECT id, name, description, category, price, stock, active FROM products WHERE active = 1 ORDER BY category, name`
	}
	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Product
	for rows.Next() {
		var p Product
		var stock sql.NullInt64
		var active int
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.Price, &stock, &active); err != nil {
			return nil, err
		}
		if stock.Valid {
			s := int(stock.Int64)
			p.Stock = &s
		}
		p.Active = active == 1
		list = append(list, p)
	}
	return list, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
