package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// DirectoryRepo reads the user and product tables the saga snapshots from.
type DirectoryRepo struct{ DB *pgxpool.Pool }

func (r *DirectoryRepo) FindUser(ctx context.Context, userID string) (Customer, error) {
	var c Customer
	err := r.DB.QueryRow(ctx, `SELECT user_id, name, email, phone FROM users WHERE user_id=$1`, userID).
		Scan(&c.UserID, &c.Name, &c.Email, &c.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return Customer{}, ErrUserNotFound
	}
	return c, err
}

// FindProducts returns the visible products among ids, keyed by product id.
// Missing ids are simply absent from the map.
func (r *DirectoryRepo) FindProducts(ctx context.Context, ids []string) (map[string]Product, error) {
	out := make(map[string]Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.DB.Query(ctx, `
		SELECT product_id, name, price::text FROM products
		WHERE product_id = ANY($1) AND visible`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p     Product
			price string
		)
		if err := rows.Scan(&p.ProductID, &p.Name, &price); err != nil {
			return nil, err
		}
		if p.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("product %s price: %w", p.ProductID, err)
		}
		out[p.ProductID] = p
	}
	return out, rows.Err()
}

// UpsertUser and UpsertProduct seed the directory; orderctl and tests use them.
func (r *DirectoryRepo) UpsertUser(ctx context.Context, c Customer) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO users(user_id, name, email, phone) VALUES ($1,$2,$3,$4)
		ON CONFLICT (user_id) DO UPDATE SET name=EXCLUDED.name, email=EXCLUDED.email, phone=EXCLUDED.phone`,
		c.UserID, c.Name, c.Email, c.Phone)
	return err
}

func (r *DirectoryRepo) UpsertProduct(ctx context.Context, p Product) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO products(product_id, name, price) VALUES ($1,$2,$3::numeric)
		ON CONFLICT (product_id) DO UPDATE SET name=EXCLUDED.name, price=EXCLUDED.price, updated_at=NOW()`,
		p.ProductID, p.Name, p.Price.String())
	return err
}
