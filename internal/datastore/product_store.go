package datastore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateProduct inserts a catalog product.
func CreateProduct(p *Product) (string, error) {
	if DB == nil {
		return "", errors.New("database connection not initialized")
	}
	if p.ID == "" {
		return "", errors.New("product id is required")
	}

	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := DB.Exec(
		`INSERT INTO products (id, title, units_relation, main_unit_description, secondary_unit_description, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.Title, p.UnitsRelation, p.MainUnitDescription, p.SecondaryUnitDescription, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create product %s: %w", p.ID, err)
	}
	return p.ID, nil
}

// GetProduct retrieves a product by its catalog id.
func GetProduct(id string) (*Product, error) {
	if DB == nil {
		return nil, errors.New("database connection not initialized")
	}

	p := &Product{}
	err := DB.QueryRow(
		`SELECT id, title, units_relation, main_unit_description, secondary_unit_description, created_at, updated_at
		 FROM products WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Title, &p.UnitsRelation, &p.MainUnitDescription, &p.SecondaryUnitDescription, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("product %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

// ListProducts lists the whole catalog ordered by id.
func ListProducts() ([]*Product, error) {
	if DB == nil {
		return nil, errors.New("database connection not initialized")
	}

	rows, err := DB.Query(
		`SELECT id, title, units_relation, main_unit_description, secondary_unit_description, created_at, updated_at
		 FROM products ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	products := []*Product{}
	for rows.Next() {
		p := &Product{}
		if err := rows.Scan(&p.ID, &p.Title, &p.UnitsRelation, &p.MainUnitDescription, &p.SecondaryUnitDescription, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan product row: %w", err)
		}
		products = append(products, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for products: %w", err)
	}
	return products, nil
}

// UpdateProduct updates a product's descriptive fields.
func UpdateProduct(p *Product) error {
	if DB == nil {
		return errors.New("database connection not initialized")
	}

	result, err := DB.Exec(
		`UPDATE products SET title = $1, units_relation = $2, main_unit_description = $3, secondary_unit_description = $4, updated_at = $5
		 WHERE id = $6`,
		p.Title, p.UnitsRelation, p.MainUnitDescription, p.SecondaryUnitDescription, time.Now(), p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update product %s: %w", p.ID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("product %s: %w", p.ID, ErrNotFound)
	}
	return nil
}

// DeleteProduct removes a product from the catalog.
func DeleteProduct(id string) error {
	if DB == nil {
		return errors.New("database connection not initialized")
	}

	result, err := DB.Exec(`DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete product %s: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpsertProducts bulk-imports catalog rows, updating existing ids in place.
// The whole batch commits or rolls back together.
func UpsertProducts(products []Product) (int, error) {
	if DB == nil {
		return 0, errors.New("database connection not initialized")
	}

	tx, err := DB.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	count := 0
	for i := range products {
		p := &products[i]
		if p.ID == "" {
			return 0, fmt.Errorf("product at index %d has no id", i)
		}
		_, err := tx.Exec(
			`INSERT INTO products (id, title, units_relation, main_unit_description, secondary_unit_description, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (id) DO UPDATE SET
			   title = EXCLUDED.title,
			   units_relation = EXCLUDED.units_relation,
			   main_unit_description = EXCLUDED.main_unit_description,
			   secondary_unit_description = EXCLUDED.secondary_unit_description,
			   updated_at = EXCLUDED.updated_at`,
			p.ID, p.Title, p.UnitsRelation, p.MainUnitDescription, p.SecondaryUnitDescription, now, now,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to upsert product %s: %w", p.ID, err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit product import: %w", err)
	}
	return count, nil
}
