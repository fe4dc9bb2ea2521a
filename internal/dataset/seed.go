package dataset

import (
	"context"
	"database/sql"
	"fmt"
)

// SeedResult counts rows inserted per table. Rows that already exist are skipped.
type SeedResult struct {
	Products  int64
	Customers int64
	Sales     int64
}

// SeedPostgres inserts the dataset into the products, customers and sales
// tables created by the retail migration, in one transaction.
func SeedPostgres(ctx context.Context, db *sql.DB, retail Retail) (SeedResult, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return SeedResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var result SeedResult
	for _, product := range retail.Products {
		res, err := tx.ExecContext(ctx, `
INSERT INTO products (product_id, product_name, category, price, stock_quantity, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (product_id) DO NOTHING`,
			product.ProductID, product.ProductName, product.Category, product.Price, product.StockQuantity, product.CreatedAt)
		if err != nil {
			return SeedResult{}, fmt.Errorf("insert product %d: %w", product.ProductID, err)
		}
		result.Products += affected(res)
	}
	for _, customer := range retail.Customers {
		res, err := tx.ExecContext(ctx, `
INSERT INTO customers (customer_id, customer_name, email, city, state, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (customer_id) DO NOTHING`,
			customer.CustomerID, customer.CustomerName, customer.Email, customer.City, customer.State, customer.CreatedAt)
		if err != nil {
			return SeedResult{}, fmt.Errorf("insert customer %d: %w", customer.CustomerID, err)
		}
		result.Customers += affected(res)
	}
	for _, sale := range retail.Sales {
		res, err := tx.ExecContext(ctx, `
INSERT INTO sales (sale_id, customer_id, product_id, sale_date, quantity, total_amount, payment_method)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (sale_id) DO NOTHING`,
			sale.SaleID, sale.CustomerID, sale.ProductID, sale.SaleDate, sale.Quantity, sale.TotalAmount, sale.PaymentMethod)
		if err != nil {
			return SeedResult{}, fmt.Errorf("insert sale %d: %w", sale.SaleID, err)
		}
		result.Sales += affected(res)
	}

	if err := tx.Commit(); err != nil {
		return SeedResult{}, fmt.Errorf("commit seed: %w", err)
	}
	return result, nil
}

func affected(res sql.Result) int64 {
	count, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return count
}
