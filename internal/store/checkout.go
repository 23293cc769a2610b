package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Nbruchi/amazon-server/internal/database"
	"github.com/Nbruchi/amazon-server/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CheckoutRequest struct {
	UserID            int64
	ShippingAddressID int64
	BillingAddressID  int64
	PaymentMethodID   int64
	ShippingMethod    string
	Notes             string
}

// InsufficientStockError names the product that could not cover the
// requested quantity. It unwraps to database.ErrInsufficientStock.
type InsufficientStockError struct {
	ProductName string
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q", e.ProductName)
}

func (e *InsufficientStockError) Unwrap() error {
	return database.ErrInsufficientStock
}

func generateOrderNumber() string {
	return "ORD-" + uuid.NewString()
}

// cartLine is the checkout-time view of one cart row: quantity plus the
// product fields read under the row lock.
type cartLine struct {
	ProductID   int64
	ProductName string
	UnitPrice   decimal.Decimal
	Stock       int
	Quantity    int
}

// Checkout converts the user's cart into an order. Stock validation, order
// and order-item creation, stock decrement, and cart clearing run in a single
// serializable transaction: either the full order exists with stock and cart
// adjusted, or nothing changed.
func Checkout(ctx context.Context, db *sql.DB, req CheckoutRequest) (*models.Order, error) {
	var order *models.Order

	err := database.WithRetry(ctx, db, database.TxOptions{
		IsolationLevel: sql.LevelSerializable,
		MaxRetries:     3,
	}, func(tx *sql.Tx) error {
		if err := checkCheckoutRefs(ctx, tx, req); err != nil {
			return err
		}

		cartID, err := getOrCreateCart(ctx, tx, req.UserID)
		if err != nil {
			return err
		}

		lines, err := lockCartLines(ctx, tx, cartID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return database.ErrEmptyCart
		}

		// Validate every line before any write. The row locks taken above
		// hold until commit, so the stock seen here is the stock the
		// decrement below runs against.
		total := decimal.Zero
		for _, line := range lines {
			if line.Stock < line.Quantity {
				return &InsufficientStockError{ProductName: line.ProductName}
			}
			total = total.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
		}

		var orderID int64
		err = tx.QueryRowContext(ctx,
			`INSERT INTO orders (user_id, order_number, status, payment_status, total_amount,
			                     shipping_address_id, billing_address_id, payment_method_id,
			                     shipping_method, notes, created_at, updated_at, version)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW(), 1)
			 RETURNING id`,
			req.UserID, generateOrderNumber(), models.OrderStatusPending, models.PaymentStatusPending,
			total, req.ShippingAddressID, req.BillingAddressID, req.PaymentMethodID,
			req.ShippingMethod, req.Notes).Scan(&orderID)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		for _, line := range lines {
			subtotal := line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
			_, err = tx.ExecContext(ctx,
				`INSERT INTO order_items (order_id, product_id, product_name, quantity, unit_price, subtotal, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
				orderID, line.ProductID, line.ProductName, line.Quantity, line.UnitPrice, subtotal)
			if err != nil {
				return fmt.Errorf("create order item: %w", err)
			}
		}

		for _, line := range lines {
			if err := DecrementStock(ctx, tx, line.ProductID, line.Quantity); err != nil {
				if err == database.ErrInsufficientStock {
					return &InsufficientStockError{ProductName: line.ProductName}
				}
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}

		order, err = fetchOrderTx(ctx, tx, orderID)
		if err != nil {
			return err
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return order, nil
}

func checkCheckoutRefs(ctx context.Context, tx *sql.Tx, req CheckoutRequest) error {
	var exists bool
	err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`,
		req.UserID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check user exists: %w", err)
	}
	if !exists {
		return database.ErrUserNotFound
	}

	for _, addressID := range []int64{req.ShippingAddressID, req.BillingAddressID} {
		err = tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM addresses WHERE id = $1 AND user_id = $2)`,
			addressID, req.UserID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check address exists: %w", err)
		}
		if !exists {
			return database.ErrAddressNotFound
		}
	}

	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM payment_methods WHERE id = $1 AND user_id = $2)`,
		req.PaymentMethodID, req.UserID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check payment method exists: %w", err)
	}
	if !exists {
		return database.ErrPaymentMethodNotFound
	}

	return nil
}

// lockCartLines reads the cart joined to its products with the product rows
// locked. Price and stock in the result form the snapshot the whole checkout
// is priced and validated against.
func lockCartLines(ctx context.Context, tx *sql.Tx, cartID int64) ([]cartLine, error) {
	query := `
		SELECT ci.product_id, p.name, p.price, p.stock_quantity, ci.quantity
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id = $1
		ORDER BY ci.product_id
		FOR UPDATE OF p`

	rows, err := tx.QueryContext(ctx, query, cartID)
	if err != nil {
		return nil, fmt.Errorf("lock cart lines: %w", err)
	}
	defer rows.Close()

	var lines []cartLine
	for rows.Next() {
		var line cartLine
		err := rows.Scan(&line.ProductID, &line.ProductName, &line.UnitPrice, &line.Stock, &line.Quantity)
		if err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return lines, nil
}

func fetchOrderTx(ctx context.Context, tx *sql.Tx, orderID int64) (*models.Order, error) {
	order := &models.Order{ID: orderID}
	err := tx.QueryRowContext(ctx,
		`SELECT user_id, order_number, status, payment_status, total_amount,
		        shipping_address_id, billing_address_id, payment_method_id,
		        shipping_method, notes, created_at, updated_at, version
		 FROM orders WHERE id = $1`,
		orderID).Scan(
		&order.UserID,
		&order.OrderNumber,
		&order.Status,
		&order.PaymentStatus,
		&order.TotalAmount,
		&order.ShippingAddressID,
		&order.BillingAddressID,
		&order.PaymentMethodID,
		&order.ShippingMethod,
		&order.Notes,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch created order: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, order_id, product_id, product_name, quantity, unit_price, subtotal, created_at
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY id`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("fetch order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item models.OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.ProductName,
			&item.Quantity,
			&item.UnitPrice,
			&item.Subtotal,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		order.Items = append(order.Items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return order, nil
}
