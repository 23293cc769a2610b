package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Nbruchi/amazon-server/internal/database"
	"github.com/Nbruchi/amazon-server/internal/models"
	"github.com/shopspring/decimal"
)

// getOrCreateCart resolves the user's cart id, creating an empty cart on
// first access. The ON CONFLICT arm makes concurrent first accesses converge
// on the same row.
func getOrCreateCart(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, userID int64) (int64, error) {
	var cartID int64
	err := q.QueryRowContext(ctx,
		`INSERT INTO carts (user_id, created_at, updated_at)
		 VALUES ($1, NOW(), NOW())
		 ON CONFLICT (user_id) DO UPDATE SET updated_at = carts.updated_at
		 RETURNING id`,
		userID).Scan(&cartID)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return 0, database.ErrUserNotFound
		}
		return 0, fmt.Errorf("get or create cart: %w", err)
	}
	return cartID, nil
}

// GetCart returns the user's cart with priced line items. The product name,
// unit price, and stock on each line are a read-time join against the live
// product rows; the cart itself never copies them.
func GetCart(ctx context.Context, db *sql.DB, userID int64) (*models.Cart, error) {
	cartID, err := getOrCreateCart(ctx, db, userID)
	if err != nil {
		return nil, err
	}

	cart := &models.Cart{ID: cartID, UserID: userID}

	err = db.QueryRowContext(ctx,
		`SELECT created_at, updated_at FROM carts WHERE id = $1`,
		cartID).Scan(&cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}

	query := `
		SELECT ci.id, ci.cart_id, ci.product_id, p.name, p.price, p.stock_quantity, ci.quantity
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id = $1
		ORDER BY ci.created_at, ci.id`

	rows, err := db.QueryContext(ctx, query, cartID)
	if err != nil {
		return nil, fmt.Errorf("get cart items: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	var items []models.CartItem
	for rows.Next() {
		var item models.CartItem
		err := rows.Scan(
			&item.ID,
			&item.CartID,
			&item.ProductID,
			&item.ProductName,
			&item.UnitPrice,
			&item.Stock,
			&item.Quantity,
		)
		if err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		item.Subtotal = item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		total = total.Add(item.Subtotal)
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	cart.Items = items
	cart.Total = total

	return cart, nil
}

// AddCartItem upserts a cart line. Adding a product already in the cart
// accumulates quantity on the existing line.
func AddCartItem(ctx context.Context, db *sql.DB, userID, productID int64, quantity int) (*models.Cart, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("quantity must be at least 1")
	}

	cartID, err := getOrCreateCart(ctx, db, userID)
	if err != nil {
		return nil, err
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO cart_items (cart_id, product_id, quantity, created_at, updated_at)
		 VALUES ($1, $2, $3, NOW(), NOW())
		 ON CONFLICT (cart_id, product_id)
		 DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity, updated_at = NOW()`,
		cartID, productID, quantity)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("add cart item: %w", err)
	}

	return GetCart(ctx, db, userID)
}

// UpdateCartItemQuantity sets a line's quantity; zero removes the line.
func UpdateCartItemQuantity(ctx context.Context, db *sql.DB, userID, productID int64, quantity int) (*models.Cart, error) {
	if quantity < 0 {
		return nil, fmt.Errorf("quantity must not be negative")
	}
	if quantity == 0 {
		return RemoveCartItem(ctx, db, userID, productID)
	}

	cartID, err := getOrCreateCart(ctx, db, userID)
	if err != nil {
		return nil, err
	}

	result, err := db.ExecContext(ctx,
		`UPDATE cart_items SET quantity = $1, updated_at = NOW()
		 WHERE cart_id = $2 AND product_id = $3`,
		quantity, cartID, productID)
	if err != nil {
		return nil, fmt.Errorf("update cart item: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, database.ErrCartItemNotFound
	}

	return GetCart(ctx, db, userID)
}

func RemoveCartItem(ctx context.Context, db *sql.DB, userID, productID int64) (*models.Cart, error) {
	cartID, err := getOrCreateCart(ctx, db, userID)
	if err != nil {
		return nil, err
	}

	result, err := db.ExecContext(ctx,
		`DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2`,
		cartID, productID)
	if err != nil {
		return nil, fmt.Errorf("remove cart item: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, database.ErrCartItemNotFound
	}

	return GetCart(ctx, db, userID)
}

func ClearCart(ctx context.Context, db *sql.DB, userID int64) error {
	cartID, err := getOrCreateCart(ctx, db, userID)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID)
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}

	return nil
}
