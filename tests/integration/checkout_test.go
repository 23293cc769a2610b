package integration

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Nbruchi/amazon-server/internal/database"
	"github.com/Nbruchi/amazon-server/internal/store"
	"github.com/shopspring/decimal"
)

func TestCheckout(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	b := seedBuyer(t, db, "checkout@example.com")

	productA, err := store.CreateProduct(ctx, db, "CHK-A", "Product A", "Test", decimal.RequireFromString("10.00"), 2)
	if err != nil {
		t.Fatalf("Create product A: %v", err)
	}
	productB, err := store.CreateProduct(ctx, db, "CHK-B", "Product B", "Test", decimal.RequireFromString("5.00"), 1)
	if err != nil {
		t.Fatalf("Create product B: %v", err)
	}

	if _, err := store.AddCartItem(ctx, db, b.User.ID, productA.ID, 1); err != nil {
		t.Fatalf("Add product A to cart: %v", err)
	}
	if _, err := store.AddCartItem(ctx, db, b.User.ID, productB.ID, 1); err != nil {
		t.Fatalf("Add product B to cart: %v", err)
	}

	order, err := store.Checkout(ctx, db, checkoutRequest(b))
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	if order.ID == 0 {
		t.Error("Order ID should not be 0")
	}
	if order.Status != "pending" || order.PaymentStatus != "pending" {
		t.Errorf("Expected pending/pending, got %s/%s", order.Status, order.PaymentStatus)
	}
	if want := decimal.RequireFromString("15.00"); !order.TotalAmount.Equal(want) {
		t.Errorf("Expected total %s, got %s", want, order.TotalAmount)
	}
	if len(order.Items) != 2 {
		t.Fatalf("Expected 2 order items, got %d", len(order.Items))
	}

	productAAfter, err := store.GetProduct(ctx, db, productA.ID)
	if err != nil {
		t.Fatalf("Get product A: %v", err)
	}
	if productAAfter.StockQuantity != 1 {
		t.Errorf("Expected product A stock 1, got %d", productAAfter.StockQuantity)
	}

	productBAfter, err := store.GetProduct(ctx, db, productB.ID)
	if err != nil {
		t.Fatalf("Get product B: %v", err)
	}
	if productBAfter.StockQuantity != 0 {
		t.Errorf("Expected product B stock 0, got %d", productBAfter.StockQuantity)
	}

	cart, err := store.GetCart(ctx, db, b.User.ID)
	if err != nil {
		t.Fatalf("Get cart: %v", err)
	}
	if len(cart.Items) != 0 {
		t.Errorf("Expected empty cart after checkout, got %d items", len(cart.Items))
	}
}

func TestCheckoutEmptyCart(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	b := seedBuyer(t, db, "empty@example.com")

	_, err := store.Checkout(ctx, db, checkoutRequest(b))
	if !errors.Is(err, database.ErrEmptyCart) {
		t.Errorf("Expected empty cart error, got: %v", err)
	}
}

func TestCheckoutInsufficientStock(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	b := seedBuyer(t, db, "nostock@example.com")

	product, err := store.CreateProduct(ctx, db, "CHK-C", "Product C", "Test", decimal.RequireFromString("7.50"), 1)
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	if _, err := store.AddCartItem(ctx, db, b.User.ID, product.ID, 1); err != nil {
		t.Fatalf("Add to cart: %v", err)
	}

	// Someone else buys out the stock before this buyer checks out.
	if _, err := db.Exec(`UPDATE products SET stock_quantity = 0 WHERE id = $1`, product.ID); err != nil {
		t.Fatalf("Drain stock: %v", err)
	}

	_, err = store.Checkout(ctx, db, checkoutRequest(b))
	if !errors.Is(err, database.ErrInsufficientStock) {
		t.Fatalf("Expected insufficient stock error, got: %v", err)
	}

	var stockErr *store.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("Expected InsufficientStockError, got: %T", err)
	}
	if stockErr.ProductName != "Product C" {
		t.Errorf("Expected product name in error, got %q", stockErr.ProductName)
	}

	// Nothing was written: no order, no order items, cart untouched.
	var orderCount, itemCount int
	if err := db.QueryRow(`SELECT COUNT(*) FROM orders`).Scan(&orderCount); err != nil {
		t.Fatalf("Count orders: %v", err)
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM order_items`).Scan(&itemCount); err != nil {
		t.Fatalf("Count order items: %v", err)
	}
	if orderCount != 0 || itemCount != 0 {
		t.Errorf("Expected no order rows, got %d orders / %d items", orderCount, itemCount)
	}

	cart, err := store.GetCart(ctx, db, b.User.ID)
	if err != nil {
		t.Fatalf("Get cart: %v", err)
	}
	if len(cart.Items) != 1 {
		t.Errorf("Expected cart to still hold 1 item, got %d", len(cart.Items))
	}
}

func TestConcurrentCheckoutSingleWinner(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	product, err := store.CreateProduct(ctx, db, "CHK-D", "Product D", "Test", decimal.RequireFromString("20.00"), 2)
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	buyers := []buyer{
		seedBuyer(t, db, "race1@example.com"),
		seedBuyer(t, db, "race2@example.com"),
	}
	for _, b := range buyers {
		if _, err := store.AddCartItem(ctx, db, b.User.ID, product.ID, 2); err != nil {
			t.Fatalf("Add to cart: %v", err)
		}
	}

	var wg sync.WaitGroup
	results := make(chan error, len(buyers))
	for _, b := range buyers {
		wg.Add(1)
		go func(b buyer) {
			defer wg.Done()
			_, err := store.Checkout(ctx, db, checkoutRequest(b))
			results <- err
		}(b)
	}
	wg.Wait()
	close(results)

	successCount := 0
	insufficientCount := 0
	for err := range results {
		switch {
		case err == nil:
			successCount++
		case errors.Is(err, database.ErrInsufficientStock):
			insufficientCount++
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}

	if successCount != 1 || insufficientCount != 1 {
		t.Errorf("Expected 1 success and 1 rejection, got %d/%d", successCount, insufficientCount)
	}

	productAfter, err := store.GetProduct(ctx, db, product.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if productAfter.StockQuantity != 0 {
		t.Errorf("Expected final stock 0, got %d", productAfter.StockQuantity)
	}
	if productAfter.StockQuantity < 0 {
		t.Error("Stock must never go negative")
	}
}

func TestCheckoutFreezesOrderItemPrices(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	b := seedBuyer(t, db, "frozen@example.com")

	product, err := store.CreateProduct(ctx, db, "CHK-E", "Product E", "Test", decimal.RequireFromString("12.00"), 5)
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	if _, err := store.AddCartItem(ctx, db, b.User.ID, product.ID, 2); err != nil {
		t.Fatalf("Add to cart: %v", err)
	}

	order, err := store.Checkout(ctx, db, checkoutRequest(b))
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	// A later price and name change must not show through the order items.
	_, err = db.Exec(`UPDATE products SET price = 99.99, name = 'Renamed' WHERE id = $1`, product.ID)
	if err != nil {
		t.Fatalf("Mutate product: %v", err)
	}

	fetched, err := store.GetOrder(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if len(fetched.Items) != 1 {
		t.Fatalf("Expected 1 order item, got %d", len(fetched.Items))
	}
	item := fetched.Items[0]
	if want := decimal.RequireFromString("12.00"); !item.UnitPrice.Equal(want) {
		t.Errorf("Expected frozen unit price %s, got %s", want, item.UnitPrice)
	}
	if item.ProductName != "Product E" {
		t.Errorf("Expected frozen product name, got %q", item.ProductName)
	}
	if want := decimal.RequireFromString("24.00"); !fetched.TotalAmount.Equal(want) {
		t.Errorf("Expected total %s, got %s", want, fetched.TotalAmount)
	}
}
