package integration

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/Nbruchi/amazon-server/internal/database"
	"github.com/Nbruchi/amazon-server/internal/models"
	"github.com/Nbruchi/amazon-server/internal/store"
	"github.com/shopspring/decimal"
)

func seedProduct(t *testing.T, db *sql.DB, sku string) *models.Product {
	t.Helper()
	product, err := store.CreateProduct(context.Background(), db, sku, "Reviewed Product", "Test", decimal.RequireFromString("9.99"), 10)
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}
	return product
}

func assertProductRating(t *testing.T, db *sql.DB, productID int64, wantRating string, wantCount int) {
	t.Helper()
	product, err := store.GetProduct(context.Background(), db, productID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if want := decimal.RequireFromString(wantRating); !product.Rating.Equal(want) {
		t.Errorf("Expected rating %s, got %s", want, product.Rating)
	}
	if product.ReviewCount != wantCount {
		t.Errorf("Expected review count %d, got %d", wantCount, product.ReviewCount)
	}
}

func TestReviewAggregate(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	product := seedProduct(t, db, "REV-001")
	buyer1 := seedBuyer(t, db, "reviewer1@example.com")
	buyer2 := seedBuyer(t, db, "reviewer2@example.com")

	if _, err := store.CreateReview(ctx, db, buyer1.User.ID, product.ID, 4, "Good", ""); err != nil {
		t.Fatalf("Create review 1: %v", err)
	}
	assertProductRating(t, db, product.ID, "4", 1)

	if _, err := store.CreateReview(ctx, db, buyer2.User.ID, product.ID, 2, "Meh", ""); err != nil {
		t.Fatalf("Create review 2: %v", err)
	}
	assertProductRating(t, db, product.ID, "3", 2)

	_, err := store.CreateReview(ctx, db, buyer1.User.ID, product.ID, 5, "Again", "")
	if !errors.Is(err, database.ErrAlreadyReviewed) {
		t.Errorf("Expected already reviewed error, got: %v", err)
	}
	assertProductRating(t, db, product.ID, "3", 2)
}

func TestReviewAggregateFractionalMean(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	product := seedProduct(t, db, "REV-002")
	buyer1 := seedBuyer(t, db, "frac1@example.com")
	buyer2 := seedBuyer(t, db, "frac2@example.com")

	if _, err := store.CreateReview(ctx, db, buyer1.User.ID, product.ID, 4, "", ""); err != nil {
		t.Fatalf("Create review 1: %v", err)
	}
	if _, err := store.CreateReview(ctx, db, buyer2.User.ID, product.ID, 5, "", ""); err != nil {
		t.Fatalf("Create review 2: %v", err)
	}

	assertProductRating(t, db, product.ID, "4.5", 2)
}

func TestUpdateReviewRecomputesAggregate(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	product := seedProduct(t, db, "REV-003")
	buyer1 := seedBuyer(t, db, "update1@example.com")
	buyer2 := seedBuyer(t, db, "update2@example.com")

	review, err := store.CreateReview(ctx, db, buyer1.User.ID, product.ID, 4, "", "")
	if err != nil {
		t.Fatalf("Create review 1: %v", err)
	}
	if _, err := store.CreateReview(ctx, db, buyer2.User.ID, product.ID, 4, "", ""); err != nil {
		t.Fatalf("Create review 2: %v", err)
	}
	assertProductRating(t, db, product.ID, "4", 2)

	if _, err := store.UpdateReview(ctx, db, review.ID, buyer1.User.ID, false, 2, "Changed my mind", ""); err != nil {
		t.Fatalf("Update review: %v", err)
	}
	assertProductRating(t, db, product.ID, "3", 2)
}

func TestDeleteLastReviewResetsAggregate(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	product := seedProduct(t, db, "REV-004")
	b := seedBuyer(t, db, "deleter@example.com")

	review, err := store.CreateReview(ctx, db, b.User.ID, product.ID, 5, "", "")
	if err != nil {
		t.Fatalf("Create review: %v", err)
	}
	assertProductRating(t, db, product.ID, "5", 1)

	if err := store.DeleteReview(ctx, db, review.ID, b.User.ID, false); err != nil {
		t.Fatalf("Delete review: %v", err)
	}
	assertProductRating(t, db, product.ID, "0", 0)
}

func TestReviewOwnership(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	product := seedProduct(t, db, "REV-005")
	owner := seedBuyer(t, db, "owner@example.com")
	stranger := seedBuyer(t, db, "stranger@example.com")
	admin := seedBuyer(t, db, "admin@example.com")
	makeAdmin(t, db, admin.User.ID)

	review, err := store.CreateReview(ctx, db, owner.User.ID, product.ID, 3, "", "")
	if err != nil {
		t.Fatalf("Create review: %v", err)
	}

	_, err = store.UpdateReview(ctx, db, review.ID, stranger.User.ID, false, 1, "Vandalism", "")
	if !errors.Is(err, database.ErrNotReviewOwner) {
		t.Errorf("Expected ownership error, got: %v", err)
	}

	if err := store.DeleteReview(ctx, db, review.ID, stranger.User.ID, false); !errors.Is(err, database.ErrNotReviewOwner) {
		t.Errorf("Expected ownership error on delete, got: %v", err)
	}

	// An administrator may delete any review.
	if err := store.DeleteReview(ctx, db, review.ID, admin.User.ID, true); err != nil {
		t.Fatalf("Admin delete: %v", err)
	}
	assertProductRating(t, db, product.ID, "0", 0)
}

func TestConcurrentReviewMutations(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	product := seedProduct(t, db, "REV-006")

	concurrency := 8
	buyers := make([]buyer, concurrency)
	for i := range buyers {
		buyers[i] = seedBuyer(t, db, "swarm"+string(rune('a'+i))+"@example.com")
	}

	var wg sync.WaitGroup
	for i, b := range buyers {
		wg.Add(1)
		go func(b buyer, rating int) {
			defer wg.Done()
			if _, err := store.CreateReview(ctx, db, b.User.ID, product.ID, rating, "", ""); err != nil {
				t.Errorf("Create review: %v", err)
			}
		}(b, i%5+1)
	}
	wg.Wait()

	// The aggregate must equal what a fresh recompute over the rows says.
	var wantRating decimal.Decimal
	var wantCount int
	err := db.QueryRow(
		`SELECT COALESCE(ROUND(AVG(rating)::numeric, 2), 0), COUNT(*) FROM reviews WHERE product_id = $1`,
		product.ID).Scan(&wantRating, &wantCount)
	if err != nil {
		t.Fatalf("Recompute expected aggregate: %v", err)
	}
	if wantCount != concurrency {
		t.Fatalf("Expected %d reviews, got %d", concurrency, wantCount)
	}

	productAfter, err := store.GetProduct(ctx, db, product.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if !productAfter.Rating.Equal(wantRating) {
		t.Errorf("Expected rating %s, got %s", wantRating, productAfter.Rating)
	}
	if productAfter.ReviewCount != wantCount {
		t.Errorf("Expected review count %d, got %d", wantCount, productAfter.ReviewCount)
	}
}
