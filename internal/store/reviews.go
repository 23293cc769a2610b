package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Nbruchi/amazon-server/internal/database"
	"github.com/Nbruchi/amazon-server/internal/models"
)

const reviewColumns = `id, user_id, product_id, rating, title, body, created_at, updated_at`

func scanReview(row interface{ Scan(...any) error }) (*models.Review, error) {
	review := &models.Review{}
	err := row.Scan(
		&review.ID,
		&review.UserID,
		&review.ProductID,
		&review.Rating,
		&review.Title,
		&review.Body,
		&review.CreatedAt,
		&review.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return review, nil
}

// refreshProductRating recomputes the product's mean rating and review count
// from the full current review set and persists both in one update. The
// recompute runs from source rows every time rather than adjusting a running
// average, so it stays correct across deletes and concurrent edits.
func refreshProductRating(ctx context.Context, tx *sql.Tx, productID int64) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE products
		 SET rating = COALESCE((SELECT ROUND(AVG(rating)::numeric, 2) FROM reviews WHERE product_id = $1), 0),
		     review_count = (SELECT COUNT(*) FROM reviews WHERE product_id = $1),
		     updated_at = NOW()
		 WHERE id = $1`,
		productID)
	if err != nil {
		return fmt.Errorf("refresh product rating: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrProductNotFound
	}

	return nil
}

// CreateReview inserts a review and refreshes the product aggregate in the
// same transaction. A second review by the same user for the same product is
// rejected.
func CreateReview(ctx context.Context, db *sql.DB, userID, productID int64, rating int, title, body string) (*models.Review, error) {
	if rating < 1 || rating > 5 {
		return nil, database.ErrInvalidRating
	}

	var review *models.Review

	err := database.WithRetry(ctx, db, database.TxOptions{
		IsolationLevel: sql.LevelSerializable,
		MaxRetries:     3,
	}, func(tx *sql.Tx) error {
		var exists bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)`,
			productID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check product exists: %w", err)
		}
		if !exists {
			return database.ErrProductNotFound
		}

		query := `
			INSERT INTO reviews (user_id, product_id, rating, title, body, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
			RETURNING ` + reviewColumns

		review, err = scanReview(tx.QueryRowContext(ctx, query, userID, productID, rating, title, body))
		if err != nil {
			if database.IsUniqueViolation(err, "reviews_user_id_product_id_key") {
				return database.ErrAlreadyReviewed
			}
			if database.IsForeignKeyViolation(err) {
				return database.ErrUserNotFound
			}
			return fmt.Errorf("create review: %w", err)
		}

		return refreshProductRating(ctx, tx, productID)
	})

	if err != nil {
		return nil, err
	}

	return review, nil
}

// UpdateReview edits a review owned by actorID (admins may edit any) and
// refreshes the product aggregate in the same transaction.
func UpdateReview(ctx context.Context, db *sql.DB, reviewID, actorID int64, actorAdmin bool, rating int, title, body string) (*models.Review, error) {
	if rating < 1 || rating > 5 {
		return nil, database.ErrInvalidRating
	}

	var review *models.Review

	err := database.WithRetry(ctx, db, database.TxOptions{
		IsolationLevel: sql.LevelSerializable,
		MaxRetries:     3,
	}, func(tx *sql.Tx) error {
		var ownerID, productID int64
		err := tx.QueryRowContext(ctx,
			`SELECT user_id, product_id FROM reviews WHERE id = $1 FOR UPDATE`,
			reviewID).Scan(&ownerID, &productID)
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrReviewNotFound
			}
			return fmt.Errorf("get review: %w", err)
		}

		if ownerID != actorID && !actorAdmin {
			return database.ErrNotReviewOwner
		}

		query := `
			UPDATE reviews
			SET rating = $1, title = $2, body = $3, updated_at = NOW()
			WHERE id = $4
			RETURNING ` + reviewColumns

		review, err = scanReview(tx.QueryRowContext(ctx, query, rating, title, body, reviewID))
		if err != nil {
			return fmt.Errorf("update review: %w", err)
		}

		return refreshProductRating(ctx, tx, productID)
	})

	if err != nil {
		return nil, err
	}

	return review, nil
}

// DeleteReview removes a review owned by actorID (admins may delete any) and
// refreshes the product aggregate in the same transaction. Deleting the last
// review resets the product to rating 0, review_count 0.
func DeleteReview(ctx context.Context, db *sql.DB, reviewID, actorID int64, actorAdmin bool) error {
	return database.WithRetry(ctx, db, database.TxOptions{
		IsolationLevel: sql.LevelSerializable,
		MaxRetries:     3,
	}, func(tx *sql.Tx) error {
		var ownerID, productID int64
		err := tx.QueryRowContext(ctx,
			`SELECT user_id, product_id FROM reviews WHERE id = $1 FOR UPDATE`,
			reviewID).Scan(&ownerID, &productID)
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrReviewNotFound
			}
			return fmt.Errorf("get review: %w", err)
		}

		if ownerID != actorID && !actorAdmin {
			return database.ErrNotReviewOwner
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM reviews WHERE id = $1`, reviewID); err != nil {
			return fmt.Errorf("delete review: %w", err)
		}

		return refreshProductRating(ctx, tx, productID)
	})
}

func GetReview(ctx context.Context, db *sql.DB, id int64) (*models.Review, error) {
	query := `
		SELECT ` + reviewColumns + `
		FROM reviews
		WHERE id = $1`

	review, err := scanReview(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrReviewNotFound
		}
		return nil, fmt.Errorf("get review: %w", err)
	}

	return review, nil
}

func ListProductReviews(ctx context.Context, db *sql.DB, productID int64, page, pageSize int) (*OffsetPage, error) {
	var total int64
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reviews WHERE product_id = $1`,
		productID).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count reviews: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + reviewColumns + `
		FROM reviews
		WHERE product_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := db.QueryContext(ctx, query, productID, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	var reviews []models.Review
	for rows.Next() {
		review, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		reviews = append(reviews, *review)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}

	return &OffsetPage{
		Items:      reviews,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}
