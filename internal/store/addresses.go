package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Nbruchi/amazon-server/internal/database"
	"github.com/Nbruchi/amazon-server/internal/models"
)

func CreateAddress(ctx context.Context, db *sql.DB, userID int64, street, city, state, postalCode, country string) (*models.Address, error) {
	address := &models.Address{}

	query := `
		INSERT INTO addresses (user_id, street, city, state, postal_code, country, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING id, user_id, street, city, state, postal_code, country, created_at, updated_at`

	err := db.QueryRowContext(ctx, query, userID, street, city, state, postalCode, country).Scan(
		&address.ID,
		&address.UserID,
		&address.Street,
		&address.City,
		&address.State,
		&address.PostalCode,
		&address.Country,
		&address.CreatedAt,
		&address.UpdatedAt,
	)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("create address: %w", err)
	}

	return address, nil
}

func GetAddress(ctx context.Context, db *sql.DB, id int64) (*models.Address, error) {
	address := &models.Address{}

	query := `
		SELECT id, user_id, street, city, state, postal_code, country, created_at, updated_at
		FROM addresses
		WHERE id = $1`

	err := db.QueryRowContext(ctx, query, id).Scan(
		&address.ID,
		&address.UserID,
		&address.Street,
		&address.City,
		&address.State,
		&address.PostalCode,
		&address.Country,
		&address.CreatedAt,
		&address.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrAddressNotFound
		}
		return nil, fmt.Errorf("get address: %w", err)
	}

	return address, nil
}

func ListUserAddresses(ctx context.Context, db *sql.DB, userID int64) ([]models.Address, error) {
	query := `
		SELECT id, user_id, street, city, state, postal_code, country, created_at, updated_at
		FROM addresses
		WHERE user_id = $1
		ORDER BY created_at`

	rows, err := db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}
	defer rows.Close()

	var addresses []models.Address
	for rows.Next() {
		var address models.Address
		err := rows.Scan(
			&address.ID,
			&address.UserID,
			&address.Street,
			&address.City,
			&address.State,
			&address.PostalCode,
			&address.Country,
			&address.CreatedAt,
			&address.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan address: %w", err)
		}
		addresses = append(addresses, address)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return addresses, nil
}

func CreatePaymentMethod(ctx context.Context, db *sql.DB, userID int64, methodType, label string) (*models.PaymentMethod, error) {
	method := &models.PaymentMethod{}

	query := `
		INSERT INTO payment_methods (user_id, method_type, label, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		RETURNING id, user_id, method_type, label, created_at, updated_at`

	err := db.QueryRowContext(ctx, query, userID, methodType, label).Scan(
		&method.ID,
		&method.UserID,
		&method.MethodType,
		&method.Label,
		&method.CreatedAt,
		&method.UpdatedAt,
	)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("create payment method: %w", err)
	}

	return method, nil
}

func GetPaymentMethod(ctx context.Context, db *sql.DB, id int64) (*models.PaymentMethod, error) {
	method := &models.PaymentMethod{}

	query := `
		SELECT id, user_id, method_type, label, created_at, updated_at
		FROM payment_methods
		WHERE id = $1`

	err := db.QueryRowContext(ctx, query, id).Scan(
		&method.ID,
		&method.UserID,
		&method.MethodType,
		&method.Label,
		&method.CreatedAt,
		&method.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrPaymentMethodNotFound
		}
		return nil, fmt.Errorf("get payment method: %w", err)
	}

	return method, nil
}

func ListUserPaymentMethods(ctx context.Context, db *sql.DB, userID int64) ([]models.PaymentMethod, error) {
	query := `
		SELECT id, user_id, method_type, label, created_at, updated_at
		FROM payment_methods
		WHERE user_id = $1
		ORDER BY created_at`

	rows, err := db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list payment methods: %w", err)
	}
	defer rows.Close()

	var methods []models.PaymentMethod
	for rows.Next() {
		var method models.PaymentMethod
		err := rows.Scan(
			&method.ID,
			&method.UserID,
			&method.MethodType,
			&method.Label,
			&method.CreatedAt,
			&method.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan payment method: %w", err)
		}
		methods = append(methods, method)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return methods, nil
}
