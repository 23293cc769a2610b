package integration

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/Nbruchi/amazon-server/internal/models"
	"github.com/Nbruchi/amazon-server/internal/store"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:14-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to ping database: %v", err)
	}

	if err := runMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close database: %v", err)
		}
		if err := postgres.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}

	return db, cleanup
}

func runMigrations(db *sql.DB) error {
	migrationDir := "../../migrations"
	files, err := os.ReadDir(migrationDir)
	if err != nil {
		return fmt.Errorf("read migration directory: %w", err)
	}

	var migrationFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".up.sql") {
			migrationFiles = append(migrationFiles, file.Name())
		}
	}

	sort.Strings(migrationFiles)

	for _, filename := range migrationFiles {
		filePath := filepath.Join(migrationDir, filename)
		content, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("read migration file %s: %w", filename, err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("execute migration %s: %w", filename, err)
		}
	}

	return nil
}

// buyer bundles everything a checkout request needs for one test user.
type buyer struct {
	User          *models.User
	Address       *models.Address
	PaymentMethod *models.PaymentMethod
}

func seedBuyer(t *testing.T, db *sql.DB, email string) buyer {
	t.Helper()
	ctx := context.Background()

	user, err := store.CreateUser(ctx, db, email, "Test Buyer")
	if err != nil {
		t.Fatalf("Create user: %v", err)
	}

	address, err := store.CreateAddress(ctx, db, user.ID, "1 Main St", "Kigali", "", "00000", "RW")
	if err != nil {
		t.Fatalf("Create address: %v", err)
	}

	method, err := store.CreatePaymentMethod(ctx, db, user.ID, "card", "test card")
	if err != nil {
		t.Fatalf("Create payment method: %v", err)
	}

	return buyer{User: user, Address: address, PaymentMethod: method}
}

func checkoutRequest(b buyer) store.CheckoutRequest {
	return store.CheckoutRequest{
		UserID:            b.User.ID,
		ShippingAddressID: b.Address.ID,
		BillingAddressID:  b.Address.ID,
		PaymentMethodID:   b.PaymentMethod.ID,
		ShippingMethod:    "standard",
	}
}

func makeAdmin(t *testing.T, db *sql.DB, userID int64) {
	t.Helper()
	if _, err := db.Exec(`UPDATE users SET is_admin = TRUE WHERE id = $1`, userID); err != nil {
		t.Fatalf("Promote user to admin: %v", err)
	}
}
