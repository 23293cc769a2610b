package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/Nbruchi/amazon-server/internal/config"
	"github.com/Nbruchi/amazon-server/internal/database"
	"github.com/Nbruchi/amazon-server/internal/metrics"
	"github.com/Nbruchi/amazon-server/internal/notify"
	"github.com/Nbruchi/amazon-server/internal/store"
	"github.com/shopspring/decimal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Fatalf("Connect to database: %v", err)
	}
	defer db.Close()

	log.Printf("Connected to database successfully")

	dispatcher := notify.NewKafkaDispatcher(&cfg.Kafka)
	defer dispatcher.Close()

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      newRouter(db, dispatcher),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.Printf("Server starting on port %s", cfg.Server.Port)
	if err := server.ListenAndServe(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func newRouter(db *sql.DB, dispatcher notify.Dispatcher) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /users", handleCreateUser(db, dispatcher))
	mux.HandleFunc("GET /users", handleListUsers(db))
	mux.HandleFunc("GET /users/{id}", handleGetUser(db))
	mux.HandleFunc("POST /users/{id}/addresses", handleCreateAddress(db))
	mux.HandleFunc("GET /users/{id}/addresses", handleListAddresses(db))
	mux.HandleFunc("POST /users/{id}/payment-methods", handleCreatePaymentMethod(db))
	mux.HandleFunc("GET /users/{id}/payment-methods", handleListPaymentMethods(db))

	mux.HandleFunc("POST /products", handleCreateProduct(db))
	mux.HandleFunc("GET /products", handleListProducts(db))
	mux.HandleFunc("GET /products/{id}", handleGetProduct(db))
	mux.HandleFunc("DELETE /products/{id}", handleDeleteProduct(db))
	mux.HandleFunc("GET /products/{id}/reviews", handleListReviews(db))
	mux.HandleFunc("POST /products/{id}/reviews", handleCreateReview(db))
	mux.HandleFunc("PUT /reviews/{id}", handleUpdateReview(db))
	mux.HandleFunc("DELETE /reviews/{id}", handleDeleteReview(db))

	mux.HandleFunc("GET /cart", handleGetCart(db))
	mux.HandleFunc("POST /cart/items", handleAddCartItem(db))
	mux.HandleFunc("PUT /cart/items", handleUpdateCartItem(db))
	mux.HandleFunc("DELETE /cart/items", handleRemoveCartItem(db))

	mux.HandleFunc("POST /checkout", handleCheckout(db, dispatcher))
	mux.HandleFunc("GET /orders", handleListOrders(db))
	mux.HandleFunc("GET /orders/{id}", handleGetOrder(db))
	mux.HandleFunc("PUT /orders/{id}/status", handleUpdateOrderStatus(db))
	mux.HandleFunc("PUT /orders/{id}/payment-status", handleUpdatePaymentStatus(db))

	mux.Handle("GET /metrics", metrics.Handler())

	return mux
}

func handleCreateUser(db *sql.DB, dispatcher notify.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email string `json:"email"`
			Name  string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.Email == "" || req.Name == "" {
			respondError(w, http.StatusBadRequest, "email and name are required")
			return
		}

		user, err := store.CreateUser(r.Context(), db, req.Email, req.Name)
		if err != nil {
			respondStoreError(w, err)
			return
		}

		go notify.BestEffort(notify.EventWelcome, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return dispatcher.Welcome(ctx, user)
		})

		respondJSON(w, http.StatusCreated, user)
	}
}

func handleListUsers(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, pageSize := pageParams(r)
		result, err := store.ListUsers(r.Context(), db, page, pageSize)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, result)
	}
}

func handleGetUser(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		user, err := store.GetUser(r.Context(), db, id)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, user)
	}
}

func handleCreateAddress(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		var req struct {
			Street     string `json:"street"`
			City       string `json:"city"`
			State      string `json:"state"`
			PostalCode string `json:"postal_code"`
			Country    string `json:"country"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.Street == "" || req.City == "" || req.PostalCode == "" || req.Country == "" {
			respondError(w, http.StatusBadRequest, "street, city, postal_code and country are required")
			return
		}

		address, err := store.CreateAddress(r.Context(), db, userID, req.Street, req.City, req.State, req.PostalCode, req.Country)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusCreated, address)
	}
}

func handleListAddresses(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		addresses, err := store.ListUserAddresses(r.Context(), db, userID)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, addresses)
	}
}

func handleCreatePaymentMethod(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		var req struct {
			MethodType string `json:"method_type"`
			Label      string `json:"label"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.MethodType == "" {
			respondError(w, http.StatusBadRequest, "method_type is required")
			return
		}

		method, err := store.CreatePaymentMethod(r.Context(), db, userID, req.MethodType, req.Label)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusCreated, method)
	}
}

func handleListPaymentMethods(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		methods, err := store.ListUserPaymentMethods(r.Context(), db, userID)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, methods)
	}
}

func handleCreateProduct(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SKU         string  `json:"sku"`
			Name        string  `json:"name"`
			Description string  `json:"description"`
			Price       float64 `json:"price"`
			Stock       int     `json:"stock"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.SKU == "" || req.Name == "" {
			respondError(w, http.StatusBadRequest, "sku and name are required")
			return
		}
		if req.Price < 0 || req.Stock < 0 {
			respondError(w, http.StatusBadRequest, "price and stock must not be negative")
			return
		}

		price := decimal.NewFromFloat(req.Price)
		product, err := store.CreateProduct(r.Context(), db, req.SKU, req.Name, req.Description, price, req.Stock)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusCreated, product)
	}
}

func handleListProducts(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, pageSize := pageParams(r)
		result, err := store.ListProducts(r.Context(), db, page, pageSize)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, result)
	}
}

func handleGetProduct(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		product, err := store.GetProduct(r.Context(), db, id)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, product)
	}
}

func handleDeleteProduct(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		if err := store.DeleteProduct(r.Context(), db, id); err != nil {
			respondStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleListReviews(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		page, pageSize := pageParams(r)
		result, err := store.ListProductReviews(r.Context(), db, productID, page, pageSize)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, result)
	}
}

func handleCreateReview(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		var req struct {
			UserID int64  `json:"user_id"`
			Rating int    `json:"rating"`
			Title  string `json:"title"`
			Body   string `json:"body"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		review, err := store.CreateReview(r.Context(), db, req.UserID, productID, req.Rating, req.Title, req.Body)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusCreated, review)
	}
}

func handleUpdateReview(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reviewID, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		var req struct {
			UserID int64  `json:"user_id"`
			Rating int    `json:"rating"`
			Title  string `json:"title"`
			Body   string `json:"body"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		actor, err := store.GetUser(r.Context(), db, req.UserID)
		if err != nil {
			respondStoreError(w, err)
			return
		}

		review, err := store.UpdateReview(r.Context(), db, reviewID, actor.ID, actor.IsAdmin, req.Rating, req.Title, req.Body)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, review)
	}
}

func handleDeleteReview(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reviewID, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid user_id")
			return
		}

		actor, err := store.GetUser(r.Context(), db, userID)
		if err != nil {
			respondStoreError(w, err)
			return
		}

		if err := store.DeleteReview(r.Context(), db, reviewID, actor.ID, actor.IsAdmin); err != nil {
			respondStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleGetCart(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid user_id")
			return
		}

		cart, err := store.GetCart(r.Context(), db, userID)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, cart)
	}
}

func handleAddCartItem(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID    int64 `json:"user_id"`
			ProductID int64 `json:"product_id"`
			Quantity  int   `json:"quantity"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.Quantity < 1 {
			respondError(w, http.StatusBadRequest, "quantity must be at least 1")
			return
		}

		cart, err := store.AddCartItem(r.Context(), db, req.UserID, req.ProductID, req.Quantity)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, cart)
	}
}

func handleUpdateCartItem(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID    int64 `json:"user_id"`
			ProductID int64 `json:"product_id"`
			Quantity  int   `json:"quantity"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		cart, err := store.UpdateCartItemQuantity(r.Context(), db, req.UserID, req.ProductID, req.Quantity)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, cart)
	}
}

func handleRemoveCartItem(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID    int64 `json:"user_id"`
			ProductID int64 `json:"product_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		cart, err := store.RemoveCartItem(r.Context(), db, req.UserID, req.ProductID)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, cart)
	}
}

func handleCheckout(db *sql.DB, dispatcher notify.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID            int64  `json:"user_id"`
			ShippingAddressID int64  `json:"shipping_address_id"`
			BillingAddressID  int64  `json:"billing_address_id"`
			PaymentMethodID   int64  `json:"payment_method_id"`
			ShippingMethod    string `json:"shipping_method"`
			Notes             string `json:"notes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		start := time.Now()
		order, err := store.Checkout(r.Context(), db, store.CheckoutRequest{
			UserID:            req.UserID,
			ShippingAddressID: req.ShippingAddressID,
			BillingAddressID:  req.BillingAddressID,
			PaymentMethodID:   req.PaymentMethodID,
			ShippingMethod:    req.ShippingMethod,
			Notes:             req.Notes,
		})
		metrics.CheckoutDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.CheckoutTotal.WithLabelValues(checkoutOutcome(err)).Inc()
			respondStoreError(w, err)
			return
		}
		metrics.CheckoutTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()

		// The order is committed; confirmation delivery must not affect the
		// response from here on.
		user, err := store.GetUser(r.Context(), db, order.UserID)
		if err == nil {
			go notify.BestEffort(notify.EventOrderConfirmation, func() error {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return dispatcher.OrderConfirmation(ctx, user, order)
			})
		} else {
			log.Printf("Skipping order confirmation for order %d: %v", order.ID, err)
		}

		full, err := store.GetOrder(r.Context(), db, order.ID)
		if err != nil {
			// The order exists; fall back to the transaction's view.
			log.Printf("Fetch order %d after checkout: %v", order.ID, err)
			respondJSON(w, http.StatusCreated, order)
			return
		}
		respondJSON(w, http.StatusCreated, full)
	}
}

func checkoutOutcome(err error) string {
	switch {
	case errors.Is(err, database.ErrEmptyCart):
		return metrics.OutcomeEmptyCart
	case errors.Is(err, database.ErrInsufficientStock):
		return metrics.OutcomeInsufficientStock
	default:
		return metrics.OutcomeError
	}
}

func handleListOrders(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid user_id")
			return
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit < 1 || limit > 100 {
			limit = 20
		}

		result, err := store.ListOrdersCursor(r.Context(), db, userID, r.URL.Query().Get("cursor"), limit)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, result)
	}
}

func handleGetOrder(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		order, err := store.GetOrder(r.Context(), db, id)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, order)
	}
}

func handleUpdateOrderStatus(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		var req struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		if err := store.UpdateOrderStatus(r.Context(), db, id, req.Status); err != nil {
			respondStoreError(w, err)
			return
		}

		order, err := store.GetOrder(r.Context(), db, id)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, order)
	}
}

func handleUpdatePaymentStatus(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		var req struct {
			PaymentStatus string `json:"payment_status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		if err := store.UpdatePaymentStatus(r.Context(), db, id, req.PaymentStatus); err != nil {
			respondStoreError(w, err)
			return
		}

		order, err := store.GetOrder(r.Context(), db, id)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, order)
	}
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid "+name)
		return 0, false
	}
	return id, true
}

func pageParams(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

func respondStoreError(w http.ResponseWriter, err error) {
	respondError(w, statusForError(err), err.Error())
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, database.ErrUserNotFound),
		errors.Is(err, database.ErrProductNotFound),
		errors.Is(err, database.ErrOrderNotFound),
		errors.Is(err, database.ErrReviewNotFound),
		errors.Is(err, database.ErrAddressNotFound),
		errors.Is(err, database.ErrPaymentMethodNotFound),
		errors.Is(err, database.ErrCartNotFound),
		errors.Is(err, database.ErrCartItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, database.ErrEmptyCart),
		errors.Is(err, database.ErrInsufficientStock),
		errors.Is(err, database.ErrAlreadyReviewed),
		errors.Is(err, database.ErrInvalidRating),
		errors.Is(err, database.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, database.ErrProductInUse):
		return http.StatusConflict
	case errors.Is(err, database.ErrNotReviewOwner):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
