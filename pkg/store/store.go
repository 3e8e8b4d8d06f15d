package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/averno/clerk/internal/observability"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// CartItem is one product line in a session's cart
type CartItem struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Currency  string  `json:"currency,omitempty"`
	Quantity  int     `json:"quantity"`
	ImageURL  string  `json:"image_url,omitempty"`
}

// Cart holds the items of one session
type Cart struct {
	Items []CartItem `json:"items"`
}

// Total returns the cart's total price
func (c Cart) Total() float64 {
	total := 0.0
	for _, item := range c.Items {
		total += item.Price * float64(item.Quantity)
	}
	return total
}

// SessionStore persists cart and profile state per session. Every write
// tries the durable SQLite backend first and degrades to an in-process
// map on failure. Failures are logged, never surfaced to callers.
type SessionStore struct {
	db     *sql.DB
	logger zerolog.Logger

	mu       sync.RWMutex
	carts    map[string]map[string]CartItem
	profiles map[string]map[string]string
}

// New opens a session store. An empty path means volatile-only mode,
// which is allowed but warned about.
func New(path string, logger zerolog.Logger) *SessionStore {
	observability.EnsureRegistered()

	s := &SessionStore{
		logger:   logger,
		carts:    make(map[string]map[string]CartItem),
		profiles: make(map[string]map[string]string),
	}

	if path == "" {
		logger.Warn().Msg("No store path configured, running with volatile storage only")
		observability.SetStoreFallback(true)
		return s
	}

	db, err := openDatabase(path)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("Durable store unavailable, falling back to volatile storage")
		observability.SetStoreFallback(true)
		return s
	}

	s.db = db
	observability.SetStoreFallback(false)
	logger.Info().Str("path", path).Msg("Durable session store opened")
	return s
}

func openDatabase(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS cart_items (
		session_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		name       TEXT NOT NULL,
		price      REAL NOT NULL,
		currency   TEXT NOT NULL DEFAULT '',
		quantity   INTEGER NOT NULL,
		image_url  TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (session_id, product_id)
	);

	CREATE TABLE IF NOT EXISTS user_profile (
		session_id TEXT NOT NULL,
		field      TEXT NOT NULL,
		value      TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (session_id, field)
	);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Mode reports the active storage mode
func (s *SessionStore) Mode() string {
	if s.db != nil {
		return "durable"
	}
	return "volatile"
}

// Close closes the durable backend if open
func (s *SessionStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// GetCart returns the session's cart. A session with no prior activity
// gets an empty cart, never an error.
func (s *SessionStore) GetCart(ctx context.Context, sessionID string) Cart {
	if s.db != nil {
		cart, err := s.getCartDurable(ctx, sessionID)
		if err == nil {
			observability.RecordStoreOperation("get_cart", "durable")
			return cart
		}
		s.degrade("get_cart", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	cart := Cart{Items: []CartItem{}}
	for _, item := range s.carts[sessionID] {
		cart.Items = append(cart.Items, item)
	}
	observability.RecordStoreOperation("get_cart", "volatile")
	return cart
}

func (s *SessionStore) getCartDurable(ctx context.Context, sessionID string) (Cart, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT product_id, name, price, currency, quantity, image_url
		 FROM cart_items WHERE session_id = ? ORDER BY updated_at, product_id`,
		sessionID)
	if err != nil {
		return Cart{}, err
	}
	defer rows.Close()

	cart := Cart{Items: []CartItem{}}
	for rows.Next() {
		var item CartItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Price, &item.Currency, &item.Quantity, &item.ImageURL); err != nil {
			return Cart{}, err
		}
		cart.Items = append(cart.Items, item)
	}
	return cart, rows.Err()
}

// AddToCart merges the item's quantity into the session's cart. Two
// calls with quantity 1 yield quantity 2 for the same product.
func (s *SessionStore) AddToCart(ctx context.Context, sessionID string, item CartItem) {
	if s.db != nil {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO cart_items (session_id, product_id, name, price, currency, quantity, image_url, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			 ON CONFLICT(session_id, product_id) DO UPDATE SET
				quantity = quantity + excluded.quantity,
				name = excluded.name,
				price = excluded.price,
				currency = excluded.currency,
				image_url = excluded.image_url,
				updated_at = CURRENT_TIMESTAMP`,
			sessionID, item.ProductID, item.Name, item.Price, item.Currency, item.Quantity, item.ImageURL)
		if err == nil {
			observability.RecordStoreOperation("add_to_cart", "durable")
			return
		}
		s.degrade("add_to_cart", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.carts[sessionID] == nil {
		s.carts[sessionID] = make(map[string]CartItem)
	}
	if existing, ok := s.carts[sessionID][item.ProductID]; ok {
		item.Quantity += existing.Quantity
	}
	s.carts[sessionID][item.ProductID] = item
	observability.RecordStoreOperation("add_to_cart", "volatile")
}

// ClearCart removes every item from the session's cart
func (s *SessionStore) ClearCart(ctx context.Context, sessionID string) {
	if s.db != nil {
		_, err := s.db.ExecContext(ctx, `DELETE FROM cart_items WHERE session_id = ?`, sessionID)
		if err == nil {
			observability.RecordStoreOperation("clear_cart", "durable")
			// Clear the volatile shadow too so a later degraded read
			// does not resurrect removed items.
			s.mu.Lock()
			delete(s.carts, sessionID)
			s.mu.Unlock()
			return
		}
		s.degrade("clear_cart", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, sessionID)
	observability.RecordStoreOperation("clear_cart", "volatile")
}

// SaveUserField upserts one profile field for the session
func (s *SessionStore) SaveUserField(ctx context.Context, sessionID, field, value string) {
	if s.db != nil {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO user_profile (session_id, field, value, updated_at)
			 VALUES (?, ?, ?, CURRENT_TIMESTAMP)
			 ON CONFLICT(session_id, field) DO UPDATE SET
				value = excluded.value,
				updated_at = CURRENT_TIMESTAMP`,
			sessionID, field, value)
		if err == nil {
			observability.RecordStoreOperation("save_user_field", "durable")
			return
		}
		s.degrade("save_user_field", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.profiles[sessionID] == nil {
		s.profiles[sessionID] = make(map[string]string)
	}
	s.profiles[sessionID][field] = value
	observability.RecordStoreOperation("save_user_field", "volatile")
}

// GetUser returns the session's profile fields, or nil when no field
// has ever been saved.
func (s *SessionStore) GetUser(ctx context.Context, sessionID string) map[string]string {
	if s.db != nil {
		profile, err := s.getUserDurable(ctx, sessionID)
		if err == nil {
			observability.RecordStoreOperation("get_user", "durable")
			return profile
		}
		s.degrade("get_user", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	fields, ok := s.profiles[sessionID]
	if !ok {
		observability.RecordStoreOperation("get_user", "volatile")
		return nil
	}

	profile := make(map[string]string, len(fields))
	for k, v := range fields {
		profile[k] = v
	}
	observability.RecordStoreOperation("get_user", "volatile")
	return profile
}

func (s *SessionStore) getUserDurable(ctx context.Context, sessionID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT field, value FROM user_profile WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profile map[string]string
	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return nil, err
		}
		if profile == nil {
			profile = make(map[string]string)
		}
		profile[field] = value
	}
	return profile, rows.Err()
}

func (s *SessionStore) degrade(op string, err error) {
	observability.SetStoreFallback(true)
	s.logger.Warn().Err(err).Str("op", op).Msg("Durable store operation failed, using volatile fallback")
}
