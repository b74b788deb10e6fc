package repos

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"retrocart/internal/domain"
	applog "retrocart/internal/log"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a compare-and-set update matched no row.
var ErrConflict = errors.New("state changed concurrently")

// tsLayout is fixed-width so TEXT ordering equals time ordering.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

func ts(t time.Time) string { return t.UTC().Format(tsLayout) }

func parseTS(s string) time.Time {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func OpenDB(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers anyway, and ":memory:" is per-connection.
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		return nil, err
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	if err := seedCatalog(db); err != nil {
		return nil, err
	}
	if err := seedUsers(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Tx runs fn in a transaction. Inside fn only tx may be used: the pool holds
// a single connection.
func Tx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func ensureSchema(db *sqlx.DB) error {
	schema := `
PRAGMA foreign_keys = ON;

-- Products (catalog is read-only here)
CREATE TABLE IF NOT EXISTS products(
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  price TEXT NOT NULL,
  options_json TEXT NOT NULL DEFAULT '{}',
  active INTEGER NOT NULL DEFAULT 1,
  created_at TEXT,
  updated_at TEXT
);

-- Inventory: available = stock_qty - reserved_qty
CREATE TABLE IF NOT EXISTS inventory(
  product_id TEXT PRIMARY KEY REFERENCES products(id) ON DELETE CASCADE,
  stock_qty INTEGER NOT NULL DEFAULT 0 CHECK (stock_qty >= 0),
  reserved_qty INTEGER NOT NULL DEFAULT 0 CHECK (reserved_qty >= 0),
  updated_at TEXT
);

-- Carts
CREATE TABLE IF NOT EXISTS carts(
  id TEXT PRIMARY KEY,
  session_id TEXT UNIQUE NOT NULL,
  updated_at TEXT
);

CREATE TABLE IF NOT EXISTS cart_items(
  cart_id TEXT NOT NULL REFERENCES carts(id) ON DELETE CASCADE,
  item_key TEXT NOT NULL,
  product_id TEXT NOT NULL REFERENCES products(id) ON DELETE RESTRICT,
  options_json TEXT NOT NULL DEFAULT '{}',
  qty INTEGER NOT NULL CHECK (qty >= 1),
  price_at_add TEXT NOT NULL,
  created_at TEXT,
  updated_at TEXT,
  PRIMARY KEY (cart_id, item_key)
);

-- Orders
CREATE TABLE IF NOT EXISTS orders(
  id TEXT PRIMARY KEY,
  session_id TEXT,
  user_id TEXT,
  guest_name TEXT NOT NULL DEFAULT '',
  guest_email TEXT NOT NULL DEFAULT '',
  ship_name TEXT NOT NULL DEFAULT '',
  ship_line1 TEXT NOT NULL DEFAULT '',
  ship_city TEXT NOT NULL DEFAULT '',
  ship_postal TEXT NOT NULL DEFAULT '',
  ship_country TEXT NOT NULL DEFAULT '',
  total TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'PENDING',
  payment_status TEXT NOT NULL DEFAULT 'UNPAID',
  current_payment_id TEXT,
  reservation_held INTEGER NOT NULL DEFAULT 1,
  tracking_ref TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders(created_at);
CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id);
CREATE INDEX IF NOT EXISTS idx_orders_session ON orders(session_id);

CREATE TABLE IF NOT EXISTS order_items(
  order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE RESTRICT,
  item_key TEXT NOT NULL,
  product_id TEXT NOT NULL,
  title TEXT NOT NULL,
  options_json TEXT NOT NULL DEFAULT '{}',
  qty INTEGER NOT NULL CHECK (qty >= 1),
  price_at_order TEXT NOT NULL,
  PRIMARY KEY (order_id, item_key)
);

CREATE TABLE IF NOT EXISTS order_status_history(
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  order_id TEXT NOT NULL REFERENCES orders(id),
  from_status TEXT NOT NULL,
  to_status TEXT NOT NULL,
  actor TEXT NOT NULL,
  at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_order ON order_status_history(order_id);

-- Payments: one row per attempt, never deleted
CREATE TABLE IF NOT EXISTS payments(
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL REFERENCES orders(id),
  status TEXT NOT NULL CHECK (status IN ('PENDING','SUCCESS','FAILED','REFUNDED','CANCELLED')),
  gateway TEXT NOT NULL,
  transaction_ref TEXT NOT NULL,
  idempotency_key TEXT NOT NULL UNIQUE,
  checkout_url TEXT NOT NULL,
  amount TEXT NOT NULL,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_payments_order ON payments(order_id, created_at);

-- Users, roles & sessions
CREATE TABLE IF NOT EXISTS users(
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL,
  password_hash TEXT NOT NULL,
  created_at TEXT DEFAULT CURRENT_TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(LOWER(email));

CREATE TABLE IF NOT EXISTS user_roles(
  user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  role TEXT NOT NULL,
  PRIMARY KEY (user_id, role)
);

CREATE TABLE IF NOT EXISTS sessions(
  id TEXT PRIMARY KEY,
  user_id TEXT NULL REFERENCES users(id) ON DELETE SET NULL,
  created_at TEXT DEFAULT CURRENT_TIMESTAMP,
  last_seen TEXT
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
`
	_, err := db.Exec(schema)
	return err
}

// seedCatalog inserts demo products and stock if missing. Safe on every start.
func seedCatalog(db *sqlx.DB) error {
	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := ts(time.Now())
	products := []struct {
		id, title, price, options string
		stock                     int
	}{
		{"gbc-001", "Game Boy Color", "129.99", `{}`, 8},
		{"nes-001", "NES Console", "199.00", `{}`, 0},
		{"radio-001", "Philco 1939", "349.50", `{}`, 2},
		{"snes-001", "Super Nintendo (SNES) Console", "199.00", `{}`, 7},
		{"tee-001", "Retro Logo Tee", "24.00", `{"color":["red","blue"]}`, 12},
	}
	for _, p := range products {
		if _, err := tx.Exec(`
			INSERT INTO products(id,title,price,options_json,active,created_at)
			VALUES(?,?,?,?,1,?)
			ON CONFLICT(id) DO NOTHING
		`, p.id, p.title, p.price, p.options, now); err != nil {
			return err
		}
		if _, err := tx.Exec(`
			INSERT INTO inventory(product_id,stock_qty,reserved_qty,updated_at)
			VALUES(?,?,0,?)
			ON CONFLICT(product_id) DO NOTHING
		`, p.id, p.stock, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// seedUsers ensures shoppers and one operator per role exist (idempotent).
func seedUsers(db *sqlx.DB) error {
	var n int
	if err := db.Get(&n, `SELECT COUNT(*) FROM users`); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	applog.L().Info("seed.users")

	hash, err := bcrypt.GenerateFromPassword([]byte("Passw0rd!"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	users := []struct{ id, email, name, role string }{
		{"u-alice", "alice@retrocart.test", "Alice", domain.RoleUser},
		{"u-bob", "bob@retrocart.test", "Bob", domain.RoleUser},
		{"u-admin", "admin@retrocart.test", "Admin", domain.RoleAdmin},
		{"u-olly", "olly@retrocart.test", "Olly", domain.RoleOrderManager},
		{"u-fran", "fran@retrocart.test", "Fran", domain.RoleFulfillment},
		{"u-sam", "sam@retrocart.test", "Sam", domain.RoleSupport},
	}

	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, u := range users {
		if _, err := tx.Exec(`
			INSERT INTO users(id,email,name,password_hash)
			VALUES(?,?,?,?)
			ON CONFLICT(email) DO NOTHING
		`, u.id, u.email, u.name, string(hash)); err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT OR IGNORE INTO user_roles(user_id, role) VALUES(?,?)`, u.id, u.role); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	applog.L().Info("seed.users.done", zap.Int("count", len(users)))
	return nil
}
