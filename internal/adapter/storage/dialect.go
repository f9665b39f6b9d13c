package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
)

// Dialect is also the database/sql driver name.
type Dialect string

const (
	DialectMySQL  Dialect = "mysql"
	DialectSQLite Dialect = "sqlite3"
)

func ParseDialect(s string) (Dialect, error) {
	switch d := Dialect(s); d {
	case DialectMySQL, DialectSQLite:
		return d, nil
	default:
		return "", fmt.Errorf("unsupported store driver %q", s)
	}
}

// OpenSQL opens and pings the database. SQLite is limited to one connection so that
// conditional writes never hit SQLITE_BUSY.
func OpenSQL(ctx context.Context, dialect Dialect, dsn string) (*sql.DB, error) {
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}

	switch dialect {
	case DialectSQLite:
		db.SetMaxOpenConns(1)
	default:
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	return db, nil
}

func (d Dialect) schema() []string {
	if d == DialectSQLite {
		return []string{
			`CREATE TABLE IF NOT EXISTS orders (
				id TEXT PRIMARY KEY,
				transaction_id TEXT NOT NULL UNIQUE,
				buyer_name TEXT NOT NULL,
				buyer_contact TEXT NOT NULL DEFAULT '',
				amount TEXT NOT NULL,
				currency TEXT NOT NULL,
				line_items TEXT NOT NULL,
				category TEXT NOT NULL,
				payment_method TEXT NOT NULL,
				delivered INTEGER NOT NULL DEFAULT 0,
				delivered_at DATETIME NULL,
				confirmed_by_buyer INTEGER NOT NULL DEFAULT 0,
				auto_confirmed INTEGER NOT NULL DEFAULT 0,
				confirmed_at DATETIME NULL,
				dispute_opened INTEGER NOT NULL DEFAULT 0,
				review_left INTEGER NOT NULL DEFAULT 0,
				reviewer_name TEXT NOT NULL DEFAULT '',
				version INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_orders_due ON orders (delivered, auto_confirmed, delivered_at)`,
			`CREATE TABLE IF NOT EXISTS reviews (
				id TEXT PRIMARY KEY,
				transaction_id TEXT NOT NULL UNIQUE,
				reviewer_name TEXT NOT NULL,
				body TEXT NOT NULL,
				created_at DATETIME NOT NULL
			)`,
		}
	}

	return []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id VARCHAR(36) PRIMARY KEY,
			transaction_id VARCHAR(128) NOT NULL,
			buyer_name VARCHAR(255) NOT NULL,
			buyer_contact VARCHAR(255) NOT NULL DEFAULT '',
			amount DECIMAL(14,2) NOT NULL,
			currency CHAR(3) NOT NULL,
			line_items TEXT NOT NULL,
			category VARCHAR(64) NOT NULL,
			payment_method VARCHAR(16) NOT NULL,
			delivered TINYINT(1) NOT NULL DEFAULT 0,
			delivered_at DATETIME(6) NULL,
			confirmed_by_buyer TINYINT(1) NOT NULL DEFAULT 0,
			auto_confirmed TINYINT(1) NOT NULL DEFAULT 0,
			confirmed_at DATETIME(6) NULL,
			dispute_opened TINYINT(1) NOT NULL DEFAULT 0,
			review_left TINYINT(1) NOT NULL DEFAULT 0,
			reviewer_name VARCHAR(255) NOT NULL DEFAULT '',
			version BIGINT NOT NULL DEFAULT 0,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			UNIQUE KEY uk_orders_transaction (transaction_id),
			KEY idx_orders_due (delivered, auto_confirmed, delivered_at)
		)`,
		`CREATE TABLE IF NOT EXISTS reviews (
			id VARCHAR(36) PRIMARY KEY,
			transaction_id VARCHAR(128) NOT NULL,
			reviewer_name VARCHAR(255) NOT NULL,
			body TEXT NOT NULL,
			created_at DATETIME(6) NOT NULL,
			UNIQUE KEY uk_reviews_transaction (transaction_id)
		)`,
	}
}

func (d Dialect) isDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
