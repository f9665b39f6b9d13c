package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rl1809/escrow-relay/internal/core/domain"
	"github.com/rl1809/escrow-relay/internal/port"
)

const defaultListLimit = 500

const orderColumns = `id, transaction_id, buyer_name, buyer_contact, amount, currency, line_items,
	category, payment_method, delivered, delivered_at, confirmed_by_buyer, auto_confirmed,
	confirmed_at, dispute_opened, review_left, reviewer_name, version, created_at, updated_at`

// SQLAdapter is the payment record store. It runs on MySQL in production and on SQLite
// for single-node deployments and tests.
type SQLAdapter struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLAdapter(db *sql.DB, dialect Dialect) *SQLAdapter {
	return &SQLAdapter{db: db, dialect: dialect}
}

// Migrate creates the tables if they do not exist.
func (a *SQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range a.dialect.schema() {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (a *SQLAdapter) GetOrder(ctx context.Context, transactionID string) (*domain.Order, error) {
	row := a.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE transaction_id = ?`, transactionID)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return order, nil
}

func (a *SQLAdapter) CreateOrder(ctx context.Context, order domain.Order) error {
	items, err := json.Marshal(order.LineItems)
	if err != nil {
		return fmt.Errorf("encode line items: %w", err)
	}

	d := order.Delivery
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		order.ID, order.TransactionID, order.Buyer.DisplayName, order.Buyer.Contact,
		order.Amount.StringFixed(domain.MoneyPlaces), order.Currency, string(items), order.Category, string(order.PaymentMethod),
		d.Delivered, nullTime(d.DeliveredAt), d.ConfirmedByBuyer, d.AutoConfirmed,
		nullTime(d.ConfirmedAt), d.DisputeOpened, order.ReviewLeft, order.ReviewerName,
		dbTime(order.CreatedAt), dbTime(order.UpdatedAt),
	)
	if err != nil {
		if a.dialect.isDuplicate(err) {
			return port.ErrDuplicate
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (a *SQLAdapter) UpdateOrder(ctx context.Context, order domain.Order) error {
	items, err := json.Marshal(order.LineItems)
	if err != nil {
		return fmt.Errorf("encode line items: %w", err)
	}

	d := order.Delivery
	result, err := a.db.ExecContext(ctx, `
		UPDATE orders
		SET buyer_name = ?, buyer_contact = ?, amount = ?, currency = ?, line_items = ?,
			category = ?, payment_method = ?, delivered = ?, delivered_at = ?,
			confirmed_by_buyer = ?, auto_confirmed = ?, confirmed_at = ?, dispute_opened = ?,
			version = version + 1, updated_at = ?
		WHERE transaction_id = ? AND version = ?`,
		order.Buyer.DisplayName, order.Buyer.Contact, order.Amount.StringFixed(domain.MoneyPlaces), order.Currency,
		string(items), order.Category, string(order.PaymentMethod), d.Delivered, nullTime(d.DeliveredAt),
		d.ConfirmedByBuyer, d.AutoConfirmed, nullTime(d.ConfirmedAt), d.DisputeOpened,
		dbTime(order.UpdatedAt), order.TransactionID, order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return port.ErrOptimisticLock
	}
	return nil
}

func (a *SQLAdapter) ListDueForAutoConfirm(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE delivered = 1 AND confirmed_by_buyer = 0 AND auto_confirmed = 0
			AND dispute_opened = 0 AND delivered_at <= ?
		ORDER BY delivered_at
		LIMIT ?`,
		dbTime(cutoff), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query due orders: %w", err)
	}
	return collectOrders(rows)
}

func (a *SQLAdapter) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	where := ""
	switch filter.State {
	case domain.StatePending:
		where = "WHERE delivered = 0"
	case domain.StateDelivered:
		where = "WHERE delivered = 1 AND confirmed_by_buyer = 0 AND auto_confirmed = 0"
	case domain.StateConfirmedByBuyer:
		where = "WHERE confirmed_by_buyer = 1"
	case domain.StateAutoConfirmed:
		where = "WHERE auto_confirmed = 1"
	}

	rows, err := a.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders `+where+`
		ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	return collectOrders(rows)
}

func (a *SQLAdapter) AttachReview(ctx context.Context, review domain.Review, at time.Time) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET review_left = 1, reviewer_name = ?, version = version + 1, updated_at = ?
		WHERE transaction_id = ? AND review_left = 0`,
		review.ReviewerName, dbTime(at), review.TransactionID,
	)
	if err != nil {
		return fmt.Errorf("mark order reviewed: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return port.ErrReviewRejected
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO reviews (id, transaction_id, reviewer_name, body, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		review.ID, review.TransactionID, review.ReviewerName, review.Text, dbTime(review.CreatedAt),
	)
	if err != nil {
		if a.dialect.isDuplicate(err) {
			return port.ErrReviewRejected
		}
		return fmt.Errorf("insert review: %w", err)
	}

	return tx.Commit()
}

func (a *SQLAdapter) ListReviews(ctx context.Context, limit int) ([]domain.Review, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, transaction_id, reviewer_name, body, created_at
		FROM reviews ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query reviews: %w", err)
	}
	defer rows.Close()

	var reviews []domain.Review
	for rows.Next() {
		var r domain.Review
		if err := rows.Scan(&r.ID, &r.TransactionID, &r.ReviewerName, &r.Text, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		r.CreatedAt = r.CreatedAt.UTC()
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o           domain.Order
		method      string
		items       []byte
		deliveredAt sql.NullTime
		confirmedAt sql.NullTime
	)
	err := row.Scan(
		&o.ID, &o.TransactionID, &o.Buyer.DisplayName, &o.Buyer.Contact, &o.Amount, &o.Currency,
		&items, &o.Category, &method, &o.Delivery.Delivered, &deliveredAt,
		&o.Delivery.ConfirmedByBuyer, &o.Delivery.AutoConfirmed, &confirmedAt,
		&o.Delivery.DisputeOpened, &o.ReviewLeft, &o.ReviewerName, &o.Version,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(items) > 0 {
		if err := json.Unmarshal(items, &o.LineItems); err != nil {
			return nil, fmt.Errorf("decode line items of %s: %w", o.TransactionID, err)
		}
	}
	o.PaymentMethod = domain.PaymentMethod(method)
	o.Delivery.DeliveredAt = timePtr(deliveredAt)
	o.Delivery.ConfirmedAt = timePtr(confirmedAt)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return &o, nil
}

func collectOrders(rows *sql.Rows) ([]domain.Order, error) {
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: dbTime(*t), Valid: true}
}

// dbTime truncates to the microsecond precision of DATETIME(6) so that a stored time is
// never later than the in-memory value it came from.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
