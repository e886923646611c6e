// Package postgres is the durable storage backend. Amounts are stored as
// BIGINT; values are cast through int64 on the way in and back on the way
// out, which is lossless for the amounts the services accept.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/R3E-Network/securities_layer/internal/app/domain/dividend"
	"github.com/R3E-Network/securities_layer/internal/app/domain/document"
	"github.com/R3E-Network/securities_layer/internal/app/domain/order"
	"github.com/R3E-Network/securities_layer/internal/app/domain/token"
	"github.com/R3E-Network/securities_layer/internal/app/storage"
	"github.com/R3E-Network/securities_layer/internal/errors"
	"github.com/R3E-Network/securities_layer/pkg/logger"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store implements every storage interface on PostgreSQL.
type Store struct {
	db  *sql.DB
	log *logger.Logger
}

var (
	_ storage.OrderStore    = (*Store)(nil)
	_ storage.ProceedsStore = (*Store)(nil)
	_ storage.DividendStore = (*Store)(nil)
	_ storage.JournalStore  = (*Store)(nil)
	_ storage.DocumentStore = (*Store)(nil)
)

// Open connects to the database and applies pending migrations.
func Open(dsn string, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NewDefault("postgres")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	log.Info("database connected and migrated")
	return &Store{db: db, log: log}, nil
}

// NewWithDB wraps an existing connection without migrating. Tests use this
// with a mock connection.
func NewWithDB(db *sql.DB, log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	return &Store{db: db, log: log}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return err
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// Orders ---------------------------------------------------------------------

const orderColumns = `id, initiator, partition, amount, price, filled,
	counterparty, accepted_amount, is_sell, share_issuance, token_payment,
	approved, disapproved, cancelled, accepted, created_at, updated_at`

func (s *Store) CreateOrder(ctx context.Context, ord order.Order) (order.Order, error) {
	now := time.Now().UTC()
	ord.CreatedAt = now
	ord.UpdatedAt = now
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO orders (initiator, partition, amount, price, filled,
			counterparty, accepted_amount, is_sell, share_issuance,
			token_payment, approved, disapproved, cancelled, accepted,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id`,
		string(ord.Initiator), string(ord.Partition), int64(ord.Amount),
		int64(ord.Price), int64(ord.Filled), string(ord.Counterparty),
		int64(ord.AcceptedAmount), ord.Kind.Sell, ord.Kind.ShareIssuance,
		ord.Kind.TokenPayment, ord.Status.Approved, ord.Status.Disapproved,
		ord.Status.Cancelled, ord.Status.Accepted, ord.CreatedAt, ord.UpdatedAt,
	).Scan(&ord.ID)
	if err != nil {
		return order.Order{}, fmt.Errorf("create order: %w", err)
	}
	return ord, nil
}

func (s *Store) UpdateOrder(ctx context.Context, ord order.Order) (order.Order, error) {
	ord.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET filled = $2, counterparty = $3, accepted_amount = $4,
			approved = $5, disapproved = $6, cancelled = $7, accepted = $8,
			updated_at = $9
		WHERE id = $1`,
		int64(ord.ID), int64(ord.Filled), string(ord.Counterparty),
		int64(ord.AcceptedAmount), ord.Status.Approved, ord.Status.Disapproved,
		ord.Status.Cancelled, ord.Status.Accepted, ord.UpdatedAt,
	)
	if err != nil {
		return order.Order{}, fmt.Errorf("update order: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return order.Order{}, errors.NotFound("order %d not found", ord.ID)
	}
	return ord, nil
}

func (s *Store) GetOrder(ctx context.Context, id uint64) (order.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, int64(id))
	ord, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return order.Order{}, errors.NotFound("order %d not found", id)
	}
	if err != nil {
		return order.Order{}, fmt.Errorf("get order: %w", err)
	}
	return ord, nil
}

func (s *Store) ListOrders(ctx context.Context) ([]order.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []order.Order
	for rows.Next() {
		ord, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, ord)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (order.Order, error) {
	var (
		ord                                     order.Order
		id, amount, price, filled, acceptedAmt  int64
		initiator, partition, counterparty      string
	)
	err := row.Scan(&id, &initiator, &partition, &amount, &price, &filled,
		&counterparty, &acceptedAmt, &ord.Kind.Sell, &ord.Kind.ShareIssuance,
		&ord.Kind.TokenPayment, &ord.Status.Approved, &ord.Status.Disapproved,
		&ord.Status.Cancelled, &ord.Status.Accepted, &ord.CreatedAt,
		&ord.UpdatedAt)
	if err != nil {
		return order.Order{}, err
	}
	ord.ID = uint64(id)
	ord.Initiator = token.Address(initiator)
	ord.Partition = token.Partition(partition)
	ord.Amount = uint64(amount)
	ord.Price = uint64(price)
	ord.Filled = uint64(filled)
	ord.Counterparty = token.Address(counterparty)
	ord.AcceptedAmount = uint64(acceptedAmt)
	return ord, nil
}

// Proceeds -------------------------------------------------------------------

func (s *Store) GetProceeds(ctx context.Context, addr token.Address) (order.Proceeds, error) {
	var (
		native, tok int64
		updatedAt   time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT native, token, updated_at FROM proceeds WHERE address = $1`,
		string(addr)).Scan(&native, &tok, &updatedAt)
	if err == sql.ErrNoRows {
		return order.Proceeds{Address: addr}, nil
	}
	if err != nil {
		return order.Proceeds{}, fmt.Errorf("get proceeds: %w", err)
	}
	return order.Proceeds{
		Address:   addr,
		Native:    uint64(native),
		Token:     uint64(tok),
		UpdatedAt: updatedAt,
	}, nil
}

func (s *Store) PutProceeds(ctx context.Context, p order.Proceeds) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO proceeds (address, native, token, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address) DO UPDATE
			SET native = EXCLUDED.native, token = EXCLUDED.token,
			    updated_at = EXCLUDED.updated_at`,
		string(p.Address), int64(p.Native), int64(p.Token), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("put proceeds: %w", err)
	}
	return nil
}

func (s *Store) ListProceeds(ctx context.Context) ([]order.Proceeds, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT address, native, token, updated_at FROM proceeds ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("list proceeds: %w", err)
	}
	defer rows.Close()

	var out []order.Proceeds
	for rows.Next() {
		var (
			addr        string
			native, tok int64
			p           order.Proceeds
		)
		if err := rows.Scan(&addr, &native, &tok, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan proceeds: %w", err)
		}
		p.Address = token.Address(addr)
		p.Native = uint64(native)
		p.Token = uint64(tok)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Dividends ------------------------------------------------------------------

const dividendColumns = `id, partition, sequence, supply_snapshot,
	declared_at, record_date, payout_date, amount, remaining, payout_token,
	recycled, created_at, updated_at`

func (s *Store) CreateDividend(ctx context.Context, div dividend.Dividend) (dividend.Dividend, error) {
	now := time.Now().UTC()
	div.CreatedAt = now
	div.UpdatedAt = now
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO dividends (partition, sequence, supply_snapshot,
			declared_at, record_date, payout_date, amount, remaining,
			payout_token, recycled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		string(div.Partition), int64(div.Sequence), int64(div.SupplySnapshot),
		div.DeclaredAt, div.RecordDate, div.PayoutDate, int64(div.Amount),
		int64(div.Remaining), string(div.PayoutToken), div.Recycled,
		div.CreatedAt, div.UpdatedAt,
	).Scan(&div.ID)
	if err != nil {
		return dividend.Dividend{}, fmt.Errorf("create dividend: %w", err)
	}
	return div, nil
}

func (s *Store) UpdateDividend(ctx context.Context, div dividend.Dividend) (dividend.Dividend, error) {
	div.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE dividends SET remaining = $2, recycled = $3, updated_at = $4
		WHERE id = $1`,
		int64(div.ID), int64(div.Remaining), div.Recycled, div.UpdatedAt)
	if err != nil {
		return dividend.Dividend{}, fmt.Errorf("update dividend: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dividend.Dividend{}, errors.NotFound("dividend %d not found", div.ID)
	}
	return div, nil
}

func (s *Store) GetDividend(ctx context.Context, id uint64) (dividend.Dividend, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+dividendColumns+` FROM dividends WHERE id = $1`, int64(id))
	div, err := scanDividend(row)
	if err == sql.ErrNoRows {
		return dividend.Dividend{}, errors.NotFound("dividend %d not found", id)
	}
	if err != nil {
		return dividend.Dividend{}, fmt.Errorf("get dividend: %w", err)
	}
	return div, nil
}

func (s *Store) ListDividends(ctx context.Context) ([]dividend.Dividend, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+dividendColumns+` FROM dividends ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list dividends: %w", err)
	}
	defer rows.Close()

	var out []dividend.Dividend
	for rows.Next() {
		div, err := scanDividend(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dividend: %w", err)
		}
		out = append(out, div)
	}
	return out, rows.Err()
}

func scanDividend(row rowScanner) (dividend.Dividend, error) {
	var (
		div                                dividend.Dividend
		id, seq, supply, amount, remaining int64
		partition, payoutToken             string
	)
	err := row.Scan(&id, &partition, &seq, &supply, &div.DeclaredAt,
		&div.RecordDate, &div.PayoutDate, &amount, &remaining, &payoutToken,
		&div.Recycled, &div.CreatedAt, &div.UpdatedAt)
	if err != nil {
		return dividend.Dividend{}, err
	}
	div.ID = uint64(id)
	div.Partition = token.Partition(partition)
	div.Sequence = uint64(seq)
	div.SupplySnapshot = uint64(supply)
	div.Amount = uint64(amount)
	div.Remaining = uint64(remaining)
	div.PayoutToken = token.Address(payoutToken)
	return div, nil
}

func (s *Store) MarkClaimed(ctx context.Context, dividendID uint64, holder token.Address) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dividend_claims (dividend_id, holder, claimed_at)
		VALUES ($1, $2, $3)`,
		int64(dividendID), string(holder), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark claimed: %w", err)
	}
	return nil
}

func (s *Store) UnmarkClaimed(ctx context.Context, dividendID uint64, holder token.Address) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM dividend_claims WHERE dividend_id = $1 AND holder = $2`,
		int64(dividendID), string(holder))
	if err != nil {
		return fmt.Errorf("unmark claimed: %w", err)
	}
	return nil
}

func (s *Store) HasClaimed(ctx context.Context, dividendID uint64, holder token.Address) (bool, error) {
	var claimed bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM dividend_claims WHERE dividend_id = $1 AND holder = $2
		)`,
		int64(dividendID), string(holder)).Scan(&claimed)
	if err != nil {
		return false, fmt.Errorf("has claimed: %w", err)
	}
	return claimed, nil
}

// Journal --------------------------------------------------------------------

func (s *Store) AppendEntry(ctx context.Context, entry token.JournalEntry) (token.JournalEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO journal_entries (id, kind, partition, from_addr, to_addr,
			amount, sequence, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, string(entry.Kind), string(entry.Partition),
		string(entry.From), string(entry.To), int64(entry.Amount),
		int64(entry.Sequence), string(entry.Actor), entry.CreatedAt)
	if err != nil {
		return token.JournalEntry{}, fmt.Errorf("append journal entry: %w", err)
	}
	return entry, nil
}

func (s *Store) ListEntries(ctx context.Context, holder token.Address, limit int) ([]token.JournalEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, kind, partition, from_addr, to_addr, amount,
			sequence, actor, created_at
		FROM journal_entries`
	args := []any{}
	if !holder.Zero() {
		query += ` WHERE from_addr = $1 OR to_addr = $1`
		args = append(args, string(holder))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}
	defer rows.Close()

	var out []token.JournalEntry
	for rows.Next() {
		var (
			entry                               token.JournalEntry
			kind, partition, from, to, actor    string
			amount, seq                         int64
		)
		err := rows.Scan(&entry.ID, &kind, &partition, &from, &to, &amount,
			&seq, &actor, &entry.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		entry.Kind = token.EntryKind(kind)
		entry.Partition = token.Partition(partition)
		entry.From = token.Address(from)
		entry.To = token.Address(to)
		entry.Amount = uint64(amount)
		entry.Sequence = uint64(seq)
		entry.Actor = token.Address(actor)
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Documents ------------------------------------------------------------------

func (s *Store) PutDocument(ctx context.Context, doc document.Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (name, uri, hash, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE
			SET uri = EXCLUDED.uri, hash = EXCLUDED.hash,
			    updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at`,
		doc.Name, doc.URI, doc.Hash, string(doc.UpdatedBy), doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put document: %w", err)
	}
	return nil
}

func (s *Store) GetDocument(ctx context.Context, name string) (document.Document, error) {
	var (
		doc       document.Document
		updatedBy string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT name, uri, hash, updated_by, updated_at
		FROM documents WHERE name = $1`, name).
		Scan(&doc.Name, &doc.URI, &doc.Hash, &updatedBy, &doc.UpdatedAt)
	if err == sql.ErrNoRows {
		return document.Document{}, errors.NotFound("document %q not found", name)
	}
	if err != nil {
		return document.Document{}, fmt.Errorf("get document: %w", err)
	}
	doc.UpdatedBy = token.Address(updatedBy)
	return doc, nil
}

func (s *Store) ListDocuments(ctx context.Context) ([]document.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, uri, hash, updated_by, updated_at
		FROM documents ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []document.Document
	for rows.Next() {
		var (
			doc       document.Document
			updatedBy string
		)
		if err := rows.Scan(&doc.Name, &doc.URI, &doc.Hash, &updatedBy, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		doc.UpdatedBy = token.Address(updatedBy)
		out = append(out, doc)
	}
	return out, rows.Err()
}
