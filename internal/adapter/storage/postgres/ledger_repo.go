package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fund-gateway/internal/core/domain"
	"fund-gateway/internal/core/ports"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

// ErrDuplicateHash is returned when a record for the transaction hash already exists.
var ErrDuplicateHash = errors.New("ledger already holds a record for this transaction hash")

// LedgerRepo implements ports.LedgerRepository. It only inserts and reads;
// rows are never updated or deleted.
type LedgerRepo struct {
	pool Pool
}

// NewLedgerRepo creates a new LedgerRepo.
func NewLedgerRepo(pool Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

// Append inserts rec and returns a copy carrying the database timestamp.
func (r *LedgerRepo) Append(ctx context.Context, rec *domain.TransactionRecord) (*domain.TransactionRecord, error) {
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ledger record: %w", err)
	}

	query := `INSERT INTO transactions (id, investor, kind, usd_amount, shares, transaction_hash)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6)
		RETURNING created_at`

	var createdAt time.Time
	err := r.pool.QueryRow(ctx, query,
		rec.ID, rec.Investor, string(rec.Kind),
		numericArg(rec.USDAmount), numericArg(rec.Shares),
		rec.TransactionHash,
	).Scan(&createdAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, fmt.Errorf("insert ledger record %s: %w", rec.TransactionHash, ErrDuplicateHash)
		}
		return nil, fmt.Errorf("insert ledger record: %w", err)
	}

	out := *rec
	out.Timestamp = createdAt.UTC()
	return &out, nil
}

// List fetches ledger records with filtering and pagination, newest first.
func (r *LedgerRepo) List(ctx context.Context, params ports.LedgerListParams) ([]domain.TransactionRecord, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if params.Investor != "" {
		conditions = append(conditions, fmt.Sprintf("investor = $%d", argIdx))
		args = append(args, params.Investor)
		argIdx++
	}
	if params.Kind != nil {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argIdx))
		args = append(args, string(*params.Kind))
		argIdx++
	}
	if params.From != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, *params.From)
		argIdx++
	}
	if params.To != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argIdx))
		args = append(args, *params.To)
		argIdx++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	// Count total
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM transactions %s", where)
	var total int64
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count ledger records: %w", err)
	}

	page, pageSize := params.Page, params.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	dataQuery := fmt.Sprintf(`SELECT id, investor, kind, usd_amount::text, shares::text, transaction_hash, created_at
		FROM transactions %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, where, argIdx, argIdx+1)
	args = append(args, pageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list ledger records: %w", err)
	}
	defer rows.Close()

	records := []domain.TransactionRecord{}
	for rows.Next() {
		var (
			rec       domain.TransactionRecord
			kind      string
			usdAmount *string
			shares    *string
		)
		if err := rows.Scan(&rec.ID, &rec.Investor, &kind, &usdAmount, &shares, &rec.TransactionHash, &rec.Timestamp); err != nil {
			return nil, 0, fmt.Errorf("scan ledger row: %w", err)
		}
		rec.Kind = domain.TransactionKind(kind)
		if rec.USDAmount, err = parseNumeric(usdAmount); err != nil {
			return nil, 0, fmt.Errorf("ledger row %s usd_amount: %w", rec.ID, err)
		}
		if rec.Shares, err = parseNumeric(shares); err != nil {
			return nil, 0, fmt.Errorf("ledger row %s shares: %w", rec.ID, err)
		}
		rec.Timestamp = rec.Timestamp.UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate ledger rows: %w", err)
	}
	return records, total, nil
}

// numericArg renders an optional amount as a NUMERIC literal with six decimals.
func numericArg(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.StringFixed(6)
	return &s
}

func parseNumeric(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
