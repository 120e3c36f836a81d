package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/faizol/loyalty-migration/internal/model"
)

// LedgerRepo persists point_transactions rows. The ledger is
// append-only: this repository exposes bulk insert and aggregate reads
// only. No update or delete statement is ever issued against the
// table.
type LedgerRepo struct {
	db *sql.DB
}

// NewLedgerRepo returns a LedgerRepo bound to the given database.
func NewLedgerRepo(db *sql.DB) *LedgerRepo { return &LedgerRepo{db: db} }

// InsertBatch inserts multiple ledger rows in one multi-VALUES
// statement. ID and CreatedAt are left to the database. An empty
// batch is a no-op.
func (r *LedgerRepo) InsertBatch(ctx context.Context, txs []model.PointTransaction) error {
	if len(txs) == 0 {
		return nil
	}
	query := `INSERT INTO point_transactions (member_id, type, points_amount, balance_after, description, transaction_date) VALUES `
	args := make([]interface{}, 0, len(txs)*6)
	for i, tx := range txs {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?, ?)"
		args = append(args, tx.MemberID, tx.Type, tx.PointsAmount.String(),
			tx.BalanceAfter.String(), tx.Description, tx.TransactionDate)
	}
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

// BalancesByMemberIDs returns the current ledger balance for each of
// the given members in one aggregate query. Members with no ledger
// rows are absent from the result; callers default them to zero.
func (r *LedgerRepo) BalancesByMemberIDs(ctx context.Context, ids []uint64) (map[uint64]decimal.Decimal, error) {
	out := make(map[uint64]decimal.Decimal, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := `SELECT member_id, COALESCE(SUM(points_amount), 0)
		  FROM point_transactions
		  WHERE member_id IN (` + strings.Join(placeholders, ",") + `)
		  GROUP BY member_id`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id uint64
		var sum string
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, err
		}
		bal, err := decimal.NewFromString(sum)
		if err != nil {
			return nil, err
		}
		out[id] = bal
	}
	return out, rows.Err()
}

// CountByType reports how many ledger rows of the given type exist for
// a member. Exposed for reconciliation checks and tests.
func (r *LedgerRepo) CountByType(ctx context.Context, memberID uint64, txType string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM point_transactions WHERE member_id=? AND type=?",
		memberID, txType).Scan(&n)
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}
	return n, nil
}
