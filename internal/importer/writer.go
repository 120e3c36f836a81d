package importer

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/faizol/loyalty-migration/internal/model"
	"github.com/faizol/loyalty-migration/internal/repository"
)

// writeItem is one successfully resolved row, ready to persist.
type writeItem struct {
	row          NormalizedRow
	member       *model.Member
	isNew        bool
	delta        decimal.Decimal
	balanceAfter decimal.Decimal
}

// writer flushes one chunk's accumulated writes: a single bulk ledger
// insert for rows with a non-zero delta, then per-member profile
// updates in bounded-parallel sub-batches. There is deliberately no
// cross-row atomicity; a failed update for one member never rolls back
// another member's write.
type writer struct {
	members  MemberStore
	ledger   LedgerStore
	subBatch int
}

// writeChunk persists the chunk and returns per-row errors keyed by
// row number. Rows absent from the map were written successfully.
//
// Ordering: the ledger batch goes first. When it fails, the affected
// rows are reported as errors and their watermark is left untouched,
// so a re-submit of those rows produces the same delta again instead
// of silently losing points.
func (w *writer) writeChunk(ctx context.Context, items []writeItem) map[int]error {
	failed := make(map[int]error)
	if len(items) == 0 {
		return failed
	}

	now := time.Now().UTC()
	txs := make([]model.PointTransaction, 0, len(items))
	for _, it := range items {
		if it.delta.IsZero() {
			continue
		}
		txs = append(txs, model.PointTransaction{
			MemberID:        it.member.ID,
			Type:            model.TxTypeMigration,
			PointsAmount:    it.delta,
			BalanceAfter:    it.balanceAfter,
			Description:     "Points migration adjustment",
			TransactionDate: now,
		})
	}

	ledgerOK := true
	if err := w.ledger.InsertBatch(ctx, txs); err != nil {
		log.Printf("import-run: ledger batch insert failed (%d rows): %v", len(txs), err)
		ledgerOK = false
	}

	// Coalesce per member before the fan-out: duplicate rows for one
	// member in a chunk must not race their updates, so each member
	// gets exactly one UpdateProfile carrying the last row's fields and
	// the final watermark.
	type memberWrite struct {
		update  repository.ProfileUpdate
		rowNums []int
	}
	order := make([]uint64, 0, len(items))
	writes := make(map[uint64]*memberWrite, len(items))
	for _, it := range items {
		if !it.delta.IsZero() && !ledgerOK {
			failed[it.row.RowNumber] = &PersistenceError{Op: "save ledger entry"}
			continue
		}
		mw, ok := writes[it.member.ID]
		if !ok {
			mw = &memberWrite{}
			writes[it.member.ID] = mw
			order = append(order, it.member.ID)
		}
		mw.rowNums = append(mw.rowNums, it.row.RowNumber)
		watermark := mw.update.Watermark
		if !it.delta.IsZero() {
			wm := it.row.Points
			watermark = &wm
		}
		mw.update = repository.ProfileUpdate{
			MemberID:  it.member.ID,
			FullName:  it.row.Name,
			Location:  it.row.Location,
			Email:     it.row.Email,
			Phone:     it.row.Phone,
			JoinedAt:  it.row.JoinedAt,
			Watermark: watermark,
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.subBatch)
	for _, id := range order {
		mw := writes[id]
		g.Go(func() error {
			if err := w.members.UpdateProfile(gctx, mw.update); err != nil {
				log.Printf("import-run: member %d update failed: %v", mw.update.MemberID, err)
				mu.Lock()
				for _, rn := range mw.rowNums {
					failed[rn] = &PersistenceError{Op: "save member update", cause: err}
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait() // goroutines report per-row failures, never abort the group
	return failed
}
