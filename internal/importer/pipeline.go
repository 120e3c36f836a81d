package importer

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/faizol/loyalty-migration/internal/model"
)

// Default batching constants. Chunk size bounds the two prefetch
// queries and the intra-chunk fan-out; the write sub-batch bounds
// parallel member updates so a chunk flush cannot overwhelm the store.
const (
	DefaultChunkSize     = 25
	DefaultWriteSubBatch = 10
	DefaultBcryptCost    = 10
)

// Options configure one pipeline instance.
type Options struct {
	ChunkSize       int
	WriteSubBatch   int
	PasswordMode    PasswordMode
	DefaultPassword string
	BcryptCost      int
}

func (o *Options) withDefaults() {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.WriteSubBatch <= 0 {
		o.WriteSubBatch = DefaultWriteSubBatch
	}
	if o.PasswordMode == "" {
		o.PasswordMode = PasswordModeDefault
	}
	if o.BcryptCost <= 0 {
		o.BcryptCost = DefaultBcryptCost
	}
}

// Pipeline reconciles a full set of import rows against the member
// store and the points ledger, chunk by chunk. Chunks never overlap in
// time; rows inside one chunk are processed with bounded parallelism.
type Pipeline struct {
	members MemberStore
	ledger  LedgerStore
	opts    Options
}

// New builds a pipeline over the given stores.
func New(members MemberStore, ledger LedgerStore, opts Options) *Pipeline {
	opts.withDefaults()
	return &Pipeline{members: members, ledger: ledger, opts: opts}
}

// Run executes the whole import and returns the final summary. Row
// failures never abort the run; only an invalid run configuration or
// context cancellation does. Cancellation is honored between chunks
// only, so a chunk's writes are never left half-flushed by a cancel.
func (p *Pipeline) Run(ctx context.Context, rows []ImportRow, sink ProgressSink) (RunSummary, error) {
	switch p.opts.PasswordMode {
	case PasswordModeDefault:
		if p.opts.DefaultPassword == "" {
			err := &FatalError{Reason: "default password required in default password mode"}
			sink.Error(err.Reason)
			return RunSummary{}, err
		}
	case PasswordModeFile:
		// per-row passwords, checked by the normalizer
	default:
		err := &FatalError{Reason: fmt.Sprintf("unknown password mode %q", p.opts.PasswordMode)}
		sink.Error(err.Reason)
		return RunSummary{}, err
	}

	total := len(rows)
	sink.Status("migration import started")
	sink.Init(total, fmt.Sprintf("processing %d rows", total))

	agg := newAggregator(total)
	processed := 0
	for start := 0; start < total; start += p.opts.ChunkSize {
		if err := ctx.Err(); err != nil {
			sink.Error("import cancelled")
			return agg.summary(), err
		}
		end := start + p.opts.ChunkSize
		if end > total {
			end = total
		}
		p.processChunk(ctx, rows[start:end], agg)

		processed += end - start
		percent := float64(processed) / float64(total) * 100
		sink.Progress(processed, total, percent,
			agg.successCount(), agg.errorCount(),
			fmt.Sprintf("processed %d of %d rows", processed, total))
	}

	summary := agg.summary()
	sink.Complete(summary)
	log.Printf("import-run: finished total=%d success=%d error=%d",
		summary.Total, summary.SuccessCount, summary.ErrorCount)
	return summary, nil
}

// processChunk drives one chunk through normalize → identity prefetch
// → resolve/provision → balance prefetch → delta → batched write, and
// records one outcome per row in the aggregator.
func (p *Pipeline) processChunk(ctx context.Context, raws []ImportRow, agg *aggregator) {
	// Normalize rows concurrently; validation is CPU-only but keeps
	// the same fan-out bound as the rest of the chunk.
	normalized := make([]*NormalizedRow, len(raws))
	outcomes := make([]*RowOutcome, len(raws))
	var mu sync.Mutex

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.ChunkSize)
	for i, raw := range raws {
		i, raw := i, raw
		g.Go(func() error {
			row, err := NormalizeRow(raw, p.opts.PasswordMode)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				o := errorOutcome(raw, err)
				outcomes[i] = &o
			} else {
				normalized[i] = &row
			}
			return nil
		})
	}
	_ = g.Wait()

	valid := make([]NormalizedRow, 0, len(raws))
	for _, n := range normalized {
		if n != nil {
			valid = append(valid, *n)
		}
	}

	// Rows that failed validation are final now; record them before any
	// store work so a failed prefetch later cannot drop them.
	for _, o := range outcomes {
		if o != nil {
			agg.add(*o)
		}
	}

	// Two bulk lookups for the whole chunk; never per-row queries.
	cache := prefetchIdentities(ctx, p.members, valid)

	// Resolve against the cache. Rows that match nothing are grouped so
	// a chunk naming the same unknown member twice, whether by shared
	// phone or shared email, provisions exactly once.
	type pending struct {
		row    NormalizedRow
		member *model.Member
		isNew  bool
	}
	resolved := make(map[int]*pending, len(valid))
	var heads []NormalizedRow
	headByPhone := make(map[string]int)
	headByEmail := make(map[string]int)
	rowHead := make(map[int]int)
	provisionRows := make([]NormalizedRow, 0)
	for _, row := range valid {
		member, err := resolve(cache, row)
		switch {
		case err != nil:
			agg.add(errorOutcome(row.Raw(), err))
		case member == nil:
			idx, seen := headByPhone[row.Phone]
			if !seen {
				idx, seen = headByEmail[row.Email]
			}
			if !seen {
				idx = len(heads)
				heads = append(heads, row)
				headByPhone[row.Phone] = idx
				headByEmail[row.Email] = idx
			}
			rowHead[row.RowNumber] = idx
			provisionRows = append(provisionRows, row)
		default:
			resolved[row.RowNumber] = &pending{row: row, member: member}
		}
	}

	// Provision one member per group head, in parallel (bcrypt
	// dominates the cost here). Each creation is injected into the
	// chunk cache under both keys before the dependent rows re-resolve.
	prov := &provisioner{
		store:           p.members,
		mode:            p.opts.PasswordMode,
		defaultPassword: p.opts.DefaultPassword,
		bcryptCost:      p.opts.BcryptCost,
	}
	provErrs := make([]error, len(heads))
	pg, pctx := errgroup.WithContext(ctx)
	pg.SetLimit(p.opts.WriteSubBatch)
	for i, head := range heads {
		i, head := i, head
		pg.Go(func() error {
			if _, err := prov.provision(pctx, cache, head); err != nil {
				provErrs[i] = err // one slot per goroutine
			}
			return nil
		})
	}
	_ = pg.Wait()

	for _, row := range provisionRows {
		idx := rowHead[row.RowNumber]
		if err := provErrs[idx]; err != nil {
			agg.add(errorOutcome(row.Raw(), err))
			continue
		}
		member, err := resolve(cache, row)
		switch {
		case err != nil:
			// two concurrent provisions claimed this row's phone and email
			agg.add(errorOutcome(row.Raw(), err))
		case member == nil:
			// fail-open prefetch plus a lost create; treat as provisioning failure
			agg.add(errorOutcome(row.Raw(), &ProvisioningError{Reason: "could not create new member"}))
		default:
			resolved[row.RowNumber] = &pending{row: row, member: member,
				isNew: row.RowNumber == heads[idx].RowNumber}
		}
	}

	// One aggregate balance query for the chunk's pre-existing
	// members; new members are known to start from zero.
	existingIDs := make([]uint64, 0, len(resolved))
	for _, pnd := range resolved {
		if !pnd.isNew {
			existingIDs = append(existingIDs, pnd.member.ID)
		}
	}
	if err := cache.prefetchBalances(ctx, p.ledger, existingIDs); err != nil {
		log.Printf("import-run: %v", err)
		for _, pnd := range resolved {
			agg.add(errorOutcome(pnd.row.Raw(), err))
		}
		return
	}

	// Delta per row, sequential: a second row for the same member in
	// one chunk reconciles against the first row's watermark, not the
	// stale stored one.
	items := make([]writeItem, 0, len(resolved))
	for _, row := range valid {
		pnd, ok := resolved[row.RowNumber]
		if !ok {
			continue
		}
		current := decimal.Zero
		if !pnd.isNew {
			current = cache.balance(pnd.member.ID)
		}
		delta, balanceAfter := computeDelta(row.Points, pnd.member.LastMigrationPoints, current)
		pnd.member.LastMigrationPoints = row.Points
		cache.mu.Lock()
		cache.balances[pnd.member.ID] = balanceAfter
		cache.mu.Unlock()
		items = append(items, writeItem{
			row:          row,
			member:       pnd.member,
			isNew:        pnd.isNew,
			delta:        delta,
			balanceAfter: balanceAfter,
		})
	}

	w := &writer{members: p.members, ledger: p.ledger, subBatch: p.opts.WriteSubBatch}
	failed := w.writeChunk(ctx, items)

	for _, it := range items {
		if err, ok := failed[it.row.RowNumber]; ok {
			agg.add(errorOutcome(it.row.Raw(), err))
			continue
		}
		var msg string
		switch {
		case it.isNew:
			msg = "new member created"
		case it.delta.IsZero():
			msg = "already up to date"
		default:
			msg = "points adjusted by " + it.delta.String()
		}
		agg.add(successOutcome(it.row, msg))
	}
}
