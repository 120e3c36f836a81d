package importer

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/faizol/loyalty-migration/internal/model"
	"github.com/faizol/loyalty-migration/internal/repository"
)

// MemberStore is the slice of the identity store the pipeline
// consumes. *repository.MemberRepo satisfies it; tests use in-memory
// fakes.
type MemberStore interface {
	FindByPhones(ctx context.Context, phones []string) (map[string]model.Member, error)
	FindByEmails(ctx context.Context, emails []string) (map[string]model.Member, error)
	Create(ctx context.Context, m model.Member) (uint64, error)
	UpdateProfile(ctx context.Context, u repository.ProfileUpdate) error
}

// LedgerStore is the slice of the points ledger the pipeline consumes.
// Append-only: InsertBatch is the only write.
type LedgerStore interface {
	InsertBatch(ctx context.Context, txs []model.PointTransaction) error
	BalancesByMemberIDs(ctx context.Context, ids []uint64) (map[uint64]decimal.Decimal, error)
}

// chunkCache holds the prefetched identities and balances for exactly
// one chunk. It must never be shared across chunks; a fresh cache is
// built per chunk from two bulk member lookups and one bulk balance
// lookup. The mutex guards cache injection by the provisioner while
// rows of the chunk resolve concurrently.
type chunkCache struct {
	mu       sync.Mutex
	byPhone  map[string]*model.Member
	byEmail  map[string]*model.Member
	balances map[uint64]decimal.Decimal
}

// prefetchIdentities performs the chunk's two bulk lookups. A lookup
// failure is treated as "no match found": the store's unique indexes
// on phone and email are the correctness backstop, and one transient
// read error should not fail 25 rows. The error is logged server-side.
func prefetchIdentities(ctx context.Context, store MemberStore, rows []NormalizedRow) *chunkCache {
	phones := make([]string, 0, len(rows))
	emails := make([]string, 0, len(rows))
	for _, r := range rows {
		phones = append(phones, r.Phone)
		emails = append(emails, r.Email)
	}

	cache := &chunkCache{
		byPhone:  make(map[string]*model.Member, len(rows)),
		byEmail:  make(map[string]*model.Member, len(rows)),
		balances: make(map[uint64]decimal.Decimal),
	}

	byPhone, err := store.FindByPhones(ctx, phones)
	if err != nil {
		log.Printf("import-run: phone prefetch failed, treating as no match: %v", err)
	} else {
		for phone, m := range byPhone {
			member := m
			cache.byPhone[phone] = &member
		}
	}

	byEmail, err := store.FindByEmails(ctx, emails)
	if err != nil {
		log.Printf("import-run: email prefetch failed, treating as no match: %v", err)
	} else {
		for email, m := range byEmail {
			member := m
			cache.byEmail[strings.ToLower(email)] = &member
		}
	}

	// A member present under both keys must be one shared struct so a
	// watermark update through either key is seen through the other.
	for email, em := range cache.byEmail {
		if pm, ok := cache.byPhone[em.Phone]; ok && pm.ID == em.ID {
			cache.byEmail[email] = pm
		}
	}
	return cache
}

// prefetchBalances loads current ledger balances for the chunk's
// pre-existing members in one aggregate query. Newly provisioned
// members are known to have balance zero and are skipped. Absent
// entries default to zero on read.
func (c *chunkCache) prefetchBalances(ctx context.Context, ledger LedgerStore, memberIDs []uint64) error {
	if len(memberIDs) == 0 {
		return nil
	}
	balances, err := ledger.BalancesByMemberIDs(ctx, memberIDs)
	if err != nil {
		return &PersistenceError{Op: "load balances", cause: err}
	}
	c.mu.Lock()
	for id, bal := range balances {
		c.balances[id] = bal
	}
	c.mu.Unlock()
	return nil
}

func (c *chunkCache) lookupPhone(phone string) *model.Member {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byPhone[phone]
}

func (c *chunkCache) lookupEmail(email string) *model.Member {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byEmail[strings.ToLower(email)]
}

// inject adds a freshly provisioned member under both keys so that a
// later row in the same chunk sharing the phone or email resolves to
// it instead of attempting a second creation.
func (c *chunkCache) inject(m *model.Member) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byPhone[m.Phone] = m
	c.byEmail[strings.ToLower(m.Email)] = m
}

// balance returns the cached balance for a member, zero when absent.
func (c *chunkCache) balance(memberID uint64) decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances[memberID]
}
