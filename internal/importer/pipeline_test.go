package importer_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faizol/loyalty-migration/internal/importer"
	"github.com/faizol/loyalty-migration/internal/model"
	"github.com/faizol/loyalty-migration/internal/repository"
)

// ----- in-memory store fakes -----

type fakeMembers struct {
	mu          sync.Mutex
	byID        map[uint64]*model.Member
	nextID      uint64
	createCalls int
	updateCalls int
	failUpdate  map[uint64]bool
	failFind    bool
}

func newFakeMembers() *fakeMembers {
	return &fakeMembers{byID: map[uint64]*model.Member{}, failUpdate: map[uint64]bool{}}
}

func (f *fakeMembers) add(phone, email string, watermark string) *model.Member {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	m := &model.Member{
		ID:                  f.nextID,
		Phone:               phone,
		Email:               strings.ToLower(email),
		FullName:            "Existing Member",
		Role:                "MEMBER",
		LastMigrationPoints: decimal.RequireFromString(watermark),
	}
	f.byID[m.ID] = m
	return m
}

func (f *fakeMembers) FindByPhones(_ context.Context, phones []string) (map[string]model.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFind {
		return nil, errors.New("store unavailable")
	}
	out := map[string]model.Member{}
	for _, p := range phones {
		for _, m := range f.byID {
			if m.Phone == p {
				out[p] = *m
			}
		}
	}
	return out, nil
}

func (f *fakeMembers) FindByEmails(_ context.Context, emails []string) (map[string]model.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFind {
		return nil, errors.New("store unavailable")
	}
	out := map[string]model.Member{}
	for _, e := range emails {
		e = strings.ToLower(e)
		for _, m := range f.byID {
			if m.Email == e {
				out[e] = *m
			}
		}
	}
	return out, nil
}

func (f *fakeMembers) Create(_ context.Context, m model.Member) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	for _, ex := range f.byID {
		if ex.Phone == m.Phone {
			return 0, repository.ErrPhoneExists
		}
		if ex.Email == strings.ToLower(m.Email) {
			return 0, repository.ErrEmailExists
		}
	}
	f.nextID++
	m.ID = f.nextID
	m.Email = strings.ToLower(m.Email)
	f.byID[m.ID] = &m
	return m.ID, nil
}

func (f *fakeMembers) UpdateProfile(_ context.Context, u repository.ProfileUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	if f.failUpdate[u.MemberID] {
		return errors.New("deadlock found when trying to get lock")
	}
	m, ok := f.byID[u.MemberID]
	if !ok {
		return errors.New("no such member")
	}
	m.FullName = u.FullName
	m.Location = u.Location
	m.Email = strings.ToLower(u.Email)
	m.Phone = u.Phone
	m.JoinedAt = u.JoinedAt
	if u.Watermark != nil {
		m.LastMigrationPoints = *u.Watermark
	}
	return nil
}

type fakeLedger struct {
	mu         sync.Mutex
	txs        []model.PointTransaction
	insertErr  error
	balanceErr error
}

func (f *fakeLedger) InsertBatch(_ context.Context, txs []model.PointTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.txs = append(f.txs, txs...)
	return nil
}

func (f *fakeLedger) BalancesByMemberIDs(_ context.Context, ids []uint64) (map[uint64]decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	out := map[uint64]decimal.Decimal{}
	for _, id := range ids {
		sum := decimal.Zero
		found := false
		for _, tx := range f.txs {
			if tx.MemberID == id {
				sum = sum.Add(tx.PointsAmount)
				found = true
			}
		}
		if found {
			out[id] = sum
		}
	}
	return out, nil
}

func (f *fakeLedger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.txs)
}

// ----- event capture sink -----

type progressEvent struct {
	current, total            int
	percent                   float64
	successCount, errorCount  int
}

type captureSink struct {
	mu        sync.Mutex
	inits     []int
	progress  []progressEvent
	completes []importer.RunSummary
	errs      []string
	pings     int
}

func (s *captureSink) Status(string) {}
func (s *captureSink) Init(total int, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inits = append(s.inits, total)
}
func (s *captureSink) Progress(current, total int, percent float64, successCount, errorCount int, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, progressEvent{current, total, percent, successCount, errorCount})
}
func (s *captureSink) Ping(time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pings++
}
func (s *captureSink) Complete(sum importer.RunSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completes = append(s.completes, sum)
}
func (s *captureSink) Error(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, msg)
}

// ----- helpers -----

func testRow(n int, phone, email, points string) importer.ImportRow {
	return importer.ImportRow{
		RowNumber:  n,
		JoinedDate: "01/01/2020",
		Name:       "Member " + email,
		Phone:      phone,
		Email:      email,
		Location:   "KL",
		Points:     points,
	}
}

func newTestPipeline(members *fakeMembers, ledger *fakeLedger) *importer.Pipeline {
	return importer.New(members, ledger, importer.Options{
		DefaultPassword: "changeme123",
		BcryptCost:      4, // keep provisioning fast in tests
	})
}

// ----- tests -----

func TestPipeline_ProvisionsAndCredits(t *testing.T) {
	members := newFakeMembers()
	ledger := &fakeLedger{}
	p := newTestPipeline(members, ledger)

	summary, err := p.Run(context.Background(),
		[]importer.ImportRow{testRow(2, "0123456789", "new@example.com", "500")},
		importer.NopSink{})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.SuccessCount)
	assert.Equal(t, 0, summary.ErrorCount)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, importer.StatusSuccess, summary.Results[0].Status)

	require.Equal(t, 1, members.createCalls)
	require.Equal(t, 1, ledger.count())
	tx := ledger.txs[0]
	assert.Equal(t, model.TxTypeMigration, tx.Type)
	assert.Equal(t, "500", tx.PointsAmount.String())
	assert.Equal(t, "500", tx.BalanceAfter.String())

	m := members.byID[tx.MemberID]
	assert.Equal(t, "+60123456789", m.Phone)
	assert.Equal(t, "500", m.LastMigrationPoints.String())
	assert.NotEmpty(t, m.PasswordHash)
}

func TestPipeline_RerunIsIdempotent(t *testing.T) {
	members := newFakeMembers()
	ledger := &fakeLedger{}
	p := newTestPipeline(members, ledger)

	rows := []importer.ImportRow{
		testRow(2, "0123456789", "a@example.com", "500"),
		testRow(3, "0123456780", "b@example.com", "250.75"),
	}

	first, err := p.Run(context.Background(), rows, importer.NopSink{})
	require.NoError(t, err)
	require.Equal(t, 2, first.SuccessCount)
	require.Equal(t, 2, ledger.count())

	// Identical file again: every delta is zero, no new ledger rows.
	second, err := p.Run(context.Background(), rows, importer.NopSink{})
	require.NoError(t, err)
	assert.Equal(t, 2, second.SuccessCount)
	assert.Equal(t, 0, second.ErrorCount)
	assert.Equal(t, 2, ledger.count(), "re-run must not double-credit")
	for _, r := range second.Results {
		assert.Equal(t, "already up to date", r.Message)
	}
}

func TestPipeline_WatermarkDeltaNotBalance(t *testing.T) {
	members := newFakeMembers()
	ledger := &fakeLedger{}
	m := members.add("+60123456789", "a@example.com", "300")
	// Ledger already carries the 300 from the previous migration.
	require.NoError(t, ledger.InsertBatch(context.Background(), []model.PointTransaction{{
		MemberID: m.ID, Type: model.TxTypeMigration,
		PointsAmount: decimal.RequireFromString("300"),
		BalanceAfter: decimal.RequireFromString("300"),
	}}))

	p := newTestPipeline(members, ledger)
	summary, err := p.Run(context.Background(),
		[]importer.ImportRow{testRow(2, "0123456789", "a@example.com", "450")},
		importer.NopSink{})
	require.NoError(t, err)
	require.Equal(t, 1, summary.SuccessCount)

	require.Equal(t, 2, ledger.count())
	tx := ledger.txs[1]
	assert.Equal(t, "150", tx.PointsAmount.String(), "delta = incoming - watermark")
	assert.Equal(t, "450", tx.BalanceAfter.String())
	assert.Equal(t, "450", members.byID[m.ID].LastMigrationPoints.String())
}

func TestPipeline_ZeroDeltaSkipsLedgerButUpdatesProfile(t *testing.T) {
	members := newFakeMembers()
	ledger := &fakeLedger{}
	m := members.add("+60123456789", "a@example.com", "500")

	p := newTestPipeline(members, ledger)
	row := testRow(2, "0123456789", "a@example.com", "500")
	row.Name = "renamed person"
	summary, err := p.Run(context.Background(), []importer.ImportRow{row}, importer.NopSink{})
	require.NoError(t, err)

	require.Equal(t, 1, summary.SuccessCount)
	assert.Equal(t, "already up to date", summary.Results[0].Message)
	assert.Equal(t, 0, ledger.count())
	assert.Equal(t, "Renamed Person", members.byID[m.ID].FullName, "profile updates still apply")
}

func TestPipeline_ConflictMutatesNothing(t *testing.T) {
	members := newFakeMembers()
	ledger := &fakeLedger{}
	a := members.add("+60123456789", "a@example.com", "100")
	b := members.add("+60123456780", "b@example.com", "200")

	p := newTestPipeline(members, ledger)
	// Phone of A with email of B.
	summary, err := p.Run(context.Background(),
		[]importer.ImportRow{testRow(2, "0123456789", "b@example.com", "999")},
		importer.NopSink{})
	require.NoError(t, err)

	require.Equal(t, 1, summary.ErrorCount)
	assert.Contains(t, summary.Results[0].Message, "different members")
	assert.Equal(t, 0, ledger.count())
	assert.Equal(t, "100", members.byID[a.ID].LastMigrationPoints.String())
	assert.Equal(t, "200", members.byID[b.ID].LastMigrationPoints.String())
	assert.Equal(t, "Existing Member", members.byID[a.ID].FullName)
}

func TestPipeline_WithinChunkDedup(t *testing.T) {
	members := newFakeMembers()
	ledger := &fakeLedger{}
	p := newTestPipeline(members, ledger)

	// Two rows in one chunk sharing an unrecognized phone: exactly one
	// member is created and the second row resolves to it.
	rows := []importer.ImportRow{
		testRow(2, "0123456789", "a@example.com", "100"),
		testRow(3, "0123456789", "a@example.com", "100"),
	}
	summary, err := p.Run(context.Background(), rows, importer.NopSink{})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.SuccessCount)
	assert.Equal(t, 1, members.createCalls)
	assert.Len(t, members.byID, 1)
}

func TestPipeline_SharedEmailProvisionsOnce(t *testing.T) {
	members := newFakeMembers()
	ledger := &fakeLedger{}
	p := newTestPipeline(members, ledger)

	// Two rows with distinct unknown phones but the same email: one
	// member is created and the second row resolves to it by email.
	rows := []importer.ImportRow{
		testRow(2, "0123456789", "shared@example.com", "100"),
		testRow(3, "0123456780", "shared@example.com", "100"),
	}
	summary, err := p.Run(context.Background(), rows, importer.NopSink{})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.SuccessCount)
	assert.Equal(t, 0, summary.ErrorCount)
	require.Equal(t, 1, members.createCalls)
	require.Len(t, members.byID, 1)

	byRow := map[int]importer.RowOutcome{}
	for _, r := range summary.Results {
		byRow[r.RowNumber] = r
	}
	assert.Equal(t, "new member created", byRow[2].Message)
	assert.Equal(t, "already up to date", byRow[3].Message, "second row is an email-match update")

	require.Equal(t, 1, ledger.count())
	for _, m := range members.byID {
		assert.Equal(t, "+60123456780", m.Phone, "last row's phone stamped onto the member")
	}
}

func TestPipeline_DuplicateRowsWriteOneFinalWatermark(t *testing.T) {
	members := newFakeMembers()
	ledger := &fakeLedger{}
	m := members.add("+60123456789", "a@example.com", "0")

	p := newTestPipeline(members, ledger)
	// Same member twice in one chunk with different point values: two
	// ledger deltas, but a single profile update carrying the final
	// watermark so a re-run cannot double-credit.
	summary, err := p.Run(context.Background(), []importer.ImportRow{
		testRow(2, "0123456789", "a@example.com", "100"),
		testRow(3, "0123456789", "a@example.com", "250"),
	}, importer.NopSink{})
	require.NoError(t, err)
	require.Equal(t, 2, summary.SuccessCount)

	require.Equal(t, 2, ledger.count())
	assert.Equal(t, "100", ledger.txs[0].PointsAmount.String())
	assert.Equal(t, "150", ledger.txs[1].PointsAmount.String())
	assert.Equal(t, 1, members.updateCalls, "one coalesced update per member")
	assert.Equal(t, "250", members.byID[m.ID].LastMigrationPoints.String())

	// Same final value again: every delta is zero now.
	second, err := p.Run(context.Background(),
		[]importer.ImportRow{testRow(2, "0123456789", "a@example.com", "250")},
		importer.NopSink{})
	require.NoError(t, err)
	assert.Equal(t, 1, second.SuccessCount)
	assert.Equal(t, 2, ledger.count(), "re-run must not double-credit")
}

func TestPipeline_BalancePrefetchFailureKeepsAllRows(t *testing.T) {
	members := newFakeMembers()
	ledger := &fakeLedger{balanceErr: errors.New("replica down")}
	members.add("+60123456789", "a@example.com", "100")

	p := newTestPipeline(members, ledger)
	// One resolvable row plus one validation failure: the balance
	// lookup failing must not swallow the validation outcome.
	summary, err := p.Run(context.Background(), []importer.ImportRow{
		testRow(2, "0123456789", "a@example.com", "200"),
		testRow(3, "bad", "b@example.com", "10"),
	}, importer.NopSink{})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.ErrorCount)
	require.Len(t, summary.Results, 2)
	byRow := map[int]importer.RowOutcome{}
	for _, r := range summary.Results {
		byRow[r.RowNumber] = r
	}
	assert.Equal(t, "failed to load balances", byRow[2].Message)
	assert.Contains(t, byRow[3].Message, "invalid phone")
}

func TestPipeline_EmailOnlyMatchGainsPhone(t *testing.T) {
	members := newFakeMembers()
	ledger := &fakeLedger{}
	m := members.add("+60111111111", "a@example.com", "0")

	p := newTestPipeline(members, ledger)
	summary, err := p.Run(context.Background(),
		[]importer.ImportRow{testRow(2, "0123456789", "a@example.com", "50")},
		importer.NopSink{})
	require.NoError(t, err)

	require.Equal(t, 1, summary.SuccessCount)
	assert.Equal(t, 0, members.createCalls, "matched by email, no new member")
	assert.Equal(t, "+60123456789", members.byID[m.ID].Phone, "row phone stamped onto the member")
}

func TestPipeline_ResultsOrderedAndCountsAddUp(t *testing.T) {
	members := newFakeMembers()
	ledger := &fakeLedger{}
	p := newTestPipeline(members, ledger)

	rows := []importer.ImportRow{
		testRow(2, "0123456789", "a@example.com", "10"),
		testRow(3, "bad", "b@example.com", "10"),
		testRow(4, "0123456781", "not-an-email", "10"),
		testRow(5, "0123456782", "d@example.com", "10"),
		testRow(6, "0123456783", "e@example.com", "abc"),
	}
	summary, err := p.Run(context.Background(), rows, importer.NopSink{})
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, summary.Total, summary.SuccessCount+summary.ErrorCount)
	assert.Equal(t, 2, summary.SuccessCount)

	require.Len(t, summary.Results, 5)
	for i, r := range summary.Results {
		assert.Equal(t, i+2, r.RowNumber, "results sorted by original row number")
	}
	// Failed rows echo their original input for re-submission.
	assert.Equal(t, "bad", summary.Results[1].Phone)
	assert.Equal(t, "not-an-email", summary.Results[2].Email)
}

func TestPipeline_PartialWriteFailureDoesNotRollBack(t *testing.T) {
	members := newFakeMembers()
	ledger := &fakeLedger{}
	a := members.add("+60123456789", "a@example.com", "0")
	b := members.add("+60123456780", "b@example.com", "0")
	members.failUpdate[a.ID] = true

	p := newTestPipeline(members, ledger)
	summary, err := p.Run(context.Background(), []importer.ImportRow{
		testRow(2, "0123456789", "a@example.com", "100"),
		testRow(3, "0123456780", "b@example.com", "200"),
	}, importer.NopSink{})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.SuccessCount)
	assert.Equal(t, 1, summary.ErrorCount)
	byRow := map[int]importer.RowOutcome{}
	for _, r := range summary.Results {
		byRow[r.RowNumber] = r
	}
	assert.Equal(t, importer.StatusError, byRow[2].Status)
	assert.Equal(t, "failed to save member update", byRow[2].Message)
	assert.Equal(t, importer.StatusSuccess, byRow[3].Status)

	// No rollback across rows: B's write landed and stays.
	assert.Equal(t, "200", members.byID[b.ID].LastMigrationPoints.String())
	assert.Equal(t, "0", members.byID[a.ID].LastMigrationPoints.String())
}

func TestPipeline_LedgerBatchFailureFailsDeltaRowsOnly(t *testing.T) {
	members := newFakeMembers()
	ledger := &fakeLedger{insertErr: errors.New("disk full")}
	members.add("+60123456789", "a@example.com", "100")

	p := newTestPipeline(members, ledger)
	summary, err := p.Run(context.Background(), []importer.ImportRow{
		testRow(2, "0123456789", "a@example.com", "100"), // delta 0, unaffected
		testRow(3, "0123456780", "b@example.com", "50"),  // delta 50, fails
	}, importer.NopSink{})
	require.NoError(t, err)

	byRow := map[int]importer.RowOutcome{}
	for _, r := range summary.Results {
		byRow[r.RowNumber] = r
	}
	assert.Equal(t, importer.StatusSuccess, byRow[2].Status)
	assert.Equal(t, importer.StatusError, byRow[3].Status)
	assert.Equal(t, "failed to save ledger entry", byRow[3].Message)
}

func TestPipeline_EndToEndEvents(t *testing.T) {
	members := newFakeMembers()
	ledger := &fakeLedger{}
	p := newTestPipeline(members, ledger) // default chunk size 25

	rows := make([]importer.ImportRow, 0, 25)
	for i := 0; i < 25; i++ {
		rows = append(rows, testRow(i+2,
			fmt.Sprintf("012345%04d", i),
			fmt.Sprintf("m%d@example.com", i),
			"10"))
	}

	sink := &captureSink{}
	summary, err := p.Run(context.Background(), rows, sink)
	require.NoError(t, err)

	require.Equal(t, []int{25}, sink.inits, "exactly one init event with the total")
	require.Len(t, sink.progress, 1, "25 rows at chunk size 25 is one chunk")
	assert.Equal(t, 25, sink.progress[0].current)
	assert.Equal(t, float64(100), sink.progress[0].percent)
	assert.Equal(t, 25, sink.progress[0].successCount)
	require.Len(t, sink.completes, 1, "exactly one terminal complete event")
	assert.Equal(t, 25, sink.completes[0].Total)
	assert.Empty(t, sink.errs)
	assert.Equal(t, 25, summary.Total)
}

func TestPipeline_CancelledBeforeStart(t *testing.T) {
	members := newFakeMembers()
	ledger := &fakeLedger{}
	p := newTestPipeline(members, ledger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := &captureSink{}
	_, err := p.Run(ctx, []importer.ImportRow{testRow(2, "0123456789", "a@example.com", "10")}, sink)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"import cancelled"}, sink.errs)
	assert.Equal(t, 0, members.createCalls, "no chunk may start after cancellation")
}

func TestPipeline_DefaultModeRequiresPassword(t *testing.T) {
	p := importer.New(newFakeMembers(), &fakeLedger{}, importer.Options{BcryptCost: 4})

	sink := &captureSink{}
	_, err := p.Run(context.Background(), []importer.ImportRow{testRow(2, "0123456789", "a@example.com", "10")}, sink)
	require.Error(t, err)
	assert.True(t, importer.IsFatal(err))
	require.Len(t, sink.errs, 1)
	assert.Empty(t, sink.completes)
}

func TestPipeline_FilePasswordMode(t *testing.T) {
	members := newFakeMembers()
	ledger := &fakeLedger{}
	p := importer.New(members, ledger, importer.Options{
		PasswordMode: importer.PasswordModeFile,
		BcryptCost:   4,
	})

	withPw := testRow(2, "0123456789", "a@example.com", "10")
	withPw.Password = "secret-row-pw"
	withoutPw := testRow(3, "0123456780", "b@example.com", "10")

	summary, err := p.Run(context.Background(), []importer.ImportRow{withPw, withoutPw}, importer.NopSink{})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.SuccessCount)
	assert.Equal(t, 1, summary.ErrorCount)
	assert.Contains(t, summary.Results[1].Message, "password")
}

func TestPipeline_PrefetchFailureFailsOpen(t *testing.T) {
	members := newFakeMembers()
	ledger := &fakeLedger{}
	members.failFind = true

	p := newTestPipeline(members, ledger)
	// Lookup failure is treated as no match; the row provisions and the
	// store's uniqueness constraints remain the backstop.
	summary, err := p.Run(context.Background(),
		[]importer.ImportRow{testRow(2, "0123456789", "a@example.com", "10")},
		importer.NopSink{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.SuccessCount)
	assert.Equal(t, 1, members.createCalls)
}

func TestStartHeartbeat(t *testing.T) {
	sink := &captureSink{}
	stop := importer.StartHeartbeat(context.Background(), sink, 10*time.Millisecond)
	time.Sleep(120 * time.Millisecond)
	stop()

	sink.mu.Lock()
	seen := sink.pings
	sink.mu.Unlock()
	assert.GreaterOrEqual(t, seen, 3, "heartbeat keeps ticking during the run")

	time.Sleep(30 * time.Millisecond)
	sink.mu.Lock()
	after := sink.pings
	sink.mu.Unlock()
	assert.LessOrEqual(t, after, seen+1, "no pings after stop")
}
