package ledger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/ignite/lead-router/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newLedger(sinks ...Sink) (*Ledger, *MemoryStore, *time.Time) {
	now := base
	store := NewMemoryStore()
	l := New(store, sinks...).WithClock(func() time.Time { return now })
	return l, store, &now
}

func sold(lead, route, vertical string, price int64) domain.LedgerEntry {
	return domain.LedgerEntry{
		LeadID: lead, RouteID: route, Vertical: vertical,
		Price: decimal.NewFromInt(price), Outcome: domain.OutcomeSold,
	}
}

func TestLedger_AppendAssignsIdentity(t *testing.T) {
	l, store, _ := newLedger()
	e, err := l.Append(context.Background(), sold("l1", "r1", "auto", 25))
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, base, e.CreatedAt)
	assert.Equal(t, 1, store.Len())
}

func TestLedger_OneTerminalEntryPerLead(t *testing.T) {
	l, store, _ := newLedger()
	ctx := context.Background()
	_, err := l.Append(ctx, sold("l1", "r1", "auto", 25))
	require.NoError(t, err)

	_, err = l.Append(ctx, domain.LedgerEntry{LeadID: "l1", Outcome: domain.OutcomeUnsold, Reason: domain.ReasonAllRejected})
	assert.ErrorIs(t, err, ErrDuplicateTerminal)
	assert.Equal(t, 1, store.Len())
}

func TestLedger_AppendRejectsNonTerminal(t *testing.T) {
	l, _, _ := newLedger()
	_, err := l.Append(context.Background(), domain.LedgerEntry{LeadID: "l1", Outcome: domain.OutcomeReversed})
	assert.ErrorIs(t, err, ErrReversalNeedsEntry)
	_, err = l.Append(context.Background(), domain.LedgerEntry{LeadID: "l1", Outcome: "PENDING"})
	assert.ErrorIs(t, err, ErrInvalidOutcome)
}

func TestLedger_ReverseAppendsCompensatingEntry(t *testing.T) {
	l, store, _ := newLedger()
	ctx := context.Background()
	orig, err := l.Append(ctx, sold("l1", "r1", "auto", 25))
	require.NoError(t, err)

	rev, err := l.Reverse(ctx, orig.ID, "chargeback", "ops")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeReversed, rev.Outcome)
	assert.Equal(t, orig.ID, rev.ReversesID)
	assert.True(t, rev.Price.Equal(decimal.NewFromInt(-25)))

	got, err := store.Get(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, orig, got, "original entry is untouched")

	_, err = l.Reverse(ctx, orig.ID, "again", "ops")
	assert.ErrorIs(t, err, ErrAlreadyReversed)

	_, err = l.Reverse(ctx, rev.ID, "nested", "ops")
	assert.ErrorIs(t, err, ErrNotReversible)

	_, err = l.Reverse(ctx, "missing", "x", "ops")
	assert.ErrorIs(t, err, ErrEntryNotFound)

	total, err := l.RevenueFor(ctx, "r1", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.True(t, total.IsZero())
}

func TestLedger_RevenueForWindow(t *testing.T) {
	l, _, now := newLedger()
	ctx := context.Background()

	_, _ = l.Append(ctx, sold("l1", "r1", "auto", 10))
	*now = base.Add(time.Hour)
	_, _ = l.Append(ctx, sold("l2", "r1", "auto", 15))
	_, _ = l.Append(ctx, sold("l3", "r2", "auto", 99))
	*now = base.Add(2 * time.Hour)
	_, _ = l.Append(ctx, sold("l4", "r1", "auto", 7))
	_, _ = l.Append(ctx, domain.LedgerEntry{LeadID: "l5", Vertical: "auto", Outcome: domain.OutcomeUnsold, Reason: domain.ReasonNoMatch})

	total, err := l.RevenueFor(ctx, "r1", base, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "25", total.String())

	total, _ = l.RevenueFor(ctx, "r1", time.Time{}, time.Time{})
	assert.Equal(t, "32", total.String())
}

func TestLedger_Summarize(t *testing.T) {
	l, _, _ := newLedger()
	ctx := context.Background()

	a, _ := l.Append(ctx, sold("l1", "r1", "auto", 10))
	_, _ = l.Append(ctx, sold("l2", "r2", "home", 20))
	_, _ = l.Append(ctx, domain.LedgerEntry{LeadID: "l3", Vertical: "auto", Outcome: domain.OutcomeUnsold, Reason: domain.ReasonAllRejected})
	_, _ = l.Append(ctx, domain.LedgerEntry{LeadID: "l4", Vertical: "auto", Outcome: domain.OutcomeRejected, Reason: domain.ReasonDuplicate})
	_, err := l.Reverse(ctx, a.ID, "refund", "")
	require.NoError(t, err)

	s, err := l.Summarize(ctx, Query{})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Counts[domain.OutcomeUnsold])
	assert.Equal(t, 2, s.Counts[domain.OutcomeSold])
	assert.Equal(t, 1, s.Counts[domain.OutcomeReversed])
	assert.Equal(t, 1, s.Reasons[domain.ReasonDuplicate])
	assert.Equal(t, "20", s.Revenue.String())
	assert.Equal(t, "0", s.RevenueByRoute["r1"].String())
	assert.Equal(t, "20", s.RevenueByVertical["home"].String())

	s, _ = l.Summarize(ctx, Query{Vertical: "home"})
	assert.Equal(t, 1, s.Counts[domain.OutcomeSold])
}

type fakeSQS struct {
	mu     sync.Mutex
	bodies []string
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies = append(f.bodies, aws.ToString(in.MessageBody))
	return &sqs.SendMessageOutput{}, nil
}

func TestSQSSink_PublishesEveryEntry(t *testing.T) {
	client := &fakeSQS{}
	sink := NewSQSSink(client, "https://sqs.test/ledger")
	l, _, _ := newLedger(sink)

	e, err := l.Append(context.Background(), sold("l1", "r1", "auto", 25))
	require.NoError(t, err)
	sink.Close()

	require.Len(t, client.bodies, 1)
	var got domain.LedgerEntry
	require.NoError(t, json.Unmarshal([]byte(client.bodies[0]), &got))
	assert.Equal(t, e.ID, got.ID)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(25)))
}

type fakeS3 struct {
	key  string
	body []byte
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.key = aws.ToString(in.Key)
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestArchiver_ExportsPreviousPeriod(t *testing.T) {
	l, _, now := newLedger()
	ctx := context.Background()

	*now = base.Add(10 * time.Minute)
	_, _ = l.Append(ctx, sold("l1", "r1", "auto", 10))
	*now = base.Add(20 * time.Minute)
	_, _ = l.Append(ctx, sold("l2", "r1", "auto", 10))
	*now = base.Add(70 * time.Minute)
	_, _ = l.Append(ctx, sold("l3", "r1", "auto", 10))

	client := &fakeS3{}
	a := NewArchiver(l, client, "ledger-archive", time.Hour, nil)
	a.now = func() time.Time { return base.Add(75 * time.Minute) }
	require.NoError(t, a.RunOnce(ctx))

	assert.Equal(t, "ledger/2026/05/04/20260504T100000Z.jsonl", client.key)
	lines := 0
	sc := bufio.NewScanner(bytes.NewReader(client.body))
	for sc.Scan() {
		var e domain.LedgerEntry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		lines++
	}
	assert.Equal(t, 2, lines)
}
