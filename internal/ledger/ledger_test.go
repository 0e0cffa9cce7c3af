package ledger

import (
	"context"
	"testing"

	"github.com/autopay-labs/x402-agent/internal/bus"
	"github.com/autopay-labs/x402-agent/internal/domain"
	"github.com/autopay-labs/x402-agent/internal/logging"
	"github.com/autopay-labs/x402-agent/internal/repository"
	"github.com/autopay-labs/x402-agent/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_AppendThenQuery_NewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	b := bus.New(logging.NewDefault("test"))
	l := New(repo.LedgerEntries(), b, logging.NewDefault("test"))

	sub := b.Subscribe()

	_, err := l.Append(ctx, domain.CategoryRequest, "request-created", WithRequestID("r1"))
	require.NoError(t, err)
	second, err := l.Append(ctx, domain.CategoryRequest, "request-fulfilled", WithRequestID("r1"))
	require.NoError(t, err)

	entries, _, err := l.Query(ctx, repository.LedgerFilter{}, 10, "")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, second.ID, entries[0].ID, "newest entry must sort first")

	select {
	case ev := <-sub.Recv:
		assert.Equal(t, bus.EventLedgerEntry, ev.Type)
	default:
		t.Fatal("expected a ledger-entry event to be published after commit")
	}
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, minQueryLimit, ClampLimit(0))
	assert.Equal(t, maxQueryLimit, ClampLimit(999999))
	assert.Equal(t, 50, ClampLimit(50))
}

func TestClampExportLimit(t *testing.T) {
	assert.Equal(t, minQueryLimit, ClampExportLimit(-5))
	assert.Equal(t, maxExportLimit, ClampExportLimit(10_000_000))
}

func TestFilterFromParams_RejectsMalformedTimestamp(t *testing.T) {
	_, err := FilterFromParams("", "", "", "", "", "not-a-time", "")
	require.Error(t, err)
}

func TestExportCSV_IncludesHeaderAndRows(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	l := New(repo.LedgerEntries(), nil, logging.NewDefault("test"))

	_, err := l.Append(ctx, domain.CategoryPayment, "payment-confirmed", WithPaymentID("p1"), WithTxHash("abc"))
	require.NoError(t, err)

	csvBytes, err := l.ExportCSV(ctx, repository.LedgerFilter{}, 10)
	require.NoError(t, err)
	assert.Contains(t, string(csvBytes), "id,timestamp,category,event,requestId,paymentId,txHash")
	assert.Contains(t, string(csvBytes), "payment-confirmed")
}
