// Package ledger implements the append-only observability log. It publishes
// each entry to the Bus only after the entry has been committed.
package ledger

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"time"

	"github.com/autopay-labs/x402-agent/internal/apperrors"
	"github.com/autopay-labs/x402-agent/internal/bus"
	"github.com/autopay-labs/x402-agent/internal/clock"
	"github.com/autopay-labs/x402-agent/internal/domain"
	"github.com/autopay-labs/x402-agent/internal/logging"
	"github.com/autopay-labs/x402-agent/internal/metrics"
	"github.com/autopay-labs/x402-agent/internal/repository"
)

// minQueryLimit/maxQueryLimit clamp query page sizes; maxExportLimit caps
// exports.
const (
	minQueryLimit = 1
	maxQueryLimit = 500
	maxExportLimit = 5000
)

// Ledger is the durable, append-only record for audit, debugging, and UI
// replay.
type Ledger struct {
	store repository.LedgerEntries
	bus   *bus.Bus
	log   *logging.Logger
}

// New constructs a Ledger backed by store, fanning out commits to b.
func New(store repository.LedgerEntries, b *bus.Bus, log *logging.Logger) *Ledger {
	if log == nil {
		log = logging.NewDefault("ledger")
	}
	return &Ledger{store: store, bus: b, log: log}
}

// Append persists an entry and, only once persistence has succeeded,
// publishes a ledger-entry event on the bus. Persistence failure propagates
// — this never fails silently.
func (l *Ledger) Append(ctx context.Context, category domain.LedgerCategory, event string, opts ...EntryOption) (*domain.LedgerEntry, error) {
	e := &domain.LedgerEntry{
		ID:        clock.NewID(),
		Timestamp: time.Now(),
		Category:  category,
		Event:     event,
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := l.store.Append(ctx, e); err != nil {
		l.log.WithError(err).WithFields(map[string]interface{}{
			"category": string(category),
			"event":    event,
		}).Error("ledger append failed")
		return nil, apperrors.Internal("ledger append failed", err)
	}

	metrics.LedgerAppends.WithLabelValues(string(category), event).Inc()
	if l.bus != nil {
		l.bus.Publish(bus.EventLedgerEntry, e)
	}
	return e, nil
}

// EntryOption sets an optional correlation id or metadata blob on an entry.
type EntryOption func(*domain.LedgerEntry)

// WithRequestID correlates the entry with a PremiumRequest.
func WithRequestID(id string) EntryOption {
	return func(e *domain.LedgerEntry) { e.RequestID = id }
}

// WithPaymentID correlates the entry with a Payment.
func WithPaymentID(id string) EntryOption {
	return func(e *domain.LedgerEntry) { e.PaymentID = id }
}

// WithTxHash correlates the entry with a chain transaction.
func WithTxHash(hash string) EntryOption {
	return func(e *domain.LedgerEntry) { e.TxHash = hash }
}

// WithMetadata attaches a structured, opaque metadata blob.
func WithMetadata(meta map[string]any) EntryOption {
	return func(e *domain.LedgerEntry) { e.Metadata = meta }
}

// ClampLimit enforces the [1,500] query page-size bound.
func ClampLimit(limit int) int {
	if limit < minQueryLimit {
		return minQueryLimit
	}
	if limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}

// ClampExportLimit enforces the [1,5000] export bound.
func ClampExportLimit(limit int) int {
	if limit < minQueryLimit {
		return minQueryLimit
	}
	if limit > maxExportLimit {
		return maxExportLimit
	}
	return limit
}

// Query returns a page of entries newest-first plus an opaque next-cursor.
func (l *Ledger) Query(ctx context.Context, filter repository.LedgerFilter, limit int, cursor string) ([]*domain.LedgerEntry, string, error) {
	limit = ClampLimit(limit)
	entries, next, err := l.store.Query(ctx, filter, limit, cursor)
	if err != nil {
		return nil, "", apperrors.Internal("ledger query failed", err)
	}
	return entries, next, nil
}

// Export returns a flat list up to 5000 entries for CSV bulk export.
func (l *Ledger) Export(ctx context.Context, filter repository.LedgerFilter, limit int) ([]*domain.LedgerEntry, error) {
	limit = ClampExportLimit(limit)
	entries, err := l.store.Export(ctx, filter, limit)
	if err != nil {
		return nil, apperrors.Internal("ledger export failed", err)
	}
	return entries, nil
}

// ExportCSV renders the export as CSV bytes, one row per LedgerEntry.
func (l *Ledger) ExportCSV(ctx context.Context, filter repository.LedgerFilter, limit int) ([]byte, error) {
	entries, err := l.Export(ctx, filter, limit)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"id", "timestamp", "category", "event", "requestId", "paymentId", "txHash"}
	if err := w.Write(header); err != nil {
		return nil, apperrors.Internal("csv header write failed", err)
	}
	for _, e := range entries {
		row := []string{
			e.ID,
			e.Timestamp.Format(time.RFC3339Nano),
			string(e.Category),
			e.Event,
			e.RequestID,
			e.PaymentID,
			e.TxHash,
		}
		if err := w.Write(row); err != nil {
			return nil, apperrors.Internal("csv row write failed", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, apperrors.Internal("csv flush failed", err)
	}
	return buf.Bytes(), nil
}

// FilterFromParams builds a LedgerFilter from raw HTTP query parameters,
// parsing from/to as RFC3339/ISO-8601 timestamps. It returns an
// error for a malformed timestamp rather than silently ignoring it.
func FilterFromParams(category, event, requestID, paymentID, txHash, from, to string) (repository.LedgerFilter, error) {
	f := repository.LedgerFilter{
		Category:  domain.LedgerCategory(category),
		Event:     event,
		RequestID: requestID,
		PaymentID: paymentID,
		TxHash:    txHash,
	}
	if from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return f, fmt.Errorf("invalid from timestamp: %w", err)
		}
		f.From = t
	}
	if to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return f, fmt.Errorf("invalid to timestamp: %w", err)
		}
		f.To = t
	}
	return f, nil
}
