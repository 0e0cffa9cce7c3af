package domain

import "time"

// LedgerCategory partitions ledger entries by subsystem.
type LedgerCategory string

const (
	CategoryRequest  LedgerCategory = "REQUEST"
	CategoryPayment  LedgerCategory = "PAYMENT"
	CategoryBalance  LedgerCategory = "BALANCE"
	CategorySystem   LedgerCategory = "SYSTEM"
	CategoryAutonomy LedgerCategory = "AUTONOMY"
)

// LedgerEntry is an append-only observability record.
type LedgerEntry struct {
	ID            string
	Timestamp     time.Time
	Category      LedgerCategory
	Event         string
	RequestID     string
	PaymentID     string
	TxHash        string
	Metadata      map[string]any
}
