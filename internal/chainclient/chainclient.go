// Package chainclient declares the thin chain RPC boundary. Wallet custody and
// signing live outside this package entirely; this package is intentionally
// minimal — an interface the Balance Monitor
// and Payment Executor depend on, plus a Simulated implementation used for
// local development and the test suite. A production build swaps in a real
// Solana RPC client behind the same interface.
package chainclient

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
)

// CommitmentLevel mirrors Solana's confirmation commitment tiers.
type CommitmentLevel string

const (
	CommitmentProcessed CommitmentLevel = "processed"
	CommitmentConfirmed CommitmentLevel = "confirmed"
	CommitmentFinalized CommitmentLevel = "finalized"
)

// Transfer describes a signer -> recipient value transfer in the chain's
// smallest unit (lamports), built from a fresh recent blockhash
//.
type Transfer struct {
	FromPrivateKey string
	ToPublicKey    string
	LamportAmount  int64
	RecentBlockhash string
}

// RejectedError is returned when the chain RPC hard-rejects a submission
//.
type RejectedError struct {
	Code string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("chain rejected transaction: %s", e.Code)
}

// Client is the minimal chain RPC surface the core depends on.
type Client interface {
	// GetBalance returns the signer's current balance in whole units.
	GetBalance(ctx context.Context, publicKey string) (float64, error)
	// RecentBlockhash returns a fresh blockhash to anchor a transfer.
	RecentBlockhash(ctx context.Context) (string, error)
	// SubmitTransfer signs and submits a transfer, returning the transaction
	// signature. It does not wait for confirmation.
	SubmitTransfer(ctx context.Context, t Transfer) (signature string, err error)
	// ConfirmTransaction blocks until the given signature reaches the
	// requested commitment level, or the context deadline elapses.
	ConfirmTransaction(ctx context.Context, signature string, commitment CommitmentLevel) error
}

// randomHex64 returns a 64-character hex string, matching the shape of a
// real chain transaction signature.
func randomHex64() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Simulated is an in-memory Client used for local development and tests. It
// tracks one lamport balance per public key and never actually touches a
// network. RejectNext lets a test force the next SubmitTransfer to fail with
// a RejectedError, covering the ChainRejected failure path.
type Simulated struct {
	mu         sync.Mutex
	balances   map[string]int64
	confirmed  map[string]bool
	rejectNext bool
	rejectCode string
}

// NewSimulated constructs a Simulated client. Each seeded public key starts
// with the given lamport balance.
func NewSimulated(seed map[string]int64) *Simulated {
	balances := make(map[string]int64, len(seed))
	for k, v := range seed {
		balances[k] = v
	}
	return &Simulated{
		balances:  balances,
		confirmed: make(map[string]bool),
	}
}

// RejectNext forces the next SubmitTransfer call to fail as chain-rejected.
func (s *Simulated) RejectNext(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectNext = true
	s.rejectCode = code
}

// SeedBalance sets a public key's balance directly, used to stage
// low-balance or error scenarios in tests.
func (s *Simulated) SeedBalance(publicKey string, lamports int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[publicKey] = lamports
}

func (s *Simulated) GetBalance(ctx context.Context, publicKey string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lamports := s.balances[publicKey]
	return float64(lamports) / 1_000_000_000, nil
}

func (s *Simulated) RecentBlockhash(ctx context.Context) (string, error) {
	return randomHex64()
}

func (s *Simulated) SubmitTransfer(ctx context.Context, t Transfer) (string, error) {
	s.mu.Lock()
	if s.rejectNext {
		s.rejectNext = false
		code := s.rejectCode
		s.mu.Unlock()
		return "", &RejectedError{Code: code}
	}
	s.balances[t.ToPublicKey] += t.LamportAmount
	s.mu.Unlock()

	sig, err := randomHex64()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.confirmed[sig] = true
	s.mu.Unlock()
	return sig, nil
}

func (s *Simulated) ConfirmTransaction(ctx context.Context, signature string, commitment CommitmentLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.confirmed[signature] {
		return fmt.Errorf("unknown transaction signature %s", signature)
	}
	return nil
}

var _ Client = (*Simulated)(nil)
