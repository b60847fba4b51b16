package pkg

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// ReserveClient is the slice of the RPC surface that reserve readers need.
// *sol.Client satisfies it; tests inject fakes.
type ReserveClient interface {
	// GetTokenAccountBalance returns the raw token balance of an SPL token
	// account in base units.
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey) (uint64, error)

	// GetTokenSupply returns the total supply of a mint in base units.
	GetTokenSupply(ctx context.Context, mint solana.PublicKey) (uint64, error)
}

// Wallet abstracts the signing collaborator. The router never holds keys;
// it hands an unsigned transaction to the wallet and gets it back signed.
type Wallet interface {
	PublicKey() solana.PublicKey
	SignTransaction(tx *solana.Transaction) (*solana.Transaction, error)
}

// Severity tiers for refresh escalation. Transient blips stay silent;
// repeated failures escalate.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// Notifier receives user-facing notifications from background components.
// The toast/banner UI implements this on the other side of the boundary.
type Notifier interface {
	Notify(severity Severity, message string)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(Severity, string) {}
