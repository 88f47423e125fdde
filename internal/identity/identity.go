package identity

import (
	"sync"

	"github.com/google/uuid"
)

// WalletAccounts is the optional wallet/identity capability. Accounts
// returns connected addresses in preference order; an empty result
// means no wallet identity is available.
type WalletAccounts interface {
	Accounts() []string
}

// Provider resolves the user identity for an occurrence. It prefers the
// wallet capability when one is attached and falls back to an opaque
// session identifier generated once per provider lifetime (the session
// analogue of per-browser-session storage).
type Provider struct {
	mu      sync.Mutex
	wallet  WalletAccounts
	session string
}

// New creates a Provider. wallet may be nil.
func New(wallet WalletAccounts) *Provider {
	return &Provider{wallet: wallet}
}

// AttachWallet sets or replaces the wallet capability.
func (p *Provider) AttachWallet(wallet WalletAccounts) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.wallet = wallet
}

// UserID returns the identity to attribute occurrences to: the first
// wallet account when available, otherwise the session identifier,
// created lazily and stable until the provider is discarded.
func (p *Provider) UserID() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.wallet != nil {
		if accounts := p.wallet.Accounts(); len(accounts) > 0 && accounts[0] != "" {
			return accounts[0]
		}
	}
	if p.session == "" {
		p.session = "anon-" + uuid.NewString()
	}
	return p.session
}
