package gateway

import (
	"fmt"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
)

type RegistryConfig struct {
	Card HostedConfig
	Bank HostedConfig
}

type Registry struct {
	providers map[domain.PaymentProvider]Provider
}

// NewRegistry builds one provider per supported enum value.
func NewRegistry(cfg RegistryConfig, balance *BalanceProvider) (*Registry, error) {
	r := &Registry{providers: make(map[domain.PaymentProvider]Provider)}
	for _, kind := range []domain.PaymentProvider{domain.ProviderBalance, domain.ProviderCard, domain.ProviderBankTransfer} {
		p, err := build(kind, cfg, balance)
		if err != nil {
			return nil, fmt.Errorf("NewRegistry: %w", err)
		}
		r.providers[kind] = p
	}
	return r, nil
}

func build(kind domain.PaymentProvider, cfg RegistryConfig, balance *BalanceProvider) (Provider, error) {
	switch kind {
	case domain.ProviderBalance:
		if balance == nil {
			return nil, fmt.Errorf("balance provider is required")
		}
		return balance, nil
	case domain.ProviderCard:
		c := cfg.Card
		c.Kind, c.Vocabulary, c.Webhooks = domain.ProviderCard, CardVocabulary, true
		return NewHostedProvider(c), nil
	case domain.ProviderBankTransfer:
		c := cfg.Bank
		c.Kind, c.Vocabulary, c.Webhooks = domain.ProviderBankTransfer, BankVocabulary, false
		return NewHostedProvider(c), nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownProvider, kind)
	}
}

// NewStaticRegistry wraps ready-made providers. Used by tests and tools.
func NewStaticRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[domain.PaymentProvider]Provider)}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

func (r *Registry) Get(kind domain.PaymentProvider) (Provider, error) {
	p, ok := r.providers[kind]
	if !ok {
		return nil, fmt.Errorf("Registry.Get: %w: %q", domain.ErrUnknownProvider, kind)
	}
	return p, nil
}

// WebhookParser returns the parser for a provider that pushes events.
func (r *Registry) WebhookParser(kind domain.PaymentProvider) (WebhookParser, error) {
	p, err := r.Get(kind)
	if err != nil {
		return nil, err
	}
	wp, ok := p.(WebhookParser)
	if !ok {
		return nil, fmt.Errorf("Registry.WebhookParser: %w: %q does not send webhooks", domain.ErrUnknownProvider, kind)
	}
	return wp, nil
}

// DefaultFor picks the provider used when a checkout does not name one.
func DefaultFor(t domain.CustomerType) domain.PaymentProvider {
	if t == domain.CustomerTypeB2B {
		return domain.ProviderBalance
	}
	return domain.ProviderCard
}
