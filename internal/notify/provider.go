package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Provider delivers one notification body to one recipient.
type Provider interface {
	Send(ctx context.Context, recipient, body string) error
}

type ProviderFactory func(ctx context.Context) (Provider, error)

// Registry routes dispatches to a provider by channel name.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

func (r *Registry) Register(channel string, f ProviderFactory) {
	channel = strings.ToLower(strings.TrimSpace(channel))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[channel] = f
}

func (r *Registry) Get(ctx context.Context, channel string) (Provider, error) {
	channel = strings.ToLower(strings.TrimSpace(channel))
	r.mu.RLock()
	f, ok := r.factories[channel]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown notify channel: %s", channel)
	}
	return f(ctx)
}
