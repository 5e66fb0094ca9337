package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/LeventeLantos/promo-dispatch/internal/client"
)

// Provider is the capability set every SMS provider offers.
type Provider interface {
	Name() string
	Send(ctx context.Context, phone, body string) (remoteMessageID string, err error)
	CheckOptIn(ctx context.Context, phone string) (bool, error)
	OptOut(ctx context.Context, phone, reason string) (bool, error)
	FetchOptedIn(ctx context.Context, listID string, fn client.ContactFunc) (client.FetchStats, error)
}

// Registry resolves providers by name. An empty name means the default.
type Registry struct {
	byName      map[string]Provider
	defaultName string
}

func NewRegistry(defaultName string, providers ...Provider) *Registry {
	r := &Registry{byName: make(map[string]Provider, len(providers)), defaultName: defaultName}
	for _, p := range providers {
		r.byName[p.Name()] = p
	}
	return r
}

func (r *Registry) Get(name string) (Provider, error) {
	if name == "" {
		name = r.defaultName
	}
	p, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for n := range r.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
