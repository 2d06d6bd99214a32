package llm

import (
	"context"
	"errors"
	"fmt"
)

// Router routes requests to the appropriate provider based on model name.
type Router struct {
	clients  map[string]Client // provider name → client
	models   map[string]string // model name → provider name
	fallback Client            // default client for unknown models
}

// NewRouter creates a client that routes to multiple providers.
func NewRouter(fallback Client) *Router {
	return &Router{
		clients:  make(map[string]Client),
		models:   make(map[string]string),
		fallback: fallback,
	}
}

// AddProvider registers a client for a provider name.
func (r *Router) AddProvider(name string, client Client) {
	r.clients[name] = client
}

// AddModel maps a model name to a provider.
func (r *Router) AddModel(model, provider string) {
	r.models[model] = provider
}

func (r *Router) clientFor(model string) Client {
	if provider, ok := r.models[model]; ok {
		if client, ok := r.clients[provider]; ok {
			return client
		}
	}
	return r.fallback
}

// Chat sends a request to the provider that serves req.Model.
func (r *Router) Chat(ctx context.Context, req *Request) (*ChatResponse, error) {
	client := r.clientFor(req.Model)
	if client == nil {
		return nil, fmt.Errorf("no provider configured for model %q", req.Model)
	}
	return client.Chat(ctx, req)
}

// Ping checks every registered provider.
func (r *Router) Ping(ctx context.Context) error {
	var errs []error
	for name, c := range r.clients {
		if err := c.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if len(r.clients) == 0 && r.fallback == nil {
		return errors.New("no providers configured")
	}
	return errors.Join(errs...)
}
