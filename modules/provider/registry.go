package provider

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry resolves adapters by provider tag.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: map[string]Adapter{}}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

func (r *Registry) Register(a Adapter) {
	if a == nil {
		return
	}
	tag := normalizeTag(a.Name())
	if tag == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[tag] = a
}

func (r *Registry) Get(tag string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[normalizeTag(tag)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, tag)
	}
	return a, nil
}

func (r *Registry) Capabilities(tag string) (Capabilities, bool) {
	a, err := r.Get(tag)
	if err != nil {
		return Capabilities{}, false
	}
	return a.Capabilities(), true
}

func (r *Registry) SupportsWebhooks(tag string) bool {
	caps, ok := r.Capabilities(tag)
	return ok && caps.Webhooks
}

func (r *Registry) SupportsOAuth(tag string) bool {
	caps, ok := r.Capabilities(tag)
	return ok && caps.OAuth
}

// Tags returns registered tags in sorted order.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.adapters))
	for tag := range r.adapters {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// PollOnly returns tags of providers without push notifications.
func (r *Registry) PollOnly() []string {
	return r.filter(func(c Capabilities) bool { return !c.Webhooks })
}

// WebhookCapable returns tags of providers with push notifications.
func (r *Registry) WebhookCapable() []string {
	return r.filter(func(c Capabilities) bool { return c.Webhooks })
}

func (r *Registry) filter(keep func(Capabilities) bool) []string {
	var out []string
	for _, tag := range r.Tags() {
		if caps, ok := r.Capabilities(tag); ok && keep(caps) {
			out = append(out, tag)
		}
	}
	return out
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}
