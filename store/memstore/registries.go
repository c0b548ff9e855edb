package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dshills/flowmonkey-go/store"
)

// FlowRegistry is an in-memory store.FlowRegistry. Registration is
// rejected for a duplicate (id, version) pair; graph and pipe-linkage
// validation happens one layer up, in the engine package, before Register
// is ever called.
type FlowRegistry struct {
	mu    sync.RWMutex
	flows map[string]map[string]*store.Flow // flowId -> version -> flow
}

// NewFlowRegistry returns an empty in-memory flow registry.
func NewFlowRegistry() *FlowRegistry {
	return &FlowRegistry{flows: make(map[string]map[string]*store.Flow)}
}

func (r *FlowRegistry) Register(_ context.Context, flow *store.Flow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	versions, ok := r.flows[flow.ID]
	if !ok {
		versions = make(map[string]*store.Flow)
		r.flows[flow.ID] = versions
	}
	if _, exists := versions[flow.Version]; exists {
		return fmt.Errorf("%w: flow %s version %s already registered", store.ErrConflict, flow.ID, flow.Version)
	}
	versions[flow.Version] = flow
	return nil
}

func (r *FlowRegistry) Get(_ context.Context, id, version string) (*store.Flow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions, ok := r.flows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	f, ok := versions[version]
	if !ok {
		return nil, store.ErrNotFound
	}
	return f, nil
}

func (r *FlowRegistry) LatestOf(_ context.Context, id string) (*store.Flow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions, ok := r.flows[id]
	if !ok || len(versions) == 0 {
		return nil, store.ErrNotFound
	}
	keys := make([]string, 0, len(versions))
	for v := range versions {
		keys = append(keys, v)
	}
	sort.Strings(keys)
	return versions[keys[len(keys)-1]], nil
}

func (r *FlowRegistry) Versions(_ context.Context, id string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions, ok := r.flows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	keys := make([]string, 0, len(versions))
	for v := range versions {
		keys = append(keys, v)
	}
	sort.Strings(keys)
	return keys, nil
}

var _ store.FlowRegistry = (*FlowRegistry)(nil)

// HandlerRegistry is an in-memory store.HandlerRegistry. It stores whatever
// value is registered as the handler without inspecting it; the engine
// package is responsible for type-asserting it to its Handler interface.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]handlerEntry
}

type handlerEntry struct {
	descriptor store.HandlerDescriptor
	handler    any
}

// NewHandlerRegistry returns an empty in-memory handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]handlerEntry)}
}

func (r *HandlerRegistry) Register(handlerType string, descriptor store.HandlerDescriptor, handler any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[handlerType]; exists {
		return fmt.Errorf("%w: handler type %s already registered", store.ErrConflict, handlerType)
	}
	descriptor.Type = handlerType
	r.handlers[handlerType] = handlerEntry{descriptor: descriptor, handler: handler}
	return nil
}

func (r *HandlerRegistry) Get(handlerType string) (store.HandlerDescriptor, any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.handlers[handlerType]
	if !ok {
		return store.HandlerDescriptor{}, nil, false
	}
	return e.descriptor, e.handler, true
}

func (r *HandlerRegistry) List() []store.HandlerDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]store.HandlerDescriptor, 0, len(r.handlers))
	for _, e := range r.handlers {
		out = append(out, e.descriptor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

var _ store.HandlerRegistry = (*HandlerRegistry)(nil)
