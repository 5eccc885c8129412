package functions

import (
	"context"

	"github.com/fnworks/fnworker/pkg/rpc"
)

// Resolver maps host-supplied function metadata to a Handler. The worker's
// generated entrypoint registers handlers by name before the session starts.
type Resolver interface {
	Resolve(meta rpc.FunctionMetadata) (Handler, bool)
}

// Catalog is the default Resolver: a plain name-to-handler table. EntryPoint
// takes precedence over the function name when both are present, matching how
// hosts address compiled workers.
type Catalog struct {
	handlers map[string]Handler
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{handlers: make(map[string]Handler)}
}

// Add registers a handler under a name. Later additions replace earlier ones.
func (c *Catalog) Add(name string, h Handler) *Catalog {
	c.handlers[name] = h
	return c
}

// AddFunc registers a plain function under a name.
func (c *Catalog) AddFunc(name string, f func(ctx context.Context, inv *Invocation) (*Result, error)) *Catalog {
	return c.Add(name, HandlerFunc(f))
}

// Resolve implements Resolver.
func (c *Catalog) Resolve(meta rpc.FunctionMetadata) (Handler, bool) {
	if meta.EntryPoint != "" {
		if h, ok := c.handlers[meta.EntryPoint]; ok {
			return h, true
		}
	}
	h, ok := c.handlers[meta.Name]
	return h, ok
}
