package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/mcp"
	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/xlog"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/sync/errgroup"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpchat", "tools")

// CollisionPolicy decides what happens when two providers list the same tool name.
// Invocation always resolves to the first registered provider.
type CollisionPolicy string

const (
	// CollisionFirstWins keeps every descriptor in the schema and logs a warning
	CollisionFirstWins CollisionPolicy = "first_wins"
	// CollisionDedupe hides the later duplicates from the schema
	CollisionDedupe CollisionPolicy = "dedupe"
	// CollisionReject fails the aggregation
	CollisionReject CollisionPolicy = "reject"
)

// ParseCollisionPolicy returns the policy by name, empty means CollisionFirstWins
func ParseCollisionPolicy(s string) (CollisionPolicy, error) {
	switch p := CollisionPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return CollisionFirstWins, nil
	case CollisionFirstWins, CollisionDedupe, CollisionReject:
		return p, nil
	}
	return "", errors.Errorf("unsupported collision policy: %q", s)
}

// Option configures the registry
type Option func(*Registry)

// WithCollisionPolicy sets the collision policy
func WithCollisionPolicy(policy CollisionPolicy) Option {
	return func(r *Registry) {
		r.policy = policy
	}
}

// Registry holds the providers in registration order
type Registry struct {
	providers []Provider
	policy    CollisionPolicy
}

// NewRegistry returns a registry for the providers, the order is the resolution order
func NewRegistry(providers []Provider, opts ...Option) *Registry {
	r := &Registry{
		providers: providers,
		policy:    CollisionFirstWins,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Providers returns the providers in registration order
func (r *Registry) Providers() []Provider {
	return r.providers
}

// Policy returns the collision policy
func (r *Registry) Policy() CollisionPolicy {
	return r.policy
}

// Binding is a tool and the provider that lists it
type Binding struct {
	Tool     *mcp.Tool
	Provider Provider
}

// Bindings is the resolved tool namespace
type Bindings struct {
	// Table maps tool names to the owning provider, in listing order
	Table *orderedmap.OrderedMap[string, Binding]
	// Shadowed lists the descriptors hidden by an earlier provider
	Shadowed []Binding
}

// listAll lists every provider concurrently, results are in registration order
func (r *Registry) listAll(ctx context.Context) ([][]*mcp.Tool, error) {
	lists := make([][]*mcp.Tool, len(r.providers))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range r.providers {
		g.Go(func() error {
			tools, err := p.ListTools(gctx)
			if err != nil {
				return errors.WithMessagef(err, "failed to list tools of %s", p.Name())
			}
			lists[i] = tools
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return lists, nil
}

// Bindings resolves the current namespace
func (r *Registry) Bindings(ctx context.Context) (*Bindings, error) {
	lists, err := r.listAll(ctx)
	if err != nil {
		return nil, err
	}

	b := &Bindings{
		Table: orderedmap.New[string, Binding](),
	}
	for i, tools := range lists {
		for _, t := range tools {
			binding := Binding{Tool: t, Provider: r.providers[i]}
			if _, present := b.Table.Get(t.Name); present {
				b.Shadowed = append(b.Shadowed, binding)
				continue
			}
			b.Table.Set(t.Name, binding)
		}
	}
	return b, nil
}

// AggregateTools lists the tools of every provider concurrently and
// concatenates them in registration order
func (r *Registry) AggregateTools(ctx context.Context) ([]*mcp.Tool, error) {
	lists, err := r.listAll(ctx)
	if err != nil {
		return nil, err
	}

	owners := map[string]string{}
	var all []*mcp.Tool
	for i, tools := range lists {
		name := r.providers[i].Name()
		for _, t := range tools {
			owner, dup := owners[t.Name]
			if !dup {
				owners[t.Name] = name
				all = append(all, t)
				continue
			}

			switch r.policy {
			case CollisionReject:
				return nil, errors.Wrapf(ErrToolCollision, "%q is listed by %s and %s", t.Name, owner, name)
			case CollisionDedupe:
				logger.ContextKV(ctx, xlog.DEBUG,
					"status", "hidden_duplicate",
					"tool", t.Name,
					"owner", owner,
					"provider", name,
				)
			default:
				logger.ContextKV(ctx, xlog.WARNING,
					"reason", "duplicate_tool",
					"tool", t.Name,
					"owner", owner,
					"provider", name,
				)
				all = append(all, t)
			}
		}
	}
	return all, nil
}

// Tools returns the aggregated tools as the model's function schema
func (r *Registry) Tools(ctx context.Context) ([]llms.Tool, error) {
	list, err := r.AggregateTools(ctx)
	if err != nil {
		return nil, err
	}
	return ToLLMTools(list), nil
}

var emptySchema = json.RawMessage(`{"type":"object","properties":{}}`)

// ToLLMTools converts tool descriptors to the model's function schema
func ToLLMTools(list []*mcp.Tool) []llms.Tool {
	if len(list) == 0 {
		return nil
	}
	res := make([]llms.Tool, len(list))
	for i, t := range list {
		params := t.InputSchema
		if len(params) == 0 || string(params) == "null" {
			params = emptySchema
		}
		res[i] = llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		}
	}
	return res
}

// Resolve returns the first provider, in registration order, that lists the tool.
// Every provider is listed again, nothing is cached.
func (r *Registry) Resolve(ctx context.Context, name string) (Provider, error) {
	for _, p := range r.providers {
		tools, err := p.ListTools(ctx)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to list tools of %s", p.Name())
		}
		for _, t := range tools {
			if t.Name == name {
				return p, nil
			}
		}
	}
	return nil, errors.Wrapf(ErrToolNotFound, "%q", name)
}
