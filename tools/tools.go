package tools

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/mcp"
)

//go:generate mockgen -source=tools.go -destination=../mocks/mocktools/tools_mock.gen.go -package mocktools

// Provider is a server that offers tools, *mcp.Client implements it.
type Provider interface {
	// Name identifies the provider in logs and bindings.
	Name() string
	// ListTools returns the current tools of the provider.
	ListTools(ctx context.Context) ([]*mcp.Tool, error)
	// CallTool invokes the tool.
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.ToolResult, error)
}

var (
	// ErrToolNotFound is returned when no provider lists the tool
	ErrToolNotFound = errors.New("tool not found")
	// ErrArgumentParse is the marker for tool arguments that are not a JSON object
	ErrArgumentParse = errors.New("invalid tool arguments")
	// ErrToolCollision is returned by AggregateTools under CollisionReject
	ErrToolCollision = errors.New("tool name collision")
)

var _ Provider = (*mcp.Client)(nil)
