package app

import (
	"context"
	"strings"
)

// Channel names the surface a mutation arrived through.
type Channel string

// Channel values recorded on change events.
const (
	ChannelCLI    Channel = "cli"
	ChannelTUI    Channel = "tui"
	ChannelHTTP   Channel = "http"
	ChannelMCP    Channel = "mcp"
	ChannelEngine Channel = "engine"
)

// MutationSource carries caller attribution metadata for change events.
type MutationSource struct {
	Channel Channel
	Caller  string
}

// WithMutationSource attaches normalized attribution metadata to context.
func WithMutationSource(ctx context.Context, src MutationSource) context.Context {
	return context.WithValue(ctx, mutationSourceContextKey{}, normalizeMutationSource(src))
}

// MutationSourceFromContext returns attribution metadata, defaulting to the engine channel.
func MutationSourceFromContext(ctx context.Context) MutationSource {
	src, ok := ctx.Value(mutationSourceContextKey{}).(MutationSource)
	if !ok {
		return MutationSource{Channel: ChannelEngine}
	}
	return normalizeMutationSource(src)
}

// mutationSourceContextKey stores context keys for mutation source values.
type mutationSourceContextKey struct{}

// metadata renders attribution as change-event metadata.
func (s MutationSource) metadata() map[string]string {
	out := map[string]string{"channel": string(s.Channel)}
	if s.Caller != "" {
		out["caller"] = s.Caller
	}
	return out
}

// normalizeMutationSource trims fields and falls back to the engine channel.
func normalizeMutationSource(src MutationSource) MutationSource {
	src.Caller = strings.TrimSpace(src.Caller)
	src.Channel = Channel(strings.ToLower(strings.TrimSpace(string(src.Channel))))
	switch src.Channel {
	case ChannelCLI, ChannelTUI, ChannelHTTP, ChannelMCP, ChannelEngine:
	default:
		src.Channel = ChannelEngine
	}
	return src
}
