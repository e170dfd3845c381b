package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// DefaultNetworkPrefix prefixes generated session network names.
const DefaultNetworkPrefix = "llmobs-test"

// NetworkName returns a unique network name such as "llmobs-test-1a2b3c4d".
func NetworkName(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultNetworkPrefix
	}
	return prefix + "-" + uuid.NewString()[:8]
}

// Network is an isolated container network owned by one session.
type Network struct {
	ID   string
	Name string

	rt        ContainerRuntime
	destroyed bool
}

// CreateNetwork creates the session network.
func CreateNetwork(ctx context.Context, rt ContainerRuntime, name string) (*Network, error) {
	info, err := rt.NetworkCreate(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("create network %q: %w", name, err)
	}
	slog.Debug("Created network.", "component", "network", "name", name, "id", info.ID)
	return &Network{ID: info.ID, Name: name, rt: rt}, nil
}

// Destroy removes the network. Calling it more than once is a no-op, and a
// network that is already gone is not an error.
func (n *Network) Destroy(ctx context.Context) error {
	if n == nil || n.destroyed {
		return nil
	}
	if err := n.rt.NetworkRemove(ctx, n.Name); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("remove network %q: %w", n.Name, err)
	}
	n.destroyed = true
	slog.Debug("Removed network.", "component", "network", "name", n.Name)
	return nil
}
