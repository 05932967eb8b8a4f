package provider

import (
	"context"
	"fmt"
	"log/slog"

	"smsform/pkg/config"
	provideropenai "smsform/pkg/provider/openai"
	providertypes "smsform/pkg/provider/types"
)

// Client generates dialogue replies.
type Client interface {
	Health(ctx context.Context) error
	Generate(ctx context.Context, req providertypes.Request) (providertypes.Reply, error)
}

func New(cfg *config.Config) (Client, error) {
	providerID := cfg.Provider.Type
	if providerID == "" {
		providerID = "openai"
	}

	slog.Default().With("component", "provider.factory").Debug("Resolving provider client", "provider", providerID)

	switch providerID {
	case "openai", "azure":
		return provideropenai.New(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", providerID)
	}
}
