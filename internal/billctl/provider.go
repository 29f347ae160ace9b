package billctl

import (
	"context"
	"fmt"

	"billing/internal/config"
	"billing/internal/identity"
	"billing/internal/identity/firebase"
	"billing/internal/identity/memory"
)

// NewProvider builds the identity provider named by the configuration.
// The memory provider keeps accounts in this process only, so it is only
// useful against a development backend with a shared signing key.
func NewProvider(ctx context.Context, cfg *config.Config) (identity.Provider, error) {
	switch cfg.IdentityBackend {
	case "firebase":
		p, err := firebase.New(ctx, cfg.FirebaseAPIKey)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "memory":
		return memory.New(cfg.IdentitySigningKey), nil
	default:
		return nil, fmt.Errorf("unknown identity backend %q", cfg.IdentityBackend)
	}
}
