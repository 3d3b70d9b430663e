package blockchain

import (
	"context"

	"github.com/trebuchet-org/txm/internal/domain/config"
)

// ProvideClient dials the configured node. The returned cleanup closes the
// connection.
func ProvideClient(cfg *config.RuntimeConfig) (*Client, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.RPC.Timeout*5)
	defer cancel()

	client, err := Dial(ctx, cfg.RPC)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Close, nil
}
