package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/Taiwoayodeji/ChatGifs/internal/config"
	"github.com/Taiwoayodeji/ChatGifs/internal/gateway"
	"github.com/Taiwoayodeji/ChatGifs/internal/gateway/treestore"
	"github.com/Taiwoayodeji/ChatGifs/internal/gateway/wsgateway"
	"github.com/Taiwoayodeji/ChatGifs/internal/profile"
)

const dialTimeout = 10 * time.Second

// Backend is the gateway the daemon talks to: a tree store opened in
// process, or a connection to a hub.
type Backend struct {
	Mode    string
	Gateway gateway.Gateway
	close   func() error
}

func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

func provideBackend(p Params, cfg *config.Config, clk clock.Clock, logger *zap.Logger) (*Backend, error) {
	switch cfg.Backend.Mode {
	case config.BackendHub:
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		defer cancel()
		c, err := wsgateway.Dial(ctx, cfg.Backend.URL, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to hub %s: %w", cfg.Backend.URL, err)
		}
		logger.Info("connected to hub", zap.String("url", cfg.Backend.URL))
		return &Backend{Mode: config.BackendHub, Gateway: c, close: c.Close}, nil
	default:
		dir := cfg.Backend.DataDir
		if dir == "" {
			dir = profile.TreeDir(p.Profile)
		}
		s, err := treestore.Open(dir, treestore.Options{Clock: clk, Logger: logger.Named("tree")})
		if err != nil {
			return nil, err
		}
		return &Backend{Mode: config.BackendEmbedded, Gateway: s.NewSession(), close: s.Close}, nil
	}
}
