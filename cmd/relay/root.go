package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	relay "github.com/goliatone/go-relay"
	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/security"
	sqlstore "github.com/goliatone/go-relay/store/sql"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath string
	cacheTTL   time.Duration
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "relay",
		Short:         "Webhook relay: signed inbound intake and outbound delivery",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "YAML config file (RELAY_* env vars override it)")
	root.PersistentFlags().DurationVar(&flags.cacheTTL, "subscriber-cache-ttl", time.Minute, "Subscriber lookup cache TTL, 0 disables the cache")

	root.AddCommand(
		newServeCommand(flags),
		newMigrateCommand(flags),
		newStatsCommand(flags),
		newJobsCommand(flags),
		newSubscriberCommand(flags),
		newDispatchCommand(flags),
	)
	return root
}

// runtime is an opened database plus the relay built on top of it. cfg is the
// loaded config, which is what decides the enabled flags.
type runtime struct {
	cfg    core.Config
	client *persistence.Client
	relay  *relay.Relay
}

func (r *runtime) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

func openRuntime(ctx context.Context, flags *rootFlags, opts ...relay.Option) (*runtime, error) {
	cfg, err := loadConfig(ctx, flags.configPath)
	if err != nil {
		return nil, err
	}
	client, err := sqlstore.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	factoryOpts := []sqlstore.FactoryOption{}
	if flags.cacheTTL > 0 {
		cacheConfig := repositorycache.DefaultConfig()
		cacheConfig.TTL = flags.cacheTTL
		cacheService, err := repositorycache.NewCacheService(cacheConfig)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("relay: subscriber cache: %w", err)
		}
		factoryOpts = append(factoryOpts, sqlstore.WithSubscriberCache(cacheService))
	}
	if key := strings.TrimSpace(cfg.Database.SecretKey); key != "" {
		ring, err := newSecretKeyring(key)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		factoryOpts = append(factoryOpts, sqlstore.WithSubscriberSecretCipher(ring))
	}
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, factoryOpts...)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	r, err := relay.New(cfg, append([]relay.Option{relay.WithStores(factory)}, opts...)...)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &runtime{cfg: cfg, client: client, relay: r}, nil
}

// newSecretKeyring still opens rows written before a key was configured.
func newSecretKeyring(key string) (*security.Keyring, error) {
	cipher, err := security.NewAppKeyCipherFromString(key)
	if err != nil {
		return nil, err
	}
	ring, err := security.NewKeyring(cipher)
	if err != nil {
		return nil, err
	}
	ring.AllowPlaintext = true
	return ring, nil
}
