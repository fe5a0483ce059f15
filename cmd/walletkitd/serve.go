package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	walletkit "github.com/layer-3/walletkit"
	"github.com/layer-3/walletkit/adapters/chain"
	"github.com/layer-3/walletkit/adapters/events"
	"github.com/layer-3/walletkit/adapters/keystore"
	"github.com/layer-3/walletkit/adapters/store"
	"github.com/layer-3/walletkit/adapters/tokenizer"
	"github.com/layer-3/walletkit/internal/config"
	"github.com/layer-3/walletkit/internal/logging"
	"github.com/layer-3/walletkit/ports"
	httptransport "github.com/layer-3/walletkit/transport/http"
	"github.com/layer-3/walletkit/transport/remote"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(v *viper.Viper, load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the approver API and bridge",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().String("listen", "", "listen address, overrides listen_addr")
	cmd.Flags().String("store", "", "memory, redis or postgres")
	bindFlag(v, cmd, "listen_addr", "listen")
	bindFlag(v, cmd, "store", "store")
	return cmd
}

// backend is everything serve opens and has to close again.
type backend struct {
	kv     ports.Store
	redis  *redis.Client
	pub    message.Publisher
	sub    message.Subscriber
	events ports.EventPublisher
	closer []func() error
}

func (b *backend) Close() error {
	var errs []error
	for i := len(b.closer) - 1; i >= 0; i-- {
		errs = append(errs, b.closer[i]())
	}
	return errors.Join(errs...)
}

func openBackend(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*backend, error) {
	b := &backend{}
	wmLogger := logging.Watermill(logger)

	if cfg.Store == config.StoreRedis {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		b.redis = redis.NewClient(opts)
		b.closer = append(b.closer, b.redis.Close)
		if err := b.redis.Ping(ctx).Err(); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("failed to reach redis: %w", err)
		}
	}

	switch cfg.Store {
	case config.StoreRedis:
		b.kv = store.NewRedisStore(b.redis)
	case config.StorePostgres:
		pg, err := store.OpenPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b.closer = append(b.closer, pg.Close)
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = b.Close()
			return nil, err
		}
		b.kv = pg
	default:
		b.kv = store.NewMemoryStore()
	}

	if b.redis != nil {
		pub, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: b.redis}, wmLogger)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("failed to create redis publisher: %w", err)
		}
		// No consumer group: every listener of a client id sees every
		// envelope, like an HTTP bridge does.
		sub, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{Client: b.redis}, wmLogger)
		if err != nil {
			_ = pub.Close()
			_ = b.Close()
			return nil, fmt.Errorf("failed to create redis subscriber: %w", err)
		}
		b.pub, b.sub = pub, sub
		b.closer = append(b.closer, pub.Close, sub.Close)
	} else {
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, wmLogger)
		b.pub, b.sub = ch, ch
		b.closer = append(b.closer, ch.Close)
	}
	b.events = events.NewWatermillPublisher(b.pub)
	return b, nil
}

func masterKey(cfg config.Config, logger logrus.FieldLogger) ([]byte, error) {
	if len(cfg.MasterKey) > 0 {
		return cfg.MasterKey, nil
	}
	if cfg.Store != config.StoreMemory {
		return nil, errors.New("master_key is required with a persistent store")
	}
	logger.Warn("master_key not set, using an ephemeral key; wallets will not survive a restart")
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

func serve(ctx context.Context, cfg config.Config) error {
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.WithError(err).Warn("failed to close backend")
		}
	}()

	key, err := masterKey(cfg, logger)
	if err != nil {
		return err
	}
	signer, err := keystore.New(b.kv, key, logger)
	if err != nil {
		return err
	}

	signKey, err := tokenizer.LoadOrCreateKey(cfg.TokenKeyFile)
	if err != nil {
		return err
	}
	if cfg.TokenKeyFile == "" {
		logger.Warn("token_key_file not set, access tokens will not survive a restart")
	}
	tokens := tokenizer.NewJWTTokenizer(signKey)

	relay := remote.NewRelay(b.pub, b.sub, logger)
	opts := walletkit.Options{
		Store:   b.kv,
		Signer:  signer,
		Network: cfg.Network,
		Limits:  cfg.Limits,
		Router:  cfg.Router,
		Relay:   relay,
		Events:  b.events,
		Logger:  logger,
	}
	if cfg.ChainURL != "" {
		opts.Chain = chain.New(chain.Config{BaseURL: cfg.ChainURL, APIKey: cfg.ChainAPIKey}, logger)
	} else {
		logger.Info("chain_url not set, signed transactions are returned without broadcasting")
	}

	tenants := walletkit.NewTenants(opts)
	defer func() {
		if err := tenants.Close(); err != nil {
			logger.WithError(err).Warn("failed to close tenants")
		}
	}()
	restored, err := tenants.RestoreAll(ctx)
	if err != nil {
		return fmt.Errorf("restore bridge sessions: %w", err)
	}
	if len(restored) > 0 {
		logger.WithField("users", len(restored)).Info("resumed bridge sessions")
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httptransport.SetupRouter(tenants, tokens, relay, logger),
		ReadHeaderTimeout: 10 * time.Second,
		// Streams watch their request context, so cancelling it on a
		// signal lets Shutdown drain them.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":    cfg.ListenAddr,
			"store":   cfg.Store,
			"network": cfg.Network,
		}).Info("walletkitd listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
