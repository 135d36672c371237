package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/config"
	"github.com/effective-security/mcpchat/docserver"
	"github.com/effective-security/mcpchat/docstore"
	"github.com/effective-security/xlog"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

type docsServerFlags struct {
	redisURL    string
	redisPrefix string
}

func newDocsServerCmd(f *flags) *cobra.Command {
	df := new(docsServerFlags)
	cmd := &cobra.Command{
		Use:   "docs-server",
		Short: "Run the documentation server over stdio",
		Long: `Run the documentation server over stdio.

The documents are kept in memory, or in Redis with --redis-url,
where they are seeded on first use and edits are kept across runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}
			if df.redisURL == "" {
				df.redisURL = cfg.Docs.RedisURL
			}
			if df.redisPrefix == "" {
				df.redisPrefix = cfg.Docs.RedisPrefix
			}

			store, closer, err := openStore(ctx, df)
			if err != nil {
				logger.KV(xlog.ERROR, "status", "store_failed", "err", err.Error())
				return err
			}
			defer closer()

			return docserver.Serve(ctx, store, &mcpsdk.StdioTransport{})
		},
	}
	cmd.Flags().StringVar(&df.redisURL, "redis-url", "", "Redis URL of the document store, e.g. redis://localhost:6379/0")
	cmd.Flags().StringVar(&df.redisPrefix, "redis-prefix", "", "key prefix of the Redis document store")
	return cmd
}

// openStore returns the Redis store seeded with the default documents,
// or the in-memory store when no Redis URL is set
func openStore(ctx context.Context, df *docsServerFlags) (docstore.Store, func(), error) {
	if df.redisURL == "" {
		return docstore.NewDefaultStore(), func() {}, nil
	}

	options, err := redis.ParseURL(df.redisURL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "invalid Redis URL")
	}
	client := redis.NewClient(options)
	closer := func() {
		_ = client.Close()
	}

	if err = client.Ping(ctx).Err(); err != nil {
		closer()
		return nil, nil, errors.Wrap(err, "failed to connect to Redis")
	}

	prefix := df.redisPrefix
	if prefix == "" {
		prefix = config.DefaultRedisPrefix
	}
	if _, err = docstore.Seed(ctx, client, prefix, docstore.DefaultDocuments()...); err != nil {
		closer()
		return nil, nil, err
	}
	return docstore.NewRedisStore(client, prefix), closer, nil
}
