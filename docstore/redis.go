package docstore

import (
	"context"
	"path"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/redis/go-redis/v9"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpchat", "docstore")

// The redis store keeps the documents in Redis, so several documentation
// servers can share them and edits survive restarts.
// The keys namespace is organized as follows:
// - `/<prefix>/docstore/ids` list of document IDs in insertion order
// - `/<prefix>/docstore/docs` hash of document ID to content

// maxEditRetries bounds the optimistic transaction retries of Edit
const maxEditRetries = 10

type redisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore returns a store backed by Redis
func NewRedisStore(client redis.UniversalClient, prefix string) Store {
	return &redisStore{
		client: client,
		prefix: prefix,
	}
}

func (m *redisStore) idsKey() string {
	return path.Join("/", m.prefix, "docstore", "ids")
}

func (m *redisStore) docsKey() string {
	return path.Join("/", m.prefix, "docstore", "docs")
}

// Seed adds the documents that are not present yet, existing documents are kept
func Seed(ctx context.Context, client redis.UniversalClient, prefix string, docs ...Document) (int, error) {
	m := &redisStore{client: client, prefix: prefix}
	added := 0
	for _, d := range docs {
		ok, err := m.client.HSetNX(ctx, m.docsKey(), d.ID, d.Content).Result()
		if err != nil {
			return added, errors.Wrap(err, "failed to seed document in Redis")
		}
		if !ok {
			continue
		}
		if err = m.client.RPush(ctx, m.idsKey(), d.ID).Err(); err != nil {
			return added, errors.Wrap(err, "failed to seed document in Redis")
		}
		added++
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "seeded",
		"prefix", prefix,
		"added", added,
	)
	return added, nil
}

func (m *redisStore) List(ctx context.Context) ([]string, error) {
	ids, err := m.client.LRange(ctx, m.idsKey(), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to list documents from Redis")
	}
	return ids, nil
}

func (m *redisStore) Read(ctx context.Context, id string) (string, error) {
	content, err := m.client.HGet(ctx, m.docsKey(), id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", notFound(id)
		}
		return "", errors.Wrap(err, "failed to get document from Redis")
	}
	return content, nil
}

func (m *redisStore) Edit(ctx context.Context, id, oldStr, newStr string) (string, error) {
	key := m.docsKey()

	var updated string
	txf := func(tx *redis.Tx) error {
		content, err := tx.HGet(ctx, key, id).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return notFound(id)
			}
			return errors.Wrap(err, "failed to get document from Redis")
		}

		updated = Replace(content, oldStr, newStr)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, id, updated)
			return nil
		})
		return err
	}

	for range maxEditRetries {
		err := m.client.Watch(ctx, txf, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			// concurrent edit, retry
			continue
		}
		if errors.Is(err, ErrNotFound) {
			return "", err
		}
		return "", errors.Wrap(err, "failed to edit document in Redis")
	}
	return "", errors.Errorf("failed to edit document %s: too many concurrent edits", id)
}
