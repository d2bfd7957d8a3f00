package noncecache

import (
	"context"
	"time"
)

// KVClient is the minimal surface this package needs from an eventually
// consistent key-value TTL store (e.g. a Cloudflare KV / DynamoDB-style
// client). Callers adapt their concrete SDK to this interface.
type KVClient interface {
	Get(ctx context.Context, key string) (found bool, err error)
	PutWithTTL(ctx context.Context, key string, ttl time.Duration) error
}

// EventualStore wraps a KVClient that only guarantees eventual consistency
// across replicas. Per spec §4.3, callers MUST opt into "unsafe no-replay"
// before using this store for anything security-sensitive — StrongConsistency
// always reports false, and pkg/edgeverifier refuses to build a fail-closed
// configuration against it without the corresponding ack.
type EventualStore struct {
	client KVClient
	prefix string
}

// NewEventualStore wraps client.
func NewEventualStore(client KVClient, keyPrefix string) *EventualStore {
	return &EventualStore{client: client, prefix: keyPrefix}
}

func (e *EventualStore) Has(ctx context.Context, nonce string) (bool, error) {
	return e.client.Get(ctx, e.prefix+nonce)
}

func (e *EventualStore) Add(ctx context.Context, nonce string, ttl time.Duration) error {
	return e.client.PutWithTTL(ctx, e.prefix+nonce, ttl)
}

func (e *EventualStore) Cleanup(_ context.Context) error {
	return nil
}

func (e *EventualStore) StrongConsistency() bool { return false }
