package strategy

import "context"

type clientKey struct{}

// WithClient returns a context that scopes partitioned caches to clientID.
func WithClient(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientKey{}, clientID)
}

// ClientFrom returns the client ID carried by ctx, or "".
func ClientFrom(ctx context.Context) string {
	id, _ := ctx.Value(clientKey{}).(string)
	return id
}

// partitionPrefix is the storage key prefix of a client's entries.
func partitionPrefix(clientID string) string {
	return "client=" + clientID + " "
}

// storageKey maps a request key to its storage key. Partitioned caches
// need a client in ctx; without one nothing is read or written.
func (c *Cache) storageKey(ctx context.Context, key string) (string, bool) {
	if !c.desc.Partitioned {
		return key, true
	}
	id := ClientFrom(ctx)
	if id == "" {
		return "", false
	}
	return partitionPrefix(id) + key, true
}
