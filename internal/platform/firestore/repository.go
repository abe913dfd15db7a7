package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Collection gives typed access to one Firestore collection. Reads and writes join the
// transaction carried by ctx when there is one.
type Collection[T any] struct {
	provider *Provider
	name     string
}

// NewCollection binds a typed collection to the provider.
func NewCollection[T any](provider *Provider, name string) *Collection[T] {
	return &Collection[T]{provider: provider, name: strings.TrimSpace(name)}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string { return c.name }

// Doc returns the reference for id.
func (c *Collection[T]) Doc(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("firestore: %s: document id is required", c.name)
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name).Doc(id), nil
}

// Get reads and decodes a document.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var out T
	ref, err := c.Doc(ctx, id)
	if err != nil {
		return out, err
	}
	var snap *firestore.DocumentSnapshot
	if tx := TxFromContext(ctx); tx != nil {
		snap, err = tx.Get(ref)
	} else {
		snap, err = ref.Get(ctx)
	}
	if err != nil {
		return out, WrapError(c.op("get"), err)
	}
	if err := snap.DataTo(&out); err != nil {
		return out, fmt.Errorf("firestore: decode %s/%s: %w", c.name, id, err)
	}
	return out, nil
}

// GetAll reads several documents in one round trip. Missing documents are skipped.
func (c *Collection[T]) GetAll(ctx context.Context, ids []string) (map[string]T, error) {
	out := make(map[string]T, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	refs := make([]*firestore.DocumentRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, client.Collection(c.name).Doc(id))
	}
	var snaps []*firestore.DocumentSnapshot
	if tx := TxFromContext(ctx); tx != nil {
		snaps, err = tx.GetAll(refs)
	} else {
		snaps, err = client.GetAll(ctx, refs)
	}
	if err != nil {
		return nil, WrapError(c.op("get_all"), err)
	}
	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		var v T
		if err := snap.DataTo(&v); err != nil {
			return nil, fmt.Errorf("firestore: decode %s/%s: %w", c.name, snap.Ref.ID, err)
		}
		out[snap.Ref.ID] = v
	}
	return out, nil
}

// Set writes the whole document.
func (c *Collection[T]) Set(ctx context.Context, id string, value T) error {
	ref, err := c.Doc(ctx, id)
	if err != nil {
		return err
	}
	if tx := TxFromContext(ctx); tx != nil {
		err = tx.Set(ref, value)
	} else {
		_, err = ref.Set(ctx, value)
	}
	return WrapError(c.op("set"), err)
}

// Query runs a query built from the collection and decodes every result.
func (c *Collection[T]) Query(ctx context.Context, build func(firestore.Query) firestore.Query) ([]T, error) {
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	query := client.Collection(c.name).Query
	if build != nil {
		query = build(query)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var out []T
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, WrapError(c.op("query"), err)
		}
		var v T
		if err := snap.DataTo(&v); err != nil {
			return nil, fmt.Errorf("firestore: decode %s/%s: %w", c.name, snap.Ref.ID, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *Collection[T]) op(action string) string {
	return c.name + "." + action
}
