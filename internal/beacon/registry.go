package beacon

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-redis/redis/v8"
)

// FactoryKind names which factory interface a beacon type's createBeacon
// uses.
type FactoryKind string

const (
	FactoryStandard    FactoryKind = "standard"
	FactoryDichotomous FactoryKind = "dichotomous"
)

// TypeConfig describes one named beacon kind: which factory mints it, which
// registry (if any) it is auto-registered with, and whether it is enabled.
type TypeConfig struct {
	Slug        string         `json:"slug"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Factory     common.Address `json:"factory_address"`
	FactoryKind FactoryKind    `json:"factory_type"`
	Registry    common.Address `json:"registry_address,omitempty"`
	Enabled     bool           `json:"enabled"`
	CreatedAt   int64          `json:"created_at"`
	UpdatedAt   int64          `json:"updated_at"`
}

// ErrTypeNotFound is returned for unknown beacon type slugs.
var ErrTypeNotFound = fmt.Errorf("beacon type not found")

// TypeRegistry stores beacon type configs in the shared store, under
// {prefix}beacon_types (set of slugs) and {prefix}beacon_type:{slug}.
type TypeRegistry struct {
	client *redis.Client
	prefix string
}

// NewTypeRegistry creates a beacon type registry.
func NewTypeRegistry(client *redis.Client, prefix string) *TypeRegistry {
	return &TypeRegistry{client: client, prefix: prefix}
}

func (r *TypeRegistry) setKey() string            { return r.prefix + "beacon_types" }
func (r *TypeRegistry) typeKey(slug string) string { return r.prefix + "beacon_type:" + slug }

// Register stores a new beacon type. Fails if the slug already exists.
func (r *TypeRegistry) Register(ctx context.Context, cfg *TypeConfig) error {
	if cfg.Slug == "" {
		return fmt.Errorf("beacon type slug required")
	}
	exists, err := r.Exists(ctx, cfg.Slug)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("beacon type %q already registered", cfg.Slug)
	}

	now := time.Now().Unix()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	return r.write(ctx, cfg)
}

// Update replaces an existing beacon type config, preserving CreatedAt.
func (r *TypeRegistry) Update(ctx context.Context, slug string, cfg *TypeConfig) error {
	current, err := r.Get(ctx, slug)
	if err != nil {
		return err
	}
	cfg.Slug = slug
	cfg.CreatedAt = current.CreatedAt
	cfg.UpdatedAt = time.Now().Unix()
	return r.write(ctx, cfg)
}

func (r *TypeRegistry) write(ctx context.Context, cfg *TypeConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal beacon type %q: %w", cfg.Slug, err)
	}
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, r.setKey(), cfg.Slug)
	pipe.Set(ctx, r.typeKey(cfg.Slug), data, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store beacon type %q: %w", cfg.Slug, err)
	}
	return nil
}

// Get loads one beacon type by slug.
func (r *TypeRegistry) Get(ctx context.Context, slug string) (*TypeConfig, error) {
	data, err := r.client.Get(ctx, r.typeKey(slug)).Bytes()
	if err == redis.Nil {
		return nil, ErrTypeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get beacon type %q: %w", slug, err)
	}
	var cfg TypeConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal beacon type %q: %w", slug, err)
	}
	return &cfg, nil
}

// List returns every registered beacon type. Slugs whose config record is
// missing are skipped.
func (r *TypeRegistry) List(ctx context.Context) ([]*TypeConfig, error) {
	slugs, err := r.client.SMembers(ctx, r.setKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list beacon types: %w", err)
	}
	configs := make([]*TypeConfig, 0, len(slugs))
	for _, slug := range slugs {
		cfg, err := r.Get(ctx, slug)
		if err == ErrTypeNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// Exists reports whether a slug is registered.
func (r *TypeRegistry) Exists(ctx context.Context, slug string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, r.setKey(), slug).Result()
	if err != nil {
		return false, fmt.Errorf("check beacon type %q: %w", slug, err)
	}
	return ok, nil
}

// Delete removes a beacon type.
func (r *TypeRegistry) Delete(ctx context.Context, slug string) error {
	pipe := r.client.TxPipeline()
	pipe.SRem(ctx, r.setKey(), slug)
	pipe.Del(ctx, r.typeKey(slug))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete beacon type %q: %w", slug, err)
	}
	return nil
}

// SeedDefaults registers any of the given configs not already present,
// returning how many were added.
func (r *TypeRegistry) SeedDefaults(ctx context.Context, configs []*TypeConfig) (int, error) {
	added := 0
	for _, cfg := range configs {
		exists, err := r.Exists(ctx, cfg.Slug)
		if err != nil {
			return added, err
		}
		if exists {
			continue
		}
		if err := r.Register(ctx, cfg); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}
