package infra

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisKeyCache guarda o snapshot de chaves numa chave Redis.
//
// Útil quando vários processos da mesma aplicação compartilham um Redis: um
// processo novo parte a quente com o que outro já buscou.
type RedisKeyCache struct {
	rdb redis.UniversalClient
	key string
	// ttl zero = sem expiração.
	ttl time.Duration
}

type RedisKeyCacheOption func(*RedisKeyCache)

func WithCacheTTL(d time.Duration) RedisKeyCacheOption {
	return func(c *RedisKeyCache) { c.ttl = d }
}

func NewRedisKeyCache(rdb redis.UniversalClient, key string, opts ...RedisKeyCacheOption) *RedisKeyCache {
	c := &RedisKeyCache{rdb: rdb, key: key}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisKeyCache) Store(ctx context.Context, data []byte) error {
	return errors.Wrap(c.rdb.Set(ctx, c.key, data, c.ttl).Err(), "storing api keys in redis")
}

func (c *RedisKeyCache) Retrieve(ctx context.Context) ([]byte, bool, error) {
	data, err := c.rdb.Get(ctx, c.key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "reading api keys from redis")
	}
	return data, true, nil
}

// MemoryKeyCache é um cache em memória. Útil para testes e desenvolvimento;
// não sobrevive ao restart do processo.
type MemoryKeyCache struct {
	mu   sync.Mutex
	data []byte
}

func NewMemoryKeyCache() *MemoryKeyCache {
	return &MemoryKeyCache{}
}

func (c *MemoryKeyCache) Store(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = append([]byte(nil), data...)
	return nil
}

func (c *MemoryKeyCache) Retrieve(context.Context) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		return nil, false, nil
	}
	return append([]byte(nil), c.data...), true, nil
}

// FileKeyCache grava o snapshot num arquivo dentro de dir. A escrita é
// atômica (arquivo temporário + rename).
type FileKeyCache struct {
	path string
}

func NewFileKeyCache(dir, key string) *FileKeyCache {
	name := strings.NewReplacer(":", "_", "/", "_").Replace(key) + ".json"
	return &FileKeyCache{path: filepath.Join(dir, name)}
}

func (c *FileKeyCache) Path() string { return c.path }

func (c *FileKeyCache) Store(_ context.Context, data []byte) error {
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrap(err, "creating key cache dir")
	}
	tmp, err := os.CreateTemp(dir, ".keys-*")
	if err != nil {
		return errors.Wrap(err, "creating key cache temp file")
	}
	defer os.Remove(tmp.Name()) // no-op depois do rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "writing key cache")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "closing key cache")
	}
	return errors.Wrap(os.Rename(tmp.Name(), c.path), "replacing key cache")
}

func (c *FileKeyCache) Retrieve(context.Context) ([]byte, bool, error) {
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "reading key cache")
	}
	return data, true, nil
}
