package dbclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"extractor/internal/domain"
	"extractor/internal/table"

	"github.com/redis/go-redis/v9"
)

// RedisCommands is the subset of the go-redis client the key scanner uses.
type RedisCommands interface {
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Type(ctx context.Context, key string) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	ZRangeWithScores(ctx context.Context, key string, start, stop int64) *redis.ZSliceCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

// DefaultRedisPattern matches every key.
const DefaultRedisPattern = "*"

// redisScanCount is the COUNT hint passed to each SCAN call.
const redisScanCount = 500

type redisConnector struct {
	client *redis.Client
}

func newRedisConnector(conn *domain.DatabaseConnection, password string, o Options) (*redisConnector, error) {
	var ro *redis.Options
	if isURL(conn.Host, "redis://", "rediss://") {
		parsed, err := redis.ParseURL(conn.Host)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		ro = parsed
	} else {
		port := conn.Port
		if port == 0 {
			port = 6379
		}
		ro = &redis.Options{
			Addr:     fmt.Sprintf("%s:%d", conn.Host, port),
			Username: conn.Username,
		}
		if conn.Database != "" {
			db, err := strconv.Atoi(conn.Database)
			if err != nil {
				return nil, fmt.Errorf("redis database must be a number: %q", conn.Database)
			}
			ro.DB = db
		}
	}
	if password != "" {
		ro.Password = password
	}
	if ro.ReadTimeout == 0 {
		ro.ReadTimeout = o.QueryTimeout
	}
	return &redisConnector{client: redis.NewClient(ro)}, nil
}

func (r *redisConnector) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

// Query treats the query as a key pattern.
func (r *redisConnector) Query(ctx context.Context, query string) (table.Source, error) {
	return NewRedisSource(r.client, query), nil
}

// Introspect has nothing to report for a key-value store.
func (r *redisConnector) Introspect(context.Context) (*SchemaInfo, error) {
	return &SchemaInfo{}, nil
}

func (r *redisConnector) Close() error {
	return r.client.Close()
}

// RedisSource walks the keyspace with SCAN and yields one record per key
// against table.KeyValueColumns.
type RedisSource struct {
	mu      sync.Mutex
	client  RedisCommands
	pattern string
	cursor  uint64
	pending []string
	seen    map[string]struct{} // SCAN may return a key more than once
	started bool
	done    bool
	closed  bool
	skipped int
}

// NewRedisSource scans keys matching pattern (DefaultRedisPattern when empty).
func NewRedisSource(client RedisCommands, pattern string) *RedisSource {
	if pattern == "" {
		pattern = DefaultRedisPattern
	}
	return &RedisSource{client: client, pattern: pattern, seen: make(map[string]struct{})}
}

func (s *RedisSource) Columns() []string { return table.KeyValueColumns }

func (s *RedisSource) Next(ctx context.Context) (table.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return table.Record{}, table.ErrSourceClosed
	}
	for {
		if err := ctx.Err(); err != nil {
			return table.Record{}, err
		}
		if len(s.pending) == 0 {
			if s.done {
				return table.Record{}, io.EOF
			}
			if err := s.scanLocked(ctx); err != nil {
				return table.Record{}, err
			}
			continue
		}

		key := s.pending[0]
		s.pending = s.pending[1:]
		rec, ok, err := s.read(ctx, key)
		if err != nil {
			return table.Record{}, err
		}
		if !ok {
			s.skipped++
			continue
		}
		return rec, nil
	}
}

func (s *RedisSource) scanLocked(ctx context.Context) error {
	if s.started && s.cursor == 0 {
		s.done = true
		return nil
	}
	keys, cursor, err := s.client.Scan(ctx, s.cursor, s.pattern, redisScanCount).Result()
	if err != nil {
		return fmt.Errorf("scan %q: %w", s.pattern, err)
	}
	s.started = true
	s.cursor = cursor
	for _, k := range keys {
		if _, dup := s.seen[k]; dup {
			continue
		}
		s.seen[k] = struct{}{}
		s.pending = append(s.pending, k)
	}
	if cursor == 0 {
		s.done = true
	}
	return nil
}

// read fetches one key. ok is false when the key vanished between SCAN and read.
func (s *RedisSource) read(ctx context.Context, key string) (table.Record, bool, error) {
	typ, err := s.client.Type(ctx, key).Result()
	if err != nil {
		return table.Record{}, false, fmt.Errorf("type %q: %w", key, err)
	}

	var value, detail table.Value
	size := -1
	switch typ {
	case "none":
		return table.Record{}, false, nil
	case "string":
		v, err := s.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return table.Record{}, false, nil
		}
		if err != nil {
			return table.Record{}, false, fmt.Errorf("get %q: %w", key, err)
		}
		value = table.Text(v)
	case "list":
		items, err := s.client.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return table.Record{}, false, fmt.Errorf("lrange %q: %w", key, err)
		}
		value, size = textList(items), len(items)
	case "set":
		members, err := s.client.SMembers(ctx, key).Result()
		if err != nil {
			return table.Record{}, false, fmt.Errorf("smembers %q: %w", key, err)
		}
		sort.Strings(members)
		value, size = textList(members), len(members)
	case "zset":
		zs, err := s.client.ZRangeWithScores(ctx, key, 0, -1).Result()
		if err != nil {
			return table.Record{}, false, fmt.Errorf("zrange %q: %w", key, err)
		}
		keys := make([]string, len(zs))
		vals := make([]table.Value, len(zs))
		for i, z := range zs {
			keys[i] = fmt.Sprint(z.Member)
			vals[i] = table.Float(z.Score)
		}
		value, size = table.Document(keys, vals), len(zs)
	case "hash":
		h, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			return table.Record{}, false, fmt.Errorf("hgetall %q: %w", key, err)
		}
		fields := make(map[string]table.Value, len(h))
		for k, v := range h {
			fields[k] = table.Text(v)
		}
		value, size = table.Map(fields), len(h)
	default:
		// streams and module types
		value = table.Unsupported("redis " + typ)
	}

	// Redis deletes empty collections, so a zero-length read means the key vanished.
	switch {
	case size == 0:
		return table.Record{}, false, nil
	case size > 0:
		detail = table.Int(int64(size))
	}
	return table.Positional(table.Text(key), table.Text(typ), value, detail), true, nil
}

// Skipped reports keys that disappeared mid-scan.
func (s *RedisSource) Skipped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipped
}

func (s *RedisSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		if s.skipped > 0 {
			log.Printf("redis: %d keys vanished during scan", s.skipped)
		}
	}
	return nil
}

func textList(items []string) table.Value {
	vals := make([]table.Value, len(items))
	for i, it := range items {
		vals[i] = table.Text(it)
	}
	return table.List(vals...)
}
