package movecache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 24 * time.Hour

// Entry is one remembered engine answer.
type Entry struct {
	Move     string    `json:"move"`
	Skill    int       `json:"skill"`
	Depth    int       `json:"depth"`
	StoredAt time.Time `json:"stored_at"`
}

// Store keeps best moves in redis keyed by position, skill and depth.
type Store struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewStore(rdb *redis.Client, prefix string, ttl time.Duration) *Store {
	if strings.TrimSpace(prefix) == "" {
		prefix = "cheese-duel:bestmove"
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Connect parses a redis:// URL and checks the server is reachable.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for move cache")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}

// key ignores the move counters so transpositions share an entry.
func (s *Store) key(token string, skill, depth int) string {
	fields := strings.Fields(token)
	if len(fields) > 4 {
		fields = fields[:4]
	}
	sum := sha1.Sum([]byte(strings.Join(fields, " ")))
	return fmt.Sprintf("%s:%d:%d:%s", s.prefix, skill, depth, hex.EncodeToString(sum[:]))
}

// Load returns nil, nil on a miss.
func (s *Store) Load(ctx context.Context, token string, skill, depth int) (*Entry, error) {
	raw, err := s.rdb.Get(ctx, s.key(token, skill, depth)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) Save(ctx context.Context, token string, e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key(token, e.Skill, e.Depth), raw, s.ttl).Err()
}
