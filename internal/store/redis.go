package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	pairchat_errors "pairchat/pkg/errors"
)

// Redis stores each document as a hash of flattened dotted field paths, which
// lets HINCRBY and HSET serve the per-sub-path atomic update contract
// natively. Collection membership lives in a set, change notification rides
// Redis pub/sub.
type Redis struct {
	client *redis.Client
	ctx    context.Context
	cancel context.CancelFunc
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func NewRedis(cfg RedisConfig) *Redis {
	ctx, cancel := context.WithCancel(context.Background())
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// NewRedisWithClient wraps an existing client, used by tests.
func NewRedisWithClient(client *redis.Client) *Redis {
	ctx, cancel := context.WithCancel(context.Background())
	return &Redis{client: client, ctx: ctx, cancel: cancel}
}

func docKey(collection, id string) string {
	return "pairchat:doc:" + collection + ":" + id
}

func indexKey(collection string) string {
	return "pairchat:idx:" + collection
}

func changeChannel(collection string) string {
	return "pairchat:changes:" + collection
}

func (r *Redis) Create(ctx context.Context, collection, id string, doc map[string]any) error {
	key := docKey(collection, id)
	// HSETNX on a marker field is the create-if-absent guard: the loser of a
	// concurrent create sees false and backs off without error surface.
	created, err := r.client.HSetNX(ctx, key, "_created", "1").Result()
	if err != nil {
		return wrapRedisErr(err)
	}
	if !created {
		return pairchat_errors.ErrAlreadyExists
	}

	fields, err := encodeFields(Flatten(doc))
	if err != nil {
		return err
	}
	pipe := r.client.Pipeline()
	if len(fields) > 0 {
		pipe.HSet(ctx, key, fields)
	}
	pipe.SAdd(ctx, indexKey(collection), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapRedisErr(err)
	}
	r.publish(ctx, collection)
	return nil
}

func (r *Redis) Get(ctx context.Context, collection, id string) (map[string]any, error) {
	raw, err := r.client.HGetAll(ctx, docKey(collection, id)).Result()
	if err != nil {
		return nil, wrapRedisErr(err)
	}
	if len(raw) == 0 {
		return nil, pairchat_errors.ErrNotFound
	}
	return decodeHash(raw)
}

func (r *Redis) List(ctx context.Context, collection string) ([]Doc, error) {
	ids, err := r.client.SMembers(ctx, indexKey(collection)).Result()
	if err != nil {
		return nil, wrapRedisErr(err)
	}
	out := make([]Doc, 0, len(ids))
	for _, id := range ids {
		doc, err := r.Get(ctx, collection, id)
		if err != nil {
			if err == pairchat_errors.ErrNotFound {
				continue
			}
			return nil, err
		}
		out = append(out, Doc{ID: id, Data: doc})
	}
	return out, nil
}

func (r *Redis) SetFields(ctx context.Context, collection, id string, fields Fields) error {
	key := docKey(collection, id)
	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return wrapRedisErr(err)
	}
	if exists == 0 {
		return pairchat_errors.ErrNotFound
	}

	flat := map[string]any{}
	for path, value := range fields {
		normalized, err := normalize(value)
		if err != nil {
			return err
		}
		if m, ok := normalized.(map[string]any); ok && len(m) > 0 {
			for child, v := range Flatten(m) {
				flat[path+"."+child] = v
			}
			continue
		}
		flat[path] = normalized
	}
	encoded, err := encodeFields(flat)
	if err != nil {
		return err
	}
	if err := r.client.HSet(ctx, key, encoded).Err(); err != nil {
		return wrapRedisErr(err)
	}
	r.publish(ctx, collection)
	return nil
}

func (r *Redis) IncrField(ctx context.Context, collection, id, path string, delta int64) (int64, error) {
	key := docKey(collection, id)
	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return 0, wrapRedisErr(err)
	}
	if exists == 0 {
		return 0, pairchat_errors.ErrNotFound
	}
	next, err := r.client.HIncrBy(ctx, key, path, delta).Result()
	if err != nil {
		return 0, wrapRedisErr(err)
	}
	r.publish(ctx, collection)
	return next, nil
}

func (r *Redis) Watch(collection string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	pubsub := r.client.Subscribe(r.ctx, changeChannel(collection))
	done := make(chan struct{})
	go func() {
		defer close(ch)
		msgs := pubsub.Channel()
		for {
			select {
			case <-r.ctx.Done():
				return
			case <-done:
				return
			case msg := <-msgs:
				if msg == nil {
					return
				}
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		}
	}()
	var once bool
	cancel := func() {
		if once {
			return
		}
		once = true
		close(done)
		_ = pubsub.Close()
	}
	return ch, cancel
}

func (r *Redis) Close() error {
	r.cancel()
	return r.client.Close()
}

func (r *Redis) publish(ctx context.Context, collection string) {
	// Best effort: a lost tick only delays the next snapshot until the
	// following change.
	_ = r.client.Publish(ctx, changeChannel(collection), "1").Err()
}

func encodeFields(flat map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(flat))
	for path, v := range flat {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode field %q: %w", path, err)
		}
		out[path] = string(raw)
	}
	return out, nil
}

func decodeHash(raw map[string]string) (map[string]any, error) {
	flat := make(map[string]any, len(raw))
	for path, s := range raw {
		if path == "_created" {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			// HINCRBY writes bare integers, which are valid JSON, so this
			// only happens for corrupt fields.
			return nil, fmt.Errorf("decode field %q: %w", path, err)
		}
		flat[path] = v
	}
	return Unflatten(flat), nil
}

func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func wrapRedisErr(err error) error {
	return fmt.Errorf("%w: %v", pairchat_errors.ErrServiceUnavailable, err)
}
