// Package redisstore keeps the token set in Redis so session agents in different processes
// share one namespace. Changes are announced on a Pub/Sub channel.
package redisstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-session/store"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const changeBuffer = 32

var _ store.Store = (*Store)(nil)

// Store is one handle on a Redis-backed namespace.
type Store struct {
	client    redis.UniversalClient
	namespace string
	origin    string
	logger    zerolog.Logger
	now       func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for dropped notifications.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithOrigin overrides the generated origin.
func WithOrigin(origin string) Option {
	return func(s *Store) {
		s.origin = origin
	}
}

// New opens a handle on the namespace using an existing client.
func New(client redis.UniversalClient, namespace string, opts ...Option) *Store {
	if namespace == "" {
		namespace = store.DefaultNamespace
	}
	s := &Store{
		client:    client,
		namespace: namespace,
		origin:    uuid.New().String(),
		logger:    log.Logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dial parses a redis:// URL, checks the server answers and opens a handle.
func Dial(ctx context.Context, url, namespace string, opts ...Option) (*Store, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "ping redis at %s", options.Addr)
	}
	return New(client, namespace, opts...), nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Origin() string {
	return s.origin
}

func (s *Store) key(name string) string {
	return s.namespace + ":" + name
}

func (s *Store) channel() string {
	return s.namespace + ":changes"
}

func (s *Store) change(op store.Op) ([]byte, error) {
	return json.Marshal(store.Change{Origin: s.origin, Op: op, At: s.now().UTC()})
}

// Write replaces all three values and announces the change in one transaction.
func (s *Store) Write(ctx context.Context, tokens token.Set) error {
	if err := tokens.Validate(); err != nil {
		return err
	}
	payload, err := s.change(store.OpWrite)
	if err != nil {
		return errors.Wrap(err, "encode change")
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range store.Values(tokens) {
			pipe.Set(ctx, s.key(k), v, 0)
		}
		pipe.Publish(ctx, s.channel(), payload)
		return nil
	})
	if err != nil {
		return &store.PersistenceError{Op: "write", Err: err}
	}
	return nil
}

func (s *Store) Read(ctx context.Context) (*token.Set, error) {
	keys := make([]string, len(store.Keys))
	for i, k := range store.Keys {
		keys[i] = s.key(k)
	}

	raw, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, &store.PersistenceError{Op: "read", Err: err}
	}

	values := make(map[string]string, len(store.Keys))
	for i, v := range raw {
		if str, ok := v.(string); ok {
			values[store.Keys[i]] = str
		}
	}
	return store.Assemble(values), nil
}

func (s *Store) Clear(ctx context.Context) error {
	payload, err := s.change(store.OpClear)
	if err != nil {
		return errors.Wrap(err, "encode change")
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range store.Keys {
			pipe.Del(ctx, s.key(k))
		}
		pipe.Publish(ctx, s.channel(), payload)
		return nil
	})
	if err != nil {
		return &store.PersistenceError{Op: "clear", Err: err}
	}
	return nil
}

// Subscribe returns once the subscription is confirmed by the server, so no change published
// after it returns is missed.
func (s *Store) Subscribe(ctx context.Context) (<-chan store.Change, error) {
	pubsub := s.client.Subscribe(ctx, s.channel())
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, &store.PersistenceError{Op: "subscribe", Err: err}
	}

	out := make(chan store.Change, changeBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var change store.Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					s.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("Dropping undecodable change")
					continue
				}
				if change.Origin == s.origin {
					continue
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
