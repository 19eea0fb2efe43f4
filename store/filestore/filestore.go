// Package filestore keeps the token set in a JSON document on local disk. Handles in separate
// processes sharing the directory observe each other through fsnotify.
package filestore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-session/store"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	fileMode     = 0o600
	dirMode      = 0o700
	changeBuffer = 32
)

// document is the on-disk layout. Clear writes an empty document so readers still learn
// who cleared it.
type document struct {
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	Origin       string    `json:"origin"`
	Op           store.Op  `json:"op"`
	At           time.Time `json:"at"`
}

var _ store.Store = (*Store)(nil)

// Store is one handle on a file-backed namespace.
type Store struct {
	dir    string
	name   string
	origin string
	logger zerolog.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for watcher errors.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New opens a handle on <dir>/<namespace>.json, creating dir when missing.
func New(dir, namespace string, opts ...Option) (*Store, error) {
	if namespace == "" {
		namespace = store.DefaultNamespace
	}
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, errors.Wrapf(err, "create token directory %s", dir)
	}
	s := &Store{
		dir:    dir,
		name:   namespace + ".json",
		origin: uuid.New().String(),
		logger: log.Logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the document location.
func (s *Store) Path() string {
	return filepath.Join(s.dir, s.name)
}

func (s *Store) Origin() string {
	return s.origin
}

func (s *Store) Write(_ context.Context, tokens token.Set) error {
	if err := tokens.Validate(); err != nil {
		return err
	}
	doc := document{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		IDToken:      tokens.IDToken,
		Origin:       s.origin,
		Op:           store.OpWrite,
		At:           s.now().UTC(),
	}
	if err := s.replace(doc); err != nil {
		return &store.PersistenceError{Op: "write", Err: err}
	}
	return nil
}

func (s *Store) Read(_ context.Context) (*token.Set, error) {
	doc, err := s.load()
	if err != nil {
		return nil, &store.PersistenceError{Op: "read", Err: err}
	}
	if doc == nil {
		return nil, nil
	}
	return store.Assemble(map[string]string{
		store.KeyAccessToken:  doc.AccessToken,
		store.KeyRefreshToken: doc.RefreshToken,
		store.KeyIDToken:      doc.IDToken,
	}), nil
}

func (s *Store) Clear(_ context.Context) error {
	doc := document{Origin: s.origin, Op: store.OpClear, At: s.now().UTC()}
	if err := s.replace(doc); err != nil {
		return &store.PersistenceError{Op: "clear", Err: err}
	}
	return nil
}

// replace writes the document to a temp file in the same directory and renames it over the
// target, so a reader sees either the old or the new document and never a partial one.
func (s *Store) replace(doc document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "encode token document")
	}

	tmp, err := os.CreateTemp(s.dir, "."+s.name+"-*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "write temp file")
	}
	if err := tmp.Chmod(fileMode); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "chmod temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}
	return errors.Wrap(os.Rename(tmpName, s.Path()), "replace token document")
}

func (s *Store) load() (*document, error) {
	data, err := os.ReadFile(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read token document")
	}
	if len(data) == 0 {
		return nil, nil
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "decode token document")
	}
	return &doc, nil
}

// Subscribe watches the directory rather than the file, since every write replaces the file.
func (s *Store) Subscribe(ctx context.Context) (<-chan store.Change, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &store.PersistenceError{Op: "subscribe", Err: err}
	}
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return nil, &store.PersistenceError{Op: "subscribe", Err: err}
	}

	out := make(chan store.Change, changeBuffer)
	go s.watch(ctx, watcher, out)
	return out, nil
}

func (s *Store) watch(ctx context.Context, watcher *fsnotify.Watcher, out chan<- store.Change) {
	defer close(out)
	defer watcher.Close()

	var last store.Change
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != s.name {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Remove) {
				continue
			}

			change, ok := s.changeFor(event)
			if !ok || change.Origin == s.origin || change == last {
				continue
			}
			last = change

			select {
			case out <- change:
			case <-ctx.Done():
				return
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn().Err(err).Str("dir", s.dir).Msg("Token file watcher error")
		}
	}
}

func (s *Store) changeFor(event fsnotify.Event) (store.Change, bool) {
	if event.Has(fsnotify.Remove) {
		return store.Change{Op: store.OpClear, At: s.now().UTC()}, true
	}
	doc, err := s.load()
	if err != nil {
		s.logger.Warn().Err(err).Str("path", s.Path()).Msg("Ignoring unreadable token document")
		return store.Change{}, false
	}
	if doc == nil {
		return store.Change{}, false
	}
	return store.Change{Origin: doc.Origin, Op: doc.Op, At: doc.At}, true
}
