// Package treestore is a Pebble-backed implementation of the gateway tree
// and identity service. The hub serves it over a websocket; the daemon can
// also embed it directly.
package treestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Taiwoayodeji/ChatGifs/internal/bus"
	"github.com/Taiwoayodeji/ChatGifs/internal/gateway"
	"github.com/Taiwoayodeji/ChatGifs/internal/metrics"
	"github.com/Taiwoayodeji/ChatGifs/internal/model"
)

// Options configures a Store. Zero values pick production defaults.
type Options struct {
	FS         vfs.FS
	Clock      clock.Clock
	Logger     *zap.Logger
	BcryptCost int
}

// Store is the tree. Writes are serialized so that change notifications
// are published in commit order.
type Store struct {
	db     *pebble.DB
	bus    *bus.Bus
	clock  clock.Clock
	logger *zap.Logger
	cost   int

	mu   sync.Mutex
	quit chan struct{}
	wg   sync.WaitGroup
}

// Open opens (or creates) a store in dir.
func Open(dir string, opts Options) (*Store, error) {
	popts := &pebble.Options{}
	if opts.FS != nil {
		popts.FS = opts.FS
	}
	db, err := pebble.Open(dir, popts)
	if err != nil {
		return nil, fmt.Errorf("opening tree store: %w", err)
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	opts.Logger.Info("tree store opened", zap.String("path", dir))
	return &Store{
		db:     db,
		bus:    bus.New(),
		clock:  opts.Clock,
		logger: opts.Logger,
		cost:   opts.BcryptCost,
		quit:   make(chan struct{}),
	}, nil
}

// OpenInMemory opens a store that lives only as long as the process.
func OpenInMemory(opts Options) (*Store, error) {
	opts.FS = vfs.NewMem()
	return Open("", opts)
}

// Close stops every subscription and closes the database.
func (s *Store) Close() error {
	close(s.quit)
	s.wg.Wait()
	return s.db.Close()
}

// Now is the store clock in epoch milliseconds.
func (s *Store) Now() int64 {
	return s.clock.Now().UnixMilli()
}

func (s *Store) NewKey() string {
	return gateway.NewKey()
}

func (s *Store) Get(ctx context.Context, path string) (gateway.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return gateway.Snapshot{}, model.Wrap(model.Transient, "get", err)
	}
	if err := gateway.ValidatePath(path); err != nil {
		return gateway.Snapshot{}, err
	}
	snap := s.db.NewSnapshot()
	defer snap.Close()

	if path != "" {
		raw, closer, err := snap.Get(leafKey(path))
		switch {
		case err == nil:
			var v any
			decErr := json.Unmarshal(raw, &v)
			closer.Close()
			if decErr != nil {
				return gateway.Snapshot{}, model.Wrap(model.Transient, "get", decErr)
			}
			return gateway.Snapshot{Path: path, Value: v}, nil
		case !errors.Is(err, pebble.ErrNotFound):
			return gateway.Snapshot{}, model.Wrap(model.Transient, "get", err)
		}
	}

	lower, upper := subtreeBounds(path)
	iter, err := snap.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return gateway.Snapshot{}, model.Wrap(model.Transient, "get", err)
	}
	defer iter.Close()

	var root map[string]any
	for iter.First(); iter.Valid(); iter.Next() {
		rel := string(bytes.TrimPrefix(iter.Key(), lower))
		var v any
		if err := json.Unmarshal(iter.Value(), &v); err != nil {
			return gateway.Snapshot{}, model.Wrap(model.Transient, "get", err)
		}
		if root == nil {
			root = make(map[string]any)
		}
		insert(root, rel, v)
	}
	if err := iter.Error(); err != nil {
		return gateway.Snapshot{}, model.Wrap(model.Transient, "get", err)
	}
	if root == nil {
		return gateway.Snapshot{Path: path}, nil
	}
	return gateway.Snapshot{Path: path, Value: root}, nil
}

func (s *Store) Set(ctx context.Context, path string, value any) error {
	return s.write(ctx, "set", map[string]any{path: value})
}

func (s *Store) Update(ctx context.Context, updates map[string]any) error {
	return s.write(ctx, "update", updates)
}

func (s *Store) Delete(ctx context.Context, path string) error {
	return s.write(ctx, "delete", map[string]any{path: nil})
}

func (s *Store) write(ctx context.Context, op string, updates map[string]any) error {
	if err := ctx.Err(); err != nil {
		return model.Wrap(model.Transient, op, err)
	}
	if len(updates) == 0 {
		return nil
	}
	paths := make([]string, 0, len(updates))
	for p := range updates {
		if err := gateway.ValidatePath(p); err != nil {
			return err
		}
		paths = append(paths, p)
	}
	for i, a := range paths {
		for _, b := range paths[i+1:] {
			if gateway.IsAncestor(a, b) || gateway.IsAncestor(b, a) {
				return model.Errorf(model.Invalid, op, "overlapping paths %q and %q", a, b)
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, p := range paths {
		v, err := normalize(updates[p], now)
		if err != nil {
			return err
		}
		leaves := make(map[string][]byte)
		if err := flatten(p, v, leaves); err != nil {
			return err
		}
		if len(leaves) > 0 {
			for _, anc := range ancestors(p) {
				if err := batch.Delete(leafKey(anc), nil); err != nil {
					return model.Wrap(model.Transient, op, err)
				}
			}
		}
		if p != "" {
			if err := batch.Delete(leafKey(p), nil); err != nil {
				return model.Wrap(model.Transient, op, err)
			}
		}
		lower, upper := subtreeBounds(p)
		if err := batch.DeleteRange(lower, upper, nil); err != nil {
			return model.Wrap(model.Transient, op, err)
		}
		for leaf, raw := range leaves {
			if err := batch.Set(leafKey(leaf), raw, nil); err != nil {
				return model.Wrap(model.Transient, op, err)
			}
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		s.logger.Error("tree write failed", zap.String("op", op), zap.Error(err))
		return model.Wrap(model.Transient, op, err)
	}
	metrics.TreeWrites.WithLabelValues(op).Inc()

	at := s.clock.Now()
	for _, p := range paths {
		s.bus.Publish(bus.Event{Kind: p, Timestamp: at})
	}
	return nil
}

// Subscribe watches path. The first delivery is the current value; after
// that every committed write touching the subtree, an ancestor, or the
// node itself triggers a fresh read. Writes that land while a handler is
// running collapse into one follow-up delivery.
func (s *Store) Subscribe(path string, fn func(gateway.Snapshot)) (func(), error) {
	if err := gateway.ValidatePath(path); err != nil {
		return nil, err
	}
	ch, cancel := s.bus.SubscribeMatch(func(kind string) bool {
		return gateway.Related(path, kind)
	}, 1)
	metrics.TreeSubscriptions.Inc()

	done := make(chan struct{})
	var closed atomic.Bool
	deliver := func() {
		snap, err := s.Get(context.Background(), path)
		if err != nil {
			s.logger.Warn("subscription read failed", zap.String("path", path), zap.Error(err))
			return
		}
		if closed.Load() {
			return
		}
		fn(snap)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		deliver()
		for {
			select {
			case <-ch:
				deliver()
			case <-done:
				return
			case <-s.quit:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			closed.Store(true)
			cancel()
			close(done)
			metrics.TreeSubscriptions.Dec()
		})
	}, nil
}
