package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klejdi94/xsim/core"
	"github.com/klejdi94/xsim/storage"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	defaultCacheSize   = 256
	defaultLoadWorkers = 4
)

// Resolver turns a Handle into a matrix.
type Resolver interface {
	Resolve(ctx context.Context, h Handle) (*Matrix, error)
}

// Store loads embedding files from a BlobStore and keeps decoded matrices in
// an LRU cache keyed by blob key, so each language is decoded once per run.
type Store struct {
	blobs      storage.BlobStore
	dim        int
	precision  core.Precision
	cache      *lru.Cache[string, *Matrix]
	newBackOff func() backoff.BackOff
	workers    int
	logger     logrus.FieldLogger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithCacheSize bounds the number of decoded matrices kept in memory.
func WithCacheSize(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			cache, err := lru.New[string, *Matrix](n)
			if err == nil {
				s.cache = cache
			}
		}
	}
}

// WithBackOff sets the retry policy for blob reads.
func WithBackOff(fn func() backoff.BackOff) StoreOption {
	return func(s *Store) {
		s.newBackOff = fn
	}
}

// WithLoadWorkers bounds concurrent loads in LoadAll.
func WithLoadWorkers(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) StoreOption {
	return func(s *Store) {
		s.logger = l
	}
}

// DefaultBackOff retries transient reads for up to a minute.
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = time.Minute
	return b
}

// NewStore creates a store decoding rows of dim components at precision prec.
func NewStore(blobs storage.BlobStore, dim int, prec core.Precision, opts ...StoreOption) (*Store, error) {
	if blobs == nil {
		return nil, fmt.Errorf("embedding: blob store is required")
	}
	if dim <= 0 {
		return nil, &core.ValidationError{Field: "dimension", Value: dim, Message: "must be > 0"}
	}
	cache, err := lru.New[string, *Matrix](defaultCacheSize)
	if err != nil {
		return nil, err
	}
	s := &Store{
		blobs:      blobs,
		dim:        dim,
		precision:  prec,
		cache:      cache,
		newBackOff: DefaultBackOff,
		workers:    defaultLoadWorkers,
		logger:     logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Load returns the matrix stored under key, reading and decoding it on first
// use. Missing or malformed files are not retried.
func (s *Store) Load(ctx context.Context, key string) (*Matrix, error) {
	if m, ok := s.cache.Get(key); ok {
		return m, nil
	}
	logger := s.logger.WithField("file", key)
	var buf []byte
	op := func() error {
		data, err := s.blobs.Get(ctx, key)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			logger.WithError(err).Warn("embedding read failed, retrying")
			return err
		}
		buf = data
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(s.newBackOff(), ctx)); err != nil {
		return nil, &core.PairError{File: key, Err: err}
	}
	m, err := Decode(buf, s.dim, s.precision)
	if err != nil {
		return nil, &core.PairError{File: key, Err: err}
	}
	s.cache.Add(key, m)
	logger.WithFields(logrus.Fields{"rows": m.Rows, "dim": m.Dim}).Debug("embeddings loaded")
	return m, nil
}

// LoadAll preloads every key concurrently and fails on the first error.
func (s *Store) LoadAll(ctx context.Context, keys []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		if seen[key] {
			continue
		}
		seen[key] = true
		key := key
		g.Go(func() error {
			_, err := s.Load(ctx, key)
			return err
		})
	}
	return g.Wait()
}

// Resolve implements Resolver.
func (s *Store) Resolve(ctx context.Context, h Handle) (*Matrix, error) {
	if h.IsLoaded() {
		return h.Matrix(), nil
	}
	if h.Key() == "" {
		return nil, fmt.Errorf("embedding: empty handle: %w", core.ErrMalformedEmbeddingFile)
	}
	return s.Load(ctx, h.Key())
}

// Purge drops every cached matrix, releasing the run's working set.
func (s *Store) Purge() {
	s.cache.Purge()
}

// MemoryResolver resolves only loaded handles; useful when every embedding set
// is already in memory.
type MemoryResolver struct{}

// Resolve implements Resolver.
func (MemoryResolver) Resolve(ctx context.Context, h Handle) (*Matrix, error) {
	if !h.IsLoaded() {
		return nil, fmt.Errorf("embedding: %s is not loaded", h)
	}
	return h.Matrix(), nil
}

var (
	_ Resolver = (*Store)(nil)
	_ Resolver = MemoryResolver{}
)
