package key

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Store is the in-memory registry of signing keys. Keys are never removed;
// expiry is evaluated when the store is read.
type Store struct {
	logger   *slog.Logger
	clock    Clock
	validity time.Duration
	generate func() (*rsa.PrivateKey, error)

	mu        sync.RWMutex
	keys      []*SigningKey
	byID      map[string]*SigningKey
	updatedAt time.Time
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func WithClock(clock Clock) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// WithValidity overrides how long generated and imported keys stay valid.
func WithValidity(d time.Duration) Option {
	return func(s *Store) {
		s.validity = d
	}
}

// WithKeyGenerator replaces the RSA key generator.
func WithKeyGenerator(fn func() (*rsa.PrivateKey, error)) Option {
	return func(s *Store) {
		s.generate = fn
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		logger:   slog.Default(),
		clock:    SystemClock,
		validity: DefaultValidity,
		generate: generateRSAKey,
		byID:     make(map[string]*SigningKey),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func generateRSAKey() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, KeyBits)
}

// Generate creates a new key pair under id. The key expires after the
// store's validity window.
func (s *Store) Generate(id string) (SigningKey, error) {
	if s.contains(id) {
		return SigningKey{}, fmt.Errorf("%w: %q", ErrDuplicateKey, id)
	}

	privateKey, err := s.generate()
	if err != nil {
		return SigningKey{}, fmt.Errorf("%w: %q: %w", ErrKeyGeneration, id, err)
	}

	k, err := s.insert(id, privateKey)
	if err != nil {
		return SigningKey{}, err
	}
	s.logger.Info("Generated new key", slog.String("key-id", id), slog.Time("expires-at", k.ExpiresAt))
	return k, nil
}

// Import stores an externally created key under id with the same validity
// rules as Generate.
func (s *Store) Import(id string, privateKey *rsa.PrivateKey) (SigningKey, error) {
	if privateKey == nil {
		return SigningKey{}, fmt.Errorf("%w: %q: nil private key", ErrInvalidKey, id)
	}
	if bits := privateKey.N.BitLen(); bits != KeyBits {
		return SigningKey{}, fmt.Errorf("%w: %q: want %d-bit RSA key, got %d", ErrInvalidKey, id, KeyBits, bits)
	}

	k, err := s.insert(id, privateKey)
	if err != nil {
		return SigningKey{}, err
	}
	s.logger.Info("Imported key", slog.String("key-id", id), slog.Time("expires-at", k.ExpiresAt))
	return k, nil
}

func (s *Store) insert(id string, privateKey *rsa.PrivateKey) (SigningKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Another caller may have inserted id while the key was generated.
	if _, ok := s.byID[id]; ok {
		return SigningKey{}, fmt.Errorf("%w: %q", ErrDuplicateKey, id)
	}

	now := s.clock.Now()
	k := &SigningKey{
		ID:         id,
		PrivateKey: privateKey,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.validity),
	}
	s.keys = append(s.keys, k)
	s.byID[id] = k
	s.updatedAt = now

	return *k, nil
}

func (s *Store) contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byID[id]
	return ok
}

func (s *Store) Get(id string) (SigningKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.byID[id]
	if !ok {
		return SigningKey{}, fmt.Errorf("%w: %q", ErrKeyNotFound, id)
	}
	return *k, nil
}

// ForceExpire moves the expiry of key id one hour into the past.
func (s *Store) ForceExpire(id string) (SigningKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.byID[id]
	if !ok {
		return SigningKey{}, fmt.Errorf("%w: %q", ErrKeyNotFound, id)
	}
	now := s.clock.Now()
	k.ExpiresAt = now.Add(-time.Hour)
	s.updatedAt = now

	s.logger.Info("Expired key", slog.String("key-id", id), slog.Time("expires-at", k.ExpiresAt))
	return *k, nil
}

// First returns the default key: the one created earliest, with insertion
// order breaking ties. Expired keys are not skipped.
func (s *Store) First() (SigningKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var first *SigningKey
	for _, k := range s.keys {
		if first == nil || k.CreatedAt.Before(first.CreatedAt) {
			first = k
		}
	}
	if first == nil {
		return SigningKey{}, ErrEmptyStore
	}
	return *first, nil
}

// FirstNonExpired is First restricted to keys still valid at now. It
// returns ErrNoValidKey when every stored key has expired.
func (s *Store) FirstNonExpired(now time.Time) (SigningKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var first *SigningKey
	for _, k := range s.keys {
		if k.Expired(now) {
			continue
		}
		if first == nil || k.CreatedAt.Before(first.CreatedAt) {
			first = k
		}
	}
	if first == nil {
		return SigningKey{}, ErrNoValidKey
	}
	return *first, nil
}

// ListNonExpired returns the keys still valid at now in insertion order.
func (s *Store) ListNonExpired(now time.Time) []SigningKey {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rv := make([]SigningKey, 0, len(s.keys))
	for _, k := range s.keys {
		if !k.Expired(now) {
			rv = append(rv, *k)
		}
	}
	return rv
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// UpdatedAt is the time of the last mutation, zero for an untouched store.
func (s *Store) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}
