package dpop

import (
	"context"
	"errors"
	"sync"

	"github.com/go-logr/logr"
	derrors "github.com/mickaelvieira/dpop-oidc-client-go/internal/errors"
	"github.com/mickaelvieira/dpop-oidc-client-go/internal/storage"
)

// KeyStore loads the persisted proof key or creates and persists a new one.
// The key is cached after the first successful call, so storage is written at
// most once per process unless it is cleared externally.
type KeyStore struct {
	lock     sync.Mutex
	blob     storage.Blob
	keyType  KeyType
	generate func(KeyType) (*ProofKey, error)
	logger   logr.Logger
	key      *ProofKey
}

type KeyStoreOption func(s *KeyStore)

func WithKeyType(kt KeyType) KeyStoreOption {
	return func(s *KeyStore) {
		s.keyType = kt
	}
}

func WithKeyGenerator(generate func(KeyType) (*ProofKey, error)) KeyStoreOption {
	return func(s *KeyStore) {
		s.generate = generate
	}
}

func WithKeyStoreLogger(logger logr.Logger) KeyStoreOption {
	return func(s *KeyStore) {
		s.logger = logger
	}
}

func NewKeyStore(blob storage.Blob, opts ...KeyStoreOption) *KeyStore {
	s := &KeyStore{
		blob:     blob,
		keyType:  KeyTypeEC,
		generate: GenerateKey,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.logger = resolveLogger(s.logger)

	return s
}

func (s *KeyStore) GetOrCreateKey(ctx context.Context) (*ProofKey, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.key != nil {
		return s.key, nil
	}

	data, err := s.blob.Load(ctx)
	switch {
	case err == nil:
		k, err := ParseProofKey(data)
		if err != nil {
			return nil, err
		}
		s.logger.V(1).Info("using stored proof key", "kty", k.KeyType())
		s.key = k
		return k, nil
	case !errors.Is(err, storage.ErrNotFound):
		return nil, derrors.Wrap(derrors.CodeStorageUnavailable, MsgFailedKeyStore, err)
	}

	k, err := s.generate(s.keyType)
	if err != nil {
		return nil, err
	}

	b, err := k.MarshalJSON()
	if err != nil {
		return nil, derrors.Wrap(derrors.CodeKeyFormat, MsgInvalidKey, err)
	}

	if err := s.blob.Save(ctx, b); err != nil {
		return nil, derrors.Wrap(derrors.CodeStorageUnavailable, MsgFailedKeyStore, err)
	}

	s.logger.Info("created and stored proof key", "kty", k.KeyType())
	s.key = k
	return k, nil
}
