package mouse_telemetry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Storage keys
const (
	KeyUserID      = "userId"
	KeyAPIEndpoint = "apiEndpoint"
)

// Store keeps the identity and endpoint between restarts
type Store interface {
	// Get returns the value and whether the key exists
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

// NewStore opens the store selected by the config
func NewStore(cfg *StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "badger":
		return NewBadgerStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// MemoryStore is a Store that lives as long as the process
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

// Identity reads and writes the user id and the collection endpoint
type Identity struct {
	store    Store
	validate *validator.Validate
	logger   *zap.Logger
}

func NewIdentity(store Store, logger *zap.Logger) *Identity {
	return &Identity{
		store:    store,
		validate: validator.New(),
		logger:   logger,
	}
}

// EnsureUserID generates and stores a user id if none exists yet
func (i *Identity) EnsureUserID(ctx context.Context) (string, error) {
	userID, ok, err := i.store.Get(ctx, KeyUserID)
	if err != nil {
		return "", fmt.Errorf("failed to read user id: %w", err)
	}
	if ok && userID != "" {
		i.logger.Info("Using existing userId", zap.String("user_id", userID))
		return userID, nil
	}

	userID, err = newUserID()
	if err != nil {
		return "", err
	}
	if err := i.store.Set(ctx, KeyUserID, userID); err != nil {
		return "", fmt.Errorf("failed to store user id: %w", err)
	}

	i.logger.Info("Generated new userId", zap.String("user_id", userID))
	return userID, nil
}

// UserID returns the stored user id, empty if none
func (i *Identity) UserID(ctx context.Context) (string, error) {
	userID, _, err := i.store.Get(ctx, KeyUserID)
	return userID, err
}

// Endpoint returns the configured endpoint, empty if none
func (i *Identity) Endpoint(ctx context.Context) (string, error) {
	endpoint, _, err := i.store.Get(ctx, KeyAPIEndpoint)
	return endpoint, err
}

// SetEndpoint validates and stores the collection endpoint
func (i *Identity) SetEndpoint(ctx context.Context, endpoint string) error {
	if err := i.validate.Var(endpoint, "required,url"); err != nil {
		return fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if _, err := ParseEndpoint(endpoint); err != nil {
		return err
	}
	if err := i.store.Set(ctx, KeyAPIEndpoint, endpoint); err != nil {
		return fmt.Errorf("failed to store endpoint: %w", err)
	}

	i.logger.Info("Updated API endpoint", zap.String("endpoint", endpoint))
	return nil
}

// SeedEndpoint stores endpoint only when none is configured yet
func (i *Identity) SeedEndpoint(ctx context.Context, endpoint string) error {
	current, err := i.Endpoint(ctx)
	if err != nil {
		return err
	}
	if current != "" {
		return nil
	}
	return i.SetEndpoint(ctx, endpoint)
}

// newUserID returns a random base-36 token
func newUserID() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("failed to generate user id: %w", err)
	}
	return strconv.FormatUint(binary.BigEndian.Uint64(buf[:]), 36), nil
}
