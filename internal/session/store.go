package session

import (
	"context"
	"errors"
	"maps"
	"sync"
)

var errMissingKeyValue = errors.New("session: key value backend is required")

// Store persists zero or one Session.
type Store interface {
	// Read returns the stored session; ok is false when no complete session exists.
	Read(ctx context.Context) (session Session, ok bool, err error)
	Save(ctx context.Context, session Session) error
	// UpdateAccessTokenIf replaces the access token only while refreshToken is the stored one.
	UpdateAccessTokenIf(ctx context.Context, refreshToken, accessToken string) (bool, error)
	Clear(ctx context.Context) error
	// ClearIf erases the session only while refreshToken is the stored one.
	ClearIf(ctx context.Context, refreshToken string) (bool, error)
}

// KeyValue is the opaque on-device storage capability: a small set of named string fields.
// Put must apply all values atomically. The guarded variants compare guardKey with
// guardValue and apply their change in the same atomic step; applied is false on mismatch.
type KeyValue interface {
	Get(ctx context.Context, keys []string) (map[string]string, error)
	Put(ctx context.Context, values map[string]string) error
	PutIf(ctx context.Context, guardKey, guardValue string, values map[string]string) (applied bool, err error)
	DeleteAll(ctx context.Context) error
	DeleteAllIf(ctx context.Context, guardKey, guardValue string) (applied bool, err error)
}

// FieldStore maps a Session onto named fields of a KeyValue backend.
type FieldStore struct {
	kv KeyValue
}

// NewFieldStore wraps kv.
func NewFieldStore(kv KeyValue) (*FieldStore, error) {
	if kv == nil {
		return nil, errMissingKeyValue
	}
	return &FieldStore{kv: kv}, nil
}

// Read loads every field and rejects incomplete records.
func (s *FieldStore) Read(ctx context.Context) (Session, bool, error) {
	values, err := s.kv.Get(ctx, Fields)
	if err != nil {
		return Session{}, false, err
	}
	stored := fromFields(values)
	if !stored.Valid() {
		return Session{}, false, nil
	}
	return stored, true, nil
}

// Save writes all fields in one atomic put.
func (s *FieldStore) Save(ctx context.Context, session Session) error {
	return s.kv.Put(ctx, session.toFields())
}

// UpdateAccessTokenIf replaces only the access token, and only for the session that owns refreshToken.
func (s *FieldStore) UpdateAccessTokenIf(ctx context.Context, refreshToken, accessToken string) (bool, error) {
	return s.kv.PutIf(ctx, FieldRefreshToken, refreshToken, map[string]string{FieldAccessToken: accessToken})
}

// Clear erases every field.
func (s *FieldStore) Clear(ctx context.Context) error {
	return s.kv.DeleteAll(ctx)
}

// ClearIf erases every field of the session that owns refreshToken.
func (s *FieldStore) ClearIf(ctx context.Context, refreshToken string) (bool, error) {
	return s.kv.DeleteAllIf(ctx, FieldRefreshToken, refreshToken)
}

// MemoryKeyValue keeps fields in process memory.
type MemoryKeyValue struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryKeyValue returns an empty in-memory backend.
func NewMemoryKeyValue() *MemoryKeyValue {
	return &MemoryKeyValue{values: make(map[string]string)}
}

// NewMemoryStore returns a Store backed by process memory.
func NewMemoryStore() *FieldStore {
	return &FieldStore{kv: NewMemoryKeyValue()}
}

func (m *MemoryKeyValue) Get(_ context.Context, keys []string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make(map[string]string, len(keys))
	for _, key := range keys {
		if value, ok := m.values[key]; ok {
			result[key] = value
		}
	}
	return result, nil
}

func (m *MemoryKeyValue) Put(_ context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	maps.Copy(m.values, values)
	return nil
}

func (m *MemoryKeyValue) PutIf(_ context.Context, guardKey, guardValue string, values map[string]string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.values[guardKey]; !ok || current != guardValue {
		return false, nil
	}
	maps.Copy(m.values, values)
	return true, nil
}

func (m *MemoryKeyValue) DeleteAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.values)
	return nil
}

func (m *MemoryKeyValue) DeleteAllIf(_ context.Context, guardKey, guardValue string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.values[guardKey]; !ok || current != guardValue {
		return false, nil
	}
	clear(m.values)
	return true, nil
}
