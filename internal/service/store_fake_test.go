package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/account-service/internal/model"
	"github.com/iliyamo/account-service/internal/queue"
	"github.com/iliyamo/account-service/internal/repository"
)

// memStore is an in-memory repository.Store.  InTx snapshots both tables
// and restores them when fn fails.
type memStore struct {
	mu     sync.Mutex
	users  map[string]model.User
	tokens map[string]model.ResetToken

	// beforeCAS runs before a versioned update is checked; tests use it to
	// simulate a concurrent writer.
	beforeCAS func()
	failWith  error
}

func newMemStore() *memStore {
	return &memStore{users: map[string]model.User{}, tokens: map[string]model.ResetToken{}}
}

func (m *memStore) Users() repository.UserStore             { return memUsers{m} }
func (m *memStore) ResetTokens() repository.ResetTokenStore { return memTokens{m} }

func (m *memStore) InTx(_ context.Context, fn func(repository.Store) error) error {
	m.mu.Lock()
	users := make(map[string]model.User, len(m.users))
	for k, v := range m.users {
		users[k] = v
	}
	tokens := make(map[string]model.ResetToken, len(m.tokens))
	for k, v := range m.tokens {
		tokens[k] = v
	}
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.users, m.tokens = users, tokens
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) put(u model.User) model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = model.RoleUser
	}
	if u.Version == 0 {
		u.Version = 1
	}
	m.users[u.ID] = u
	return u
}

func (m *memStore) user(id string) model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id]
}

func (m *memStore) tokenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}

type memUsers struct{ m *memStore }

func (r memUsers) Create(_ context.Context, u *model.User) error {
	m := r.m
	if m.failWith != nil {
		return m.failWith
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return repository.ErrEmailExists
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt, u.Version = now, now, 1
	m.users[u.ID] = *u
	return nil
}

func (r memUsers) GetByEmail(_ context.Context, email string) (model.User, error) {
	m := r.m
	if m.failWith != nil {
		return model.User{}, m.failWith
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return model.User{}, repository.ErrNotFound
}

func (r memUsers) GetByID(_ context.Context, id string) (model.User, error) {
	m := r.m
	if m.failWith != nil {
		return model.User{}, m.failWith
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return u, nil
}

func (r memUsers) Update(_ context.Context, id string, p model.UserPatch) error {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	m.users[id] = applyPatch(u, p)
	return nil
}

func (r memUsers) UpdateAtVersion(_ context.Context, id string, version uint64, p model.UserPatch) error {
	m := r.m
	if m.beforeCAS != nil {
		m.beforeCAS()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || u.Version != version {
		return repository.ErrStaleRecord
	}
	m.users[id] = applyPatch(u, p)
	return nil
}

func (r memUsers) UpdateIfResetPermitted(_ context.Context, id string, p model.UserPatch) error {
	m := r.m
	if m.beforeCAS != nil {
		m.beforeCAS()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || !u.ResetPermitted {
		return repository.ErrStaleRecord
	}
	m.users[id] = applyPatch(u, p)
	return nil
}

func (r memUsers) ExistsWithRole(_ context.Context, role model.Role) (bool, error) {
	m := r.m
	if m.failWith != nil {
		return false, m.failWith
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Role == role {
			return true, nil
		}
	}
	return false, nil
}

func applyPatch(u model.User, p model.UserPatch) model.User {
	if p.PasswordHash != nil {
		u.PasswordHash = *p.PasswordHash
	}
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Phone != nil {
		u.Phone = *p.Phone
	}
	if p.Verified != nil {
		u.Verified = *p.Verified
	}
	if p.ResetPermitted != nil {
		u.ResetPermitted = *p.ResetPermitted
	}
	if p.ClearOTP {
		u.OTPCode, u.OTPExpiresAt = nil, nil
	} else {
		if p.OTPCode != nil {
			c := *p.OTPCode
			u.OTPCode = &c
		}
		if p.OTPExpiresAt != nil {
			t := *p.OTPExpiresAt
			u.OTPExpiresAt = &t
		}
	}
	u.Version++
	u.UpdatedAt = time.Now().UTC()
	return u
}

func (r memUsers) Delete(_ context.Context, id string) error {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.users, id)
	return nil
}

func (r memUsers) Count(context.Context) (int64, error) {
	m := r.m
	if m.failWith != nil {
		return 0, m.failWith
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.users)), nil
}

func (r memUsers) List(_ context.Context, skip, take int, order model.ListOrder) ([]model.User, error) {
	m := r.m
	m.mu.Lock()
	all := make([]model.User, 0, len(m.users))
	for _, u := range m.users {
		all = append(all, u)
	}
	m.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if order == model.OrderCreatedAsc {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if skip >= len(all) {
		return nil, nil
	}
	end := skip + take
	if end > len(all) {
		end = len(all)
	}
	return all[skip:end], nil
}

type memTokens struct{ m *memStore }

func (r memTokens) Create(_ context.Context, t *model.ResetToken) error {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.tokens {
		if existing.TokenHash == t.TokenHash {
			return errors.New("duplicate token hash")
		}
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = time.Now().UTC()
	m.tokens[t.ID] = *t
	return nil
}

func (r memTokens) GetByHash(_ context.Context, hash string) (model.ResetToken, error) {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.TokenHash == hash {
			return t, nil
		}
	}
	return model.ResetToken{}, repository.ErrNotFound
}

func (r memTokens) MarkConsumed(_ context.Context, id string, at time.Time) error {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok || t.ConsumedAt != nil {
		return repository.ErrStaleRecord
	}
	t.ConsumedAt = &at
	m.tokens[id] = t
	return nil
}

func (r memTokens) ConsumeOutstanding(_ context.Context, userID string, at time.Time) (int64, error) {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.tokens {
		if t.UserID == userID && t.ConsumedAt == nil {
			t.ConsumedAt = &at
			m.tokens[id] = t
			n++
		}
	}
	return n, nil
}

// plainHasher is a fast stand-in for bcrypt.
type plainHasher struct{ err error }

func (h plainHasher) Hash(plain string) (string, error) {
	if h.err != nil {
		return "", h.err
	}
	return "hashed:" + plain, nil
}

func (h plainHasher) Verify(plain, hash string) (bool, error) {
	if h.err != nil {
		return false, h.err
	}
	return hash == "hashed:"+plain, nil
}

// recordingSender collects every message handed to it.
type recordingSender struct {
	mu   sync.Mutex
	msgs []queue.EmailMessage
}

func (s *recordingSender) Send(_ context.Context, msg queue.EmailMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
}

func (s *recordingSender) sent() []queue.EmailMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]queue.EmailMessage(nil), s.msgs...)
}

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
