package session

import (
	"context"
	"sync"
	"time"

	"github.com/emplant2000/piphp/internal/models"
)

type memEntry struct {
	mu   sync.Mutex
	sess *models.Session
	gone bool // set once destroyed or replaced; holders of a stale pointer must retry
}

// MemoryStore keeps sessions in process memory with one mutex per session.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memEntry
	payments map[string]string // payment id -> session id
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memEntry),
		payments: make(map[string]string),
	}
}

func (s *MemoryStore) entry(id string) *memEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

// withSession locks the live entry for id and runs fn with it.
func (s *MemoryStore) withSession(id string, fn func(e *memEntry) error) error {
	for {
		e := s.entry(id)
		if e == nil {
			return ErrNotFound
		}
		e.mu.Lock()
		if e.gone {
			e.mu.Unlock()
			continue
		}
		err := fn(e)
		e.mu.Unlock()
		return err
	}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Session, error) {
	var out *models.Session
	err := s.withSession(id, func(e *memEntry) error {
		out = e.sess.Clone()
		return nil
	})
	return out, err
}

func (s *MemoryStore) Create(_ context.Context, id, userID, username string, loginTime time.Time) (*models.Session, error) {
	lt := loginTime
	sess := &models.Session{
		ID:            id,
		UserID:        userID,
		Username:      username,
		Authenticated: true,
		LoginTime:     &lt,
		CreatedAt:     loginTime,
		UpdatedAt:     loginTime,
	}

	s.mu.Lock()
	if old := s.sessions[id]; old != nil {
		s.retire(old)
	}
	s.sessions[id] = &memEntry{sess: sess}
	s.mu.Unlock()

	return sess.Clone(), nil
}

// retire marks e dead and drops its payment index entry. Caller holds s.mu.
func (s *MemoryStore) retire(e *memEntry) {
	e.mu.Lock()
	e.gone = true
	if p := e.sess.LastPayment; p != nil {
		delete(s.payments, p.PaymentID)
	}
	e.mu.Unlock()
}

func (s *MemoryStore) Destroy(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.sessions[id]; e != nil {
		s.retire(e)
		delete(s.sessions, id)
	}
	return nil
}

func (s *MemoryStore) PruneBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.sessions {
		e.mu.Lock()
		stale := e.sess.LoginTime != nil && e.sess.LoginTime.Before(cutoff)
		e.mu.Unlock()
		if !stale {
			continue
		}
		s.retire(e)
		delete(s.sessions, id)
		n++
	}
	return n, nil
}

func (s *MemoryStore) SetLastPayment(_ context.Context, id string, p *models.Payment) error {
	if p == nil {
		return nil
	}
	stored := p.Clone()
	stored.SessionID = id

	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.sessions[id]
	if e == nil {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if prev := e.sess.LastPayment; prev != nil {
		delete(s.payments, prev.PaymentID)
	}
	e.sess.LastPayment = stored
	s.payments[stored.PaymentID] = id
	return nil
}

func (s *MemoryStore) GetLastPayment(_ context.Context, id string) (*models.Payment, error) {
	var out *models.Payment
	err := s.withSession(id, func(e *memEntry) error {
		out = e.sess.LastPayment.Clone()
		return nil
	})
	return out, err
}

func (s *MemoryStore) UpdatePayment(_ context.Context, paymentID string, fn func(p *models.Payment) error) error {
	if paymentID == "" {
		return ErrPaymentNotFound
	}
	s.mu.RLock()
	sid, ok := s.payments[paymentID]
	s.mu.RUnlock()
	if !ok {
		return ErrPaymentNotFound
	}

	err := s.withSession(sid, func(e *memEntry) error {
		cur := e.sess.LastPayment
		// the slot may have been superseded between the index lookup and the lock
		if cur == nil || cur.PaymentID != paymentID {
			return ErrPaymentNotFound
		}
		next := cur.Clone()
		if err := fn(next); err != nil {
			return err
		}
		next.PaymentID = cur.PaymentID
		next.SessionID = cur.SessionID
		next.UpdatedAt = time.Now().UTC()
		e.sess.LastPayment = next
		return nil
	})
	if err == ErrNotFound {
		return ErrPaymentNotFound
	}
	return err
}

func (s *MemoryStore) ClearLastPaymentBefore(_ context.Context, id string, cutoff time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.sessions[id]
	if e == nil {
		return false, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.sess.LastPayment
	if p == nil || !p.CreatedAt.Before(cutoff) {
		return false, nil
	}
	delete(s.payments, p.PaymentID)
	e.sess.LastPayment = nil
	return true, nil
}

func (s *MemoryStore) SetFlash(_ context.Context, id, msg string) error {
	return s.withSession(id, func(e *memEntry) error {
		e.sess.Flash = msg
		return nil
	})
}

func (s *MemoryStore) TakeFlash(_ context.Context, id string) (string, error) {
	var msg string
	err := s.withSession(id, func(e *memEntry) error {
		msg = e.sess.Flash
		e.sess.Flash = ""
		return nil
	})
	if err == ErrNotFound {
		return "", nil
	}
	return msg, err
}
