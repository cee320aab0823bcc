package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emplant2000/piphp/internal/models"

	"gorm.io/gorm"
)

// GormStore persists sessions and their payment slot in the database.
// Slot read-modify-write runs inside a transaction; the sqlite pool is a single
// connection, so transactions of the same session never interleave.
type GormStore struct {
	DB *gorm.DB
}

// NewGormStore wraps db. Run database.AutoMigrate first.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

func (s *GormStore) Get(ctx context.Context, id string) (*models.Session, error) {
	var sess models.Session
	err := s.DB.WithContext(ctx).Preload("LastPayment").First(&sess, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &sess, nil
}

func (s *GormStore) Create(ctx context.Context, id, userID, username string, loginTime time.Time) (*models.Session, error) {
	lt := loginTime
	sess := models.Session{
		ID:            id,
		UserID:        userID,
		Username:      username,
		Authenticated: true,
		LoginTime:     &lt,
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := deleteSession(tx, id); err != nil {
			return err
		}
		return tx.Create(&sess).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess.Clone(), nil
}

func deleteSession(tx *gorm.DB, id string) error {
	if err := tx.Where("session_id = ?", id).Delete(&models.Payment{}).Error; err != nil {
		return err
	}
	return tx.Where("id = ?", id).Delete(&models.Session{}).Error
}

func (s *GormStore) Destroy(ctx context.Context, id string) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteSession(tx, id)
	})
	if err != nil {
		return fmt.Errorf("destroy session: %w", err)
	}
	return nil
}

func (s *GormStore) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var n int64
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stale := tx.Model(&models.Session{}).Select("id").Where("login_time < ?", cutoff)
		if err := tx.Where("session_id IN (?)", stale).Delete(&models.Payment{}).Error; err != nil {
			return err
		}
		res := tx.Where("login_time < ?", cutoff).Delete(&models.Session{})
		n = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	return int(n), nil
}

func sessionExists(tx *gorm.DB, id string) error {
	var n int64
	if err := tx.Model(&models.Session{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) SetLastPayment(ctx context.Context, id string, p *models.Payment) error {
	if p == nil {
		return nil
	}
	row := p.Clone()
	row.ID = 0
	row.SessionID = id

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := sessionExists(tx, id); err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", id).Delete(&models.Payment{}).Error; err != nil {
			return err
		}
		return tx.Create(row).Error
	})
}

func (s *GormStore) GetLastPayment(ctx context.Context, id string) (*models.Payment, error) {
	db := s.DB.WithContext(ctx)
	if err := sessionExists(db, id); err != nil {
		return nil, err
	}
	var p models.Payment
	err := db.Where("session_id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load payment: %w", err)
	}
	return &p, nil
}

func (s *GormStore) UpdatePayment(ctx context.Context, paymentID string, fn func(p *models.Payment) error) error {
	if paymentID == "" {
		return ErrPaymentNotFound
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur models.Payment
		err := tx.Where("payment_id = ?", paymentID).First(&cur).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPaymentNotFound
		}
		if err != nil {
			return err
		}
		next := cur.Clone()
		if err := fn(next); err != nil {
			return err
		}
		next.ID = cur.ID
		next.PaymentID = cur.PaymentID
		next.SessionID = cur.SessionID
		return tx.Save(next).Error
	})
}

func (s *GormStore) ClearLastPaymentBefore(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	cleared := false
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p models.Payment
		err := tx.Where("session_id = ?", id).First(&p).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !p.CreatedAt.Before(cutoff) {
			return nil
		}
		if err := tx.Delete(&models.Payment{}, p.ID).Error; err != nil {
			return err
		}
		cleared = true
		return nil
	})
	return cleared, err
}

func (s *GormStore) SetFlash(ctx context.Context, id, msg string) error {
	res := s.DB.WithContext(ctx).Model(&models.Session{}).Where("id = ?", id).Update("flash", msg)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) TakeFlash(ctx context.Context, id string) (string, error) {
	var msg string
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sess models.Session
		err := tx.Select("id", "flash").First(&sess, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		msg = sess.Flash
		if msg == "" {
			return nil
		}
		return tx.Model(&models.Session{}).Where("id = ?", id).Update("flash", "").Error
	})
	return msg, err
}
