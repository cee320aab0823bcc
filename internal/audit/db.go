package audit

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/emplant2000/piphp/internal/models"
	"github.com/emplant2000/piphp/internal/util"

	"gorm.io/gorm"
)

// DBSink stores events as models.AuditLog rows. With an encryption key the
// payload is kept only in encrypted form.
type DBSink struct {
	DB         *gorm.DB
	EncryptKey string
}

func NewDBSink(db *gorm.DB, encryptKey string) *DBSink {
	return &DBSink{DB: db, EncryptKey: encryptKey}
}

func (s *DBSink) Record(ctx context.Context, ev Event) error {
	raw, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	row := models.AuditLog{
		SessionID: ev.SessionID,
		UserID:    ev.UserID,
		Action:    ev.Action,
		CreatedAt: ev.Time,
	}
	if s.EncryptKey == "" {
		row.Payload = string(raw)
	} else {
		enc, err := util.EncryptAES(s.EncryptKey, raw)
		if err != nil {
			return fmt.Errorf("encrypt payload: %w", err)
		}
		row.PayloadEnc = base64.StdEncoding.EncodeToString(enc)
	}

	return s.DB.WithContext(ctx).Create(&row).Error
}

// DecodePayload returns the plaintext JSON payload of a stored row. Rows that fail
// to decrypt come back as their stored ciphertext.
func DecodePayload(encryptKey string, row *models.AuditLog) string {
	if row.PayloadEnc == "" || encryptKey == "" {
		if row.Payload != "" {
			return row.Payload
		}
		return row.PayloadEnc
	}
	b, err := base64.StdEncoding.DecodeString(row.PayloadEnc)
	if err != nil {
		return row.PayloadEnc
	}
	plain, err := util.DecryptAES(encryptKey, b)
	if err != nil {
		return row.PayloadEnc
	}
	return string(plain)
}
