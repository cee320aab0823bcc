package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/emplant2000/piphp/internal/config"
	"github.com/emplant2000/piphp/internal/models"

	"github.com/shopspring/decimal"
)

func TestInit_EmptyPath(t *testing.T) {
	if _, err := Init(config.DatabaseConfig{}); err == nil {
		t.Error("Init with empty path should fail")
	}
}

func TestAutoMigrate_PaymentRoundTrip(t *testing.T) {
	db, err := Init(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "nested", "test.db")})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer Close(db)

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	now := time.Now().UTC()
	sess := models.Session{ID: "sid-1", UserID: "uid-1", Username: "alice", Authenticated: true, LoginTime: &now}
	if err := db.Create(&sess).Error; err != nil {
		t.Fatalf("create session: %v", err)
	}

	// excess precision must survive storage untouched
	amount := decimal.RequireFromString("12.3456789012")
	pay := models.Payment{SessionID: "sid-1", PaymentID: "test_pay_1", UserID: "uid-1", Amount: amount, Status: models.PaymentPending}
	if err := db.Create(&pay).Error; err != nil {
		t.Fatalf("create payment: %v", err)
	}

	var got models.Session
	if err := db.Preload("LastPayment").First(&got, "id = ?", "sid-1").Error; err != nil {
		t.Fatalf("load session: %v", err)
	}
	if got.LastPayment == nil {
		t.Fatal("LastPayment not preloaded")
	}
	if !got.LastPayment.Amount.Equal(amount) {
		t.Errorf("Amount = %s, want %s", got.LastPayment.Amount, amount)
	}

	// one slot per session
	dup := models.Payment{SessionID: "sid-1", PaymentID: "test_pay_2", Amount: decimal.NewFromInt(1), Status: models.PaymentPending}
	if err := db.Create(&dup).Error; err == nil {
		t.Error("second payment row for the same session should violate the unique index")
	}
}
