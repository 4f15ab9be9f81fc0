// Package service implements the stock engine: FEFO allocation, the
// append-only ledger, manual adjustments, receiving, write-offs and the
// read-side aggregation views.
package service

import (
	"context"
	"time"

	"github.com/medflow/medflow-stock/pkg/actor"
	"github.com/medflow/medflow-stock/pkg/config"
	"github.com/medflow/medflow-stock/pkg/lock"
)

// Reference types written by the engine itself
const (
	ReferenceAdjustment = "ADJUSTMENT"
	ReferenceReceipt    = "RECEIPT"
	ReferenceWriteOff   = "WRITE_OFF"
)

// Settings carries the stock defaults shared by every service
type Settings struct {
	Location             *time.Location
	DefaultReferenceType string
	SystemActorID        string
	LowStockThreshold    int
	ExpiringWindowDays   int

	// Now returns the current instant. Defaults to time.Now.
	Now func() time.Time
}

// SettingsFromConfig builds Settings from the stock section of the config
func SettingsFromConfig(cfg *config.StockConfig) Settings {
	return Settings{
		Location:             cfg.Location(),
		DefaultReferenceType: cfg.DefaultReferenceType,
		SystemActorID:        cfg.SystemActorID,
		LowStockThreshold:    cfg.LowStockThreshold,
		ExpiringWindowDays:   cfg.ExpiringWindowDays,
	}.withDefaults()
}

func (s Settings) withDefaults() Settings {
	if s.Location == nil {
		s.Location = time.UTC
	}
	if s.DefaultReferenceType == "" {
		s.DefaultReferenceType = "DISPENSE"
	}
	if s.SystemActorID == "" {
		s.SystemActorID = actor.SystemID
	}
	if s.ExpiringWindowDays <= 0 {
		s.ExpiringWindowDays = 30
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return s
}

// Today returns the local calendar date as midnight UTC, the form DATE
// columns are compared in.
func (s Settings) Today() time.Time {
	y, m, d := s.Now().In(s.Location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// StartOfDay returns the instant the local day began
func (s Settings) StartOfDay() time.Time {
	y, m, d := s.Now().In(s.Location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.Location)
}

// Locker serialises work on one medicine across service replicas.
// *lock.MedicineLocker satisfies it.
type Locker interface {
	Lock(ctx context.Context, medicineID int64) (lock.Release, error)
}

func lockMedicine(ctx context.Context, locker Locker, medicineID int64) (lock.Release, error) {
	if locker == nil {
		return func(context.Context) {}, nil
	}
	return locker.Lock(ctx, medicineID)
}
