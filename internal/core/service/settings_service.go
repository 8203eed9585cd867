package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/stockledger/stockledger/internal/core/domain"
	"github.com/stockledger/stockledger/internal/port"
)

const (
	settingsLockKey = "settings"
	minPINLength    = 4
)

type SettingsService struct {
	data   collections
	locker port.Locker
	log    logrus.FieldLogger
}

func NewSettingsService(store port.CollectionStore, locker port.Locker, logger logrus.FieldLogger) *SettingsService {
	log := logger.WithField("module", "settings")
	return &SettingsService{
		data:   collections{store: store, log: log},
		locker: locker,
		log:    log,
	}
}

// Get returns the stored settings, or the defaults when none are stored.
func (s *SettingsService) Get(ctx context.Context) (domain.Settings, error) {
	return readSettings(ctx, s.data)
}

// Update stores the currency symbol and GST flag, the PIN is left untouched.
func (s *SettingsService) Update(ctx context.Context, currency string, gstEnabled bool) (domain.Settings, error) {
	return s.modify(ctx, func(settings *domain.Settings) error {
		settings.Currency = strings.TrimSpace(currency)
		if settings.Currency == "" {
			settings.Currency = domain.DefaultCurrency
		}
		settings.GSTEnabled = gstEnabled
		return nil
	})
}

// SetPIN enables the lock. The PIN is stored as a bcrypt hash.
func (s *SettingsService) SetPIN(ctx context.Context, pin, confirm string) error {
	if !validPIN(pin) {
		return &domain.ValidationError{Err: domain.ErrInvalidPIN, Field: "pin"}
	}
	if pin != confirm {
		return &domain.ValidationError{Err: domain.ErrPINMismatch, Field: "confirmPin"}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash pin: %w", err)
	}

	_, err = s.modify(ctx, func(settings *domain.Settings) error {
		stored := string(hash)
		settings.PIN = &stored
		return nil
	})
	if err == nil {
		s.log.WithField("op", "set_pin").Info("pin lock enabled")
	}
	return err
}

func (s *SettingsService) RemovePIN(ctx context.Context) error {
	_, err := s.modify(ctx, func(settings *domain.Settings) error {
		settings.PIN = nil
		return nil
	})
	if err == nil {
		s.log.WithField("op", "remove_pin").Info("pin lock disabled")
	}
	return err
}

// VerifyPIN reports whether pin unlocks the app. Without a configured PIN
// every attempt succeeds. Plain PINs written by older versions still match.
func (s *SettingsService) VerifyPIN(ctx context.Context, pin string) (bool, error) {
	settings, err := readSettings(ctx, s.data)
	if err != nil {
		return false, err
	}
	if !settings.Locked() {
		return true, nil
	}

	stored := *settings.PIN
	if !strings.HasPrefix(stored, "$2") {
		return subtle.ConstantTimeCompare([]byte(stored), []byte(pin)) == 1, nil
	}
	err = bcrypt.CompareHashAndPassword([]byte(stored), []byte(pin))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("compare pin: %w", err)
	}
	return true, nil
}

// Reset removes every persisted collection, settings included.
func (s *SettingsService) Reset(ctx context.Context) error {
	unlock, err := s.locker.Lock(ctx, LedgerLockKey)
	if err != nil {
		return fmt.Errorf("acquire ledger lock: %w", err)
	}
	defer unlock()

	if err := s.data.store.RemoveAll(ctx, port.AllKeys); err != nil {
		return &domain.PersistenceError{Op: "remove", Key: strings.Join(port.AllKeys, ","), Err: err}
	}
	s.log.WithField("op", "reset").Warn("all data cleared")
	return nil
}

func (s *SettingsService) modify(ctx context.Context, fn func(*domain.Settings) error) (domain.Settings, error) {
	unlock, err := s.locker.Lock(ctx, settingsLockKey)
	if err != nil {
		return domain.Settings{}, fmt.Errorf("acquire settings lock: %w", err)
	}
	defer unlock()

	settings, err := readSettings(ctx, s.data)
	if err != nil {
		return domain.Settings{}, err
	}
	if err := fn(&settings); err != nil {
		return domain.Settings{}, err
	}
	if err := writeSettings(ctx, s.data, settings); err != nil {
		return domain.Settings{}, err
	}
	return settings, nil
}

func validPIN(pin string) bool {
	if len(pin) < minPINLength {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
