// errors.go - Fehlertypen des Workers
// Dieses Modul enthaelt die Sentinel-Fehler und die typisierten Fehler
// fuer Konfiguration, Lebenszyklus, Block-Migration und Geraete-Ausfall.
package worker

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration        = errors.New("invalid worker configuration")
	ErrLifecycle            = errors.New("worker lifecycle violation")
	ErrUnsupportedMigration = errors.New("cache block migration is not supported")
	ErrDevice               = errors.New("device failure")
	ErrInvalidBatch         = errors.New("invalid step batch")
)

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

func wrapConfig(err error) error {
	return fmt.Errorf("%w: %w", ErrConfiguration, err)
}

// LifecycleError reports an operation called in a state that does not allow
// it.
type LifecycleError struct {
	Op    string
	State State
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("%s: not allowed while worker is %s", e.Op, e.State)
}

func (e *LifecycleError) Unwrap() error {
	return ErrLifecycle
}

// MigrationError reports a step that asked for block migrations. The counts
// are the number of entries in each map.
type MigrationError struct {
	SwapIn  int
	SwapOut int
	Copy    int
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("%v (swap in: %d, swap out: %d, copy: %d)", ErrUnsupportedMigration, e.SwapIn, e.SwapOut, e.Copy)
}

func (e *MigrationError) Unwrap() error {
	return ErrUnsupportedMigration
}

// DeviceError wraps a failure of the device or the model runner. The
// underlying error stays reachable with errors.As.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() []error {
	return []error{ErrDevice, e.Err}
}
