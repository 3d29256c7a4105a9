// Package service holds the business rules that sit between the HTTP
// handlers and the repositories.
//
//	Handler    parses requests, writes responses
//	Service    validates, enforces invariants, orchestrates
//	Repository reads and writes rows
//
// Services take repository interfaces, never a concrete database, so tests
// can hand them an in-memory SQLite store or a hand-written fake.
package service

import (
	"math"

	"github.com/sakif/adprofit/internal/apperror"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 500

	// MaxReportDays bounds a profit-sheet report.
	MaxReportDays = 366
)

// clampLimit applies the default and maximum page size.
func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	}
	return limit
}

// money validates a user-entered amount: finite and not negative.
func money(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return apperror.ValidationFailed(field, field+" must be a finite number")
	}
	if v < 0 {
		return apperror.ValidationFailed(field, field+" must not be negative")
	}
	return nil
}
