// Package fx talks to the exchange conversion gateway. Every conversion is
// a live, rate-at-call-time operation; nothing in this package caches or
// reuses rates.
package fx

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrUnavailable indicates the gateway could not be reached or returned a
// non-success response. Callers must abort before writing anything.
var ErrUnavailable = errors.New("fx: conversion gateway unavailable")

// Gateway converts amounts to and from the INR pivot.
type Gateway interface {
	// ToINR converts an amount in the given currency to INR at the current
	// live rate.
	ToINR(ctx context.Context, amount decimal.Decimal, currency string) (decimal.Decimal, error)
	// FromINR converts an INR amount to the given currency at the current
	// live rate.
	FromINR(ctx context.Context, amountINR decimal.Decimal, currency string) (decimal.Decimal, error)
}
