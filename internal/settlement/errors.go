package settlement

import "errors"

var (
	// ErrInvoiceNotFound indicates the invoice does not exist.
	ErrInvoiceNotFound = errors.New("settlement: invoice not found")
	// ErrEventNotFound indicates the payment event does not exist.
	ErrEventNotFound = errors.New("settlement: payment event not found")
	// ErrAmountNotPositive rejects zero or negative payment amounts.
	ErrAmountNotPositive = errors.New("settlement: payment amount must be positive")
	// ErrInvalidMethod rejects unknown payment methods.
	ErrInvalidMethod = errors.New("settlement: unknown payment method")
	// ErrZeroConversion rejects a conversion that produced a degenerate
	// zero rate; recording it would freeze an unusable snapshot.
	ErrZeroConversion = errors.New("settlement: conversion produced a zero amount")
)
