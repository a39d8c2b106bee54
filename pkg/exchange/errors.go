package exchange

import "errors"

// Failure taxonomy surfaced to agents and the transport layer. Callers test
// with errors.Is; the engine wraps these with identifying context.
var (
	// ErrAlreadyRegistered is returned when an agent identity registers twice.
	ErrAlreadyRegistered = errors.New("agent already registered")

	// ErrNotRegistered is returned for any operation by an unknown agent.
	ErrNotRegistered = errors.New("agent not registered")

	// ErrNotFound is returned when an order id does not resolve to an order
	// of the expected kind owned by the calling agent.
	ErrNotFound = errors.New("order not found")

	// ErrOngoingTransaction is returned when mutating an order that is fenced
	// by an in-flight trade. Retryable: the fence is short-lived.
	ErrOngoingTransaction = errors.New("order is part of an ongoing transaction")

	// ErrDuplicateOrder is returned on an order id collision. With random ids
	// this is practically unreachable.
	ErrDuplicateOrder = errors.New("duplicate order id")

	// ErrInvalidOrder is returned for non-positive shares or price, or an
	// empty company name.
	ErrInvalidOrder = errors.New("invalid order")
)
