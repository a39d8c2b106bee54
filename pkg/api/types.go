package api

import (
	"stockmart/pkg/exchange"
)

// Wire types for the REST endpoints and the websocket feed.

type RegisterRequest struct {
	// AgentID is optional; a fresh identity is minted when absent.
	AgentID string `json:"agent_id,omitempty"`
}

type RegisterResponse struct {
	AgentID string `json:"agent_id"`
}

type OrderRequest struct {
	AgentID string `json:"agent_id"`
	Kind    string `json:"kind"` // "offer" or "demand"
	Company string `json:"company"`
	Shares  int64  `json:"shares"`
	Price   string `json:"price"` // decimal string, e.g. "10.5"
}

type OrderResponse struct {
	OrderID string `json:"order_id"`
}

type ChangeRequest struct {
	AgentID string `json:"agent_id"`
	OrderID string `json:"order_id"`
	Kind    string `json:"kind"`
	Shares  int64  `json:"shares"`
	Price   string `json:"price"`
}

type CancelRequest struct {
	AgentID string `json:"agent_id"`
	OrderID string `json:"order_id"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

type OrderInfo struct {
	OrderID string `json:"order_id"`
	OwnerID string `json:"owner_id"`
	Kind    string `json:"kind"`
	Company string `json:"company"`
	Shares  int64  `json:"shares"`
	Price   string `json:"price"`
	State   string `json:"state"`
}

type TransactionInfo struct {
	TransactionID string `json:"transaction_id"`
	OfferID       string `json:"offer_id"`
	DemandID      string `json:"demand_id"`
	OfferOwner    string `json:"offer_owner"`
	DemandOwner   string `json:"demand_owner"`
	Company       string `json:"company"`
	Shares        int64  `json:"shares"`
	Price         string `json:"price"`
	ExecutedAt    int64  `json:"executed_at"` // Unix milliseconds
}

type ErrorResponse struct {
	Error string `json:"error"`
	// Retryable marks failures the caller should simply retry later
	// (an order fenced by an in-flight trade).
	Retryable bool `json:"retryable,omitempty"`
}

type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// WSEvent is pushed on the "trades" channel for every transaction, and on
// "agent:<id>" channels with type "buy" or "sale" for the two parties.
type WSEvent struct {
	Channel string          `json:"channel"`
	Type    string          `json:"type"`
	Trade   TransactionInfo `json:"trade"`
}

func orderInfo(o exchange.Order) OrderInfo {
	return OrderInfo{
		OrderID: o.ID.String(),
		OwnerID: o.OwnerID.String(),
		Kind:    o.Kind.String(),
		Company: o.Company,
		Shares:  o.Shares,
		Price:   o.Price.String(),
		State:   o.State.String(),
	}
}

func transactionInfo(tx exchange.Transaction) TransactionInfo {
	return TransactionInfo{
		TransactionID: tx.ID.String(),
		OfferID:       tx.OfferID.String(),
		DemandID:      tx.DemandID.String(),
		OfferOwner:    tx.OfferOwner.String(),
		DemandOwner:   tx.DemandOwner.String(),
		Company:       tx.Company,
		Shares:        tx.Shares,
		Price:         tx.Price.String(),
		ExecutedAt:    tx.ExecutedAt.UnixMilli(),
	}
}
