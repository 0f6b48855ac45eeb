// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"fmt"
	"time"
)

// TransactionStatus is the lifecycle state of a transaction.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusApproved  TransactionStatus = "approved"
	StatusReview    TransactionStatus = "review"
	StatusBlocked   TransactionStatus = "blocked"
	StatusCancelled TransactionStatus = "cancelled"
)

// Transaction represents an incoming transaction to be decisioned.
// Only Status and RiskScore are mutated after creation, and only by
// the decision pipeline.
type Transaction struct {
	// Core identifiers
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	// Financial details
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`

	// Originating entity
	CardBIN   string `json:"cardBin"`
	SessionID string `json:"sessionId"`
	PlayerID  string `json:"playerId,omitempty"`

	// Context
	Country   string `json:"country"`
	City      string `json:"city,omitempty"`
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`

	// Temporal (UTC)
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`

	// Decision output
	Status    TransactionStatus `json:"status"`
	RiskScore float64           `json:"riskScore"`

	// Optional metadata
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// EntityKey returns the stable key used to group transactions for
// velocity and behavioral aggregation. The player id wins when present,
// otherwise the card BIN + session id composite is used.
func (t *Transaction) EntityKey() string {
	if t.PlayerID != "" {
		return "player:" + t.PlayerID
	}
	return "card:" + t.CardBIN + ":" + t.SessionID
}

// Validate rejects malformed transactions before they enter the pipeline.
func (t *Transaction) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}
	if t.Amount < 0 {
		return fmt.Errorf("%w: amount must be non-negative", ErrInvalidInput)
	}
	if t.CardBIN == "" && t.SessionID == "" && t.PlayerID == "" {
		return fmt.Errorf("%w: at least one entity identifier is required", ErrInvalidInput)
	}
	return nil
}

// Field resolves a named transaction field to its string representation
// for rule condition evaluation. Unknown fields resolve to "".
func (t *Transaction) Field(name string) string {
	switch name {
	case "id":
		return t.ID
	case "amount":
		return fmt.Sprintf("%g", t.Amount)
	case "currency":
		return t.Currency
	case "cardBin":
		return t.CardBIN
	case "sessionId":
		return t.SessionID
	case "playerId":
		return t.PlayerID
	case "country":
		return t.Country
	case "city":
		return t.City
	case "ip":
		return t.IP
	case "userAgent":
		return t.UserAgent
	case "timestamp":
		return fmt.Sprintf("%d", t.Timestamp.Unix())
	case "status":
		return string(t.Status)
	default:
		if t.Metadata != nil {
			if v, ok := t.Metadata[name]; ok {
				return fmt.Sprintf("%v", v)
			}
		}
		return ""
	}
}

// TransactionRequest is the API request payload for transaction submission.
type TransactionRequest struct {
	Amount    float64                `json:"amount"`
	Currency  string                 `json:"currency"`
	CardBIN   string                 `json:"cardBin"`
	SessionID string                 `json:"sessionId"`
	PlayerID  string                 `json:"playerId,omitempty"`
	Country   string                 `json:"country"`
	City      string                 `json:"city,omitempty"`
	IP        string                 `json:"ip,omitempty"`
	UserAgent string                 `json:"userAgent,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ToTransaction converts a request to a Transaction domain object.
func (r *TransactionRequest) ToTransaction(id string, now time.Time) *Transaction {
	return &Transaction{
		ID:        id,
		Amount:    r.Amount,
		Currency:  r.Currency,
		CardBIN:   r.CardBIN,
		SessionID: r.SessionID,
		PlayerID:  r.PlayerID,
		Country:   r.Country,
		City:      r.City,
		IP:        r.IP,
		UserAgent: r.UserAgent,
		Timestamp: now,
		CreatedAt: now,
		Status:    StatusPending,
		Metadata:  r.Metadata,
	}
}
