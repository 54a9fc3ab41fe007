// Package models defines the core data structures for ReplyPipe.
//
// It includes the per-message context handed to strategies, the uniform strategy
// result, lead scores, conversation turns and delivery receipts, which are shared
// across modules.
package models

import (
	"encoding/json"
	"errors"
	"time"
)

// Complexity is a coarse classification of how hard a message is to answer.
type Complexity string

const (
	// ComplexityLow covers greetings and acknowledgements.
	ComplexityLow Complexity = "low"
	// ComplexityMedium is the default classification.
	ComplexityMedium Complexity = "medium"
	// ComplexityHigh covers problems, cancellations, negotiations and long messages.
	ComplexityHigh Complexity = "high"
)

// CustomerValue is a coarse classification of a customer's business value.
type CustomerValue string

const (
	// CustomerValueStandard is assigned to every customer below the VIP threshold.
	CustomerValueStandard CustomerValue = "standard"
	// CustomerValueVIP is assigned when the lead score reaches the VIP threshold.
	CustomerValueVIP CustomerValue = "vip"
)

// MessageType identifies the kind of inbound message body.
type MessageType string

const (
	// MessageTypeText is a plain text message.
	MessageTypeText MessageType = "text"
)

// Defaults applied to MessageContext when lead scoring is unavailable.
const (
	DefaultLeadScore     = 50.0
	DefaultConfidence    = 0.5
	DefaultComplexity    = ComplexityMedium
	DefaultCustomerValue = CustomerValueStandard
	// VIPThreshold is the lead score at or above which a customer is treated as VIP.
	VIPThreshold = 80.0
)

// Error variables for validation
var (
	ErrEmptyMessage = errors.New("message cannot be empty")
	ErrEmptyUserID  = errors.New("user id cannot be empty")
)

// TurnRole identifies who authored a conversation turn.
type TurnRole string

const (
	// TurnRoleUser is an inbound message from the customer.
	TurnRoleUser TurnRole = "user"
	// TurnRoleAssistant is a reply produced by a strategy.
	TurnRoleAssistant TurnRole = "assistant"
)

// Turn is one persisted message of a conversation.
type Turn struct {
	UserID       string   `json:"user_id"`
	Phone        string   `json:"phone,omitempty"`
	Role         TurnRole `json:"role"`
	Body         string   `json:"body"`
	StrategyUsed string   `json:"strategy_used,omitempty"`
	Success      bool     `json:"success"`
	Confidence   float64  `json:"confidence"`
	Time         int64    `json:"time"`
}

// MessageContext is the per-message bundle of identity and derived signals handed
// to the strategy selector and the chosen strategy. It is built fresh for every
// inbound message and never reused.
type MessageContext struct {
	UserID         string      `json:"user_id"`
	ConversationID string      `json:"conversation_id"`
	Phone          string      `json:"phone"`
	Message        string      `json:"message"`
	MessageType    MessageType `json:"message_type"`

	LeadScore     float64       `json:"lead_score"`
	Confidence    float64       `json:"confidence"`
	LeadCategory  string        `json:"lead_category,omitempty"`
	Complexity    Complexity    `json:"complexity"`
	CustomerValue CustomerValue `json:"customer_value"`

	// History holds recent turns when a history source is configured; empty otherwise.
	History  []Turn         `json:"history,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	ReceivedAt time.Time `json:"received_at"`
}

// NewMessageContext returns a context populated with safe defaults for every derived signal.
func NewMessageContext(message, userID, phone string) *MessageContext {
	conversationID := phone
	if conversationID == "" {
		conversationID = userID
	}
	return &MessageContext{
		UserID:         userID,
		ConversationID: conversationID,
		Phone:          phone,
		Message:        message,
		MessageType:    MessageTypeText,
		LeadScore:      DefaultLeadScore,
		Confidence:     DefaultConfidence,
		Complexity:     DefaultComplexity,
		CustomerValue:  DefaultCustomerValue,
		History:        []Turn{},
		Metadata:       make(map[string]any),
		ReceivedAt:     time.Now(),
	}
}

// ApplyLeadScore copies a lead score into the context and derives the customer value.
func (mc *MessageContext) ApplyLeadScore(ls LeadScore) {
	mc.LeadScore = ls.TotalScore
	mc.Confidence = ls.Confidence
	mc.LeadCategory = ls.Category
	mc.CustomerValue = CustomerValueFor(ls.TotalScore)
}

// Analysis returns the derived signals as a plain map for response metadata.
func (mc *MessageContext) Analysis() map[string]any {
	return map[string]any{
		"lead_score":     mc.LeadScore,
		"confidence":     mc.Confidence,
		"lead_category":  mc.LeadCategory,
		"complexity":     string(mc.Complexity),
		"customer_value": string(mc.CustomerValue),
		"history_turns":  len(mc.History),
	}
}

// CustomerValueFor maps a 0-100 lead score to a customer value.
func CustomerValueFor(score float64) CustomerValue {
	if score >= VIPThreshold {
		return CustomerValueVIP
	}
	return CustomerValueStandard
}

// LeadScore is the result of the lead scoring capability.
type LeadScore struct {
	TotalScore float64 `json:"total_score"` // 0-100
	Confidence float64 `json:"confidence"`  // 0-1
	Category   string  `json:"category"`
}

// Valid reports whether the score and confidence are inside their documented ranges.
func (ls LeadScore) Valid() bool {
	return ls.TotalScore >= 0 && ls.TotalScore <= 100 && ls.Confidence >= 0 && ls.Confidence <= 1
}

// StrategyResponse is the uniform result every strategy and the manager produce.
type StrategyResponse struct {
	Response       string         `json:"response"`
	Success        bool           `json:"success"`
	Confidence     float64        `json:"confidence"`
	StrategyUsed   string         `json:"strategy_used"`
	ProcessingTime time.Duration  `json:"-"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// SetMeta sets a metadata key, allocating the map when needed.
func (r *StrategyResponse) SetMeta(key string, value any) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
}

// strategyResponseJSON is the wire form of StrategyResponse; processing_time is
// in seconds, like the response times in the manager stats.
type strategyResponseJSON struct {
	Response       string         `json:"response"`
	Success        bool           `json:"success"`
	Confidence     float64        `json:"confidence"`
	StrategyUsed   string         `json:"strategy_used"`
	ProcessingTime float64        `json:"processing_time"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// MarshalJSON encodes ProcessingTime as fractional seconds.
func (r StrategyResponse) MarshalJSON() ([]byte, error) {
	return json.Marshal(strategyResponseJSON{
		Response:       r.Response,
		Success:        r.Success,
		Confidence:     r.Confidence,
		StrategyUsed:   r.StrategyUsed,
		ProcessingTime: r.ProcessingTime.Seconds(),
		Metadata:       r.Metadata,
	})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (r *StrategyResponse) UnmarshalJSON(data []byte) error {
	var w strategyResponseJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = StrategyResponse{
		Response:       w.Response,
		Success:        w.Success,
		Confidence:     w.Confidence,
		StrategyUsed:   w.StrategyUsed,
		ProcessingTime: time.Duration(w.ProcessingTime * float64(time.Second)),
		Metadata:       w.Metadata,
	}
	return nil
}

// InboundMessage is a text message received from a customer over a messaging channel.
type InboundMessage struct {
	ID   string `json:"id,omitempty"`
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// MessageStatus represents the delivery status of a message.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was sent.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusDelivered indicates the message was delivered.
	MessageStatusDelivered MessageStatus = "delivered"
	// MessageStatusRead indicates the message was read.
	MessageStatusRead MessageStatus = "read"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "failed"
)

// Receipt records a delivery status event for an outbound message.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
