package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	// Stock events
	EventStockDispensed  = "stock.dispensed"
	EventStockReceived   = "stock.received"
	EventStockAdjusted   = "stock.adjusted"
	EventStockWrittenOff = "stock.written_off"
	EventStockLow        = "stock.low"

	// Request events (consumed)
	EventMedicineRequestApproved = "medicine_request.approved"
)

// Exchange names
const (
	ExchangeStockEvents   = "stock.events"
	ExchangeRequestEvents = "request.events"
	ExchangeDeadLetter    = "dlx.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Stock Events

// BatchDraw is one batch's contribution to a dispense.
type BatchDraw struct {
	BatchID    int64     `json:"batch_id"`
	BatchCode  string    `json:"batch_code"`
	ExpiryDate time.Time `json:"expiry_date"`
	Quantity   int       `json:"quantity"`
}

// StockDispensedEvent is published after an allocation commits with at least one unit drawn
type StockDispensedEvent struct {
	MedicineID    int64       `json:"medicine_id"`
	RequestID     *int64      `json:"request_id,omitempty"`
	ReferenceType string      `json:"reference_type"`
	Requested     int         `json:"requested"`
	Allocated     int         `json:"allocated"`
	Draws         []BatchDraw `json:"draws"`
	PerformedBy   string      `json:"performed_by"`
}

// StockReceivedEvent is published when a new batch is received
type StockReceivedEvent struct {
	MedicineID  int64     `json:"medicine_id"`
	BatchID     int64     `json:"batch_id"`
	BatchCode   string    `json:"batch_code"`
	ExpiryDate  time.Time `json:"expiry_date"`
	Quantity    int       `json:"quantity"`
	PerformedBy string    `json:"performed_by"`
}

// StockAdjustedEvent is published when stock is adjusted manually
type StockAdjustedEvent struct {
	AdjustmentID   int64  `json:"adjustment_id"`
	MedicineID     int64  `json:"medicine_id"`
	BatchID        *int64 `json:"batch_id,omitempty"`
	AdjustmentType string `json:"adjustment_type"`
	OldQuantity    int    `json:"old_quantity"`
	NewQuantity    int    `json:"new_quantity"`
	Difference     int    `json:"difference"`
	PerformedBy    string `json:"performed_by"`
	Reason         string `json:"reason"`
}

// StockWrittenOffEvent is published when a batch is written off as expired or damaged
type StockWrittenOffEvent struct {
	MedicineID  int64  `json:"medicine_id"`
	BatchID     int64  `json:"batch_id"`
	Type        string `json:"type"`
	Quantity    int    `json:"quantity"`
	Remaining   int    `json:"remaining"`
	PerformedBy string `json:"performed_by"`
	Reason      string `json:"reason,omitempty"`
}

// StockLowEvent is published when sellable stock drops below the configured threshold
type StockLowEvent struct {
	MedicineID   int64 `json:"medicine_id"`
	CurrentStock int   `json:"current_stock"`
	Threshold    int   `json:"threshold"`
}

// Request Events

// MedicineRequestApprovedEvent is consumed from the request workflow.
// Each line is allocated independently.
type MedicineRequestApprovedEvent struct {
	RequestID  int64                 `json:"request_id"`
	ApprovedBy string                `json:"approved_by"`
	Items      []ApprovedRequestItem `json:"items"`
}

// ApprovedRequestItem is one medicine line of an approved request
type ApprovedRequestItem struct {
	MedicineID int64 `json:"medicine_id"`
	Quantity   int   `json:"quantity"`
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return uuid.NewString()
}
