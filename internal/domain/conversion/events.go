// Package conversion implements the document conversion aggregate and its
// domain events.
package conversion

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of domain event
type EventType string

const (
	EventConversionReceived  EventType = "ConversionReceived"
	EventConversionBuilt     EventType = "ConversionBuilt"
	EventConversionDelivered EventType = "ConversionDelivered"
	EventConversionFailed    EventType = "ConversionFailed"
)

// Event represents a domain event
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     EventType       `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Version       int             `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	DocumentHash  string          `json:"document_hash,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// NewEvent creates a new event
func NewEvent(aggregateID string, eventType EventType, data interface{}) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: "Conversion",
		EventType:     eventType,
		EventData:     eventData,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// WithDocumentHash sets the audit hash of the source document
func (e *Event) WithDocumentHash(hash string) *Event {
	e.DocumentHash = hash
	return e
}

// ConversionReceivedData records arrival of a source document
type ConversionReceivedData struct {
	ConversionID   string    `json:"conversion_id"`
	SourceFilename string    `json:"source_filename"`
	DocumentHash   string    `json:"document_hash"`
	DocumentBytes  int       `json:"document_bytes"`
	ReceivedAt     time.Time `json:"received_at"`
}

// ConversionBuiltData records a rendered HL7 message, including the payload
// handed to the delivery outbox
type ConversionBuiltData struct {
	ConversionID     string    `json:"conversion_id"`
	MessageControlID string    `json:"message_control_id"`
	OutputFilename   string    `json:"output_filename"`
	ExtractionOK     bool      `json:"extraction_ok"`
	Warnings         []string  `json:"warnings,omitempty"`
	MessageBytes     int       `json:"message_bytes"`
	BuiltAt          time.Time `json:"built_at"`
}

// ConversionDeliveredData records hand-off to the clinic records system
type ConversionDeliveredData struct {
	ConversionID string    `json:"conversion_id"`
	Target       string    `json:"target"`
	DeliveredAt  time.Time `json:"delivered_at"`
}

// ConversionFailedData records a hard failure, with the stage it happened in
type ConversionFailedData struct {
	ConversionID string    `json:"conversion_id"`
	Stage        string    `json:"stage"`
	Reason       string    `json:"reason"`
	FailedAt     time.Time `json:"failed_at"`
}

// DeliveryPayload is the envelope the outbox relay publishes for each built
// message and the delivery workers consume
type DeliveryPayload struct {
	ConversionID string `json:"conversion_id"`
	Filename     string `json:"filename"`
	Message      []byte `json:"message"`
}
