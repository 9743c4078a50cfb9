package conversion

import (
	"encoding/json"
	"errors"
	"time"
)

// Status represents the conversion lifecycle state
type Status string

const (
	StatusNew       Status = "new"
	StatusReceived  Status = "received"
	StatusBuilt     Status = "built"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// Aggregate represents one document conversion run from receipt of the
// source document through delivery of the rendered HL7 message
type Aggregate struct {
	id               string
	version          int
	status           Status
	sourceFilename   string
	documentHash     string
	messageControlID string
	outputFilename   string
	extractionOK     bool
	warnings         []string
	createdAt        time.Time
	updatedAt        time.Time
	changes          []*Event
}

// NewAggregate creates a new conversion aggregate
func NewAggregate(id string) *Aggregate {
	return &Aggregate{
		id:        id,
		status:    StatusNew,
		createdAt: time.Now().UTC(),
		updatedAt: time.Now().UTC(),
		changes:   make([]*Event, 0),
	}
}

// ID returns the aggregate ID
func (a *Aggregate) ID() string { return a.id }

// Version returns the current version
func (a *Aggregate) Version() int { return a.version }

// Status returns the current status
func (a *Aggregate) Status() Status { return a.status }

// Warnings returns the extraction warnings recorded at build time
func (a *Aggregate) Warnings() []string { return a.warnings }

// MessageControlID returns the MSH-10 value of the built message
func (a *Aggregate) MessageControlID() string { return a.messageControlID }

// OutputFilename returns the derived .hl7 file name
func (a *Aggregate) OutputFilename() string { return a.outputFilename }

// Changes returns uncommitted events
func (a *Aggregate) Changes() []*Event { return a.changes }

// ClearChanges clears uncommitted events
func (a *Aggregate) ClearChanges() { a.changes = make([]*Event, 0) }

// Receive records arrival of the source document
func (a *Aggregate) Receive(data *ConversionReceivedData) error {
	if a.status != StatusNew {
		return errors.New("conversion already received")
	}
	event, err := NewEvent(a.id, EventConversionReceived, data)
	if err != nil {
		return err
	}
	event.WithDocumentHash(data.DocumentHash)

	a.apply(event)
	a.changes = append(a.changes, event)
	return nil
}

// MarkBuilt records the rendered HL7 message
func (a *Aggregate) MarkBuilt(data *ConversionBuiltData) error {
	if a.status != StatusReceived {
		return errors.New("conversion not received")
	}
	event, err := NewEvent(a.id, EventConversionBuilt, data)
	if err != nil {
		return err
	}
	event.WithDocumentHash(a.documentHash)

	a.apply(event)
	a.changes = append(a.changes, event)
	return nil
}

// MarkDelivered records hand-off to the clinic records system
func (a *Aggregate) MarkDelivered(target string) error {
	if a.status != StatusBuilt {
		return errors.New("conversion not built")
	}
	data := &ConversionDeliveredData{
		ConversionID: a.id,
		Target:       target,
		DeliveredAt:  time.Now().UTC(),
	}
	event, err := NewEvent(a.id, EventConversionDelivered, data)
	if err != nil {
		return err
	}

	a.apply(event)
	a.changes = append(a.changes, event)
	return nil
}

// MarkFailed records a hard failure at any stage
func (a *Aggregate) MarkFailed(stage, reason string) error {
	if a.status == StatusDelivered || a.status == StatusFailed {
		return errors.New("conversion already finalized")
	}
	data := &ConversionFailedData{
		ConversionID: a.id,
		Stage:        stage,
		Reason:       reason,
		FailedAt:     time.Now().UTC(),
	}
	event, err := NewEvent(a.id, EventConversionFailed, data)
	if err != nil {
		return err
	}

	a.apply(event)
	a.changes = append(a.changes, event)
	return nil
}

// apply applies an event to update state
func (a *Aggregate) apply(event *Event) {
	a.version++
	a.updatedAt = event.Timestamp

	switch event.EventType {
	case EventConversionReceived:
		var data ConversionReceivedData
		if json.Unmarshal(event.EventData, &data) != nil {
			return
		}
		a.status = StatusReceived
		a.sourceFilename = data.SourceFilename
		a.documentHash = data.DocumentHash
	case EventConversionBuilt:
		var data ConversionBuiltData
		if json.Unmarshal(event.EventData, &data) != nil {
			return
		}
		a.status = StatusBuilt
		a.messageControlID = data.MessageControlID
		a.outputFilename = data.OutputFilename
		a.extractionOK = data.ExtractionOK
		a.warnings = data.Warnings
	case EventConversionDelivered:
		a.status = StatusDelivered
	case EventConversionFailed:
		a.status = StatusFailed
	}
}

// LoadFromHistory rebuilds state from events
func (a *Aggregate) LoadFromHistory(events []*Event) {
	for _, event := range events {
		a.apply(event)
	}
}
