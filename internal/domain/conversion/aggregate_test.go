package conversion

import (
	"testing"
	"time"
)

func receivedData(id string) *ConversionReceivedData {
	return &ConversionReceivedData{
		ConversionID:   id,
		SourceFilename: "consent.pdf",
		DocumentHash:   "abc123",
		DocumentBytes:  42,
		ReceivedAt:     time.Now().UTC(),
	}
}

func builtData(id string) *ConversionBuiltData {
	return &ConversionBuiltData{
		ConversionID:     id,
		MessageControlID: "MSG20240102150405XYZ1",
		OutputFilename:   "DOE_JANE_20240102150405.hl7",
		ExtractionOK:     true,
		BuiltAt:          time.Now().UTC(),
	}
}

func TestLifecycleHappyPath(t *testing.T) {
	agg := NewAggregate("c-1")

	if err := agg.Receive(receivedData("c-1")); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if agg.Status() != StatusReceived {
		t.Errorf("status = %q", agg.Status())
	}

	if err := agg.MarkBuilt(builtData("c-1")); err != nil {
		t.Fatalf("mark built: %v", err)
	}
	if agg.Status() != StatusBuilt {
		t.Errorf("status = %q", agg.Status())
	}
	if agg.MessageControlID() != "MSG20240102150405XYZ1" {
		t.Errorf("control ID = %q", agg.MessageControlID())
	}

	if err := agg.MarkDelivered("/drop/DOE_JANE_20240102150405.hl7"); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	if agg.Status() != StatusDelivered {
		t.Errorf("status = %q", agg.Status())
	}
	if agg.Version() != 3 {
		t.Errorf("version = %d", agg.Version())
	}
	if len(agg.Changes()) != 3 {
		t.Errorf("changes = %d", len(agg.Changes()))
	}
}

func TestStateGuards(t *testing.T) {
	agg := NewAggregate("c-2")

	if err := agg.MarkBuilt(builtData("c-2")); err == nil {
		t.Error("built before received must fail")
	}
	if err := agg.MarkDelivered("target"); err == nil {
		t.Error("delivered before built must fail")
	}

	if err := agg.Receive(receivedData("c-2")); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if err := agg.Receive(receivedData("c-2")); err == nil {
		t.Error("double receive must fail")
	}

	if err := agg.MarkFailed("extract", "parser error"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if agg.Status() != StatusFailed {
		t.Errorf("status = %q", agg.Status())
	}
	if err := agg.MarkFailed("build", "again"); err == nil {
		t.Error("fail after finalization must fail")
	}
}

func TestLoadFromHistory(t *testing.T) {
	src := NewAggregate("c-3")
	if err := src.Receive(receivedData("c-3")); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if err := src.MarkBuilt(builtData("c-3")); err != nil {
		t.Fatalf("mark built: %v", err)
	}

	rebuilt := NewAggregate("c-3")
	rebuilt.LoadFromHistory(src.Changes())

	if rebuilt.Status() != StatusBuilt {
		t.Errorf("status = %q", rebuilt.Status())
	}
	if rebuilt.Version() != 2 {
		t.Errorf("version = %d", rebuilt.Version())
	}
	if rebuilt.OutputFilename() != "DOE_JANE_20240102150405.hl7" {
		t.Errorf("output filename = %q", rebuilt.OutputFilename())
	}
	if len(rebuilt.Changes()) != 0 {
		t.Error("history replay must not record new changes")
	}
}
