// Package handlers provides HTTP handlers for the intake API.
package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/medihost/hl7-intake/internal/api/middleware"
	"github.com/medihost/hl7-intake/internal/consent"
	"github.com/medihost/hl7-intake/internal/document"
	"github.com/medihost/hl7-intake/internal/domain/conversion"
	hl7 "github.com/medihost/hl7-intake/internal/hl7/v24"
	"github.com/medihost/hl7-intake/internal/infrastructure/postgres"
	"github.com/medihost/hl7-intake/internal/infrastructure/redpanda"
	"github.com/medihost/hl7-intake/internal/observability/metrics"
	"github.com/medihost/hl7-intake/pkg/idempotency"
)

// maxDocumentBytes bounds uploaded documents; consent forms scan to well
// under this
const maxDocumentBytes = 16 << 20

// ConversionHandler handles conversion endpoints
type ConversionHandler struct {
	repo     *conversion.Repository
	builder  *hl7.Builder
	provider document.BytesTextProvider
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewConversionHandler creates a new handler
func NewConversionHandler(repo *conversion.Repository, builder *hl7.Builder, m *metrics.Metrics, logger *zap.Logger) *ConversionHandler {
	return &ConversionHandler{
		repo:     repo,
		builder:  builder,
		provider: document.PDFProvider{},
		metrics:  m,
		logger:   logger,
	}
}

// Routes returns the handler routes
func (h *ConversionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/events", h.GetEvents)
	return r
}

// CreateRequest is the request body for submitting a consent document
type CreateRequest struct {
	// Filename is the source document name, recorded for audit
	Filename string `json:"filename"`
	// Document is the base64-encoded PDF
	Document string `json:"document"`
}

// CreateResponse is the response for a submitted document
type CreateResponse struct {
	ID               string    `json:"id"`
	Status           string    `json:"status"`
	Duplicate        bool      `json:"duplicate,omitempty"`
	MessageControlID string    `json:"message_control_id,omitempty"`
	OutputFilename   string    `json:"output_filename,omitempty"`
	ExtractionOK     bool      `json:"extraction_ok"`
	Warnings         []string  `json:"warnings,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Create handles POST /conversions
func (h *ConversionHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("conversion-handler")
	ctx, span := tracer.Start(ctx, "create_conversion")
	defer span.End()

	start := time.Now()

	var req CreateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDocumentBytes)).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Document == "" {
		h.jsonError(w, "document is required", http.StatusBadRequest)
		return
	}

	content, err := base64.StdEncoding.DecodeString(req.Document)
	if err != nil {
		h.jsonError(w, "document is not valid base64", http.StatusBadRequest)
		return
	}

	h.metrics.ConversionsReceived.Inc()
	h.metrics.DocumentBytes.Observe(float64(len(content)))

	docHash := idempotency.DocumentKey(content)
	span.SetAttributes(attribute.String("document_hash", docHash))

	if existingID, found, err := h.repo.FindByDocumentHash(ctx, docHash); err != nil {
		h.logger.Error("duplicate lookup failed", zap.Error(err))
		h.jsonError(w, "failed to process document", http.StatusInternalServerError)
		return
	} else if found {
		h.logger.Info("duplicate document",
			zap.String("id", existingID),
			zap.String("document_hash", docHash),
			zap.String("request_id", middleware.GetRequestID(ctx)))
		h.respondExisting(ctx, w, existingID)
		return
	}

	conversionID := uuid.New().String()
	span.SetAttributes(attribute.String("conversion_id", conversionID))

	agg := conversion.NewAggregate(conversionID)
	if err := agg.Receive(&conversion.ConversionReceivedData{
		ConversionID:   conversionID,
		SourceFilename: req.Filename,
		DocumentHash:   docHash,
		DocumentBytes:  len(content),
		ReceivedAt:     time.Now().UTC(),
	}); err != nil {
		h.logger.Error("aggregate receive failed", zap.Error(err))
		h.jsonError(w, "failed to record document", http.StatusInternalServerError)
		return
	}

	outcome := consent.ExtractDocumentBytes(h.provider, content)
	h.metrics.ExtractionWarnings.Add(float64(len(outcome.Warnings)))
	if !outcome.Success {
		h.metrics.ExtractionFallbacks.Inc()
	}

	message, err := h.builder.Build(&outcome.Record, content)
	if err != nil {
		h.metrics.ConversionsFailed.Inc()
		h.logger.Error("message build failed",
			zap.String("id", conversionID),
			zap.Error(err))
		if ferr := agg.MarkFailed("build", err.Error()); ferr == nil {
			if serr := h.repo.Save(ctx, agg); serr != nil {
				h.logger.Error("save failed conversion", zap.Error(serr))
			}
		}
		h.jsonError(w, "failed to build message", http.StatusUnprocessableEntity)
		return
	}

	controlID := hl7.ControlID(message)
	outputFilename := h.builder.Filename(&outcome.Record)

	if err := agg.MarkBuilt(&conversion.ConversionBuiltData{
		ConversionID:     conversionID,
		MessageControlID: controlID,
		OutputFilename:   outputFilename,
		ExtractionOK:     outcome.Success,
		Warnings:         outcome.Warnings,
		MessageBytes:     len(message),
		BuiltAt:          time.Now().UTC(),
	}); err != nil {
		h.logger.Error("aggregate build failed", zap.Error(err))
		h.jsonError(w, "failed to record message", http.StatusInternalServerError)
		return
	}

	payload, err := json.Marshal(conversion.DeliveryPayload{
		ConversionID: conversionID,
		Filename:     outputFilename,
		Message:      []byte(message),
	})
	if err != nil {
		h.jsonError(w, "failed to queue message", http.StatusInternalServerError)
		return
	}

	entries := []*postgres.OutboxEntry{
		{
			ConversionID: conversionID,
			Topic:        redpanda.TopicHL7Outbound,
			Key:          conversionID,
			Payload:      payload,
			Filename:     outputFilename,
		},
	}

	// audit trail: the built event itself, minus the message payload
	for _, event := range agg.Changes() {
		if event.EventType != conversion.EventConversionBuilt {
			continue
		}
		if auditPayload, err := json.Marshal(event); err == nil {
			entries = append(entries, &postgres.OutboxEntry{
				ConversionID: conversionID,
				Topic:        redpanda.TopicConversionEvents,
				Key:          conversionID,
				Payload:      auditPayload,
			})
		}
	}

	if err := h.repo.Save(ctx, agg, entries...); err != nil {
		h.metrics.ConversionsFailed.Inc()
		h.logger.Error("save failed", zap.Error(err))
		h.jsonError(w, "failed to save conversion", http.StatusInternalServerError)
		return
	}

	h.metrics.ConversionsBuilt.Inc()
	h.metrics.BuildDuration.Observe(time.Since(start).Seconds())

	h.logger.Info("conversion built",
		zap.String("id", conversionID),
		zap.String("message_control_id", controlID),
		zap.String("output_filename", outputFilename),
		zap.Bool("extraction_ok", outcome.Success),
		zap.Int("warnings", len(outcome.Warnings)),
		zap.String("request_id", middleware.GetRequestID(ctx)))

	resp := CreateResponse{
		ID:               conversionID,
		Status:           string(agg.Status()),
		MessageControlID: controlID,
		OutputFilename:   outputFilename,
		ExtractionOK:     outcome.Success,
		Warnings:         outcome.Warnings,
		CreatedAt:        time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

// respondExisting answers a duplicate submission with the original conversion
func (h *ConversionHandler) respondExisting(ctx context.Context, w http.ResponseWriter, id string) {
	agg, err := h.repo.Load(ctx, id)
	if err != nil {
		h.jsonError(w, "failed to load conversion", http.StatusInternalServerError)
		return
	}

	resp := CreateResponse{
		ID:               agg.ID(),
		Status:           string(agg.Status()),
		Duplicate:        true,
		MessageControlID: agg.MessageControlID(),
		OutputFilename:   agg.OutputFilename(),
		ExtractionOK:     agg.Status() != conversion.StatusFailed,
		Warnings:         agg.Warnings(),
		CreatedAt:        time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Get handles GET /conversions/{id}
func (h *ConversionHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	agg, err := h.repo.Load(ctx, id)
	if err != nil {
		h.jsonError(w, "conversion not found", http.StatusNotFound)
		return
	}

	resp := map[string]interface{}{
		"id":                 agg.ID(),
		"status":             agg.Status(),
		"version":            agg.Version(),
		"message_control_id": agg.MessageControlID(),
		"output_filename":    agg.OutputFilename(),
		"warnings":           agg.Warnings(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetEvents handles GET /conversions/{id}/events
func (h *ConversionHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	events, err := h.repo.GetEvents(ctx, id)
	if err != nil {
		h.jsonError(w, "failed to get events", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

func (h *ConversionHandler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
