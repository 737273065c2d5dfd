// Package api provides HTTP API server implementation for the fleetlog service.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/correlator-io/fleetlog/internal/api/middleware"
	"github.com/correlator-io/fleetlog/internal/ingestion"
)

// handleEventsBatch handles machine-event batch ingestion.
// POST /api/v1/events/batch - Ingest a batch of machine cycle events.
//
// Request validation (returns 4xx):
//   - 405 Method Not Allowed: Only POST is allowed (handled by route pattern)
//   - 415 Unsupported Media Type: Content-Type must be application/json
//   - 413 Payload Too Large: Request body exceeds MaxRequestSize
//   - 400 Bad Request: Empty body, invalid JSON, or empty event array
//
// Response: always 200 OK on well-formed requests. Partial success is the
// norm; the caller inspects counters and rejections.
func (s *Server) handleEventsBatch(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	correlationID := middleware.GetCorrelationID(r.Context())

	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, UnsupportedMediaType("Content-Type must be application/json"))

		return
	}

	requests, problem := s.parseEventsBatchRequest(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	events := mapEventRequests(requests)

	result := s.ingestFacade.ProcessBatch(r.Context(), events)

	response := buildBatchResponse(result)

	s.sendBatchResponse(w, r, response)

	duration := time.Since(startTime)
	s.logger.Info("Events batch processed",
		slog.String("correlation_id", correlationID),
		slog.Int("total", len(events)),
		slog.Int("accepted", response.Accepted),
		slog.Int("updated", response.Updated),
		slog.Int("deduped", response.Deduped),
		slog.Int("rejected", response.Rejected),
		slog.Duration("duration", duration),
	)
}

// parseEventsBatchRequest parses and validates the HTTP request body.
// Returns parsed event requests or a ProblemDetail if validation fails.
func (s *Server) parseEventsBatchRequest(r *http.Request) ([]EventRequest, *ProblemDetail) {
	if r.ContentLength > 0 && r.ContentLength > s.config.MaxRequestSize {
		return nil, PayloadTooLarge(
			fmt.Sprintf("Request body exceeds maximum size of %d bytes", s.config.MaxRequestSize),
		)
	}

	if r.ContentLength == 0 {
		return nil, BadRequest("Request body cannot be empty")
	}

	var requests []EventRequest

	decoder := json.NewDecoder(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err := decoder.Decode(&requests); err != nil {
		return nil, BadRequest("Invalid JSON: " + err.Error())
	}

	if len(requests) == 0 {
		return nil, BadRequest("Event array cannot be empty")
	}

	return requests, nil
}

// mapEventRequests maps wire-level EventRequest values onto ingestion.Event,
// the pure domain model the Facade operates over.
func mapEventRequests(requests []EventRequest) []ingestion.Event {
	events := make([]ingestion.Event, len(requests))

	for i, req := range requests {
		events[i] = ingestion.Event{
			EventID:      req.EventID,
			MachineID:    req.MachineID,
			FactoryID:    req.FactoryID,
			EventTime:    req.EventTime,
			ReceivedTime: req.ReceivedTime,
			DurationMs:   req.DurationMs,
			DefectCount:  req.DefectCount,
		}
	}

	return events
}

// buildBatchResponse maps a BatchResult onto the wire-level BatchResponse.
func buildBatchResponse(result ingestion.BatchResult) BatchResponse {
	rejections := make([]RejectionResponse, len(result.Rejections))
	for i, rej := range result.Rejections {
		rejections[i] = RejectionResponse{EventID: rej.EventID, Reason: string(rej.Reason)}
	}

	return BatchResponse{
		Accepted:   result.Accepted,
		Deduped:    result.Deduped,
		Updated:    result.Updated,
		Rejected:   result.Rejected(),
		Rejections: rejections,
	}
}

// sendBatchResponse marshals and sends the batch response to the client.
// Always 200 OK on well-formed requests; callers inspect
// counters and rejections rather than relying on status code semantics.
func (s *Server) sendBatchResponse(w http.ResponseWriter, r *http.Request, response BatchResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		s.logger.Error("Failed to marshal batch response", slog.String("error", err.Error()))
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(data); err != nil {
		correlationID := middleware.GetCorrelationID(r.Context())
		s.logger.Error("Failed to write batch response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
}

// hasJSONContentType checks if Content-Type header starts with "application/json".
// This allows charset parameters (e.g., "application/json; charset=utf-8").
func hasJSONContentType(contentType string) bool {
	return strings.HasPrefix(strings.TrimSpace(contentType), "application/json")
}
