// Package api provides HTTP API server implementation for the fleetlog service.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/correlator-io/fleetlog/internal/api/middleware"
)

// handleGetTopDefectLines handles GET /api/v1/stats/top-defect-lines?from=&to=&limit=.
// limit defaults to 10. factoryId is optional; when present, rows are grouped
// by factoryId, otherwise by machineId.
//
// Request validation (returns 4xx):
//   - 400 Bad Request: missing/invalid from or to
func (s *Server) handleGetTopDefectLines(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	from, to, problem := parseTopDefectLinesWindow(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	limit := parseLimit(r.URL.Query().Get("limit"))
	factoryID := r.URL.Query().Get("factoryId")

	lines, err := s.stats.GetTopDefectLines(r.Context(), factoryID, from, to, limit)
	if err != nil {
		s.logger.Error("Failed to compute top defect lines",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to compute top defect lines"))

		return
	}

	response := make([]DefectLineResponse, len(lines))
	for i, line := range lines {
		response[i] = DefectLineResponse{
			LineID:         line.LineID,
			TotalDefects:   line.TotalDefects,
			EventCount:     line.EventCount,
			DefectsPercent: line.DefectsPercent,
		}
	}

	data, err := json.Marshal(response)
	if err != nil {
		s.logger.Error("Failed to marshal top defect lines response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write top defect lines response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
}

// parseTopDefectLinesWindow parses and validates the from/to query
// parameters. Both must be present and RFC 3339 instants with from strictly
// before to.
func parseTopDefectLinesWindow(r *http.Request) (from, to time.Time, problem *ProblemDetail) {
	fromStr := r.URL.Query().Get("from")
	toStr := r.URL.Query().Get("to")

	if fromStr == "" || toStr == "" {
		return time.Time{}, time.Time{}, BadRequest("from and to query parameters are required")
	}

	from, err := time.Parse(time.RFC3339, fromStr)
	if err != nil {
		return time.Time{}, time.Time{}, BadRequest("from must be an ISO-8601 instant: " + err.Error())
	}

	to, err = time.Parse(time.RFC3339, toStr)
	if err != nil {
		return time.Time{}, time.Time{}, BadRequest("to must be an ISO-8601 instant: " + err.Error())
	}

	if !from.Before(to) {
		return time.Time{}, time.Time{}, BadRequest("from must be before to")
	}

	return from, to, nil
}

// parseLimit parses the limit query parameter, returning 0 (meaning "use the
// aggregator's configured default") when absent or invalid.
func parseLimit(limitStr string) int {
	if limitStr == "" {
		return 0
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 0 {
		return 0
	}

	return limit
}
