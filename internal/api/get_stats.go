// Package api provides HTTP API server implementation for the fleetlog service.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/correlator-io/fleetlog/internal/api/middleware"
)

// handleGetStats handles GET /api/v1/stats?machineId=&start=&end=.
// start is inclusive, end is exclusive.
//
// Request validation (returns 4xx):
//   - 400 Bad Request: missing machineId/start/end, or start/end not ISO-8601
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	machineID := r.URL.Query().Get("machineId")
	if machineID == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("machineId query parameter is required"))

		return
	}

	start, end, problem := parseStatsWindow(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	machineStats, err := s.stats.GetMachineStats(r.Context(), machineID, start, end)
	if err != nil {
		s.logger.Error("Failed to compute machine stats",
			slog.String("correlation_id", correlationID),
			slog.String("machine_id", machineID),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to compute machine stats"))

		return
	}

	response := MachineStatsResponse{
		MachineID:     machineStats.MachineID,
		Start:         machineStats.Start,
		End:           machineStats.End,
		EventsCount:   machineStats.EventsCount,
		DefectsCount:  machineStats.DefectsCount,
		AvgDefectRate: machineStats.AvgDefectRate,
		Status:        machineStats.Status,
	}

	data, err := json.Marshal(response)
	if err != nil {
		s.logger.Error("Failed to marshal stats response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write stats response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
}

// parseStatsWindow parses and validates the start/end query parameters
// shared by the stats endpoints. Both must be present and RFC 3339 instants
// with start strictly before end.
func parseStatsWindow(r *http.Request) (start, end time.Time, problem *ProblemDetail) {
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")

	if startStr == "" || endStr == "" {
		return time.Time{}, time.Time{}, BadRequest("start and end query parameters are required")
	}

	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, BadRequest("start must be an ISO-8601 instant: " + err.Error())
	}

	end, err = time.Parse(time.RFC3339, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, BadRequest("end must be an ISO-8601 instant: " + err.Error())
	}

	if !start.Before(end) {
		return time.Time{}, time.Time{}, BadRequest("start must be before end")
	}

	return start, end, nil
}
