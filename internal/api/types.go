// Package api provides HTTP API server implementation for the fleetlog service.
package api

import (
	"net/http"
	"time"
)

type (
	// Version represents the API version response structure.
	Version struct {
		Version     string `json:"version"`
		ServiceName string `json:"serviceName"`
		BuildInfo   string `json:"buildInfo,omitempty"`
	}

	// HealthStatus represents the health check response structure.
	HealthStatus struct {
		Status      string `json:"status"`
		ServiceName string `json:"serviceName"`
		Version     string `json:"version"`
		Uptime      string `json:"uptime,omitempty"`
	}

	// EventRequest is the wire shape of one element in the POST
	// /api/v1/events/batch request body.
	EventRequest struct {
		EventID      string    `json:"eventId"`
		MachineID    string    `json:"machineId"`
		FactoryID    string    `json:"factoryId,omitempty"`
		EventTime    time.Time `json:"eventTime"`
		ReceivedTime time.Time `json:"receivedTime,omitempty"`
		DurationMs   int64     `json:"durationMs"`
		DefectCount  int64     `json:"defectCount"`
	}

	// BatchResponse is the response shape for
	// POST /api/v1/events/batch.
	BatchResponse struct {
		Accepted   int                 `json:"accepted"`
		Deduped    int                 `json:"deduped"`
		Updated    int                 `json:"updated"`
		Rejected   int                 `json:"rejected"`
		Rejections []RejectionResponse `json:"rejections"`
	}

	// RejectionResponse pairs an eventId with its rejection reason.
	RejectionResponse struct {
		EventID string `json:"eventId"`
		Reason  string `json:"reason"`
	}

	// MachineStatsResponse is the response shape for
	// GET /api/v1/stats.
	MachineStatsResponse struct {
		MachineID     string    `json:"machineId"`
		Start         time.Time `json:"start"`
		End           time.Time `json:"end"`
		EventsCount   int       `json:"eventsCount"`
		DefectsCount  int64     `json:"defectsCount"`
		AvgDefectRate float64   `json:"avgDefectRate"`
		Status        string    `json:"status"`
	}

	// DefectLineResponse is one ranked row returned by
	// GET /api/v1/stats/top-defect-lines.
	DefectLineResponse struct {
		LineID         string  `json:"lineId"`
		TotalDefects   int64   `json:"totalDefects"`
		EventCount     int64   `json:"eventCount"`
		DefectsPercent float64 `json:"defectsPercent"`
	}

	// Route represents an HTTP route configuration with a path and handler.
	// Used for declarative route registration with middleware bypass support.
	Route struct {
		Path    string           // The URL path for this route (e.g., "/ping", "/api/v1/health")
		Handler http.HandlerFunc // The HTTP handler function for this route
	}
)
