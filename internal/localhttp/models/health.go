package models

import "time"

// Health represents the health status of the service.
type Health struct {
	// Status is "healthy" or "unhealthy".
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}
