package services

import (
	"context"
	"time"

	"github.com/openmined/drivesync/internal/localhttp/models"
	"github.com/openmined/drivesync/internal/version"
)

type HealthService struct{}

func NewHealthService() *HealthService {
	return &HealthService{}
}

func (s *HealthService) GetHealth(ctx context.Context) (*models.Health, error) {
	return &models.Health{
		Status:    "healthy",
		Version:   version.Version,
		Timestamp: time.Now(),
	}, nil
}
