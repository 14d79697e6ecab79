package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/scriptfleet/fleet-server-go/internal/model"
	"github.com/scriptfleet/fleet-server-go/internal/repository"
)

type LogService struct {
	logRepo repository.DeviceLogRepository
}

func NewLogService(logRepo repository.DeviceLogRepository) *LogService {
	return &LogService{logRepo: logRepo}
}

// Record persists one device log entry. Failures are logged and swallowed:
// diagnostics must never take down the protocol loop that produced them.
func (s *LogService) Record(ctx context.Context, deviceID, logType, message string, data any) {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			log.Error().Err(err).Str("deviceId", deviceID).Msg("device log payload not serializable")
		} else {
			raw = encoded
		}
	}

	if logType == "" {
		logType = "info"
	}

	err := s.logRepo.Create(ctx, model.CreateDeviceLogParams{
		DeviceID: deviceID,
		LogType:  logType,
		Message:  message,
		Data:     raw,
	})
	if err != nil {
		log.Error().Err(err).Str("deviceId", deviceID).Msg("failed to persist device log")
	}
}

func (s *LogService) ListByDevice(ctx context.Context, deviceID string, limit, offset int) ([]model.DeviceLog, error) {
	logs, err := s.logRepo.ListByDevice(ctx, deviceID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list device logs: %w", err)
	}
	return logs, nil
}
