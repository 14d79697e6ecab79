package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/scriptfleet/fleet-server-go/internal/errors"
	"github.com/scriptfleet/fleet-server-go/internal/model"
	"github.com/scriptfleet/fleet-server-go/internal/registry"
	"github.com/scriptfleet/fleet-server-go/internal/repository"
)

type CommandService struct {
	commandRepo repository.CommandRepository
	jobRepo     repository.JobRepository
	registry    *registry.Registry
}

func NewCommandService(
	commandRepo repository.CommandRepository,
	jobRepo repository.JobRepository,
	reg *registry.Registry,
) *CommandService {
	return &CommandService{
		commandRepo: commandRepo,
		jobRepo:     jobRepo,
		registry:    reg,
	}
}

// commandEnvelope is the server→device frame for a dispatched command.
func commandEnvelope(cmd *model.Command) map[string]any {
	return map[string]any{
		"type": "command",
		"data": cmd,
	}
}

// Dispatch creates a command row and pushes it to the device. Used by the
// admin direct-dispatch endpoint; job fan-out runs its own create/push loop
// inside the orchestrator transaction boundary.
func (s *CommandService) Dispatch(ctx context.Context, params model.CreateCommandParams) (*model.Command, error) {
	if !s.registry.IsOnline(params.DeviceID) {
		return nil, apperrors.Conflict(fmt.Sprintf("device %s is offline", params.DeviceID))
	}

	cmd, err := s.commandRepo.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create command: %w", err)
	}

	if !s.registry.Push(params.DeviceID, commandEnvelope(cmd)) {
		return nil, apperrors.Transport(params.DeviceID, nil)
	}

	now := time.Now()
	if err := s.commandRepo.MarkSent(ctx, cmd.ID, now); err != nil {
		return nil, fmt.Errorf("mark command sent: %w", err)
	}
	cmd.Status = model.CommandStatusSent
	cmd.SentAt = &now

	log.Info().
		Str("commandId", cmd.ID).
		Str("deviceId", params.DeviceID).
		Str("action", params.Action).
		Msg("command dispatched")

	return cmd, nil
}

// HandleResult applies a device-reported command completion: the command row
// is finalized, the matching job target (if any) is updated by command id,
// and the issuing account's dashboard is notified when connected. No
// job-level status is recomputed here.
func (s *CommandService) HandleResult(ctx context.Context, deviceID string, update model.CommandResultUpdate) error {
	cmd, err := s.commandRepo.FindByID(ctx, update.CommandID)
	if err != nil {
		return fmt.Errorf("find command: %w", err)
	}
	if cmd == nil {
		log.Warn().
			Str("commandId", update.CommandID).
			Str("deviceId", deviceID).
			Msg("result for unknown command ignored")
		return nil
	}

	completedAt := time.Now()
	if err := s.commandRepo.UpdateResult(ctx, update, completedAt); err != nil {
		return fmt.Errorf("update command result: %w", err)
	}

	targetStatus := model.TargetStatusFailure
	if update.Status == string(model.CommandStatusSuccess) {
		targetStatus = model.TargetStatusSuccess
	}
	target, err := s.jobRepo.UpdateTargetResult(ctx, model.TargetResultUpdate{
		CommandID:    update.CommandID,
		Status:       targetStatus,
		Result:       update.Result,
		ErrorMessage: update.ErrorMessage,
		CompletedAt:  completedAt,
	})
	if err != nil {
		return fmt.Errorf("update job target: %w", err)
	}

	if cmd.UserID != nil {
		notification := map[string]any{
			"type": "command_result",
			"data": map[string]any{
				"command_id":    update.CommandID,
				"device_id":     deviceID,
				"status":        update.Status,
				"result":        update.Result,
				"error_message": update.ErrorMessage,
			},
		}
		if target != nil {
			notification["data"].(map[string]any)["job_id"] = target.JobID
		}
		s.registry.PushWeb(*cmd.UserID, notification)
	}

	return nil
}

// HandleProgress persists an intermediate progress event and forwards it to
// the issuing account's dashboard when connected.
func (s *CommandService) HandleProgress(ctx context.Context, deviceID string, payload map[string]any, logs *LogService) {
	commandID, _ := payload["command_id"].(string)
	if commandID == "" {
		log.Error().Str("deviceId", deviceID).Msg("progress payload missing command_id")
		return
	}

	payload["device_id"] = deviceID

	stage, _ := payload["stage"].(string)
	message, _ := payload["message"].(string)
	logs.Record(ctx, deviceID, stage, message, payload)

	cmd, err := s.commandRepo.FindByID(ctx, commandID)
	if err != nil {
		log.Error().Err(err).Str("commandId", commandID).Msg("progress command lookup failed")
		return
	}
	if cmd == nil || cmd.UserID == nil {
		return
	}

	s.registry.PushWeb(*cmd.UserID, map[string]any{
		"type": "command_progress",
		"data": payload,
	})
}

func (s *CommandService) Get(ctx context.Context, id string) (*model.Command, error) {
	cmd, err := s.commandRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find command: %w", err)
	}
	if cmd == nil {
		return nil, apperrors.NotFound("command")
	}
	return cmd, nil
}

// DecodeParams parses a raw params document into a loose map, tolerating an
// absent document.
func DecodeParams(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return map[string]any{}
	}
	return params
}
