package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/scriptfleet/fleet-server-go/internal/audit"
	apperrors "github.com/scriptfleet/fleet-server-go/internal/errors"
	"github.com/scriptfleet/fleet-server-go/internal/model"
	"github.com/scriptfleet/fleet-server-go/internal/registry"
	"github.com/scriptfleet/fleet-server-go/internal/repository"
)

type DeviceService struct {
	deviceRepo repository.DeviceRepository
	registry   *registry.Registry
	auditor    *audit.Logger
}

func NewDeviceService(deviceRepo repository.DeviceRepository, reg *registry.Registry, auditor *audit.Logger) *DeviceService {
	return &DeviceService{
		deviceRepo: deviceRepo,
		registry:   reg,
		auditor:    auditor,
	}
}

// EnsureForConnection upserts the device row when a session handshake binds a
// device id. A device id already owned by a different account is rejected:
// connections never silently rebind hardware across accounts.
func (s *DeviceService) EnsureForConnection(ctx context.Context, params model.EnsureDeviceParams) (*model.Device, error) {
	existing, err := s.deviceRepo.FindByID(ctx, params.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("find device: %w", err)
	}

	if existing == nil {
		device, err := s.deviceRepo.Create(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("create device: %w", err)
		}
		log.Info().
			Str("deviceId", params.DeviceID).
			Str("username", params.Username).
			Msg("device registered")
		existing = device
	} else if existing.Username != params.Username {
		s.auditor.OwnershipReject(params.DeviceID, existing.Username, params.Username)
		return nil, apperrors.Ownership(params.DeviceID)
	}

	device, err := s.deviceRepo.MarkOnline(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("mark device online: %w", err)
	}
	if device == nil {
		return existing, nil
	}
	return device, nil
}

func (s *DeviceService) MarkOffline(ctx context.Context, deviceID string) error {
	return s.deviceRepo.MarkOffline(ctx, deviceID)
}

func (s *DeviceService) Get(ctx context.Context, deviceID string) (*model.Device, error) {
	device, err := s.deviceRepo.FindByID(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("find device: %w", err)
	}
	if device == nil {
		return nil, apperrors.NotFound("device")
	}
	return device, nil
}

// ListForAccount returns the caller's devices with liveness taken from the
// registry rather than the persisted is_online flag, which can lag a crash.
func (s *DeviceService) ListForAccount(ctx context.Context, username string) ([]model.Device, error) {
	devices, err := s.deviceRepo.ListByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	for i := range devices {
		devices[i].IsOnline = s.registry.IsOnline(devices[i].ID)
	}
	return devices, nil
}

func (s *DeviceService) ListAll(ctx context.Context, limit, offset int, onlineOnly bool) ([]model.Device, int, error) {
	devices, total, err := s.deviceRepo.List(ctx, limit, offset, onlineOnly)
	if err != nil {
		return nil, 0, fmt.Errorf("list devices: %w", err)
	}
	for i := range devices {
		devices[i].IsOnline = s.registry.IsOnline(devices[i].ID)
	}
	return devices, total, nil
}
