package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/scriptfleet/fleet-server-go/internal/capability"
	"github.com/scriptfleet/fleet-server-go/internal/database"
	apperrors "github.com/scriptfleet/fleet-server-go/internal/errors"
	"github.com/scriptfleet/fleet-server-go/internal/model"
	"github.com/scriptfleet/fleet-server-go/internal/registry"
	"github.com/scriptfleet/fleet-server-go/internal/repository"
)

// JobView is a job with its targets, the shape every job endpoint returns.
type JobView struct {
	model.ScriptJob
	Targets []model.ScriptJobTarget `json:"targets"`
}

// txRunner is the transaction boundary the job service runs its fan-out
// inside. *database.DB satisfies it; tests substitute a runner that just
// invokes the closure.
type txRunner interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

type JobService struct {
	db          txRunner
	jobRepo     repository.JobRepository
	commandRepo repository.CommandRepository
	deviceRepo  repository.DeviceRepository
	walletRepo  repository.WalletRepository
	templates   *TemplateService
	wallets     *WalletService
	registry    *registry.Registry
}

func NewJobService(
	db txRunner,
	jobRepo repository.JobRepository,
	commandRepo repository.CommandRepository,
	deviceRepo repository.DeviceRepository,
	walletRepo repository.WalletRepository,
	templates *TemplateService,
	wallets *WalletService,
	reg *registry.Registry,
) *JobService {
	return &JobService{
		db:          db,
		jobRepo:     jobRepo,
		commandRepo: commandRepo,
		deviceRepo:  deviceRepo,
		walletRepo:  walletRepo,
		templates:   templates,
		wallets:     wallets,
		registry:    reg,
	}
}

// Create validates the template against the live capability aggregate,
// checks every requested device, and fans the script out. Device selection
// is all-or-nothing: one bad device id fails the whole request before any
// push happens.
func (s *JobService) Create(ctx context.Context, account *model.Account, templateID string, deviceIDs []string) (*JobView, error) {
	template, err := s.templates.Get(ctx, account.ID, templateID)
	if err != nil {
		return nil, err
	}

	cap := s.templates.CapabilityFor(template.ScriptName)
	if cap == nil {
		return nil, apperrors.Conflict("script is not currently available")
	}
	if TemplateCompatibility(template.SchemaHash, cap) != model.CompatibilityActive {
		return nil, apperrors.Conflict("template is out of date with the script schema, update it first")
	}

	devices, err := s.selectDevices(ctx, account.Username, deviceIDs, cap)
	if err != nil {
		return nil, err
	}

	return s.execute(ctx, account, template, cap, devices)
}

// Retry fans the job's script out again to every target that has not
// succeeded. Devices that have since gone incompatible are skipped silently;
// the retry is a brand-new job and the original is left untouched.
func (s *JobService) Retry(ctx context.Context, account *model.Account, jobID string) (*JobView, error) {
	job, err := s.ownedJob(ctx, account.ID, jobID)
	if err != nil {
		return nil, err
	}

	targets, err := s.jobRepo.ListTargets(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	var retryIDs []string
	for _, target := range targets {
		if target.Status != model.TargetStatusSuccess {
			retryIDs = append(retryIDs, target.DeviceID)
		}
	}
	if len(retryIDs) == 0 {
		return nil, apperrors.ValidationError("no failed targets to retry")
	}

	template, err := s.templates.Get(ctx, account.ID, job.TemplateID)
	if err != nil {
		return nil, err
	}
	cap := s.templates.CapabilityFor(template.ScriptName)
	if cap == nil {
		return nil, apperrors.Conflict("script is not currently available")
	}

	ownedDevices, err := s.deviceRepo.ListByUsername(ctx, account.Username)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	deviceMap := make(map[string]model.Device, len(ownedDevices))
	for _, device := range ownedDevices {
		deviceMap[device.ID] = device
	}

	var devices []model.Device
	for _, deviceID := range retryIDs {
		device, ok := deviceMap[deviceID]
		if !ok {
			continue
		}
		if DeviceCompatibility(deviceID, cap) != model.CompatibilityActive {
			continue
		}
		devices = append(devices, device)
	}
	if len(devices) == 0 {
		return nil, apperrors.ValidationError("no failed target is currently able to run the script")
	}

	return s.execute(ctx, account, template, cap, devices)
}

func (s *JobService) Get(ctx context.Context, accountID, jobID string) (*JobView, error) {
	job, err := s.ownedJob(ctx, accountID, jobID)
	if err != nil {
		return nil, err
	}
	targets, err := s.jobRepo.ListTargets(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	return &JobView{ScriptJob: *job, Targets: targets}, nil
}

func (s *JobService) ListForOwner(ctx context.Context, accountID string, limit, offset int) ([]JobView, error) {
	jobs, err := s.jobRepo.ListByOwner(ctx, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return s.withTargets(ctx, jobs)
}

func (s *JobService) ListAll(ctx context.Context, limit, offset int) ([]JobView, error) {
	jobs, err := s.jobRepo.ListAll(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return s.withTargets(ctx, jobs)
}

func (s *JobService) ownedJob(ctx context.Context, accountID, jobID string) (*model.ScriptJob, error) {
	job, err := s.jobRepo.FindJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("find job: %w", err)
	}
	if job == nil || job.OwnerID != accountID {
		return nil, apperrors.NotFound("job")
	}
	return job, nil
}

func (s *JobService) withTargets(ctx context.Context, jobs []model.ScriptJob) ([]JobView, error) {
	views := make([]JobView, 0, len(jobs))
	for _, job := range jobs {
		targets, err := s.jobRepo.ListTargets(ctx, job.ID)
		if err != nil {
			return nil, fmt.Errorf("list targets: %w", err)
		}
		views = append(views, JobView{ScriptJob: job, Targets: targets})
	}
	return views, nil
}

// selectDevices resolves the requested device ids for a job. Duplicates are
// collapsed preserving order; every id must belong to the caller and be
// actively compatible, or the whole selection is rejected.
func (s *JobService) selectDevices(ctx context.Context, username string, deviceIDs []string, cap *capability.Capability) ([]model.Device, error) {
	owned, err := s.deviceRepo.ListByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	deviceMap := make(map[string]model.Device, len(owned))
	for _, device := range owned {
		deviceMap[device.ID] = device
	}

	seen := map[string]bool{}
	var devices []model.Device
	for _, deviceID := range deviceIDs {
		if seen[deviceID] {
			continue
		}
		seen[deviceID] = true

		device, ok := deviceMap[deviceID]
		if !ok {
			return nil, apperrors.InvalidInput("device_ids", fmt.Sprintf("device %s does not belong to this account", deviceID))
		}
		if DeviceCompatibility(deviceID, cap) != model.CompatibilityActive {
			return nil, apperrors.InvalidInput("device_ids", fmt.Sprintf("device %s cannot currently run this script", device.DisplayName()))
		}
		devices = append(devices, device)
	}
	if len(devices) == 0 {
		return nil, apperrors.ValidationError("select at least one device")
	}
	return devices, nil
}

// execute runs the fan-out: price the job, pre-check the balance, push a
// command to every device, then persist job, targets and the ledger freeze
// in one transaction. Pushes happen before the commit; a failed commit does
// not recall them — the design accepts the side effect instead of
// compensating for it.
func (s *JobService) execute(ctx context.Context, account *model.Account, template *model.ScriptTemplate, cap *capability.Capability, devices []model.Device) (*JobView, error) {
	unitPrice := capability.UnitPriceCents(cap.Pricing)
	currency := capability.Currency(cap.Pricing)
	if currency == "" {
		currency = DefaultCurrency
	}
	var totalPrice *int64
	if unitPrice != nil {
		total := *unitPrice * int64(len(devices))
		totalPrice = &total
	}

	if totalPrice != nil && *totalPrice > 0 {
		wallet, err := s.wallets.EnsureWallet(ctx, account.ID)
		if err != nil {
			return nil, err
		}
		if wallet.BalanceCents < *totalPrice {
			return nil, apperrors.PaymentRequired("insufficient balance, top up before running")
		}
	}

	parameters := schemaParameters(template.Schema)
	executionConfig, err := s.templates.ResolveExecutionConfig(ctx, DecodeParams(template.Defaults), parameters, account.ID)
	if err != nil {
		return nil, err
	}
	commandParams, err := json.Marshal(map[string]any{
		"task_name": template.ScriptName,
		"config":    executionConfig,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal command params: %w", err)
	}

	meta, err := json.Marshal(map[string]any{
		"currency": currency,
		"pricing":  cap.Pricing,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal job meta: %w", err)
	}

	var (
		view       *JobView
		paymentErr error
	)
	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		commands := s.commandRepo.WithTx(tx)
		jobs := s.jobRepo.WithTx(tx)
		wallets := s.wallets.WithRepo(s.walletRepo.WithTx(tx))

		now := time.Now()
		sentCount := 0
		targets := make([]model.CreateTargetParams, 0, len(devices))

		for _, device := range devices {
			cmd, err := commands.Create(ctx, model.CreateCommandParams{
				DeviceID: device.ID,
				Action:   "start_task",
				Params:   commandParams,
				UserID:   &account.ID,
			})
			if err != nil {
				return fmt.Errorf("create command: %w", err)
			}

			target := model.CreateTargetParams{
				DeviceID:   device.ID,
				DeviceName: device.DeviceName,
				Status:     model.TargetStatusFailed,
			}
			// The frame on the wire already reads as dispatched; the row
			// catches up via MarkSent once the push lands.
			sentAt := now
			wire := *cmd
			wire.Status = model.CommandStatusSent
			wire.SentAt = &sentAt
			if s.registry.Push(device.ID, commandEnvelope(&wire)) {
				if err := commands.MarkSent(ctx, cmd.ID, now); err != nil {
					return fmt.Errorf("mark command sent: %w", err)
				}
				commandID := cmd.ID
				target.Status = model.TargetStatusSent
				target.SentAt = &sentAt
				target.CommandID = &commandID
				sentCount++
			}
			targets = append(targets, target)
		}

		jobCurrency := &currency
		if unitPrice == nil {
			jobCurrency = nil
		}
		job, err := jobs.CreateJob(ctx, model.CreateJobParams{
			OwnerID:       account.ID,
			TemplateID:    template.ID,
			ScriptName:    template.ScriptName,
			ScriptVersion: template.ScriptVersion,
			SchemaHash:    template.SchemaHash,
			TotalTargets:  len(devices),
			UnitPrice:     unitPrice,
			Currency:      jobCurrency,
			TotalPrice:    totalPrice,
			Meta:          meta,
		})
		if err != nil {
			return fmt.Errorf("create job: %w", err)
		}

		created, err := jobs.AddTargets(ctx, job.ID, targets)
		if err != nil {
			return fmt.Errorf("add targets: %w", err)
		}

		// A job that reached no device fails outright and never touches the
		// wallet.
		status := model.JobStatusRunning
		if sentCount > 0 && totalPrice != nil && *totalPrice > 0 {
			_, err := wallets.Freeze(ctx, account.ID, job.ID, *totalPrice,
				fmt.Sprintf("freeze for script %s", template.ScriptName))
			if err != nil {
				if appErr, ok := apperrors.AsAppError(err); ok && appErr.Code == apperrors.ErrCodePaymentRequired {
					// Balance raced away between the pre-check and the
					// freeze. Commands were already pushed; commit the job
					// as failed so the attempt is visible, and surface the
					// payment error.
					status = model.JobStatusFailed
					paymentErr = err
				} else {
					return err
				}
			}
		}

		if paymentErr == nil {
			switch {
			case sentCount == 0:
				status = model.JobStatusFailed
			case sentCount == len(devices):
				status = model.JobStatusRunning
			default:
				status = model.JobStatusPartial
			}
		}
		if err := jobs.UpdateJobStatus(ctx, job.ID, status); err != nil {
			return fmt.Errorf("update job status: %w", err)
		}
		job.Status = status

		view = &JobView{ScriptJob: *job, Targets: created}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if paymentErr != nil {
		return nil, paymentErr
	}

	log.Info().
		Str("jobId", view.ID).
		Str("ownerId", account.ID).
		Str("scriptName", template.ScriptName).
		Int("targets", len(devices)).
		Str("status", string(view.Status)).
		Msg("script job created")

	return view, nil
}
