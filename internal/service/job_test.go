package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/scriptfleet/fleet-server-go/internal/capability"
	"github.com/scriptfleet/fleet-server-go/internal/database"
	apperrors "github.com/scriptfleet/fleet-server-go/internal/errors"
	"github.com/scriptfleet/fleet-server-go/internal/model"
	"github.com/scriptfleet/fleet-server-go/internal/registry"
	"github.com/scriptfleet/fleet-server-go/internal/repository"
)

type mockTemplateRepo struct {
	mock.Mock
}

func (m *mockTemplateRepo) Create(ctx context.Context, params model.CreateTemplateParams) (*model.ScriptTemplate, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ScriptTemplate), args.Error(1)
}

func (m *mockTemplateRepo) FindByID(ctx context.Context, id string) (*model.ScriptTemplate, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ScriptTemplate), args.Error(1)
}

func (m *mockTemplateRepo) ListByOwner(ctx context.Context, ownerID string) ([]model.ScriptTemplate, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ScriptTemplate), args.Error(1)
}

func (m *mockTemplateRepo) Update(ctx context.Context, id string, params model.UpdateTemplateParams) (*model.ScriptTemplate, error) {
	args := m.Called(ctx, id, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ScriptTemplate), args.Error(1)
}

func (m *mockTemplateRepo) SoftDelete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockTemplateRepo) WithTx(tx *sqlx.Tx) repository.TemplateRepository {
	return m
}

type mockDeviceRepo struct {
	mock.Mock
}

func (m *mockDeviceRepo) FindByID(ctx context.Context, id string) (*model.Device, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Device), args.Error(1)
}

func (m *mockDeviceRepo) ListByUsername(ctx context.Context, username string) ([]model.Device, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Device), args.Error(1)
}

func (m *mockDeviceRepo) List(ctx context.Context, limit, offset int, onlineOnly bool) ([]model.Device, int, error) {
	args := m.Called(ctx, limit, offset, onlineOnly)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]model.Device), args.Int(1), args.Error(2)
}

func (m *mockDeviceRepo) Create(ctx context.Context, params model.EnsureDeviceParams) (*model.Device, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Device), args.Error(1)
}

func (m *mockDeviceRepo) MarkOnline(ctx context.Context, params model.EnsureDeviceParams) (*model.Device, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Device), args.Error(1)
}

func (m *mockDeviceRepo) MarkOffline(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockDeviceRepo) WithTx(tx *sqlx.Tx) repository.DeviceRepository {
	return m
}

type mockJobRepo struct {
	mock.Mock
}

func (m *mockJobRepo) CreateJob(ctx context.Context, params model.CreateJobParams) (*model.ScriptJob, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ScriptJob), args.Error(1)
}

func (m *mockJobRepo) AddTargets(ctx context.Context, jobID string, targets []model.CreateTargetParams) ([]model.ScriptJobTarget, error) {
	args := m.Called(ctx, jobID, targets)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ScriptJobTarget), args.Error(1)
}

func (m *mockJobRepo) FindJob(ctx context.Context, id string) (*model.ScriptJob, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ScriptJob), args.Error(1)
}

func (m *mockJobRepo) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]model.ScriptJob, error) {
	args := m.Called(ctx, ownerID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ScriptJob), args.Error(1)
}

func (m *mockJobRepo) ListAll(ctx context.Context, limit, offset int) ([]model.ScriptJob, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ScriptJob), args.Error(1)
}

func (m *mockJobRepo) ListTargets(ctx context.Context, jobID string) ([]model.ScriptJobTarget, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ScriptJobTarget), args.Error(1)
}

func (m *mockJobRepo) UpdateJobStatus(ctx context.Context, id string, status model.JobStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *mockJobRepo) UpdateTargetResult(ctx context.Context, update model.TargetResultUpdate) (*model.ScriptJobTarget, error) {
	args := m.Called(ctx, update)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ScriptJobTarget), args.Error(1)
}

func (m *mockJobRepo) WithTx(tx *sqlx.Tx) repository.JobRepository {
	return m
}

type mockCommandRepo struct {
	mock.Mock
}

func (m *mockCommandRepo) Create(ctx context.Context, params model.CreateCommandParams) (*model.Command, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Command), args.Error(1)
}

func (m *mockCommandRepo) FindByID(ctx context.Context, id string) (*model.Command, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Command), args.Error(1)
}

func (m *mockCommandRepo) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	args := m.Called(ctx, id, sentAt)
	return args.Error(0)
}

func (m *mockCommandRepo) UpdateResult(ctx context.Context, update model.CommandResultUpdate, completedAt time.Time) error {
	args := m.Called(ctx, update, completedAt)
	return args.Error(0)
}

func (m *mockCommandRepo) DeleteStalePending(ctx context.Context, olderThan time.Time) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockCommandRepo) WithTx(tx *sqlx.Tx) repository.CommandRepository {
	return m
}

// inlineTx runs the transactional closure directly; the mock repositories
// ignore the tx handle anyway.
type inlineTx struct{}

func (inlineTx) WithTx(ctx context.Context, fn database.TxFunc) error {
	return fn(nil)
}

type nopConn struct{}

func (nopConn) Send(v any) error { return nil }
func (nopConn) Close() error     { return nil }

// captureConn records every frame pushed through it.
type captureConn struct {
	mu     sync.Mutex
	frames []any
}

func (c *captureConn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, v)
	return nil
}

func (c *captureConn) Close() error { return nil }

type brokenConn struct{}

func (brokenConn) Send(v any) error { return errors.New("broken pipe") }
func (brokenConn) Close() error     { return nil }

// jobTestEnv wires a JobService against a live registry with one online
// device advertising the "demo" script at 0.50 per device.
type jobTestEnv struct {
	registry     *registry.Registry
	templateRepo *mockTemplateRepo
	deviceRepo   *mockDeviceRepo
	walletRepo   *mockWalletRepo
	jobRepo      *mockJobRepo
	commandRepo  *mockCommandRepo
	svc          *JobService
	schemaHash   string
}

func demoCapability() []model.CapabilityEntry {
	return []model.CapabilityEntry{{
		Action: "start_task:demo",
		Params: []map[string]any{
			{"name": "message", "type": "string", "required": true},
		},
		Meta: map[string]any{
			"pricing": map[string]any{"currency": "CNY", "unit_price": 0.5},
		},
	}}
}

func newJobTestEnv(t *testing.T) *jobTestEnv {
	t.Helper()

	reg := registry.New(time.Minute, time.Minute)
	t.Cleanup(reg.Close)

	reg.Register("dev-1", nopConn{})
	reg.UpdateCapabilities("dev-1", demoCapability())

	cap := capability.Collect(reg.CapabilitiesSnapshot())["demo"]
	require.NotNil(t, cap)

	templateRepo := new(mockTemplateRepo)
	deviceRepo := new(mockDeviceRepo)
	walletRepo := new(mockWalletRepo)
	jobRepo := new(mockJobRepo)
	commandRepo := new(mockCommandRepo)
	templates := NewTemplateService(templateRepo, reg, nil)
	wallets := NewWalletService(walletRepo)
	svc := NewJobService(inlineTx{}, jobRepo, commandRepo, deviceRepo, walletRepo, templates, wallets, reg)

	return &jobTestEnv{
		registry:     reg,
		templateRepo: templateRepo,
		deviceRepo:   deviceRepo,
		walletRepo:   walletRepo,
		jobRepo:      jobRepo,
		commandRepo:  commandRepo,
		svc:          svc,
		schemaHash:   cap.SchemaHash,
	}
}

// addDevice registers another device advertising the demo script.
func (e *jobTestEnv) addDevice(id string, conn registry.Conn) {
	e.registry.Register(id, conn)
	e.registry.UpdateCapabilities(id, demoCapability())
}

func (e *jobTestEnv) template(hash string) *model.ScriptTemplate {
	return &model.ScriptTemplate{
		ID:         "tpl1",
		OwnerID:    "acc1",
		ScriptName: "demo",
		SchemaHash: hash,
		Schema:     json.RawMessage(`{"parameters":[{"name":"message","type":"string","required":true}]}`),
		Defaults:   json.RawMessage(`{"message":"hi"}`),
		Status:     model.TemplateStatusActive,
	}
}

func testAccount() *model.Account {
	return &model.Account{ID: "acc1", Username: "alice"}
}

func ownedDevice(id string) model.Device {
	return model.Device{ID: id, Username: "alice", IsOnline: true}
}

func TestJobService_Create_StaleTemplate(t *testing.T) {
	env := newJobTestEnv(t)
	env.templateRepo.On("FindByID", mock.Anything, "tpl1").Return(env.template("stale-hash"), nil)

	_, err := env.svc.Create(context.Background(), testAccount(), "tpl1", []string{"dev-1"})

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeConflict, apperrors.GetCode(err))
}

func TestJobService_Create_ScriptUnavailable(t *testing.T) {
	env := newJobTestEnv(t)
	template := env.template(env.schemaHash)
	template.ScriptName = "ghost"
	env.templateRepo.On("FindByID", mock.Anything, "tpl1").Return(template, nil)

	_, err := env.svc.Create(context.Background(), testAccount(), "tpl1", []string{"dev-1"})

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeConflict, apperrors.GetCode(err))
}

func TestJobService_Create_ForeignDeviceRejectsWholeSelection(t *testing.T) {
	env := newJobTestEnv(t)
	env.templateRepo.On("FindByID", mock.Anything, "tpl1").Return(env.template(env.schemaHash), nil)
	env.deviceRepo.On("ListByUsername", mock.Anything, "alice").
		Return([]model.Device{ownedDevice("dev-1")}, nil)

	_, err := env.svc.Create(context.Background(), testAccount(), "tpl1", []string{"dev-1", "dev-9"})

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetCode(err))
	// No wallet activity: selection failed before execution.
	env.walletRepo.AssertNotCalled(t, "FindByAccount", mock.Anything, mock.Anything)
}

func TestJobService_Create_IncompatibleDevice(t *testing.T) {
	env := newJobTestEnv(t)
	env.templateRepo.On("FindByID", mock.Anything, "tpl1").Return(env.template(env.schemaHash), nil)
	// dev-2 is owned but never advertised the script.
	env.deviceRepo.On("ListByUsername", mock.Anything, "alice").
		Return([]model.Device{ownedDevice("dev-1"), ownedDevice("dev-2")}, nil)

	_, err := env.svc.Create(context.Background(), testAccount(), "tpl1", []string{"dev-2"})

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetCode(err))
}

func TestJobService_Create_EmptySelection(t *testing.T) {
	env := newJobTestEnv(t)
	env.templateRepo.On("FindByID", mock.Anything, "tpl1").Return(env.template(env.schemaHash), nil)
	env.deviceRepo.On("ListByUsername", mock.Anything, "alice").
		Return([]model.Device{ownedDevice("dev-1")}, nil)

	_, err := env.svc.Create(context.Background(), testAccount(), "tpl1", nil)

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.GetCode(err))
}

func TestJobService_Create_InsufficientBalance(t *testing.T) {
	env := newJobTestEnv(t)
	env.templateRepo.On("FindByID", mock.Anything, "tpl1").Return(env.template(env.schemaHash), nil)
	env.deviceRepo.On("ListByUsername", mock.Anything, "alice").
		Return([]model.Device{ownedDevice("dev-1")}, nil)
	// Unit price is 50 cents; balance 10 fails the pre-check before any push.
	env.walletRepo.On("FindByAccount", mock.Anything, "acc1").
		Return(&model.Wallet{ID: "w1", AccountID: "acc1", BalanceCents: 10, Currency: "CNY"}, nil)

	_, err := env.svc.Create(context.Background(), testAccount(), "tpl1", []string{"dev-1"})

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodePaymentRequired, apperrors.GetCode(err))
	env.walletRepo.AssertNotCalled(t, "AdjustBalance", mock.Anything, mock.Anything, mock.Anything)
}

func TestJobService_SelectDevicesDeduplicates(t *testing.T) {
	env := newJobTestEnv(t)
	env.deviceRepo.On("ListByUsername", mock.Anything, "alice").
		Return([]model.Device{ownedDevice("dev-1")}, nil)

	cap := capability.Collect(env.registry.CapabilitiesSnapshot())["demo"]
	devices, err := env.svc.selectDevices(context.Background(), "alice", []string{"dev-1", "dev-1", "dev-1"}, cap)

	require.NoError(t, err)
	assert.Len(t, devices, 1)
}

func stubCommand(id, deviceID string) *model.Command {
	return &model.Command{ID: id, DeviceID: deviceID, Action: "start_task", Status: model.CommandStatusPending}
}

func TestJobService_Create_PartialDispatch(t *testing.T) {
	env := newJobTestEnv(t)
	healthy := &captureConn{}
	env.addDevice("dev-2", healthy)
	env.addDevice("dev-3", brokenConn{})

	env.templateRepo.On("FindByID", mock.Anything, "tpl1").Return(env.template(env.schemaHash), nil)
	env.deviceRepo.On("ListByUsername", mock.Anything, "alice").
		Return([]model.Device{ownedDevice("dev-1"), ownedDevice("dev-2"), ownedDevice("dev-3")}, nil)
	env.walletRepo.On("FindByAccount", mock.Anything, "acc1").
		Return(&model.Wallet{ID: "w1", AccountID: "acc1", BalanceCents: 1000, Currency: "CNY"}, nil)
	env.walletRepo.On("AdjustBalance", mock.Anything, "acc1", int64(-150)).
		Return(&model.Wallet{ID: "w1", AccountID: "acc1", BalanceCents: 850, Currency: "CNY"}, nil)
	env.walletRepo.On("AddTransaction", mock.Anything, mock.MatchedBy(func(p model.AddTransactionParams) bool {
		return p.Type == model.TransactionFreeze && p.AmountCents == -150 && p.JobID != nil && *p.JobID == "job1"
	})).Return(&model.WalletTransaction{ID: "txn1"}, nil)

	for _, deviceID := range []string{"dev-1", "dev-2", "dev-3"} {
		id := deviceID
		env.commandRepo.On("Create", mock.Anything, mock.MatchedBy(func(p model.CreateCommandParams) bool {
			return p.DeviceID == id
		})).Return(stubCommand("cmd-"+id, id), nil)
	}
	env.commandRepo.On("MarkSent", mock.Anything, "cmd-dev-1", mock.Anything).Return(nil)
	env.commandRepo.On("MarkSent", mock.Anything, "cmd-dev-2", mock.Anything).Return(nil)

	var jobParams model.CreateJobParams
	env.jobRepo.On("CreateJob", mock.Anything, mock.AnythingOfType("model.CreateJobParams")).
		Run(func(args mock.Arguments) { jobParams = args.Get(1).(model.CreateJobParams) }).
		Return(&model.ScriptJob{ID: "job1", OwnerID: "acc1", Status: model.JobStatusPending}, nil)
	var targets []model.CreateTargetParams
	env.jobRepo.On("AddTargets", mock.Anything, "job1", mock.Anything).
		Run(func(args mock.Arguments) { targets = args.Get(2).([]model.CreateTargetParams) }).
		Return([]model.ScriptJobTarget{
			{JobID: "job1", DeviceID: "dev-1", Status: model.TargetStatusSent},
			{JobID: "job1", DeviceID: "dev-2", Status: model.TargetStatusSent},
			{JobID: "job1", DeviceID: "dev-3", Status: model.TargetStatusFailed},
		}, nil)
	env.jobRepo.On("UpdateJobStatus", mock.Anything, "job1", model.JobStatusPartial).Return(nil)

	view, err := env.svc.Create(context.Background(), testAccount(), "tpl1", []string{"dev-1", "dev-2", "dev-3"})

	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPartial, view.Status)

	require.NotNil(t, jobParams.UnitPrice)
	require.NotNil(t, jobParams.TotalPrice)
	assert.Equal(t, 3, jobParams.TotalTargets)
	assert.Equal(t, int64(50), *jobParams.UnitPrice)
	assert.Equal(t, int64(150), *jobParams.TotalPrice)
	require.NotNil(t, jobParams.Currency)
	assert.Equal(t, "CNY", *jobParams.Currency)

	require.Len(t, targets, 3)
	byDevice := make(map[string]model.CreateTargetParams, len(targets))
	for _, target := range targets {
		byDevice[target.DeviceID] = target
	}
	assert.Equal(t, model.TargetStatusSent, byDevice["dev-1"].Status)
	assert.Equal(t, model.TargetStatusSent, byDevice["dev-2"].Status)
	assert.NotNil(t, byDevice["dev-2"].SentAt)
	assert.NotNil(t, byDevice["dev-2"].CommandID)
	assert.Equal(t, model.TargetStatusFailed, byDevice["dev-3"].Status)
	assert.Nil(t, byDevice["dev-3"].CommandID)

	// The device sees the command as already dispatched.
	require.Len(t, healthy.frames, 1)
	frame := healthy.frames[0].(map[string]any)
	assert.Equal(t, "command", frame["type"])
	pushed := frame["data"].(*model.Command)
	assert.Equal(t, model.CommandStatusSent, pushed.Status)
	assert.NotNil(t, pushed.SentAt)
}

func TestJobService_Create_NoPushSucceedsFailsWithoutFreeze(t *testing.T) {
	env := newJobTestEnv(t)
	env.registry.Register("dev-1", brokenConn{})

	env.templateRepo.On("FindByID", mock.Anything, "tpl1").Return(env.template(env.schemaHash), nil)
	env.deviceRepo.On("ListByUsername", mock.Anything, "alice").
		Return([]model.Device{ownedDevice("dev-1")}, nil)
	env.walletRepo.On("FindByAccount", mock.Anything, "acc1").
		Return(&model.Wallet{ID: "w1", AccountID: "acc1", BalanceCents: 1000, Currency: "CNY"}, nil)
	env.commandRepo.On("Create", mock.Anything, mock.Anything).Return(stubCommand("cmd-1", "dev-1"), nil)

	env.jobRepo.On("CreateJob", mock.Anything, mock.Anything).
		Return(&model.ScriptJob{ID: "job1", OwnerID: "acc1", Status: model.JobStatusPending}, nil)
	var targets []model.CreateTargetParams
	env.jobRepo.On("AddTargets", mock.Anything, "job1", mock.Anything).
		Run(func(args mock.Arguments) { targets = args.Get(2).([]model.CreateTargetParams) }).
		Return([]model.ScriptJobTarget{{JobID: "job1", DeviceID: "dev-1", Status: model.TargetStatusFailed}}, nil)
	env.jobRepo.On("UpdateJobStatus", mock.Anything, "job1", model.JobStatusFailed).Return(nil)

	view, err := env.svc.Create(context.Background(), testAccount(), "tpl1", []string{"dev-1"})

	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, view.Status)
	require.Len(t, targets, 1)
	assert.Equal(t, model.TargetStatusFailed, targets[0].Status)
	assert.Nil(t, targets[0].CommandID)

	// Nothing was delivered, so nothing is frozen.
	env.walletRepo.AssertNotCalled(t, "AdjustBalance", mock.Anything, mock.Anything, mock.Anything)
	env.walletRepo.AssertNotCalled(t, "AddTransaction", mock.Anything, mock.Anything)
}

func TestJobService_Create_UnpricedScriptSkipsWallet(t *testing.T) {
	env := newJobTestEnv(t)
	env.registry.Register("dev-4", nopConn{})
	env.registry.UpdateCapabilities("dev-4", []model.CapabilityEntry{{
		Action: "start_task:free",
		Params: []map[string]any{
			{"name": "message", "type": "string", "required": true},
		},
	}})
	cap := capability.Collect(env.registry.CapabilitiesSnapshot())["free"]
	require.NotNil(t, cap)

	template := env.template(cap.SchemaHash)
	template.ScriptName = "free"
	env.templateRepo.On("FindByID", mock.Anything, "tpl1").Return(template, nil)
	env.deviceRepo.On("ListByUsername", mock.Anything, "alice").
		Return([]model.Device{ownedDevice("dev-4")}, nil)
	env.commandRepo.On("Create", mock.Anything, mock.Anything).Return(stubCommand("cmd-1", "dev-4"), nil)
	env.commandRepo.On("MarkSent", mock.Anything, "cmd-1", mock.Anything).Return(nil)

	var jobParams model.CreateJobParams
	env.jobRepo.On("CreateJob", mock.Anything, mock.AnythingOfType("model.CreateJobParams")).
		Run(func(args mock.Arguments) { jobParams = args.Get(1).(model.CreateJobParams) }).
		Return(&model.ScriptJob{ID: "job1", OwnerID: "acc1", Status: model.JobStatusPending}, nil)
	env.jobRepo.On("AddTargets", mock.Anything, "job1", mock.Anything).
		Return([]model.ScriptJobTarget{{JobID: "job1", DeviceID: "dev-4", Status: model.TargetStatusSent}}, nil)
	env.jobRepo.On("UpdateJobStatus", mock.Anything, "job1", model.JobStatusRunning).Return(nil)

	view, err := env.svc.Create(context.Background(), testAccount(), "tpl1", []string{"dev-4"})

	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, view.Status)
	assert.Nil(t, jobParams.UnitPrice)
	assert.Nil(t, jobParams.TotalPrice)
	assert.Nil(t, jobParams.Currency, "unpriced jobs carry no currency")
	env.walletRepo.AssertNotCalled(t, "FindByAccount", mock.Anything, mock.Anything)
}

func TestJobService_Create_BalanceRacesAwayAtFreeze(t *testing.T) {
	env := newJobTestEnv(t)

	env.templateRepo.On("FindByID", mock.Anything, "tpl1").Return(env.template(env.schemaHash), nil)
	env.deviceRepo.On("ListByUsername", mock.Anything, "alice").
		Return([]model.Device{ownedDevice("dev-1")}, nil)
	// The pre-check sees enough balance; by the time the freeze re-reads the
	// wallet a concurrent spend has drained it.
	env.walletRepo.On("FindByAccount", mock.Anything, "acc1").
		Return(&model.Wallet{ID: "w1", AccountID: "acc1", BalanceCents: 50, Currency: "CNY"}, nil).Once()
	env.walletRepo.On("FindByAccount", mock.Anything, "acc1").
		Return(&model.Wallet{ID: "w1", AccountID: "acc1", BalanceCents: 10, Currency: "CNY"}, nil).Once()
	env.commandRepo.On("Create", mock.Anything, mock.Anything).Return(stubCommand("cmd-1", "dev-1"), nil)
	env.commandRepo.On("MarkSent", mock.Anything, "cmd-1", mock.Anything).Return(nil)

	env.jobRepo.On("CreateJob", mock.Anything, mock.Anything).
		Return(&model.ScriptJob{ID: "job1", OwnerID: "acc1", Status: model.JobStatusPending}, nil)
	env.jobRepo.On("AddTargets", mock.Anything, "job1", mock.Anything).
		Return([]model.ScriptJobTarget{{JobID: "job1", DeviceID: "dev-1", Status: model.TargetStatusSent}}, nil)
	env.jobRepo.On("UpdateJobStatus", mock.Anything, "job1", model.JobStatusFailed).Return(nil)

	view, err := env.svc.Create(context.Background(), testAccount(), "tpl1", []string{"dev-1"})

	require.Error(t, err)
	assert.Nil(t, view)
	assert.Equal(t, apperrors.ErrCodePaymentRequired, apperrors.GetCode(err))
	// The job commits as failed so the attempt stays visible, and the balance
	// is never mutated.
	env.jobRepo.AssertCalled(t, "UpdateJobStatus", mock.Anything, "job1", model.JobStatusFailed)
	env.walletRepo.AssertNotCalled(t, "AdjustBalance", mock.Anything, mock.Anything, mock.Anything)
	env.walletRepo.AssertNotCalled(t, "AddTransaction", mock.Anything, mock.Anything)
}

func TestJobService_Retry_AllTargetsSucceeded(t *testing.T) {
	env := newJobTestEnv(t)
	env.jobRepo.On("FindJob", mock.Anything, "job0").
		Return(&model.ScriptJob{ID: "job0", OwnerID: "acc1", TemplateID: "tpl1"}, nil)
	env.jobRepo.On("ListTargets", mock.Anything, "job0").
		Return([]model.ScriptJobTarget{
			{JobID: "job0", DeviceID: "dev-1", Status: model.TargetStatusSuccess},
			{JobID: "job0", DeviceID: "dev-2", Status: model.TargetStatusSuccess},
		}, nil)

	_, err := env.svc.Retry(context.Background(), testAccount(), "job0")

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.GetCode(err))
}

func TestJobService_Retry_SkipsSucceededTargets(t *testing.T) {
	env := newJobTestEnv(t)
	env.addDevice("dev-2", &captureConn{})

	env.jobRepo.On("FindJob", mock.Anything, "job0").
		Return(&model.ScriptJob{ID: "job0", OwnerID: "acc1", TemplateID: "tpl1"}, nil)
	env.jobRepo.On("ListTargets", mock.Anything, "job0").
		Return([]model.ScriptJobTarget{
			{JobID: "job0", DeviceID: "dev-1", Status: model.TargetStatusSuccess},
			{JobID: "job0", DeviceID: "dev-2", Status: model.TargetStatusFailed},
		}, nil)
	env.templateRepo.On("FindByID", mock.Anything, "tpl1").Return(env.template(env.schemaHash), nil)
	env.deviceRepo.On("ListByUsername", mock.Anything, "alice").
		Return([]model.Device{ownedDevice("dev-1"), ownedDevice("dev-2")}, nil)
	env.walletRepo.On("FindByAccount", mock.Anything, "acc1").
		Return(&model.Wallet{ID: "w1", AccountID: "acc1", BalanceCents: 1000, Currency: "CNY"}, nil)
	env.walletRepo.On("AdjustBalance", mock.Anything, "acc1", int64(-50)).
		Return(&model.Wallet{ID: "w1", AccountID: "acc1", BalanceCents: 950, Currency: "CNY"}, nil)
	env.walletRepo.On("AddTransaction", mock.Anything, mock.MatchedBy(func(p model.AddTransactionParams) bool {
		return p.Type == model.TransactionFreeze && p.AmountCents == -50
	})).Return(&model.WalletTransaction{ID: "txn1"}, nil)

	// Only the failed target is re-dispatched; a command for dev-1 would not
	// match any expectation.
	env.commandRepo.On("Create", mock.Anything, mock.MatchedBy(func(p model.CreateCommandParams) bool {
		return p.DeviceID == "dev-2"
	})).Return(stubCommand("cmd-2", "dev-2"), nil)
	env.commandRepo.On("MarkSent", mock.Anything, "cmd-2", mock.Anything).Return(nil)

	var jobParams model.CreateJobParams
	env.jobRepo.On("CreateJob", mock.Anything, mock.AnythingOfType("model.CreateJobParams")).
		Run(func(args mock.Arguments) { jobParams = args.Get(1).(model.CreateJobParams) }).
		Return(&model.ScriptJob{ID: "job1", OwnerID: "acc1", Status: model.JobStatusPending}, nil)
	env.jobRepo.On("AddTargets", mock.Anything, "job1", mock.Anything).
		Return([]model.ScriptJobTarget{{JobID: "job1", DeviceID: "dev-2", Status: model.TargetStatusSent}}, nil)
	env.jobRepo.On("UpdateJobStatus", mock.Anything, "job1", model.JobStatusRunning).Return(nil)

	view, err := env.svc.Retry(context.Background(), testAccount(), "job0")

	require.NoError(t, err)
	assert.Equal(t, "job1", view.ID, "retry creates a brand-new job")
	assert.Equal(t, 1, jobParams.TotalTargets)
	require.Len(t, view.Targets, 1)
	assert.Equal(t, "dev-2", view.Targets[0].DeviceID)
	// The original job is left untouched.
	env.jobRepo.AssertNotCalled(t, "UpdateJobStatus", mock.Anything, "job0", mock.Anything)
}

func TestJobService_Retry_NoFailedTargetCanRun(t *testing.T) {
	env := newJobTestEnv(t)

	env.jobRepo.On("FindJob", mock.Anything, "job0").
		Return(&model.ScriptJob{ID: "job0", OwnerID: "acc1", TemplateID: "tpl1"}, nil)
	// dev-9 failed last time and has since gone offline.
	env.jobRepo.On("ListTargets", mock.Anything, "job0").
		Return([]model.ScriptJobTarget{
			{JobID: "job0", DeviceID: "dev-1", Status: model.TargetStatusSuccess},
			{JobID: "job0", DeviceID: "dev-9", Status: model.TargetStatusFailed},
		}, nil)
	env.templateRepo.On("FindByID", mock.Anything, "tpl1").Return(env.template(env.schemaHash), nil)
	env.deviceRepo.On("ListByUsername", mock.Anything, "alice").
		Return([]model.Device{ownedDevice("dev-1"), ownedDevice("dev-9")}, nil)

	_, err := env.svc.Retry(context.Background(), testAccount(), "job0")

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.GetCode(err))
	env.jobRepo.AssertNotCalled(t, "CreateJob", mock.Anything, mock.Anything)
}

func TestJobService_Create_DeletedTemplate(t *testing.T) {
	env := newJobTestEnv(t)
	template := env.template(env.schemaHash)
	template.Status = model.TemplateStatusDeleted
	env.templateRepo.On("FindByID", mock.Anything, "tpl1").Return(template, nil)

	_, err := env.svc.Create(context.Background(), testAccount(), "tpl1", []string{"dev-1"})

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
}
