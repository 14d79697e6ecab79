package model

type AccountRole string

const (
	RoleCustomer   AccountRole = "customer"
	RoleAdmin      AccountRole = "admin"
	RoleSuperAdmin AccountRole = "super_admin"
)

type CommandStatus string

const (
	CommandStatusPending CommandStatus = "pending"
	CommandStatusSent    CommandStatus = "sent"
	CommandStatusSuccess CommandStatus = "success"
	CommandStatusFailed  CommandStatus = "failed"
)

type TemplateStatus string

const (
	TemplateStatusActive  TemplateStatus = "active"
	TemplateStatusDeleted TemplateStatus = "deleted"
)

type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusRunning JobStatus = "running"
	JobStatusPartial JobStatus = "partial"
	JobStatusFailed  JobStatus = "failed"
)

// Target statuses: pending/sent/failed cover dispatch, success/failure the
// eventual device-reported outcome.
type TargetStatus string

const (
	TargetStatusPending TargetStatus = "pending"
	TargetStatusSent    TargetStatus = "sent"
	TargetStatusFailed  TargetStatus = "failed"
	TargetStatusSuccess TargetStatus = "success"
	TargetStatusFailure TargetStatus = "failure"
)

type TransactionType string

const (
	TransactionFreeze  TransactionType = "freeze"
	TransactionCapture TransactionType = "capture"
	TransactionRefund  TransactionType = "refund"
	TransactionTopup   TransactionType = "topup"
)

type TopupStatus string

const (
	TopupStatusPending TopupStatus = "pending"
	TopupStatusSuccess TopupStatus = "success"
	TopupStatusFailed  TopupStatus = "failed"
)

// Compatibility of a template (or a single device) against the live
// capability aggregate.
type Compatibility string

const (
	CompatibilityActive      Compatibility = "active"
	CompatibilityStale       Compatibility = "stale"
	CompatibilityUnavailable Compatibility = "unavailable"
	CompatibilityUnsupported Compatibility = "unsupported"
)
