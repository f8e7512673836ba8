package governance

import "time"

// ProtectedRef declares protection rules for a ref name within a repository.
// RefName may be a glob pattern ("release/*").
type ProtectedRef struct {
	ID                string   `json:"id"`
	RepoID            string   `json:"repo_id"`
	RefName           string   `json:"ref_name"`
	RequireAdmin      bool     `json:"require_admin"`
	AllowFastForward  bool     `json:"allow_fast_forward"`
	AllowDelete       bool     `json:"allow_delete"`
	RequiredChecks    []string `json:"required_checks"`
	RequiredReviewers int      `json:"required_reviewers"`
	RequireSchemaPass bool     `json:"require_schema_pass"`
}

type RepoQuota struct {
	ID        string `json:"id"`
	RepoID    string `json:"repo_id"`
	BytesSoft int64  `json:"bytes_soft"`
	BytesHard int64  `json:"bytes_hard"`
}

type RepoUsage struct {
	ID             string    `json:"id"`
	RepoID         string    `json:"repo_id"`
	CurrentBytes   int64     `json:"current_bytes"`
	LastCalculated time.Time `json:"last_calculated"`
}

type RetentionPolicy struct {
	TombstoneDays  int  `json:"tombstone_days"`
	HardDeleteDays int  `json:"hard_delete_days"`
	LegalHold      bool `json:"legal_hold"`
}

type RepoRetention struct {
	ID              string          `json:"id"`
	RepoID          string          `json:"repo_id"`
	RetentionPolicy RetentionPolicy `json:"retention_policy"`
}

type CheckStatus string

const (
	CheckStatusPending CheckStatus = "pending"
	CheckStatusSuccess CheckStatus = "success"
	CheckStatusFailure CheckStatus = "failure"
	CheckStatusError   CheckStatus = "error"
)

type CheckResult struct {
	ID         string      `json:"id"`
	RepoID     string      `json:"repo_id"`
	RefName    string      `json:"ref_name"`
	CommitID   string      `json:"commit_id"`
	CheckName  string      `json:"check_name"`
	Status     CheckStatus `json:"status"`
	DetailsURL *string     `json:"details_url,omitempty"`
	Output     *string     `json:"output,omitempty"`
}

// PolicyEvaluation is the outcome of a branch protection check. A plain
// rejection is reported here, not as an error, so callers can render which
// checks are missing.
type PolicyEvaluation struct {
	Allowed          bool     `json:"allowed"`
	Reason           *string  `json:"reason,omitempty"`
	RequiredChecks   []string `json:"required_checks"`
	MissingReviewers int      `json:"missing_reviewers"`
}

// QuotaStatus is the quota standing of a repository at a byte count.
type QuotaStatus struct {
	CurrentBytes    int64   `json:"current_bytes"`
	SoftLimit       int64   `json:"soft_limit"`
	HardLimit       int64   `json:"hard_limit"`
	SoftWarning     bool    `json:"soft_warning"`
	HardExceeded    bool    `json:"hard_exceeded"`
	UsagePercentage float64 `json:"usage_percentage"`
}

func NewQuotaStatus(currentBytes, softLimit, hardLimit int64) QuotaStatus {
	usagePercentage := 0.0
	if hardLimit > 0 {
		usagePercentage = float64(currentBytes) / float64(hardLimit) * 100.0
	}
	return QuotaStatus{
		CurrentBytes:    currentBytes,
		SoftLimit:       softLimit,
		HardLimit:       hardLimit,
		SoftWarning:     currentBytes > softLimit,
		HardExceeded:    currentBytes > hardLimit,
		UsagePercentage: usagePercentage,
	}
}

// UpdateState names the stations a ref mutation passes through.
type UpdateState string

const (
	StateRequested       UpdateState = "requested"
	StateProtectionCheck UpdateState = "protection_check"
	StateQuotaCheck      UpdateState = "quota_check"
	StateRetentionCheck  UpdateState = "retention_check"
	StateApplied         UpdateState = "applied"
	StateRejected        UpdateState = "rejected"
)

// RefUpdate describes one attempted ref mutation for governance checks.
type RefUpdate struct {
	RepoID          string
	TenantID        string
	RefName         string
	Subject         string
	CommitID        string
	IsDelete        bool
	IsFastForward   bool
	AdditionalBytes int64
	Approvals       int
	// DeleteEntryIDs are the entries removed by this update, each must pass
	// the retention check
	DeleteEntryIDs []string
}

// Decision is the aggregate governance outcome for one RefUpdate.
type Decision struct {
	State      UpdateState
	Allowed    bool
	Reason     string
	Warnings   []string
	Evaluation *PolicyEvaluation
	Quota      *QuotaStatus
	Violation  error
}
