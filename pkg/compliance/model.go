package compliance

import "time"

type LegalHoldStatus string

const (
	HoldStatusActive   LegalHoldStatus = "active"
	HoldStatusReleased LegalHoldStatus = "released"
	HoldStatusExpired  LegalHoldStatus = "expired"
)

// LegalHold blocks deletion of one entry. An entry may carry several holds,
// deletion stays blocked while any of them is active.
type LegalHold struct {
	ID        string          `json:"id"`
	EntryID   string          `json:"entry_id"`
	Reason    string          `json:"reason"`
	CreatedBy string          `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
	Status    LegalHoldStatus `json:"status"`
}

// ActiveAt reports whether the hold blocks deletion at the given time.
func (h *LegalHold) ActiveAt(now time.Time) bool {
	if h.Status != HoldStatusActive {
		return false
	}
	if h.ExpiresAt != nil && !h.ExpiresAt.After(now) {
		return false
	}
	return true
}

// entryState is the per-entry compliance record: the hold flag is derived
// from the hold rows, retention is stamped by ApplyRetention.
type entryState struct {
	EntryID        string     `json:"entry_id"`
	LegalHold      bool       `json:"legal_hold"`
	RetentionUntil *time.Time `json:"retention_until,omitempty"`
}

// AuditLog is one append-only audit record.
type AuditLog struct {
	ID           string                 `json:"id"`
	Actor        string                 `json:"actor"`
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	Details      map[string]interface{} `json:"details,omitempty"`
	At           time.Time              `json:"at"`
}

// AuditFilter narrows an audit listing. Zero-valued fields do not filter.
type AuditFilter struct {
	Actor        string
	Action       string
	ResourceType string
	Since        *time.Time
	Until        *time.Time
	Limit        int
}

func (f *AuditFilter) matches(l *AuditLog) bool {
	if f.Actor != "" && l.Actor != f.Actor {
		return false
	}
	if f.Action != "" && l.Action != f.Action {
		return false
	}
	if f.ResourceType != "" && l.ResourceType != f.ResourceType {
		return false
	}
	if f.Since != nil && l.At.Before(*f.Since) {
		return false
	}
	if f.Until != nil && l.At.After(*f.Until) {
		return false
	}
	return true
}
