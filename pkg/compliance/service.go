package compliance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blacklakehq/blacklake/pkg/kv"
	"github.com/blacklakehq/blacklake/pkg/logging"
	"github.com/google/uuid"
	"github.com/rs/xid"
)

const compliancePartition = "compliance"

func holdPath(entryID, holdID string) []byte {
	return []byte(kv.FormatPath("holds", entryID, holdID))
}

func holdPrefix(entryID string) []byte {
	return []byte(kv.FormatPath("holds", entryID) + kv.PathDelimiter)
}

func entryStatePath(entryID string) []byte {
	return []byte(kv.FormatPath("entrystate", entryID))
}

func auditPath(id string) []byte {
	return []byte(kv.FormatPath("audit", id))
}

const auditPrefix = "audit/"

// Service implements the compliance overlay: legal holds, retention
// stamping, the deletability check, and the append-only audit log.
type Service struct {
	store kv.Store
	log   logging.Logger
	now   func() time.Time
}

func NewService(store kv.Store, log logging.Logger) *Service {
	return &Service{
		store: store,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// CreateLegalHold places a hold on an entry and flags the entry as held.
func (s *Service) CreateLegalHold(ctx context.Context, entryID, reason, createdBy string, expiresAt *time.Time) (*LegalHold, error) {
	hold := &LegalHold{
		ID:        uuid.NewString(),
		EntryID:   entryID,
		Reason:    reason,
		CreatedBy: createdBy,
		CreatedAt: s.now(),
		ExpiresAt: expiresAt,
		Status:    HoldStatusActive,
	}
	if err := kv.SetObject(ctx, s.store, []byte(compliancePartition), holdPath(entryID, hold.ID), hold); err != nil {
		return nil, fmt.Errorf("create legal hold for %s: %w", entryID, err)
	}
	if err := s.updateEntryHoldFlag(ctx, entryID, true); err != nil {
		return nil, err
	}
	s.log.WithContext(ctx).WithFields(logging.Fields{
		"entry_id": entryID,
		"hold_id":  hold.ID,
	}).Info("legal hold created")
	return hold, nil
}

// ReleaseLegalHold releases one hold. Releasing an already-released hold is
// an error. When the last active hold goes, the entry's hold flag is
// cleared.
func (s *Service) ReleaseLegalHold(ctx context.Context, entryID, holdID, releasedBy string) error {
	hold := &LegalHold{}
	_, err := kv.GetObject(ctx, s.store, []byte(compliancePartition), holdPath(entryID, holdID), hold)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return fmt.Errorf("%s: %w", holdID, ErrHoldNotFound)
		}
		return fmt.Errorf("get legal hold %s: %w", holdID, err)
	}
	if hold.Status == HoldStatusReleased {
		return fmt.Errorf("%s: %w", holdID, ErrAlreadyReleased)
	}
	hold.Status = HoldStatusReleased
	if err := kv.SetObject(ctx, s.store, []byte(compliancePartition), holdPath(entryID, holdID), hold); err != nil {
		return fmt.Errorf("release legal hold %s: %w", holdID, err)
	}

	active, err := s.hasActiveHold(ctx, entryID)
	if err != nil {
		return err
	}
	if !active {
		if err := s.updateEntryHoldFlag(ctx, entryID, false); err != nil {
			return err
		}
	}
	s.log.WithContext(ctx).WithFields(logging.Fields{
		"entry_id":          entryID,
		"hold_id":           holdID,
		logging.ActorFieldKey: releasedBy,
	}).Info("legal hold released")
	return nil
}

// ListLegalHolds returns every hold for an entry, expired ones flagged.
func (s *Service) ListLegalHolds(ctx context.Context, entryID string) ([]*LegalHold, error) {
	itr, err := kv.ScanPrefix(ctx, s.store, []byte(compliancePartition), holdPrefix(entryID),
		func() interface{} { return &LegalHold{} })
	if err != nil {
		return nil, fmt.Errorf("list legal holds for %s: %w", entryID, err)
	}
	defer itr.Close()
	now := s.now()
	var holds []*LegalHold
	for itr.Next() {
		hold := itr.Entry().Value.(*LegalHold)
		if hold.Status == HoldStatusActive && hold.ExpiresAt != nil && !hold.ExpiresAt.After(now) {
			hold.Status = HoldStatusExpired
		}
		holds = append(holds, hold)
	}
	if err := itr.Err(); err != nil {
		return nil, fmt.Errorf("list legal holds for %s: %w", entryID, err)
	}
	return holds, nil
}

func (s *Service) hasActiveHold(ctx context.Context, entryID string) (bool, error) {
	holds, err := s.ListLegalHolds(ctx, entryID)
	if err != nil {
		return false, err
	}
	now := s.now()
	for _, hold := range holds {
		if hold.ActiveAt(now) {
			return true, nil
		}
	}
	return false, nil
}

// ApplyRetention stamps the entry's retention horizon: now plus the given
// number of days. Deletion is blocked until the horizon passes.
func (s *Service) ApplyRetention(ctx context.Context, entryID string, retentionDays int) error {
	state, err := s.getEntryState(ctx, entryID)
	if err != nil {
		return err
	}
	until := s.now().AddDate(0, 0, retentionDays)
	state.RetentionUntil = &until
	if err := kv.SetObject(ctx, s.store, []byte(compliancePartition), entryStatePath(entryID), state); err != nil {
		return fmt.Errorf("apply retention to %s: %w", entryID, err)
	}
	return nil
}

// CanDeleteEntry reports whether an entry may be deleted: no active legal
// hold, and the retention horizon (if any) has passed. An entry with no
// compliance record carries no restrictions.
func (s *Service) CanDeleteEntry(ctx context.Context, entryID string) (bool, error) {
	active, err := s.hasActiveHold(ctx, entryID)
	if err != nil {
		return false, err
	}
	if active {
		return false, nil
	}
	state, err := s.getEntryState(ctx, entryID)
	if err != nil {
		return false, err
	}
	if state.RetentionUntil != nil && state.RetentionUntil.After(s.now()) {
		return false, nil
	}
	return true, nil
}

func (s *Service) getEntryState(ctx context.Context, entryID string) (*entryState, error) {
	state := &entryState{}
	_, err := kv.GetObject(ctx, s.store, []byte(compliancePartition), entryStatePath(entryID), state)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return &entryState{EntryID: entryID}, nil
		}
		return nil, fmt.Errorf("get compliance state for %s: %w", entryID, err)
	}
	return state, nil
}

func (s *Service) updateEntryHoldFlag(ctx context.Context, entryID string, held bool) error {
	state, err := s.getEntryState(ctx, entryID)
	if err != nil {
		return err
	}
	state.LegalHold = held
	if err := kv.SetObject(ctx, s.store, []byte(compliancePartition), entryStatePath(entryID), state); err != nil {
		return fmt.Errorf("update compliance state for %s: %w", entryID, err)
	}
	return nil
}

// AppendAuditLog records one audit event. Keys are xid-generated so a plain
// scan returns records in creation order.
func (s *Service) AppendAuditLog(ctx context.Context, actor, action, resourceType, resourceID string, details map[string]interface{}) (*AuditLog, error) {
	record := &AuditLog{
		ID:           xid.New().String(),
		Actor:        actor,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
		At:           s.now(),
	}
	if err := kv.SetObject(ctx, s.store, []byte(compliancePartition), auditPath(record.ID), record); err != nil {
		return nil, fmt.Errorf("append audit log: %w", err)
	}
	return record, nil
}

// ListAuditLogs scans the audit log in creation order, applying the filter.
func (s *Service) ListAuditLogs(ctx context.Context, filter *AuditFilter) ([]*AuditLog, error) {
	itr, err := kv.ScanPrefix(ctx, s.store, []byte(compliancePartition), []byte(auditPrefix),
		func() interface{} { return &AuditLog{} })
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer itr.Close()
	if filter == nil {
		filter = &AuditFilter{}
	}
	var records []*AuditLog
	for itr.Next() {
		record := itr.Entry().Value.(*AuditLog)
		if !filter.matches(record) {
			continue
		}
		records = append(records, record)
		if filter.Limit > 0 && len(records) >= filter.Limit {
			break
		}
	}
	if err := itr.Err(); err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	return records, nil
}
