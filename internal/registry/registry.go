// Package registry is the authoritative mapping of dialogs to the account
// that owns them, backed by the dialogs repository and mirrored in memory
// for fast single-owner enforcement.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/blockedby/positions-os/internal/models"
)

// DialogsStore is the persistence surface the registry needs. Implemented
// by internal/repository.DialogsRepository.
type DialogsStore interface {
	Get(ctx context.Context, dialogID int64) (*models.Dialog, error)
	UpdateAssignment(ctx context.Context, dialogID int64, accountID *int64, status models.DialogStatus) error
	UpdateOptions(ctx context.Context, dialogID int64, downloadMedia, ocrEnabled, backfillEnabled bool) error
	CountAssigned(ctx context.Context, accountID int64) (int, error)
	MessagesCollected(ctx context.Context, accountID int64) (int64, error)
	ListEnabledAccountIDs(ctx context.Context) ([]int64, error)
}

// BackfillStarter begins or resumes a dialog's backfill. Implemented by
// internal/backfill.Coordinator; kept as a narrow interface to avoid an
// import cycle between registry and backfill.
type BackfillStarter interface {
	Start(ctx context.Context, dialogID int64) error
	Stop(dialogID int64)
}

// entry is the in-memory mirror of one dialog's ownership and state.
type entry struct {
	accountID       *int64
	status          models.DialogStatus
	backfillStarted bool
}

// Registry enforces the single-owner invariant and idempotent
// start_backfill in memory, persisting every mutation through store.
type Registry struct {
	store    DialogsStore
	backfill BackfillStarter

	mu      sync.Mutex
	entries map[int64]*entry
}

// New builds a Registry. backfill may be nil if StartBackfill is unused
// (e.g. in tests exercising only assignment logic).
func New(store DialogsStore, backfill BackfillStarter) *Registry {
	return &Registry{
		store:    store,
		backfill: backfill,
		entries:  make(map[int64]*entry),
	}
}

func (r *Registry) get(dialogID int64) *entry {
	e, ok := r.entries[dialogID]
	if !ok {
		e = &entry{}
		r.entries[dialogID] = e
	}
	return e
}

// Assign binds dialogID to accountID. If accountID is nil, the
// least-loaded enabled account is picked automatically (fewest dialogs
// currently assigned, ties broken by fewest messages collected), per the
// client load balancer behavior carried over from the original service.
func (r *Registry) Assign(ctx context.Context, dialogID int64, accountID *int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.get(dialogID)
	if e.accountID != nil {
		return fmt.Errorf("registry: dialog %d already assigned to account %d", dialogID, *e.accountID)
	}

	target := accountID
	if target == nil {
		picked, err := r.pickLeastLoaded(ctx)
		if err != nil {
			return fmt.Errorf("registry: auto-assign dialog %d: %w", dialogID, err)
		}
		target = &picked
	}

	if err := r.store.UpdateAssignment(ctx, dialogID, target, models.DialogStatusActive); err != nil {
		return fmt.Errorf("registry: assign dialog %d: %w", dialogID, err)
	}

	e.accountID = target
	e.status = models.DialogStatusActive
	return nil
}

func (r *Registry) pickLeastLoaded(ctx context.Context) (int64, error) {
	candidates, err := r.store.ListEnabledAccountIDs(ctx)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, fmt.Errorf("no enabled accounts available")
	}

	var best int64
	bestDialogs, bestMessages := -1, int64(-1)
	for _, accID := range candidates {
		dialogs, err := r.store.CountAssigned(ctx, accID)
		if err != nil {
			return 0, err
		}
		messages, err := r.store.MessagesCollected(ctx, accID)
		if err != nil {
			return 0, err
		}
		if bestDialogs == -1 || dialogs < bestDialogs || (dialogs == bestDialogs && messages < bestMessages) {
			best, bestDialogs, bestMessages = accID, dialogs, messages
		}
	}
	return best, nil
}

// Reassign moves dialogID to a new account, regardless of current owner.
func (r *Registry) Reassign(ctx context.Context, dialogID int64, accountID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.UpdateAssignment(ctx, dialogID, &accountID, models.DialogStatusActive); err != nil {
		return fmt.Errorf("registry: reassign dialog %d: %w", dialogID, err)
	}

	e := r.get(dialogID)
	e.accountID = &accountID
	e.status = models.DialogStatusActive
	return nil
}

// Unassign clears ownership, moving the dialog to inactive.
func (r *Registry) Unassign(ctx context.Context, dialogID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.UpdateAssignment(ctx, dialogID, nil, models.DialogStatusInactive); err != nil {
		return fmt.Errorf("registry: unassign dialog %d: %w", dialogID, err)
	}

	e := r.get(dialogID)
	e.accountID = nil
	e.status = models.DialogStatusInactive
	e.backfillStarted = false
	return nil
}

// Pause stops new work dispatch for dialogID; in-flight work runs to
// completion elsewhere (the listener/backfill loops check status per
// iteration, they are not interrupted mid-call).
func (r *Registry) Pause(ctx context.Context, dialogID int64) error {
	return r.setStatus(ctx, dialogID, models.DialogStatusPaused)
}

// Resume transitions a paused dialog back to active.
func (r *Registry) Resume(ctx context.Context, dialogID int64) error {
	return r.setStatus(ctx, dialogID, models.DialogStatusActive)
}

func (r *Registry) setStatus(ctx context.Context, dialogID int64, status models.DialogStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.get(dialogID)
	if err := r.store.UpdateAssignment(ctx, dialogID, e.accountID, status); err != nil {
		return fmt.Errorf("registry: set dialog %d status to %s: %w", dialogID, status, err)
	}
	e.status = status
	return nil
}

// SetOptions updates per-dialog feature flags (media download, OCR,
// backfill enablement).
func (r *Registry) SetOptions(ctx context.Context, dialogID int64, downloadMedia, ocrEnabled, backfillEnabled bool) error {
	if err := r.store.UpdateOptions(ctx, dialogID, downloadMedia, ocrEnabled, backfillEnabled); err != nil {
		return fmt.Errorf("registry: set options for dialog %d: %w", dialogID, err)
	}
	return nil
}

// Status returns the in-memory status and owning account for dialogID, if
// known to this registry instance.
func (r *Registry) Status(dialogID int64) (accountID *int64, status models.DialogStatus, known bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[dialogID]
	if !ok {
		return nil, "", false
	}
	return e.accountID, e.status, true
}

// StartBackfill requires the dialog to be assigned and is idempotent: a
// second concurrent call while backfill is already running for this
// dialog observes the first call's effect and returns nil without
// starting a second run.
func (r *Registry) StartBackfill(ctx context.Context, dialogID int64) error {
	r.mu.Lock()
	e := r.get(dialogID)
	if e.accountID == nil {
		r.mu.Unlock()
		return fmt.Errorf("registry: dialog %d must be assigned before backfill can start", dialogID)
	}
	if e.backfillStarted {
		r.mu.Unlock()
		return nil
	}
	e.backfillStarted = true
	r.mu.Unlock()

	if r.backfill == nil {
		return fmt.Errorf("registry: no backfill coordinator configured")
	}
	if err := r.backfill.Start(ctx, dialogID); err != nil {
		r.mu.Lock()
		e.backfillStarted = false
		r.mu.Unlock()
		return fmt.Errorf("registry: start backfill for dialog %d: %w", dialogID, err)
	}
	return nil
}

// StopBackfill signals the running backfill loop for dialogID to stop
// after its current page, if one is running. A no-op if backfill was
// never started for this dialog.
func (r *Registry) StopBackfill(dialogID int64) {
	r.mu.Lock()
	e := r.get(dialogID)
	e.backfillStarted = false
	r.mu.Unlock()

	if r.backfill != nil {
		r.backfill.Stop(dialogID)
	}
}

// Load seeds the in-memory mirror from the persisted dialog row, typically
// called once at startup for every known dialog.
func (r *Registry) Load(d *models.Dialog) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.get(d.ID)
	e.accountID = d.AssignedAccount
	e.status = d.Status
}
