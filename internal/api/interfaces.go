package api

import (
	"context"
	"time"

	"github.com/blockedby/positions-os/internal/enrichment"
	"github.com/blockedby/positions-os/internal/invite"
	"github.com/blockedby/positions-os/internal/models"
	"github.com/blockedby/positions-os/internal/repository"
	"github.com/blockedby/positions-os/internal/telegram"
)

// AccountsRepo is the persistence surface the Accounts command group needs.
// Satisfied by *repository.AccountsRepository.
type AccountsRepo interface {
	Create(ctx context.Context, a *models.Account) error
	GetByID(ctx context.Context, id int64) (*models.Account, error)
	ListEnabled(ctx context.Context) ([]models.Account, error)
	UpdateStatus(ctx context.Context, id int64, status models.AccountStatus) error
}

// DialogsRepo is the persistence surface the Dialogs command group needs.
// Satisfied by *repository.DialogsRepository.
type DialogsRepo interface {
	Get(ctx context.Context, dialogID int64) (*models.Dialog, error)
	GetByUpstreamID(ctx context.Context, upstreamID int64) (*models.Dialog, error)
	Upsert(ctx context.Context, d *models.Dialog) error
	ListByAccount(ctx context.Context, accountID int64) ([]models.Dialog, error)
}

// Sessions resolves and drives live telegram sessions for account-scoped
// commands (connect, list_available). Satisfied by *telegram.AccountManager.
type Sessions interface {
	Start(ctx context.Context, acc *models.Account) (*telegram.Session, error)
	Stop(accountID int64)
	Get(accountID int64) (*telegram.Session, bool)
}

// Registry is the dialog ownership surface the Dialogs command group
// mutates. Satisfied by *registry.Registry.
type Registry interface {
	Assign(ctx context.Context, dialogID int64, accountID *int64) error
	Reassign(ctx context.Context, dialogID int64, accountID int64) error
	Pause(ctx context.Context, dialogID int64) error
	Resume(ctx context.Context, dialogID int64) error
	SetOptions(ctx context.Context, dialogID int64, downloadMedia, ocrEnabled, backfillEnabled bool) error
	StartBackfill(ctx context.Context, dialogID int64) error
	StopBackfill(dialogID int64)
	Status(dialogID int64) (accountID *int64, status models.DialogStatus, known bool)
}

// InvitesRepo is the persistence surface the Invites command group lists
// and reads through directly (create/resolve/join go through
// InviteService). Satisfied by *repository.InvitesRepository.
type InvitesRepo interface {
	Get(ctx context.Context, id int64) (*models.Invite, error)
	List(ctx context.Context) ([]models.Invite, error)
	Delete(ctx context.Context, id int64) error
}

// InviteService resolves and joins invite links. Satisfied by
// *invite.Resolver.
type InviteService interface {
	Submit(ctx context.Context, link string, source models.Invite) (*models.Invite, error)
	Resolve(ctx context.Context, inviteID int64) error
	Join(ctx context.Context, inviteID int64, acctPolicy invite.AccountPolicy, post invite.PostJoinPolicy) error
	AutojoinConfig() invite.AutojoinConfig
	SetAutojoinConfig(cfg invite.AutojoinConfig)
}

// Schedulers is the admin surface over the enrichment scanners. Satisfied
// by *enrichment.Scheduler.
type Schedulers interface {
	Status() []enrichment.ScannerStatus
	SetInterval(name enrichment.ScannerName, interval time.Duration)
	RunNow(ctx context.Context, name enrichment.ScannerName)
}

// Searcher runs cross-domain search. Satisfied by
// *repository.SearchRepository.
type Searcher interface {
	Search(ctx context.Context, query string, dialogID int64, limit int) ([]repository.SearchResult, error)
	SearchUsers(ctx context.Context, query string, limit int) ([]repository.UserResult, error)
	SearchDetections(ctx context.Context, query string, limit int) ([]repository.DetectionResult, error)
}
