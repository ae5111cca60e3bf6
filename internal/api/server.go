package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-fuego/fuego"
	"github.com/go-fuego/fuego/option"
)

// Server represents the Fuego-backed Command API: the admin surface for
// accounts, dialogs, invites, scheduler tuning and search.
type Server struct {
	fuego *fuego.Server
	deps  *Dependencies
	port  int
}

// Dependencies contains every service the Command API's handlers call into.
type Dependencies struct {
	Accounts  AccountsRepo
	Dialogs   DialogsRepo
	Sessions  Sessions
	Registry  Registry
	Invites   InvitesRepo
	Invite    InviteService
	Schedulers Schedulers
	Search    Searcher
}

// Config holds API server configuration.
type Config struct {
	Port        int
	Title       string
	Description string
	Version     string
}

// NewServer creates a new Fuego API server.
func NewServer(cfg *Config, deps *Dependencies) *Server {
	s := fuego.NewServer(
		fuego.WithAddr(fmt.Sprintf(":%d", cfg.Port)),
		fuego.WithEngineOptions(
			fuego.WithOpenAPIConfig(fuego.OpenAPIConfig{
				PrettyFormatJSON: true,
				JSONFilePath:     "openapi.json",
				SwaggerURL:       "/docs",
				SpecURL:          "/openapi.json",
				UIHandler: func(specURL string) http.Handler {
					return ScalarHandler(specURL, cfg.Title, cfg.Description)
				},
			}),
		),
	)

	s.OpenAPI.Description().Info.Title = cfg.Title
	s.OpenAPI.Description().Info.Description = cfg.Description
	s.OpenAPI.Description().Info.Version = cfg.Version

	fuego.Use(s, middleware.RequestID)
	fuego.Use(s, middleware.RealIP)
	fuego.Use(s, middleware.Logger)
	fuego.Use(s, middleware.Recoverer)

	srv := &Server{
		fuego: s,
		deps:  deps,
		port:  cfg.Port,
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) registerRoutes() {
	fuego.Get(s.fuego, "/health", s.healthCheck,
		option.Summary("Health Check"),
		option.Description("Returns the health status of the API"),
		option.Tags("System"),
	)

	// Accounts API
	accountsGroup := fuego.Group(s.fuego, "/api/v1/accounts",
		option.Tags("Accounts"),
	)

	fuego.Post(accountsGroup, "/", s.createAccount,
		option.Summary("Create Account"),
		option.Description("Registers a new Telegram account for authentication"),
	)

	fuego.Delete(accountsGroup, "/{id}", s.deleteAccount,
		option.Summary("Delete Account"),
		option.Description("Stops the account's session and marks it banned"),
	)

	fuego.Post(accountsGroup, "/{id}/connect", s.connectAccount,
		option.Summary("Connect Account"),
		option.Description("Starts the account's session and requests a login code"),
	)

	fuego.Post(accountsGroup, "/{id}/code", s.submitCode,
		option.Summary("Submit Login Code"),
		option.Description("Submits the SMS/app login code for a pending connection"),
	)

	fuego.Post(accountsGroup, "/{id}/password", s.submitPassword,
		option.Summary("Submit 2FA Password"),
		option.Description("Submits the two-factor password for a pending connection"),
	)

	fuego.Get(accountsGroup, "/", s.listAccounts,
		option.Summary("List Accounts"),
		option.Description("Returns every enabled account"),
	)

	fuego.Get(accountsGroup, "/with-groups", s.listAccountsWithGroups,
		option.Summary("List Accounts With Groups"),
		option.Description("Returns every enabled account along with its assigned dialogs"),
	)

	// Dialogs API
	dialogsGroup := fuego.Group(s.fuego, "/api/v1/dialogs",
		option.Tags("Dialogs"),
	)

	fuego.Get(dialogsGroup, "/available/{account_id}", s.listAvailableDialogs,
		option.Summary("List Available Dialogs"),
		option.Description("Lists the account's visible Telegram dialogs that are not yet managed"),
	)

	fuego.Post(dialogsGroup, "/available/{account_id}", s.addDialogs,
		option.Summary("Add Dialogs"),
		option.Description("Adds one or more visible dialogs as managed dialogs"),
	)

	fuego.Get(dialogsGroup, "/managed/{account_id}", s.listManagedDialogs,
		option.Summary("List Managed Dialogs"),
		option.Description("Lists the dialogs assigned to an account"),
	)

	fuego.Post(dialogsGroup, "/{id}/assign", s.assignDialog,
		option.Summary("Assign Dialog"),
		option.Description("Assigns or reassigns a dialog to an account"),
	)

	fuego.Post(dialogsGroup, "/{id}/toggle-monitoring", s.toggleMonitoring,
		option.Summary("Toggle Monitoring"),
		option.Description("Pauses an active dialog or resumes a paused one"),
	)

	fuego.Patch(dialogsGroup, "/{id}/options", s.setDialogOptions,
		option.Summary("Set Dialog Options"),
		option.Description("Updates a dialog's download_media, ocr_enabled and backfill_enabled flags"),
	)

	fuego.Post(dialogsGroup, "/{id}/backfill/start", s.startBackfill,
		option.Summary("Start Backfill"),
		option.Description("Starts the backfill loop for a dialog"),
	)

	fuego.Post(dialogsGroup, "/{id}/backfill/stop", s.stopBackfill,
		option.Summary("Stop Backfill"),
		option.Description("Signals the running backfill loop to stop after its current page"),
	)

	// Invites API
	invitesGroup := fuego.Group(s.fuego, "/api/v1/invites",
		option.Tags("Invites"),
	)

	fuego.Post(invitesGroup, "/", s.createInvite,
		option.Summary("Create Invite"),
		option.Description("Submits a t.me invite link for resolution"),
	)

	fuego.Get(invitesGroup, "/", s.listInvites,
		option.Summary("List Invites"),
		option.Description("Returns every submitted invite"),
	)

	fuego.Post(invitesGroup, "/{id}/resolve", s.resolveInvite,
		option.Summary("Resolve Invite"),
		option.Description("Populates an invite's preview fields via messages.checkChatInvite"),
	)

	fuego.Post(invitesGroup, "/{id}/join", s.joinInviteNow,
		option.Summary("Join Invite Now"),
		option.Description("Joins an invite immediately under the given account/post-join policy"),
	)

	fuego.Delete(invitesGroup, "/{id}", s.deleteInvite,
		option.Summary("Delete Invite"),
		option.Description("Removes an invite permanently"),
	)

	fuego.Get(invitesGroup, "/autojoin-config", s.getAutojoinConfig,
		option.Summary("Get Autojoin Config"),
		option.Description("Returns the current autojoin rotation policy"),
	)

	fuego.Put(invitesGroup, "/autojoin-config", s.setAutojoinConfig,
		option.Summary("Set Autojoin Config"),
		option.Description("Updates the autojoin rotation policy"),
	)

	// Schedulers API
	schedulersGroup := fuego.Group(s.fuego, "/api/v1/schedulers",
		option.Tags("Schedulers"),
	)

	fuego.Get(schedulersGroup, "/", s.schedulersStatus,
		option.Summary("Schedulers Status"),
		option.Description("Returns the interval and running state of every enrichment scanner"),
	)

	fuego.Patch(schedulersGroup, "/{name}/settings", s.schedulerSettings,
		option.Summary("Update Scheduler Settings"),
		option.Description("Updates a named scanner's interval"),
	)

	fuego.Post(schedulersGroup, "/{name}/run-now", s.schedulerRunNow,
		option.Summary("Run Scanner Now"),
		option.Description("Triggers a named scanner immediately, if it isn't already running"),
	)

	// Search API
	fuego.Get(s.fuego, "/api/v1/search", s.search,
		option.Summary("Search"),
		option.Description("Full-text search over messages, users and detections"),
		option.Query("q", "Search query (required)"),
		option.Query("types", "Comma-separated result types: messages,users,detections (default: all)"),
		option.Query("dialog_id", "Restrict message results to a single dialog"),
		option.Query("limit", "Maximum results per type (default: 50)"),
		option.Tags("Search"),
	)
}

// Start starts the API server.
func (s *Server) Start() error {
	return s.fuego.Run()
}

// Stop returns nil without shutting anything down; the server started by
// Start keeps running until its process exits.
func (s *Server) Stop(ctx context.Context) error {
	return nil
}

// Mux returns the underlying ServeMux for mounting additional routes.
func (s *Server) Mux() *http.ServeMux {
	return s.fuego.Mux
}

// MountDocsOn mounts the OpenAPI documentation routes (/docs, /openapi.json)
// on a Chi router. This allows using Fuego's OpenAPI generation with an
// existing router.
func (s *Server) MountDocsOn(r interface {
	Get(pattern string, handlerFn http.HandlerFunc)
}, title, description string) {
	scalarHandler := ScalarHandler("/openapi.json", title, description)
	r.Get("/docs", func(w http.ResponseWriter, req *http.Request) {
		scalarHandler.ServeHTTP(w, req)
	})

	r.Get("/openapi.json", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		spec := s.fuego.OpenAPI.Description()
		if err := json.NewEncoder(w).Encode(spec); err != nil {
			http.Error(w, "Failed to encode OpenAPI spec", http.StatusInternalServerError)
		}
	})
}
