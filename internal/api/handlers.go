// Package api provides the Command API admin surface: accounts, dialogs,
// invites, scheduler and search operations over HTTP, self-documented via
// Fuego's OpenAPI generation.
package api

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-fuego/fuego"
	"github.com/gotd/td/tg"

	"github.com/blockedby/positions-os/internal/enrichment"
	"github.com/blockedby/positions-os/internal/invite"
	"github.com/blockedby/positions-os/internal/models"
	"github.com/blockedby/positions-os/internal/telegram"
)

// ============================================================================
// Health
// ============================================================================

func (s *Server) healthCheck(c fuego.ContextNoBody) (HealthResponse, error) {
	return HealthResponse{Status: "ok", Version: "dev"}, nil
}

// ============================================================================
// Accounts Handlers
// ============================================================================

func (s *Server) createAccount(c fuego.ContextWithBody[AccountCreateRequest]) (AccountResponse, error) {
	body, err := c.Body()
	if err != nil {
		return AccountResponse{}, fuego.BadRequestError{Detail: err.Error()}
	}
	if body.Phone == "" || body.APIID == 0 || body.APIHash == "" {
		return AccountResponse{}, fuego.BadRequestError{Detail: "phone, api_id and api_hash are required"}
	}

	acc := &models.Account{
		Phone:         body.Phone,
		APIID:         body.APIID,
		APIHash:       body.APIHash,
		Status:        models.AccountStatusNew,
		RateLimitMode: models.RateLimitBalanced,
	}
	if err := s.deps.Accounts.Create(c.Context(), acc); err != nil {
		return AccountResponse{}, fuego.InternalServerError{Detail: err.Error()}
	}
	return accountResponse(acc), nil
}

func (s *Server) deleteAccount(c fuego.ContextNoBody) (any, error) {
	id, err := pathInt64(c, "id")
	if err != nil {
		return nil, err
	}
	s.deps.Sessions.Stop(id)
	if err := s.deps.Accounts.UpdateStatus(c.Context(), id, models.AccountStatusBanned); err != nil {
		return nil, fuego.InternalServerError{Detail: err.Error()}
	}
	return map[string]string{"status": "deleted"}, nil
}

func (s *Server) connectAccount(c fuego.ContextNoBody) (AccountResponse, error) {
	id, err := pathInt64(c, "id")
	if err != nil {
		return AccountResponse{}, err
	}
	acc, err := s.deps.Accounts.GetByID(c.Context(), id)
	if err != nil {
		return AccountResponse{}, fuego.InternalServerError{Detail: err.Error()}
	}
	if acc == nil {
		return AccountResponse{}, fuego.NotFoundError{Detail: "account not found"}
	}

	sess, err := s.deps.Sessions.Start(c.Context(), acc)
	if err != nil {
		return AccountResponse{}, fuego.InternalServerError{Detail: err.Error()}
	}
	if err := sess.SendCode(c.Context(), acc.Phone); err != nil {
		return AccountResponse{}, fuego.InternalServerError{Detail: err.Error()}
	}

	acc.Status = models.AccountStatusCodeRequired
	return accountResponse(acc), nil
}

func (s *Server) submitCode(c fuego.ContextWithBody[SubmitCodeRequest]) (AccountResponse, error) {
	id, err := pathInt64(c, "id")
	if err != nil {
		return AccountResponse{}, err
	}
	body, err := c.Body()
	if err != nil {
		return AccountResponse{}, fuego.BadRequestError{Detail: err.Error()}
	}

	sess, ok := s.deps.Sessions.Get(id)
	if !ok {
		return AccountResponse{}, fuego.BadRequestError{Detail: "account has no connection in progress"}
	}
	if err := sess.SubmitCode(c.Context(), body.Code); err != nil {
		return AccountResponse{}, fuego.BadRequestError{Detail: err.Error()}
	}

	acc, err := s.deps.Accounts.GetByID(c.Context(), id)
	if err != nil || acc == nil {
		return AccountResponse{ID: id, Status: string(sess.Status())}, nil
	}
	acc.Status = sess.Status()
	return accountResponse(acc), nil
}

func (s *Server) submitPassword(c fuego.ContextWithBody[SubmitPasswordRequest]) (AccountResponse, error) {
	id, err := pathInt64(c, "id")
	if err != nil {
		return AccountResponse{}, err
	}
	body, err := c.Body()
	if err != nil {
		return AccountResponse{}, fuego.BadRequestError{Detail: err.Error()}
	}

	sess, ok := s.deps.Sessions.Get(id)
	if !ok {
		return AccountResponse{}, fuego.BadRequestError{Detail: "account has no connection in progress"}
	}
	if err := sess.SubmitPassword(c.Context(), body.Password); err != nil {
		return AccountResponse{}, fuego.BadRequestError{Detail: err.Error()}
	}

	acc, err := s.deps.Accounts.GetByID(c.Context(), id)
	if err != nil || acc == nil {
		return AccountResponse{ID: id, Status: string(sess.Status())}, nil
	}
	acc.Status = sess.Status()
	return accountResponse(acc), nil
}

func (s *Server) listAccounts(c fuego.ContextNoBody) (AccountsListResponse, error) {
	accounts, err := s.deps.Accounts.ListEnabled(c.Context())
	if err != nil {
		return AccountsListResponse{}, fuego.InternalServerError{Detail: err.Error()}
	}
	out := make([]AccountResponse, len(accounts))
	for i := range accounts {
		out[i] = accountResponse(&accounts[i])
	}
	return AccountsListResponse{Accounts: out, Total: len(out)}, nil
}

func (s *Server) listAccountsWithGroups(c fuego.ContextNoBody) ([]AccountWithGroupsResponse, error) {
	accounts, err := s.deps.Accounts.ListEnabled(c.Context())
	if err != nil {
		return nil, fuego.InternalServerError{Detail: err.Error()}
	}

	out := make([]AccountWithGroupsResponse, len(accounts))
	for i := range accounts {
		dialogs, err := s.deps.Dialogs.ListByAccount(c.Context(), accounts[i].ID)
		if err != nil {
			return nil, fuego.InternalServerError{Detail: err.Error()}
		}
		ds := make([]DialogResponse, len(dialogs))
		for j := range dialogs {
			ds[j] = dialogResponse(&dialogs[j])
		}
		out[i] = AccountWithGroupsResponse{AccountResponse: accountResponse(&accounts[i]), Dialogs: ds}
	}
	return out, nil
}

func accountResponse(a *models.Account) AccountResponse {
	return AccountResponse{
		ID:                a.ID,
		Phone:             a.Phone,
		Status:            string(a.Status),
		RateLimitMode:     string(a.RateLimitMode),
		MessagesCollected: a.MessagesCollected,
		ErrorsCount:       a.ErrorsCount,
		LastActivityAt:    a.LastActivityAt,
		LastErrorMessage:  a.LastErrorMessage,
		CreatedAt:         a.CreatedAt,
	}
}

func dialogResponse(d *models.Dialog) DialogResponse {
	return DialogResponse{
		ID:               d.ID,
		UpstreamID:       d.UpstreamID,
		Type:             string(d.Type),
		Title:            d.Title,
		Username:         d.Username,
		MemberCount:      d.MemberCount,
		AssignedAccount:  d.AssignedAccount,
		Status:           string(d.Status),
		DownloadMedia:    d.DownloadMedia,
		OCREnabled:       d.OCREnabled,
		BackfillEnabled:  d.BackfillEnabled,
		IsMonitoring:     d.IsMonitoring,
		BackfillFrontier: d.BackfillFrontier,
		LastError:        d.LastError,
	}
}

// ============================================================================
// Dialogs Handlers
// ============================================================================

func (s *Server) listAvailableDialogs(c fuego.ContextNoBody) (AvailableDialogsResponse, error) {
	accountID, err := pathInt64(c, "account_id")
	if err != nil {
		return AvailableDialogsResponse{}, err
	}

	sess, ok := s.deps.Sessions.Get(accountID)
	if !ok {
		return AvailableDialogsResponse{}, fuego.BadRequestError{Detail: "account has no running session"}
	}

	previews, err := listVisibleDialogs(c.Context(), sess)
	if err != nil {
		return AvailableDialogsResponse{}, fuego.InternalServerError{Detail: err.Error()}
	}

	var out []DialogPreviewResponse
	for _, p := range previews {
		if existing, err := s.deps.Dialogs.GetByUpstreamID(c.Context(), p.UpstreamID); err == nil && existing != nil {
			continue
		}
		out = append(out, p)
	}
	return AvailableDialogsResponse{Dialogs: out}, nil
}

// listVisibleDialogs fetches the account's dialog list as seen by Telegram,
// one page of up to 100. Pagination beyond the first page is left for a
// future iteration; large accounts should page through the admin UI.
func listVisibleDialogs(ctx context.Context, sess *telegram.Session) ([]DialogPreviewResponse, error) {
	v, err := sess.Call(ctx, telegram.PriorityInteractive, func(ctx context.Context) (interface{}, error) {
		return sess.API().MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
			OffsetPeer: &tg.InputPeerEmpty{},
			Limit:      100,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list visible dialogs: %w", err)
	}

	chatsGetter, ok := v.(interface{ GetChats() []tg.ChatClass })
	if !ok {
		return nil, fmt.Errorf("list visible dialogs: unrecognized response %T", v)
	}

	var out []DialogPreviewResponse
	for _, chat := range chatsGetter.GetChats() {
		switch ch := chat.(type) {
		case *tg.Chat:
			out = append(out, DialogPreviewResponse{UpstreamID: ch.ID, Type: string(models.DialogTypeGroup), Title: ch.Title, MemberCount: ch.ParticipantsCount})
		case *tg.Channel:
			typ := models.DialogTypeSupergroup
			if ch.Broadcast {
				typ = models.DialogTypeChannel
			}
			out = append(out, DialogPreviewResponse{UpstreamID: ch.ID, Type: string(typ), Title: ch.Title, MemberCount: ch.ParticipantsCount})
		}
	}
	return out, nil
}

func (s *Server) addDialogs(c fuego.ContextWithBody[AddDialogsRequest]) (DialogsListResponse, error) {
	accountID, err := pathInt64(c, "account_id")
	if err != nil {
		return DialogsListResponse{}, err
	}
	body, err := c.Body()
	if err != nil {
		return DialogsListResponse{}, fuego.BadRequestError{Detail: err.Error()}
	}

	sess, ok := s.deps.Sessions.Get(accountID)
	if !ok {
		return DialogsListResponse{}, fuego.BadRequestError{Detail: "account has no running session"}
	}
	previews, err := listVisibleDialogs(c.Context(), sess)
	if err != nil {
		return DialogsListResponse{}, fuego.InternalServerError{Detail: err.Error()}
	}
	byUpstream := make(map[int64]DialogPreviewResponse, len(previews))
	for _, p := range previews {
		byUpstream[p.UpstreamID] = p
	}

	var out []DialogResponse
	for _, upstreamID := range body.UpstreamIDs {
		p, found := byUpstream[upstreamID]
		if !found {
			continue
		}
		d := &models.Dialog{
			UpstreamID:      p.UpstreamID,
			Type:            models.DialogType(p.Type),
			Title:           p.Title,
			MemberCount:     p.MemberCount,
			DownloadMedia:   body.DownloadMedia,
			OCREnabled:      body.OCREnabled,
			BackfillEnabled: body.BackfillEnabled,
		}
		if err := s.deps.Dialogs.Upsert(c.Context(), d); err != nil {
			return DialogsListResponse{}, fuego.InternalServerError{Detail: err.Error()}
		}
		out = append(out, dialogResponse(d))
	}
	return DialogsListResponse{Dialogs: out, Total: len(out)}, nil
}

func (s *Server) listManagedDialogs(c fuego.ContextNoBody) (DialogsListResponse, error) {
	accountID, err := pathInt64(c, "account_id")
	if err != nil {
		return DialogsListResponse{}, err
	}
	dialogs, err := s.deps.Dialogs.ListByAccount(c.Context(), accountID)
	if err != nil {
		return DialogsListResponse{}, fuego.InternalServerError{Detail: err.Error()}
	}
	out := make([]DialogResponse, len(dialogs))
	for i := range dialogs {
		out[i] = dialogResponse(&dialogs[i])
	}
	return DialogsListResponse{Dialogs: out, Total: len(out)}, nil
}

func (s *Server) assignDialog(c fuego.ContextWithBody[AssignDialogRequest]) (any, error) {
	dialogID, err := pathInt64(c, "id")
	if err != nil {
		return nil, err
	}
	body, err := c.Body()
	if err != nil {
		return nil, fuego.BadRequestError{Detail: err.Error()}
	}
	if err := s.deps.Registry.Assign(c.Context(), dialogID, body.AccountID); err != nil {
		return nil, fuego.InternalServerError{Detail: err.Error()}
	}
	return map[string]string{"status": "assigned"}, nil
}

func (s *Server) toggleMonitoring(c fuego.ContextNoBody) (any, error) {
	dialogID, err := pathInt64(c, "id")
	if err != nil {
		return nil, err
	}
	_, status, known := s.deps.Registry.Status(dialogID)
	if !known {
		return nil, fuego.NotFoundError{Detail: "dialog not assigned"}
	}

	var opErr error
	if status == models.DialogStatusPaused {
		opErr = s.deps.Registry.Resume(c.Context(), dialogID)
	} else {
		opErr = s.deps.Registry.Pause(c.Context(), dialogID)
	}
	if opErr != nil {
		return nil, fuego.InternalServerError{Detail: opErr.Error()}
	}
	return map[string]string{"status": "toggled"}, nil
}

func (s *Server) setDialogOptions(c fuego.ContextWithBody[SetDialogOptionsRequest]) (any, error) {
	dialogID, err := pathInt64(c, "id")
	if err != nil {
		return nil, err
	}
	body, err := c.Body()
	if err != nil {
		return nil, fuego.BadRequestError{Detail: err.Error()}
	}
	if err := s.deps.Registry.SetOptions(c.Context(), dialogID, body.DownloadMedia, body.OCREnabled, body.BackfillEnabled); err != nil {
		return nil, fuego.InternalServerError{Detail: err.Error()}
	}
	return map[string]string{"status": "updated"}, nil
}

func (s *Server) startBackfill(c fuego.ContextNoBody) (any, error) {
	dialogID, err := pathInt64(c, "id")
	if err != nil {
		return nil, err
	}
	if err := s.deps.Registry.StartBackfill(c.Context(), dialogID); err != nil {
		return nil, fuego.InternalServerError{Detail: err.Error()}
	}
	return map[string]string{"status": "started"}, nil
}

func (s *Server) stopBackfill(c fuego.ContextNoBody) (any, error) {
	dialogID, err := pathInt64(c, "id")
	if err != nil {
		return nil, err
	}
	s.deps.Registry.StopBackfill(dialogID)
	return map[string]string{"status": "stopped"}, nil
}

// ============================================================================
// Invites Handlers
// ============================================================================

func (s *Server) createInvite(c fuego.ContextWithBody[InviteCreateRequest]) (InviteResponse, error) {
	body, err := c.Body()
	if err != nil {
		return InviteResponse{}, fuego.BadRequestError{Detail: err.Error()}
	}
	if body.Link == "" {
		return InviteResponse{}, fuego.BadRequestError{Detail: "link is required"}
	}
	inv, err := s.deps.Invite.Submit(c.Context(), body.Link, models.Invite{})
	if err != nil {
		return InviteResponse{}, fuego.InternalServerError{Detail: err.Error()}
	}
	return inviteResponse(inv), nil
}

func (s *Server) resolveInvite(c fuego.ContextNoBody) (any, error) {
	id, err := pathInt64(c, "id")
	if err != nil {
		return nil, err
	}
	if err := s.deps.Invite.Resolve(c.Context(), id); err != nil {
		return nil, fuego.InternalServerError{Detail: err.Error()}
	}
	return map[string]string{"status": "resolved"}, nil
}

func (s *Server) joinInviteNow(c fuego.ContextWithBody[JoinInviteRequest]) (any, error) {
	id, err := pathInt64(c, "id")
	if err != nil {
		return nil, err
	}
	body, err := c.Body()
	if err != nil {
		return nil, fuego.BadRequestError{Detail: err.Error()}
	}

	acctPolicy := invite.AccountPolicy{AccountID: body.AccountID}
	post := invite.PostJoinPolicy{
		Monitor:       body.Monitor,
		Backfill:      body.Backfill,
		ScrapeMembers: body.ScrapeMembers,
		DownloadMedia: body.DownloadMedia,
	}

	if err := s.deps.Invite.Join(c.Context(), id, acctPolicy, post); err != nil {
		if _, ok := err.(*invite.RateLimit); ok {
			return nil, fuego.BadRequestError{Detail: err.Error()}
		}
		return nil, fuego.InternalServerError{Detail: err.Error()}
	}
	return map[string]string{"status": "joined"}, nil
}

func (s *Server) deleteInvite(c fuego.ContextNoBody) (any, error) {
	id, err := pathInt64(c, "id")
	if err != nil {
		return nil, err
	}
	if err := s.deps.Invites.Delete(c.Context(), id); err != nil {
		return nil, fuego.InternalServerError{Detail: err.Error()}
	}
	return map[string]string{"status": "deleted"}, nil
}

func (s *Server) listInvites(c fuego.ContextNoBody) (InvitesListResponse, error) {
	invites, err := s.deps.Invites.List(c.Context())
	if err != nil {
		return InvitesListResponse{}, fuego.InternalServerError{Detail: err.Error()}
	}
	out := make([]InviteResponse, len(invites))
	for i := range invites {
		out[i] = inviteResponse(&invites[i])
	}
	return InvitesListResponse{Invites: out, Total: len(out)}, nil
}

func inviteResponse(i *models.Invite) InviteResponse {
	return InviteResponse{
		ID:                 i.ID,
		Link:               i.Link,
		InviteHash:         i.InviteHash,
		Status:             string(i.Status),
		PreviewTitle:       i.PreviewTitle,
		PreviewAbout:       i.PreviewAbout,
		PreviewMemberCount: i.PreviewMemberCount,
		PreviewIsChannel:   i.PreviewIsChannel,
		JoinedByAccount:    i.JoinedByAccount,
		JoinedAt:           i.JoinedAt,
		CreatedAt:          i.CreatedAt,
	}
}

// autojoinConfigResponse mirrors invite.AutojoinConfig for get/set.
type autojoinConfigResponse struct {
	MaxPerDay   int `json:"max_per_day"`
	DelaySecond int `json:"delay_seconds"`
}

func (s *Server) getAutojoinConfig(c fuego.ContextNoBody) (autojoinConfigResponse, error) {
	cfg := s.deps.Invite.AutojoinConfig()
	return autojoinConfigResponse{MaxPerDay: cfg.MaxPerDay, DelaySecond: int(cfg.Delay.Seconds())}, nil
}

func (s *Server) setAutojoinConfig(c fuego.ContextWithBody[autojoinConfigResponse]) (autojoinConfigResponse, error) {
	body, err := c.Body()
	if err != nil {
		return autojoinConfigResponse{}, fuego.BadRequestError{Detail: err.Error()}
	}
	s.deps.Invite.SetAutojoinConfig(invite.AutojoinConfig{
		MaxPerDay: body.MaxPerDay,
		Delay:     time.Duration(body.DelaySecond) * time.Second,
	})
	return body, nil
}

// ============================================================================
// Schedulers Handlers
// ============================================================================

func (s *Server) schedulersStatus(c fuego.ContextNoBody) (SchedulersStatusResponse, error) {
	statuses := s.deps.Schedulers.Status()
	out := make([]SchedulerStatusResponse, len(statuses))
	for i, st := range statuses {
		out[i] = SchedulerStatusResponse{Name: string(st.Name), Interval: st.Interval.String(), Running: st.Running}
	}
	return SchedulersStatusResponse{Schedulers: out}, nil
}

func (s *Server) schedulerSettings(c fuego.ContextWithBody[SchedulerSettingsRequest]) (any, error) {
	name := enrichment.ScannerName(c.PathParam("name"))
	body, err := c.Body()
	if err != nil {
		return nil, fuego.BadRequestError{Detail: err.Error()}
	}
	if body.IntervalSeconds <= 0 {
		return nil, fuego.BadRequestError{Detail: "interval_seconds must be positive"}
	}
	s.deps.Schedulers.SetInterval(name, time.Duration(body.IntervalSeconds)*time.Second)
	return map[string]string{"status": "updated"}, nil
}

func (s *Server) schedulerRunNow(c fuego.ContextNoBody) (any, error) {
	name := enrichment.ScannerName(c.PathParam("name"))
	s.deps.Schedulers.RunNow(context.Background(), name)
	return map[string]string{"status": "triggered"}, nil
}

// ============================================================================
// Search Handlers
// ============================================================================

func (s *Server) search(c fuego.ContextNoBody) (SearchResponse, error) {
	query := c.QueryParam("q")
	if query == "" {
		return SearchResponse{}, fuego.BadRequestError{Detail: "q is required"}
	}
	limit := parseIntWithDefault(c.QueryParam("limit"), 50)
	dialogID := int64(parseIntWithDefault(c.QueryParam("dialog_id"), 0))
	types := c.QueryParam("types")
	if types == "" {
		types = "messages,users,detections"
	}

	var resp SearchResponse
	for _, t := range splitCSV(types) {
		switch t {
		case "messages":
			results, err := s.deps.Search.Search(c.Context(), query, dialogID, limit)
			if err != nil {
				return SearchResponse{}, fuego.InternalServerError{Detail: err.Error()}
			}
			resp.Messages = make([]SearchResultResponse, len(results))
			for i, r := range results {
				resp.Messages[i] = SearchResultResponse{MessageID: r.MessageID, DialogID: r.DialogID, Text: r.Text, Rank: r.Rank}
			}
		case "users":
			results, err := s.deps.Search.SearchUsers(c.Context(), query, limit)
			if err != nil {
				return SearchResponse{}, fuego.InternalServerError{Detail: err.Error()}
			}
			resp.Users = make([]SearchUserResultResponse, len(results))
			for i, r := range results {
				resp.Users[i] = SearchUserResultResponse{UserID: r.UserID, Username: r.Username, FullName: r.FullName, Rank: r.Rank}
			}
		case "detections":
			results, err := s.deps.Search.SearchDetections(c.Context(), query, limit)
			if err != nil {
				return SearchResponse{}, fuego.InternalServerError{Detail: err.Error()}
			}
			resp.Detections = make([]SearchDetectionResultResponse, len(results))
			for i, r := range results {
				resp.Detections[i] = SearchDetectionResultResponse{DetectionID: r.DetectionID, MessageID: r.MessageID, DetectionType: r.DetectionType, MatchedText: r.MatchedText, Context: r.Context}
			}
		}
	}
	return resp, nil
}

// ============================================================================
// Helpers
// ============================================================================

func pathInt64(c fuego.ContextWithPathParam, name string) (int64, error) {
	v, err := strconv.ParseInt(c.PathParam(name), 10, 64)
	if err != nil {
		return 0, fuego.BadRequestError{Detail: fmt.Sprintf("invalid %s", name)}
	}
	return v, nil
}

func parseIntWithDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
