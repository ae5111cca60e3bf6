package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tdauth "github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/dcs"
	"github.com/gotd/td/tg"

	"github.com/blockedby/positions-os/internal/config"
	"github.com/blockedby/positions-os/internal/logger"
	"github.com/blockedby/positions-os/internal/models"
	"github.com/blockedby/positions-os/internal/rpcerr"
)

// UpdateHandler receives raw update notifications routed through a
// Session's dispatcher. The live listener registers one of these per
// session to normalize and enqueue new-message events.
type UpdateHandler func(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error

// Session owns one authenticated MTProto connection for a single Account.
// All upstream calls for the account funnel through its priority call
// queue so interactive commands, live listening, backfill pagination and
// enrichment scans share one rate budget without stepping on each other.
type Session struct {
	accountID int64
	cfg       *config.Config
	log       *logger.Logger

	client     *telegram.Client
	dispatcher tg.UpdateDispatcher
	storage    *AccountSessionStorage
	rate       *RateLimiter
	retry      *rpcerr.RetryWrapper
	queue      *callQueue

	mu            sync.RWMutex
	status        models.AccountStatus
	phone         string
	phoneCodeHash string

	runCancel context.CancelFunc
	runDone   chan struct{}

	onMessage UpdateHandler
}

// NewSession constructs a Session for acc. It does not connect; call Start.
func NewSession(acc *models.Account, cfg *config.Config, persister SessionPersister) (*Session, error) {
	dial, err := dialerForAccount(acc)
	if err != nil {
		return nil, err
	}

	storage := NewAccountSessionStorage(acc.ID, persister)
	dispatcher := tg.NewUpdateDispatcher()

	rpsByMode := map[models.RateLimitMode]float64{
		models.RateLimitAggressive:   8.0,
		models.RateLimitBalanced:     2.0,
		models.RateLimitConservative: 0.5,
	}
	rps, ok := rpsByMode[acc.RateLimitMode]
	if !ok {
		rps = 2.0
	}

	s := &Session{
		accountID:  acc.ID,
		cfg:        cfg,
		log:        logger.Get(),
		storage:    storage,
		dispatcher: dispatcher,
		rate:       NewRateLimiter(rps, 3),
		retry:      rpcerr.NewRetryWrapper(cfg.RPCRetryMaxAttempts, cfg.RPCRetryDelayBase, cfg.RPCRetryJitter),
		queue:      newCallQueue(256),
		status:     acc.Status,
		phone:      acc.Phone,
	}

	s.client = telegram.NewClient(acc.APIID, acc.APIHash, telegram.Options{
		SessionStorage: storage,
		UpdateHandler:  &dispatcher,
		Resolver: dcs.Plain(dcs.PlainOptions{
			Dial: dcs.DialFunc(dial),
		}),
	})

	return s, nil
}

// OnNewMessage registers the callback invoked for every dispatched
// UpdateNewMessage/UpdateNewChannelMessage. Must be called before Start.
func (s *Session) OnNewMessage(h UpdateHandler) {
	s.onMessage = h
	s.dispatcher.OnNewMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
		if s.onMessage != nil {
			return s.onMessage(ctx, e, u)
		}
		return nil
	})
	s.dispatcher.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		if s.onMessage != nil {
			return s.onMessage(ctx, e, (*tg.UpdateNewMessage)(&tg.UpdateNewMessage{Message: u.Message, Pts: u.Pts, PtsCount: u.PtsCount}))
		}
		return nil
	})
}

// Start connects the session and begins servicing its call queue. It
// returns once the connection is established; the run loop continues in
// the background until ctx is canceled or Stop is called.
func (s *Session) Start(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	s.runCancel = cancel
	s.runDone = make(chan struct{})

	ready := make(chan error, 1)

	go func() {
		defer close(s.runDone)
		err := s.client.Run(ctx, func(runCtx context.Context) error {
			ready <- nil
			return s.drainLoop(runCtx)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.setStatus(models.AccountStatusError)
			s.log.Error().Err(err).Int64("account_id", s.accountID).Msg("telegram: session run loop exited")
		}
	}()

	select {
	case err := <-ready:
		return err
	case <-time.After(30 * time.Second):
		return fmt.Errorf("session %d: timed out connecting", s.accountID)
	case <-parent.Done():
		return parent.Err()
	}
}

// Stop tears down the connection and drains pending calls with an error.
func (s *Session) Stop() {
	s.queue.close()
	if s.runCancel != nil {
		s.runCancel()
	}
	if s.runDone != nil {
		<-s.runDone
	}
}

// drainLoop runs inside client.Run and is the only goroutine allowed to
// issue RPCs for this session; it pulls from the priority call queue
// until stopped.
func (s *Session) drainLoop(ctx context.Context) error {
	for {
		j, ok := s.queue.next()
		if !ok {
			return nil
		}

		if err := s.rate.Wait(j.ctx); err != nil {
			j.resultCh <- jobResult{err: err}
			continue
		}

		val, err := j.fn(j.ctx)
		if err != nil {
			classified := rpcerr.Classify(err)
			if classified.Category == rpcerr.CategoryRateLimit && classified.WaitSeconds > 0 {
				s.rate.SetFloodWait(classified.WaitSeconds)
				s.setStatus(models.AccountStatusFloodWait)
			}
		}
		j.resultCh <- jobResult{val: val, err: err}
	}
}

// Call enqueues fn at priority p and blocks for its result, subject to
// ctx cancellation. Retries temporary/rate-limit failures per the
// session's retry policy; permanent failures return immediately.
func (s *Session) Call(ctx context.Context, p Priority, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	var out interface{}
	result := s.retry.Execute(ctx, func(innerCtx context.Context) error {
		resultCh := make(chan jobResult, 1)
		if err := s.queue.submit(innerCtx, p, job{ctx: innerCtx, fn: fn, resultCh: resultCh}); err != nil {
			return err
		}
		select {
		case r := <-resultCh:
			out = r.val
			return r.err
		case <-innerCtx.Done():
			return innerCtx.Err()
		}
	})
	if !result.Success {
		return nil, result.Err
	}
	return out, nil
}

// API returns the raw tg.Client. Callers should route calls through Call
// rather than invoking API() methods directly, to stay inside the
// session's priority queue and rate budget.
func (s *Session) API() *tg.Client {
	return s.client.API()
}

func (s *Session) Status() models.AccountStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Session) setStatus(st models.AccountStatus) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// SendCode begins the phone+code authentication flow, transitioning the
// account to code_required on success.
func (s *Session) SendCode(ctx context.Context, phone string) error {
	v, err := s.Call(ctx, PriorityInteractive, func(ctx context.Context) (interface{}, error) {
		return s.API().AuthSendCode(ctx, &tg.AuthSendCodeRequest{
			PhoneNumber: phone,
			Settings:    tg.CodeSettings{},
		})
	})
	if err != nil {
		return fmt.Errorf("send code: %w", err)
	}

	sent, ok := v.(*tg.AuthSentCode)
	if !ok {
		return errors.New("send code: unexpected response type")
	}

	s.mu.Lock()
	s.phone = phone
	s.phoneCodeHash = sent.PhoneCodeHash
	s.status = models.AccountStatusCodeRequired
	s.mu.Unlock()
	return nil
}

// SubmitCode completes the phone code step. If the account has 2FA
// enabled it transitions to password_required instead of active.
func (s *Session) SubmitCode(ctx context.Context, code string) error {
	s.mu.RLock()
	phone, hash := s.phone, s.phoneCodeHash
	s.mu.RUnlock()

	_, err := s.Call(ctx, PriorityInteractive, func(ctx context.Context) (interface{}, error) {
		return s.API().AuthSignIn(ctx, &tg.AuthSignInRequest{
			PhoneNumber:   phone,
			PhoneCodeHash: hash,
			PhoneCode:     code,
		})
	})
	if err != nil {
		if strings.Contains(err.Error(), "SESSION_PASSWORD_NEEDED") {
			s.setStatus(models.AccountStatusPasswordRequired)
			return nil
		}
		return fmt.Errorf("submit code: %w", rpcerr.ErrInvalid2FA)
	}

	s.setStatus(models.AccountStatusActive)
	return nil
}

// SubmitPassword completes 2FA for an account in password_required state.
func (s *Session) SubmitPassword(ctx context.Context, password string) error {
	v, err := s.Call(ctx, PriorityInteractive, func(ctx context.Context) (interface{}, error) {
		return s.API().AccountGetPassword(ctx)
	})
	if err != nil {
		return fmt.Errorf("get password info: %w", err)
	}
	accountPassword, ok := v.(*tg.AccountPassword)
	if !ok {
		return errors.New("get password info: unexpected response type")
	}

	_, err = s.Call(ctx, PriorityInteractive, func(ctx context.Context) (interface{}, error) {
		srp, err := tdauth.PasswordHash([]byte(password), accountPassword.SRPID, accountPassword.SRPB, accountPassword.SecureRandom, accountPassword.CurrentAlgo)
		if err != nil {
			return nil, err
		}
		return s.API().AuthCheckPassword(ctx, srp)
	})
	if err != nil {
		return fmt.Errorf("submit password: %w", rpcerr.ErrInvalid2FA)
	}

	s.setStatus(models.AccountStatusActive)
	return nil
}
