package invite

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/blockedby/positions-os/internal/logger"
)

// PreviewFallback resolves an invite's title/about/member-count without an
// authenticated session, for when no account is enabled or the
// messages.checkChatInvite call itself fails. Telegram renders a public,
// unauthenticated preview at t.me/+<hash> for any invite that hasn't been
// revoked or made private; reading it requires a real browser since the
// page's content is filled in by client-side script.
type PreviewFallback interface {
	Preview(ctx context.Context, hash string) (title, about string, memberCount int, isChannel bool, err error)
}

// ChromePreviewer drives headless Chrome the same way the PDF renderer does
// elsewhere in this codebase, navigating to the invite's public page and
// scraping its preview markup instead of rendering one.
type ChromePreviewer struct {
	timeout time.Duration
	log     *logger.Logger
}

// NewChromePreviewer builds a ChromePreviewer with the given per-page
// navigation timeout.
func NewChromePreviewer(timeout time.Duration) *ChromePreviewer {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &ChromePreviewer{timeout: timeout, log: logger.Get()}
}

var memberCountDigits = regexp.MustCompile(`[\d,]+`)

// Preview navigates to the invite's public preview page and extracts its
// title, about text, and approximate member/subscriber count from
// Telegram's tgme_page_* markup. A revoked or private invite renders none
// of that markup and comes back as a not-found error.
func (c *ChromePreviewer) Preview(ctx context.Context, hash string) (string, string, int, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	defer cancelAlloc()

	cctx, cancelCtx := chromedp.NewContext(allocCtx)
	defer cancelCtx()

	var title, about, extra string
	err := chromedp.Run(cctx,
		chromedp.Navigate("https://t.me/+"+hash),
		chromedp.Text(".tgme_page_title", &title, chromedp.ByQuery),
		chromedp.Text(".tgme_page_description", &about, chromedp.ByQuery),
		chromedp.Text(".tgme_page_extra", &extra, chromedp.ByQuery),
	)
	if err != nil {
		return "", "", 0, false, fmt.Errorf("invite: chrome preview %s: %w", hash, err)
	}
	if strings.TrimSpace(title) == "" {
		return "", "", 0, false, fmt.Errorf("invite: preview %s not found or revoked", hash)
	}

	count := 0
	if m := memberCountDigits.FindString(extra); m != "" {
		count, _ = strconv.Atoi(strings.ReplaceAll(m, ",", ""))
	}
	isChannel := strings.Contains(strings.ToLower(extra), "subscriber")

	c.log.Debug().Str("hash", hash).Str("title", title).Msg("invite: resolved via chrome preview fallback")
	return strings.TrimSpace(title), strings.TrimSpace(about), count, isChannel, nil
}
