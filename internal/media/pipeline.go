// Package media implements the Media Pipeline: a bounded worker pool that
// downloads queued attachments, deduplicates by content and perceptual
// hash, validates the result, and retries failures.
package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math/bits"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"

	"github.com/blockedby/positions-os/internal/config"
	"github.com/blockedby/positions-os/internal/logger"
	"github.com/blockedby/positions-os/internal/models"
	"github.com/blockedby/positions-os/internal/rpcerr"
	"github.com/blockedby/positions-os/internal/telegram"
)

// MediaStore is the persistence surface the pipeline needs.
type MediaStore interface {
	GetQueued(ctx context.Context, id int64) (*models.MediaFile, error)
	FindByContentHash(ctx context.Context, hash string) (*models.MediaFile, error)
	CandidatesForPerceptualDedup(ctx context.Context, fileType models.MediaFileType, limit int) ([]models.MediaFile, error)
	MarkDownloaded(ctx context.Context, id int64, filePath, contentHash string, perceptualHash *uint64, method models.DuplicateDetectionMethod, fileSize int64, width, height *int) error
	MarkInvalid(ctx context.Context, id int64, status models.ValidationStatus, reason string) error
	MarkFailed(ctx context.Context, id int64, errorCategory string) error
	PendingRetries(ctx context.Context, maxAttempts, batchSize int) ([]models.MediaFile, error)
	MarkQueued(ctx context.Context, id int64) error
}

// MessageLookup resolves the message a queued MediaFile is attached to.
type MessageLookup interface {
	GetByID(ctx context.Context, id int64) (*models.Message, error)
}

// DialogLookup resolves the dialog a message belongs to, to find its
// owning account's session.
type DialogLookup interface {
	Get(ctx context.Context, dialogID int64) (*models.Dialog, error)
}

// SessionProvider resolves the telegram.Session that owns an account.
type SessionProvider interface {
	Get(accountID int64) (*telegram.Session, bool)
}

type mediaJob struct {
	id       int64
	priority int
}

// Pipeline owns the download worker pool and dedup/validation logic.
type Pipeline struct {
	media    MediaStore
	messages MessageLookup
	dialogs  DialogLookup
	sessions SessionProvider
	log      *logger.Logger

	mediaRoot        string
	downloadTimeout  time.Duration
	perceptualThresh int
	validate         bool
	workerCount      int

	high chan mediaJob
	low  chan mediaJob
}

// New builds a Pipeline from cfg's MEDIA_* knobs. Call Start to launch the
// worker pool.
func New(media MediaStore, messages MessageLookup, dialogs DialogLookup, sessions SessionProvider, cfg *config.Config) *Pipeline {
	workers := cfg.MediaWorkerCount
	if workers <= 0 {
		workers = 4
	}
	return &Pipeline{
		media:            media,
		messages:         messages,
		dialogs:          dialogs,
		sessions:         sessions,
		log:              logger.Get(),
		mediaRoot:        cfg.MediaRoot,
		downloadTimeout:  cfg.MediaDownloadTimeout,
		perceptualThresh: cfg.PerceptualHashThreshold,
		validate:         cfg.MediaValidationEnabled,
		workerCount:      workers,
		high:             make(chan mediaJob, 1024),
		low:              make(chan mediaJob, 4096),
	}
}

// Enqueue hands a queued media file to the worker pool. priority > 0 (e.g.
// an OCR-eligible attachment) is serviced ahead of the default lane.
// Non-blocking: a saturated queue marks the row failed (counting one
// download attempt) so the retry sweep picks it up later.
func (p *Pipeline) Enqueue(mediaID int64, priority int) {
	lane := p.low
	if priority > 0 {
		lane = p.high
	}
	select {
	case lane <- mediaJob{id: mediaID, priority: priority}:
	default:
		p.log.Warn().Int64("media_id", mediaID).Msg("media: queue saturated, marking file failed for retry sweep")
		if err := p.media.MarkFailed(context.Background(), mediaID, "queue_saturated"); err != nil {
			p.log.Error().Err(err).Int64("media_id", mediaID).Msg("media: mark saturated file failed")
		}
	}
}

// Start launches the worker pool. Blocks until ctx is canceled.
func (p *Pipeline) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx)
		}()
	}
	wg.Wait()
}

func (p *Pipeline) worker(ctx context.Context) {
	for {
		var job mediaJob
		select {
		case job = <-p.high:
		default:
			select {
			case job = <-p.high:
			case job = <-p.low:
			case <-ctx.Done():
				return
			}
		}
		p.process(ctx, job)
	}
}

func (p *Pipeline) process(ctx context.Context, job mediaJob) {
	mf, err := p.media.GetQueued(ctx, job.id)
	if err != nil || mf == nil {
		return
	}
	if mf.ProcessingStatus != models.ProcessingQueued {
		return
	}

	msg, err := p.messages.GetByID(ctx, mf.MessageID)
	if err != nil || msg == nil {
		p.fail(ctx, mf.ID, "message_not_found")
		return
	}
	dialog, err := p.dialogs.Get(ctx, msg.DialogID)
	if err != nil || dialog == nil || dialog.AssignedAccount == nil {
		p.fail(ctx, mf.ID, "dialog_unassigned")
		return
	}
	sess, ok := p.sessions.Get(*dialog.AssignedAccount)
	if !ok {
		p.fail(ctx, mf.ID, "session_unavailable")
		return
	}

	dlCtx, cancel := context.WithTimeout(ctx, p.downloadTimeout)
	defer cancel()

	loc, size, err := p.resolveLocation(dlCtx, sess, dialog, msg)
	if err != nil {
		p.fail(ctx, mf.ID, string(rpcerr.Classify(err).Category))
		return
	}

	tmpPath := filepath.Join(p.mediaRoot, "tmp", fmt.Sprintf("%d.part", mf.ID))
	if err := os.MkdirAll(filepath.Dir(tmpPath), 0o755); err != nil {
		p.fail(ctx, mf.ID, "local_fs_error")
		return
	}

	_, err = sess.Call(dlCtx, telegram.PriorityEnrichment, func(ctx context.Context) (interface{}, error) {
		d := downloader.NewDownloader()
		n, derr := d.Download(sess.API(), loc).ToPath(ctx, tmpPath)
		return n, derr
	})
	if err != nil {
		os.Remove(tmpPath)
		p.fail(ctx, mf.ID, string(rpcerr.Classify(err).Category))
		return
	}

	contentHash, err := hashFile(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		p.fail(ctx, mf.ID, "hash_failed")
		return
	}

	if existing, err := p.media.FindByContentHash(ctx, contentHash); err == nil && existing != nil {
		os.Remove(tmpPath)
		p.finish(ctx, mf.ID, existing.FilePath, contentHash, existing.PerceptualHash, models.DuplicateByHash, size, nil, nil)
		return
	}

	mtype := mimetype.Detect(nil)
	if detected, err := mimetype.DetectFile(tmpPath); err == nil {
		mtype = detected
	}

	if p.validate {
		if status, reason, ok := validateDownload(tmpPath, mf.FileType, mtype); !ok {
			os.Remove(tmpPath)
			if err := p.media.MarkInvalid(ctx, mf.ID, status, reason); err != nil {
				p.log.Error().Err(err).Int64("media_id", mf.ID).Msg("media: mark invalid failed")
			}
			return
		}
	}

	ext := mtype.Extension()
	if ext == "" {
		ext = fallbackExtension(mf.FileType)
	}

	now := time.Now().UTC()
	finalPath := filepath.Join(p.mediaRoot,
		now.Format("06"), now.Format("01"), now.Format("15"),
		contentHash+ext)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		os.Remove(tmpPath)
		p.fail(ctx, mf.ID, "local_fs_error")
		return
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		p.fail(ctx, mf.ID, "local_fs_error")
		return
	}

	var phash *uint64
	var width, height *int
	if mf.FileType == models.MediaTypePhoto {
		if h, w, ht, err := imagePerceptualHash(finalPath); err == nil {
			phash = &h
			width, height = &w, &ht
		}
	}

	method := models.DuplicateNone
	if phash != nil {
		if dupPath, ok := p.matchPerceptual(ctx, mf.FileType, *phash); ok {
			method = models.DuplicateByPerceptual
			finalPath = dupPath
		}
	}

	filePath := finalPath
	p.finish(ctx, mf.ID, &filePath, contentHash, phash, method, size, width, height)
}

func (p *Pipeline) matchPerceptual(ctx context.Context, fileType models.MediaFileType, hash uint64) (string, bool) {
	candidates, err := p.media.CandidatesForPerceptualDedup(ctx, fileType, 500)
	if err != nil {
		return "", false
	}
	for _, c := range candidates {
		if c.PerceptualHash == nil || c.FilePath == nil {
			continue
		}
		if hammingDistance(hash, *c.PerceptualHash) <= p.perceptualThresh {
			return *c.FilePath, true
		}
	}
	return "", false
}

func (p *Pipeline) finish(ctx context.Context, id int64, filePath *string, contentHash string, phash *uint64, method models.DuplicateDetectionMethod, size int64, width, height *int) {
	var path string
	if filePath != nil {
		path = *filePath
	}
	if err := p.media.MarkDownloaded(ctx, id, path, contentHash, phash, method, size, width, height); err != nil {
		p.log.Error().Err(err).Int64("media_id", id).Msg("media: mark downloaded failed")
	}
}

func (p *Pipeline) fail(ctx context.Context, id int64, category string) {
	if err := p.media.MarkFailed(ctx, id, category); err != nil {
		p.log.Error().Err(err).Int64("media_id", id).Msg("media: mark failed failed")
	}
}

// resolveLocation re-fetches the message by its upstream ID to obtain a
// fresh file_reference (Telegram's file references expire; a persisted
// one would go stale between enqueue and a later retry) and builds the
// InputFileLocation the downloader needs.
func (p *Pipeline) resolveLocation(ctx context.Context, sess *telegram.Session, dialog *models.Dialog, msg *models.Message) (tg.InputFileLocationClass, int64, error) {
	peer := peerForDialog(dialog)
	if peer == nil {
		return nil, 0, fmt.Errorf("media: unsupported dialog type %q", dialog.Type)
	}

	v, err := sess.Call(ctx, telegram.PriorityEnrichment, func(ctx context.Context) (interface{}, error) {
		return sess.API().MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:     peer,
			OffsetID: int(msg.UpstreamMessageID) + 1,
			Limit:    1,
		})
	})
	if err != nil {
		return nil, 0, err
	}

	var raw []tg.MessageClass
	switch h := v.(type) {
	case *tg.MessagesChannelMessages:
		raw = h.Messages
	case *tg.MessagesMessages:
		raw = h.Messages
	case *tg.MessagesMessagesSlice:
		raw = h.Messages
	}
	if len(raw) == 0 {
		return nil, 0, fmt.Errorf("media: message %d no longer available", msg.UpstreamMessageID)
	}
	tm, ok := raw[0].(*tg.Message)
	if !ok {
		return nil, 0, fmt.Errorf("media: unexpected message payload")
	}

	switch m := tm.Media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return nil, 0, fmt.Errorf("media: photo unavailable")
		}
		var sizeBytes int64
		var thumbType string
		for _, s := range photo.Sizes {
			if sz, ok := s.(*tg.PhotoSize); ok {
				if int64(sz.Size) > sizeBytes {
					sizeBytes = int64(sz.Size)
					thumbType = sz.Type
				}
			}
		}
		return &tg.InputPhotoFileLocation{
			ID:            photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
			ThumbSize:     thumbType,
		}, sizeBytes, nil
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return nil, 0, fmt.Errorf("media: document unavailable")
		}
		return &tg.InputDocumentFileLocation{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		}, doc.Size, nil
	default:
		return nil, 0, fmt.Errorf("media: unsupported media payload")
	}
}

func peerForDialog(d *models.Dialog) tg.InputPeerClass {
	switch d.Type {
	case models.DialogTypeChannel, models.DialogTypeSupergroup:
		return &tg.InputPeerChannel{ChannelID: d.UpstreamID, AccessHash: d.AccessHash}
	case models.DialogTypeGroup:
		return &tg.InputPeerChat{ChatID: d.UpstreamID}
	case models.DialogTypeUser:
		return &tg.InputPeerUser{UserID: d.UpstreamID, AccessHash: d.AccessHash}
	default:
		return nil
	}
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// validateDownload probes a downloaded file's format, size, and (for
// photos) pixel dimensions, the way the retained validator in the original
// ingestion service checked for non-zero size and decodable images before
// ever marking a file complete. Returns ok=false with the validation_status
// and reason to record when the file should not be trusted.
func validateDownload(path string, fileType models.MediaFileType, mtype *mimetype.MIME) (models.ValidationStatus, string, bool) {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return models.ValidationCorrupted, "empty_file", false
	}

	if !formatMatchesFileType(mtype, fileType) {
		return models.ValidationInvalid, "format_mismatch:" + mtype.String(), false
	}

	if fileType == models.MediaTypePhoto {
		f, err := os.Open(path)
		if err != nil {
			return models.ValidationCorrupted, "unreadable", false
		}
		defer f.Close()

		cfg, _, err := image.DecodeConfig(f)
		if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
			return models.ValidationCorrupted, "undecodable_image", false
		}
	}

	return models.ValidationValid, "", true
}

// formatMatchesFileType checks the sniffed MIME type against the kind of
// attachment Telegram said this was. Stickers arrive as either static WEBP
// or Telegram's own tgsticker container, and documents are deliberately
// permissive since that file type covers everything else Telegram allows.
func formatMatchesFileType(mtype *mimetype.MIME, fileType models.MediaFileType) bool {
	root := mtype.String()
	switch fileType {
	case models.MediaTypePhoto:
		return strings.HasPrefix(root, "image/")
	case models.MediaTypeVideo, models.MediaTypeVideoNote, models.MediaTypeGIF:
		return strings.HasPrefix(root, "video/") || strings.HasPrefix(root, "image/gif")
	case models.MediaTypeAudio, models.MediaTypeVoice:
		return strings.HasPrefix(root, "audio/")
	case models.MediaTypeSticker:
		return strings.HasPrefix(root, "image/") || strings.Contains(root, "tgsticker")
	case models.MediaTypeDocument:
		return true
	default:
		return true
	}
}

// fallbackExtension supplies a default extension when mimetype detection
// can't name one, so the content-addressed path always carries one.
func fallbackExtension(fileType models.MediaFileType) string {
	switch fileType {
	case models.MediaTypePhoto:
		return ".jpg"
	case models.MediaTypeVideo, models.MediaTypeVideoNote, models.MediaTypeGIF:
		return ".mp4"
	case models.MediaTypeAudio:
		return ".mp3"
	case models.MediaTypeVoice:
		return ".ogg"
	case models.MediaTypeSticker:
		return ".webp"
	default:
		return ".bin"
	}
}

// imagePerceptualHash computes an 8x8 average-hash (aHash): downscale to
// grayscale 8x8, threshold each pixel against the mean, pack into 64 bits.
// Cheap to compute and resilient to re-encoding/resizing, which is all the
// second-stage near-duplicate check needs.
func imagePerceptualHash(path string) (uint64, int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, 0, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return 0, 0, 0, err
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	const n = 8
	var gray [n][n]float64
	var sum float64
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			sx := bounds.Min.X + x*width/n
			sy := bounds.Min.Y + y*height/n
			r, g, b, _ := img.At(sx, sy).RGBA()
			lum := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
			gray[y][x] = lum
			sum += lum
		}
	}
	mean := sum / (n * n)

	var hash uint64
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			hash <<= 1
			if gray[y][x] >= mean {
				hash |= 1
			}
		}
	}
	return hash, width, height, nil
}

func hammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}
