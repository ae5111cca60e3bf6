package media

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/gabriel-vasile/mimetype"

	"github.com/blockedby/positions-os/internal/config"
	"github.com/blockedby/positions-os/internal/logger"
	"github.com/blockedby/positions-os/internal/models"
)

func TestHammingDistance(t *testing.T) {
	if d := hammingDistance(0b1111, 0b1111); d != 0 {
		t.Errorf("expected 0 distance for identical hashes, got %d", d)
	}
	if d := hammingDistance(0b0000, 0b1111); d != 4 {
		t.Errorf("expected 4 distance, got %d", d)
	}
}

func TestHashFile_IsDeterministic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.bin")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}

	h1, err := hashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := hashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Errorf("expected stable hash, got %q then %q", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("expected 64 hex chars (sha-256), got %d", len(h1))
	}
}

func TestImagePerceptualHash_SimilarImagesHashClose(t *testing.T) {
	dir := t.TempDir()
	p1 := writeSolidPNG(t, filepath.Join(dir, "a.png"), color.RGBA{200, 200, 200, 255})
	p2 := writeSolidPNG(t, filepath.Join(dir, "b.png"), color.RGBA{205, 205, 205, 255})
	p3 := writeSplitPNG(t, filepath.Join(dir, "c.png"), color.RGBA{10, 10, 10, 255}, color.RGBA{250, 250, 250, 255})

	h1, w, h, err := imagePerceptualHash(p1)
	if err != nil {
		t.Fatal(err)
	}
	if w != 64 || h != 64 {
		t.Errorf("unexpected dimensions %dx%d", w, h)
	}
	h2, _, _, err := imagePerceptualHash(p2)
	if err != nil {
		t.Fatal(err)
	}
	h3, _, _, err := imagePerceptualHash(p3)
	if err != nil {
		t.Fatal(err)
	}

	if hammingDistance(h1, h2) > 5 {
		t.Errorf("expected near-identical solid colors to hash close, distance=%d", hammingDistance(h1, h2))
	}
	if hammingDistance(h1, h3) == 0 {
		t.Errorf("expected visually distinct images to hash apart")
	}
}

func writeSolidPNG(t *testing.T, path string, c color.RGBA) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

// writeSplitPNG writes a 64x64 PNG whose left half is left and right half is right.
func writeSplitPNG(t *testing.T, path string, left, right color.RGBA) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			c := left
			if x >= 32 {
				c = right
			}
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestValidateDownload_RejectsEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.bin")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		t.Fatal(err)
	}
	status, _, ok := validateDownload(path, models.MediaTypePhoto, mtype)
	if ok || status != models.ValidationCorrupted {
		t.Fatalf("expected corrupted/empty_file, got status=%v ok=%v", status, ok)
	}
}

func TestValidateDownload_RejectsFormatMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "not-a-photo.txt")
	if err := os.WriteFile(path, []byte("just some text, not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		t.Fatal(err)
	}
	status, _, ok := validateDownload(path, models.MediaTypePhoto, mtype)
	if ok || status != models.ValidationInvalid {
		t.Fatalf("expected invalid/format_mismatch, got status=%v ok=%v", status, ok)
	}
}

func TestValidateDownload_AcceptsValidPhoto(t *testing.T) {
	dir := t.TempDir()
	path := writeSolidPNG(t, filepath.Join(dir, "a.png"), color.RGBA{10, 20, 30, 255})

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		t.Fatal(err)
	}
	status, reason, ok := validateDownload(path, models.MediaTypePhoto, mtype)
	if !ok || status != models.ValidationValid {
		t.Fatalf("expected valid photo, got status=%v reason=%q ok=%v", status, reason, ok)
	}
}

func TestFallbackExtension_CoversKnownTypes(t *testing.T) {
	cases := map[models.MediaFileType]string{
		models.MediaTypePhoto:     ".jpg",
		models.MediaTypeVideo:     ".mp4",
		models.MediaTypeVideoNote: ".mp4",
		models.MediaTypeGIF:       ".mp4",
		models.MediaTypeAudio:     ".mp3",
		models.MediaTypeVoice:     ".ogg",
		models.MediaTypeSticker:  ".webp",
		models.MediaTypeDocument: ".bin",
	}
	for fileType, want := range cases {
		if got := fallbackExtension(fileType); got != want {
			t.Errorf("fallbackExtension(%q) = %q, want %q", fileType, got, want)
		}
	}
}

func TestPeerForDialog_UnknownTypeIsNil(t *testing.T) {
	d := &models.Dialog{Type: models.DialogType("unknown")}
	if peerForDialog(d) != nil {
		t.Error("expected nil peer for unsupported dialog type")
	}
}

type fakeMediaStore struct {
	queued   map[int64]*models.MediaFile
	queueErr error
}

func (f *fakeMediaStore) GetQueued(ctx context.Context, id int64) (*models.MediaFile, error) {
	return f.queued[id], f.queueErr
}
func (f *fakeMediaStore) FindByContentHash(ctx context.Context, hash string) (*models.MediaFile, error) {
	return nil, nil
}
func (f *fakeMediaStore) CandidatesForPerceptualDedup(ctx context.Context, fileType models.MediaFileType, limit int) ([]models.MediaFile, error) {
	return nil, nil
}
func (f *fakeMediaStore) MarkDownloaded(ctx context.Context, id int64, filePath, contentHash string, perceptualHash *uint64, method models.DuplicateDetectionMethod, fileSize int64, width, height *int) error {
	return nil
}
func (f *fakeMediaStore) MarkInvalid(ctx context.Context, id int64, status models.ValidationStatus, reason string) error {
	return nil
}
func (f *fakeMediaStore) MarkFailed(ctx context.Context, id int64, errorCategory string) error {
	return nil
}
func (f *fakeMediaStore) PendingRetries(ctx context.Context, maxAttempts, batchSize int) ([]models.MediaFile, error) {
	return nil, nil
}
func (f *fakeMediaStore) MarkQueued(ctx context.Context, id int64) error { return nil }

func TestProcess_SkipsAlreadyProcessedMedia(t *testing.T) {
	store := &fakeMediaStore{queued: map[int64]*models.MediaFile{
		1: {ID: 1, ProcessingStatus: models.ProcessingCompleted},
	}}
	p := &Pipeline{media: store, log: logger.Get()}
	p.process(context.Background(), mediaJob{id: 1}) // must not panic; no message/dialog lookups wired
}

func TestEnqueue_RoutesByPriority(t *testing.T) {
	p := New(&fakeMediaStore{queued: map[int64]*models.MediaFile{}}, nil, nil, nil, &config.Config{})
	p.Enqueue(1, 0)
	p.Enqueue(2, 5)

	select {
	case j := <-p.low:
		if j.id != 1 {
			t.Errorf("expected job 1 on low lane, got %d", j.id)
		}
	default:
		t.Fatal("expected a job on the low lane")
	}
	select {
	case j := <-p.high:
		if j.id != 2 {
			t.Errorf("expected job 2 on high lane, got %d", j.id)
		}
	default:
		t.Fatal("expected a job on the high lane")
	}
}
