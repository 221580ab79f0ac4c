package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nowusman/DocGuard/internal/domain"
)

// textLikePNG draws dark strokes on a white RGBA canvas.
func textLikePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{255, 255, 255, 255}
			if (y/6)%2 == 0 && (x/4)%3 != 0 {
				c = color.RGBA{20, 20, 40, 255}
			}
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func uniformPNG(t *testing.T, w, h int, v uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func region(data []byte, w, h int) domain.ImageRegion {
	return domain.ImageRegion{PixelData: data, Width: w, Height: h, Format: "png"}
}

// fakeEngine answers "text <width>" and records concurrency and whether
// every input decoded as single-channel.
type fakeEngine struct {
	mu        sync.Mutex
	calls     int32
	inFlight  int32
	maxFlight int32
	nonGray   int32
	delay     func(call int32) time.Duration
	fail      func(call int32) error
	checkErr  error
}

func (f *fakeEngine) Name() string                { return "fake" }
func (f *fakeEngine) Check(context.Context) error { return f.checkErr }

func (f *fakeEngine) Recognize(ctx context.Context, data []byte) (string, error) {
	call := atomic.AddInt32(&f.calls, 1)
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	f.mu.Lock()
	if cur > f.maxFlight {
		f.maxFlight = cur
	}
	f.mu.Unlock()

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	if _, ok := img.(*image.Gray); !ok {
		atomic.AddInt32(&f.nonGray, 1)
	}
	if f.delay != nil {
		select {
		case <-time.After(f.delay(call)):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.fail != nil {
		if err := f.fail(call); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("  text\n\t%d  ", img.Bounds().Dx()), nil
}

func ocrOpts(maxImages int) domain.Options {
	o := domain.DefaultOptions()
	o.MaxImagesPerDocument = maxImages
	return o
}

func TestPolicy_Gate_Order(t *testing.T) {
	good := textLikePNG(t, 120, 60)
	images := []domain.ImageRegion{
		region(good, 120, 60),
		region(uniformPNG(t, 120, 60, 255), 120, 60),
		region(textLikePNG(t, 20, 20), 20, 20),
		region([]byte("not an image"), 0, 0),
		region(good, 120, 60),
		region(good, 120, 60),
	}

	tasks, skipped := DefaultPolicy(5).Gate(images)

	require.Len(t, tasks, 2)
	assert.Equal(t, 0, tasks[0].ImageIndex)
	assert.Equal(t, 4, tasks[1].ImageIndex)

	reasons := map[int]domain.SkipReason{}
	for _, s := range skipped {
		reasons[s.ImageIndex] = s.SkipReason
	}
	assert.Equal(t, domain.SkipLowValue, reasons[1], "uniform image")
	assert.Equal(t, domain.SkipLowValue, reasons[2], "tiny image")
	assert.Equal(t, domain.SkipNoData, reasons[3])
	assert.Equal(t, domain.SkipOverCap, reasons[5])
}

func TestPolicy_Gate_CapAppliesBeforeQuality(t *testing.T) {
	images := []domain.ImageRegion{
		region(uniformPNG(t, 100, 100, 255), 100, 100),
		region(textLikePNG(t, 100, 100), 100, 100),
	}
	tasks, skipped := DefaultPolicy(1).Gate(images)

	assert.Empty(t, tasks, "the cap counts images in encounter order, not survivors")
	require.Len(t, skipped, 2)
	assert.Equal(t, domain.SkipLowValue, skipped[0].SkipReason)
	assert.Equal(t, domain.SkipOverCap, skipped[1].SkipReason)
}

func TestPolicy_Gate_NoDarkPixels(t *testing.T) {
	// all pixels light but not uniform: passes the contrast check, fails the
	// dark-pixel sample
	img := image.NewGray(image.Rect(0, 0, 100, 100))
	for i := range img.Pix {
		img.Pix[i] = uint8(180 + i%60)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	tasks, skipped := DefaultPolicy(10).Gate([]domain.ImageRegion{region(buf.Bytes(), 100, 100)})
	assert.Empty(t, tasks)
	require.Len(t, skipped, 1)
	assert.Equal(t, domain.SkipLowValue, skipped[0].SkipReason)
}

func TestScheduler_Run_CapAndOrder(t *testing.T) {
	engine := &fakeEngine{
		// later images finish first
		delay: func(call int32) time.Duration { return time.Duration(10-call) * 3 * time.Millisecond },
	}
	s := NewScheduler(engine, DefaultConfig(), nil)

	var images []domain.ImageRegion
	for w := 100; w < 108; w++ {
		images = append(images, region(textLikePNG(t, w, 60), w, 60))
	}

	results := s.Run(context.Background(), images, ocrOpts(5))

	require.Len(t, results, len(images))
	recognized := 0
	for i, r := range results {
		assert.Equal(t, i, r.ImageIndex)
		if i < 5 {
			assert.False(t, r.WasSkipped)
			assert.Equal(t, fmt.Sprintf("text %d", 100+i), r.RecognizedText)
			recognized++
		} else {
			assert.True(t, r.WasSkipped)
			assert.Equal(t, domain.SkipOverCap, r.SkipReason)
		}
	}
	assert.Equal(t, 5, recognized)
	assert.Equal(t, int32(5), atomic.LoadInt32(&engine.calls))
	assert.Equal(t, int32(0), atomic.LoadInt32(&engine.nonGray), "engine only sees grayscale input")
	assert.LessOrEqual(t, engine.maxFlight, int32(2))
}

func TestScheduler_Run_Timeout(t *testing.T) {
	engine := &fakeEngine{
		delay: func(call int32) time.Duration {
			if call == 1 {
				return time.Second
			}
			return 0
		},
	}
	cfg := DefaultConfig()
	cfg.PerImageTimeout = 30 * time.Millisecond
	cfg.MaxConcurrency = 1
	s := NewScheduler(engine, cfg, nil)

	img := textLikePNG(t, 100, 60)
	results := s.Run(context.Background(), []domain.ImageRegion{region(img, 100, 60), region(img, 100, 60)}, ocrOpts(10))

	require.Len(t, results, 2)
	assert.True(t, results[0].WasSkipped)
	assert.Equal(t, domain.SkipTimeout, results[0].SkipReason)
	assert.False(t, results[1].WasSkipped)
}

func TestScheduler_Run_EngineErrorIsSkip(t *testing.T) {
	engine := &fakeEngine{fail: func(int32) error { return errors.New("leptonica: bad image") }}
	s := NewScheduler(engine, DefaultConfig(), nil)

	img := textLikePNG(t, 100, 60)
	results := s.Run(context.Background(), []domain.ImageRegion{region(img, 100, 60)}, ocrOpts(10))
	require.Len(t, results, 1)
	assert.Equal(t, domain.SkipError, results[0].SkipReason)
}

func TestScheduler_Run_Disabled(t *testing.T) {
	engine := &fakeEngine{}
	s := NewScheduler(engine, DefaultConfig(), nil)
	img := textLikePNG(t, 100, 60)

	opts := ocrOpts(10)
	opts.ThroughputMode = true
	results := s.Run(context.Background(), []domain.ImageRegion{region(img, 100, 60)}, opts)
	require.Len(t, results, 1)
	assert.Equal(t, domain.SkipDisabled, results[0].SkipReason)

	nilEngine := NewScheduler(nil, DefaultConfig(), nil)
	results = nilEngine.Run(context.Background(), []domain.ImageRegion{region(img, 100, 60)}, ocrOpts(10))
	assert.Equal(t, domain.SkipDisabled, results[0].SkipReason)
	assert.Equal(t, int32(0), engine.calls)
}

func TestCheck(t *testing.T) {
	err := Check(context.Background(), &fakeEngine{checkErr: errors.New("tessdata missing")})
	require.Error(t, err)
	assert.Equal(t, domain.ErrorKindOCRUnavailable, domain.KindOf(err))

	assert.NoError(t, Check(context.Background(), nil))
	assert.NoError(t, Check(context.Background(), &fakeEngine{}))
}

// stuckEngine ignores ctx and blocks every call until release is closed.
type stuckEngine struct {
	release   chan struct{}
	calls     int32
	inFlight  int32
	maxFlight int32
}

func (e *stuckEngine) Name() string                { return "stuck" }
func (e *stuckEngine) Check(context.Context) error { return nil }

func (e *stuckEngine) Recognize(context.Context, []byte) (string, error) {
	atomic.AddInt32(&e.calls, 1)
	cur := atomic.AddInt32(&e.inFlight, 1)
	defer atomic.AddInt32(&e.inFlight, -1)
	for {
		prev := atomic.LoadInt32(&e.maxFlight)
		if cur <= prev || atomic.CompareAndSwapInt32(&e.maxFlight, prev, cur) {
			break
		}
	}
	<-e.release
	return "late", nil
}

func TestScheduler_Run_TimedOutCallsHoldTheirSlot(t *testing.T) {
	engine := &stuckEngine{release: make(chan struct{})}
	cfg := DefaultConfig()
	cfg.PerImageTimeout = 20 * time.Millisecond
	cfg.MaxConcurrency = 1
	s := NewScheduler(engine, cfg, nil)

	img := textLikePNG(t, 100, 60)
	images := make([]domain.ImageRegion, 8)
	for i := range images {
		images[i] = region(img, 100, 60)
	}

	results := s.Run(context.Background(), images, ocrOpts(10))

	require.Len(t, results, 8)
	for _, r := range results {
		assert.True(t, r.WasSkipped)
		assert.Equal(t, domain.SkipTimeout, r.SkipReason)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&engine.calls), "later images wait for the stuck call")
	assert.Equal(t, int32(1), atomic.LoadInt32(&engine.maxFlight))

	// A second document on the same worker still sees the stuck call.
	results = s.Run(context.Background(), images[:2], ocrOpts(10))
	assert.Equal(t, domain.SkipTimeout, results[0].SkipReason)
	assert.Equal(t, int32(1), atomic.LoadInt32(&engine.calls))

	close(engine.release)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&engine.inFlight) == 0 }, time.Second, 5*time.Millisecond)

	results = s.Run(context.Background(), images[:1], ocrOpts(10))
	require.Len(t, results, 1)
	assert.False(t, results[0].WasSkipped)
	assert.Equal(t, "late", results[0].RecognizedText)
	assert.Equal(t, int32(1), atomic.LoadInt32(&engine.maxFlight))
}

func TestScheduler_Concurrency(t *testing.T) {
	s := NewScheduler(nil, Config{MaxConcurrency: 16}, nil)
	assert.LessOrEqual(t, s.Concurrency(), 2)
	assert.GreaterOrEqual(t, s.Concurrency(), 1)
}
