package frame

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photonicat/inky_photo_frame/internal/buttons"
	"github.com/photonicat/inky_photo_frame/internal/display"
	"github.com/photonicat/inky_photo_frame/internal/epd"
	"github.com/photonicat/inky_photo_frame/internal/history"
	"github.com/photonicat/inky_photo_frame/internal/logger"
	"github.com/photonicat/inky_photo_frame/internal/prefs"
	"github.com/photonicat/inky_photo_frame/internal/render"
	"github.com/photonicat/inky_photo_frame/internal/scheduler"
	"github.com/photonicat/inky_photo_frame/internal/testutil"
	"github.com/photonicat/inky_photo_frame/internal/welcome"
)

type fakeDisplay struct {
	mu     sync.Mutex
	frames []*render.Frame
	errs   []error
}

func (d *fakeDisplay) Display(_ context.Context, f *render.Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return err
		}
	}
	d.frames = append(d.frames, f)
	return nil
}

func (d *fakeDisplay) Bounds() image.Rectangle { return image.Rect(0, 0, 40, 24) }
func (d *fakeDisplay) Palette() color.Palette  { return epd.SpectraPalette }
func (d *fakeDisplay) Busy() bool              { return false }
func (d *fakeDisplay) Name() string            { return "fake 40x24" }
func (d *fakeDisplay) State() display.State    { return display.Ready }

func (d *fakeDisplay) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.frames)
}

func (d *fakeDisplay) last() *render.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.frames) == 0 {
		return nil
	}
	return d.frames[len(d.frames)-1]
}

type rig struct {
	app   *App
	disp  *fakeDisplay
	dir   string
	state string
	prefs string
	now   time.Time
}

func newRig(t *testing.T, setup func(cfg *Config)) *rig {
	t.Helper()
	base := t.TempDir()
	r := &rig{
		disp:  &fakeDisplay{},
		dir:   filepath.Join(base, "photos"),
		state: filepath.Join(base, "history.json"),
		prefs: filepath.Join(base, "color_mode.json"),
		now:   time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local),
	}
	require.NoError(t, os.MkdirAll(r.dir, 0o755))

	cfg := Config{
		PhotosDir:           r.dir,
		ChangeHour:          8,
		MaxPhotos:           100,
		CleanupInterval:     6 * time.Hour,
		MaintenanceInterval: time.Hour,
		UploadSettle:        50 * time.Millisecond,
	}
	if setup != nil {
		setup(&cfg)
	}
	app, err := New(cfg, Deps{
		Display: r.disp,
		History: history.NewStore(r.state),
		Prefs:   prefs.NewStore(r.prefs, render.SpectraPalette),
		Log:     logger.NewTestLogger(),
	})
	require.NoError(t, err)
	app.now = func() time.Time { return r.now }
	r.app = app
	return r
}

func (r *rig) photo(t *testing.T, name string, c color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 20, 12))
	for y := 0; y < 12; y++ {
		for x := 0; x < 20; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(filepath.Join(r.dir, name))
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func (r *rig) broken(t *testing.T, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(r.dir, name), []byte("not an image"), 0o644))
}

var red = color.RGBA{160, 32, 32, 255}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{}, Deps{})
	assert.Error(t, err)
}

func TestStartup_EmptyPoolShowsWelcome(t *testing.T) {
	r := newRig(t, nil)

	require.NoError(t, r.app.startup(context.Background()))
	require.Equal(t, 1, r.disp.count())
	assert.Equal(t, welcome.SATURATION, r.disp.last().Saturation)
	assert.True(t, r.app.welcomeShown)
	assert.NotNil(t, r.app.LastFrame())
	assert.Empty(t, r.app.Status().Photo)
}

func TestStartup_FirstRunRotates(t *testing.T) {
	r := newRig(t, nil)
	r.photo(t, "a.png", red)
	r.photo(t, "b.png", color.White)

	require.NoError(t, r.app.startup(context.Background()))
	require.Equal(t, 1, r.disp.count())
	assert.True(t, r.disp.last().Quantized, "spectra mode dithers itself")
	assert.NotEmpty(t, r.app.state.Current)
	assert.Equal(t, r.now, r.app.state.LastChange)

	saved, err := history.NewStore(r.state).Load()
	require.NoError(t, err)
	assert.Equal(t, r.app.state.Current, saved.Current)
	assert.Equal(t, []string{saved.Current}, saved.Shown)
}

func TestStartup_RedisplaysCurrent(t *testing.T) {
	r := newRig(t, nil)
	r.photo(t, "a.png", red)
	r.photo(t, "b.png", color.White)

	st := history.NewState()
	st.Record("b.png", 0, r.now.Add(-time.Hour))
	st.MarkRotated(r.now.Add(-time.Hour))
	require.NoError(t, history.NewStore(r.state).Save(st))

	r = reload(t, r)
	require.NoError(t, r.app.startup(context.Background()))
	require.Equal(t, 1, r.disp.count())
	assert.Equal(t, "b.png", r.app.state.Current)
	assert.Equal(t, 1, r.app.state.Photos["b.png"].ShowCount, "a redisplay is not a new showing")
	assert.Equal(t, "b.png", r.app.Status().Photo)
}

func TestStartup_WelcomeOnStart(t *testing.T) {
	r := newRig(t, func(cfg *Config) { cfg.WelcomeOnStart = true })
	r.photo(t, "a.png", red)

	require.NoError(t, r.app.startup(context.Background()))
	require.Equal(t, 1, r.disp.count())
	assert.Equal(t, welcome.SATURATION, r.disp.last().Saturation)
	assert.Empty(t, r.app.state.Current)
}

// reload builds a fresh app over the same files, as after a restart.
func reload(t *testing.T, r *rig) *rig {
	t.Helper()
	app, err := New(r.app.cfg, Deps{
		Display: r.disp,
		History: history.NewStore(r.state),
		Prefs:   prefs.NewStore(r.prefs, render.SpectraPalette),
		Log:     logger.NewTestLogger(),
	})
	require.NoError(t, err)
	app.now = func() time.Time { return r.now }
	r.app = app
	return r
}

func TestRotate_NoRepeatUntilCycleCompletes(t *testing.T) {
	r := newRig(t, nil)
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		r.photo(t, name, red)
	}

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		require.NoError(t, r.app.rotate(context.Background()))
		seen[r.app.state.Current] = true
	}
	assert.Len(t, seen, 3)

	last := r.app.state.Current
	require.NoError(t, r.app.rotate(context.Background()))
	assert.NotEqual(t, last, r.app.state.Current)
	assert.Equal(t, []string{r.app.state.Current}, r.app.state.Shown)
}

func TestRequests_ArrivalPreemptsDaily(t *testing.T) {
	r := newRig(t, nil)
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		r.photo(t, name, red)
	}
	ctx := context.Background()
	q := r.app.Queue()
	q.PushDaily()
	q.PushButton(buttons.Next)
	q.PushArrival("c.png", "b.png")

	req, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, scheduler.NewArrival, req.Kind)
	require.NoError(t, r.app.handle(ctx, req))
	assert.Equal(t, "c.png", r.app.state.Current)
	assert.Equal(t, []string{"b.png"}, r.app.state.Queued)

	req, _ = q.Pop()
	require.Equal(t, scheduler.Button, req.Kind)
	require.NoError(t, r.app.handle(ctx, req))
	assert.Equal(t, "a.png", r.app.state.Current, "next wraps past the end")

	req, _ = q.Pop()
	require.Equal(t, scheduler.Daily, req.Kind)
	require.NoError(t, r.app.handle(ctx, req))
	assert.Equal(t, "b.png", r.app.state.Current, "queued upload goes first")
	assert.Empty(t, r.app.state.Queued)
	assert.Equal(t, 3, r.disp.count())
}

func TestShow_SkipsUndecodablePhotos(t *testing.T) {
	r := newRig(t, nil)
	r.broken(t, "a.jpg")
	r.photo(t, "b.png", red)
	r.photo(t, "c.png", red)
	r.app.selector = history.Selector{IntN: func(int) int { return 0 }}

	require.NoError(t, r.app.show(context.Background(), target{dir: history.RandomUnseen}))
	assert.Equal(t, "b.png", r.app.state.Current)
	assert.NotContains(t, r.app.state.Shown, "a.jpg")
	assert.Equal(t, 1, r.disp.count())
}

func TestShow_BrokenArrivalFallsBack(t *testing.T) {
	r := newRig(t, nil)
	r.broken(t, "new.jpg")
	r.photo(t, "old.png", red)

	require.NoError(t, r.app.arrival(context.Background(), "new.jpg", nil))
	assert.Equal(t, "old.png", r.app.state.Current)
}

func TestShow_NothingDecodable(t *testing.T) {
	r := newRig(t, nil)
	r.broken(t, "a.jpg")
	r.broken(t, "b.jpg")

	err := r.app.show(context.Background(), target{dir: history.RandomUnseen})
	assert.ErrorIs(t, err, ErrNothingShown)
	assert.Zero(t, r.disp.count())
}

func TestRotate_TransientFailureNotRecorded(t *testing.T) {
	r := newRig(t, nil)
	r.photo(t, "a.png", red)
	r.disp.errs = []error{fmt.Errorf("%w: busy timeout", display.ErrTransient)}

	err := r.app.rotate(context.Background())
	assert.ErrorIs(t, err, display.ErrTransient)
	assert.Empty(t, r.app.state.Current)
	assert.Empty(t, r.app.state.Shown)
	assert.True(t, r.app.state.LastChange.IsZero())
	assert.Equal(t, r.now.Add(DAILY_RETRY_DELAY), r.app.dailyRetryAt)

	// The minute tick holds the retry back.
	require.NoError(t, r.app.tick(context.Background()))
	assert.Zero(t, r.app.Queue().Len())
	r.now = r.now.Add(DAILY_RETRY_DELAY)
	require.NoError(t, r.app.tick(context.Background()))
	assert.Equal(t, 1, r.app.Queue().Len())
}

func TestButtons_ModeChangeRerendersCurrent(t *testing.T) {
	r := newRig(t, nil)
	r.photo(t, "a.png", red)
	r.photo(t, "b.png", red)
	ctx := context.Background()

	require.NoError(t, r.app.show(ctx, target{dir: history.NewArrival, id: "b.png"}))
	require.Equal(t, render.SpectraPalette, r.app.Mode())

	require.NoError(t, r.app.button(ctx, buttons.CycleMode))
	assert.Equal(t, render.WarmthBoost, r.app.Mode())
	assert.Equal(t, render.WarmthBoost, r.disp.last().Mode)
	assert.False(t, r.disp.last().Quantized)
	assert.Equal(t, "b.png", r.app.state.Current)
	assert.Equal(t, 1, r.app.state.Photos["b.png"].ShowCount)

	saved, err := prefs.NewStore(r.prefs, render.Pimoroni).Load()
	require.NoError(t, err)
	assert.Equal(t, render.WarmthBoost, saved)

	require.NoError(t, r.app.button(ctx, buttons.CycleMode))
	assert.Equal(t, render.Pimoroni, r.app.Mode(), "cycle wraps")

	require.NoError(t, r.app.button(ctx, buttons.ResetMode))
	assert.Equal(t, render.First(), r.app.Mode())
	assert.Equal(t, "pimoroni", r.app.Status().Mode)
	assert.Equal(t, 4, r.disp.count())
}

func TestButtons_PreviousSteps(t *testing.T) {
	r := newRig(t, nil)
	r.photo(t, "a.png", red)
	r.photo(t, "b.png", red)
	ctx := context.Background()

	require.NoError(t, r.app.show(ctx, target{dir: history.NewArrival, id: "a.png"}))
	require.NoError(t, r.app.button(ctx, buttons.Previous))
	assert.Equal(t, "b.png", r.app.state.Current)
}

func TestTick_MaintenanceShowsWelcomeOnce(t *testing.T) {
	r := newRig(t, nil)
	r.photo(t, "a.png", red)
	ctx := context.Background()

	require.NoError(t, r.app.startup(ctx))
	require.Equal(t, 1, r.disp.count())
	require.NoError(t, os.Remove(filepath.Join(r.dir, "a.png")))

	r.now = r.now.Add(2 * time.Hour)
	require.NoError(t, r.app.tick(ctx))
	require.Equal(t, 2, r.disp.count())
	assert.Equal(t, welcome.SATURATION, r.disp.last().Saturation)

	r.now = r.now.Add(2 * time.Hour)
	require.NoError(t, r.app.tick(ctx))
	assert.Equal(t, 2, r.disp.count(), "welcome is not refreshed again")
}

func TestTick_CleanupKeepsCurrent(t *testing.T) {
	r := newRig(t, func(cfg *Config) { cfg.MaxPhotos = 2 })
	for i, name := range []string{"a.png", "b.png", "c.png"} {
		r.photo(t, name, red)
		mt := r.now.Add(time.Duration(i-10) * time.Hour)
		require.NoError(t, os.Chtimes(filepath.Join(r.dir, name), mt, mt))
	}
	ctx := context.Background()
	require.NoError(t, r.app.show(ctx, target{dir: history.NewArrival, id: "a.png"}))

	require.NoError(t, r.app.tick(ctx))
	assert.FileExists(t, filepath.Join(r.dir, "a.png"))
	assert.NoFileExists(t, filepath.Join(r.dir, "b.png"))
	assert.FileExists(t, filepath.Join(r.dir, "c.png"))
	assert.NotContains(t, r.app.state.Photos, "b.png")
	assert.Equal(t, 2, r.app.Status().Photos)
}

func TestTick_FirstCleanupWaitsAfterStartup(t *testing.T) {
	r := newRig(t, func(cfg *Config) { cfg.MaxPhotos = 2 })
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		r.photo(t, name, red)
	}
	ctx := context.Background()
	require.NoError(t, r.app.startup(ctx))

	r.now = r.now.Add(time.Minute)
	require.NoError(t, r.app.tick(ctx))
	assert.Equal(t, 3, r.app.Status().Photos, "no cleanup right after startup")

	r.now = r.now.Add(6 * time.Hour)
	require.NoError(t, r.app.tick(ctx))
	assert.Equal(t, 2, r.app.Status().Photos)
	assert.FileExists(t, filepath.Join(r.dir, r.app.Status().Photo))
}

func TestRun_ShowsNewUpload(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)

	r := newRig(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.app.Run(ctx) }()

	require.Eventually(t, func() bool { return r.disp.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond) // let the watch start
	r.photo(t, "upload.png", red)

	require.Eventually(t, func() bool {
		return r.app.Status().Photo == "upload.png"
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 2, r.disp.count())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRun_FatalDisplayErrorStops(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)

	r := newRig(t, nil)
	r.disp.errs = []error{fmt.Errorf("%w: open: no such device", display.ErrFatal)}

	err := r.app.Run(context.Background())
	assert.ErrorIs(t, err, display.ErrFatal)
}
