// Package frame is the photo frame runtime: it owns the display worker and
// turns watcher, button and timer events into rendered photos on the panel.
package frame

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"sync"
	"time"

	"github.com/photonicat/inky_photo_frame/internal/buttons"
	"github.com/photonicat/inky_photo_frame/internal/display"
	"github.com/photonicat/inky_photo_frame/internal/history"
	"github.com/photonicat/inky_photo_frame/internal/netinfo"
	"github.com/photonicat/inky_photo_frame/internal/prefs"
	"github.com/photonicat/inky_photo_frame/internal/render"
	"github.com/photonicat/inky_photo_frame/internal/scheduler"
)

const (
	TICK_INTERVAL     = time.Minute
	DAILY_RETRY_DELAY = 15 * time.Minute
)

// ErrNothingShown means every candidate photo failed to decode.
var ErrNothingShown = errors.New("no displayable photo")

// Display is the panel as seen by the worker. *display.Gateway implements it.
type Display interface {
	Display(ctx context.Context, frame *render.Frame) error
	Bounds() image.Rectangle
	Palette() color.Palette
	Busy() bool
	Name() string
	State() display.State
}

// Config holds the runtime settings of the frame.
type Config struct {
	PhotosDir           string
	ChangeHour          int
	MaxPhotos           int
	CleanupInterval     time.Duration
	MaintenanceInterval time.Duration
	UploadSettle        time.Duration
	WelcomeOnStart      bool
	ProbeHost           string
	Profiles            map[render.ColorMode]render.Profile
}

// Deps are the collaborators of App. Buttons and Pinger may be nil.
type Deps struct {
	Display Display
	History *history.Store
	Prefs   *prefs.Store
	Buttons *buttons.Controller
	Pinger  netinfo.Pinger
	Log     *slog.Logger
}

// App is the display worker. Only Run's goroutine touches the history state.
type App struct {
	cfg      Config
	disp     Display
	store    *history.Store
	prefs    *prefs.Store
	buttons  *buttons.Controller
	pinger   netinfo.Pinger
	log      *slog.Logger
	queue    *scheduler.Queue
	selector history.Selector
	now      func() time.Time

	state *history.State
	mode  render.ColorMode

	welcomeShown    bool
	lastCleanup     time.Time
	lastMaintenance time.Time
	dailyRetryAt    time.Time

	mu   sync.RWMutex
	snap snapshot
}

type snapshot struct {
	img     image.Image
	photo   string
	mode    render.ColorMode
	shownAt time.Time
	photos  int
	queued  int
}

// New loads the persisted history and color mode. Unreadable state is logged
// and replaced so the frame still starts.
func New(cfg Config, deps Deps) (*App, error) {
	if deps.Display == nil || deps.History == nil || deps.Prefs == nil {
		return nil, errors.New("frame: display, history and prefs are required")
	}
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = time.Hour
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 6 * time.Hour
	}

	st, err := deps.History.Load()
	if err != nil {
		log.Error("history unreadable, starting fresh", "path", deps.History.Path(), "error", err)
		st = history.NewState()
	}
	mode, err := deps.Prefs.Load()
	if err != nil {
		log.Warn("color mode unreadable, using default", "mode", mode.String(), "error", err)
	}

	a := &App{
		cfg:     cfg,
		disp:    deps.Display,
		store:   deps.History,
		prefs:   deps.Prefs,
		buttons: deps.Buttons,
		pinger:  deps.Pinger,
		log:     log,
		queue:   scheduler.NewQueue(),
		now:     time.Now,
		state:   st,
		mode:    mode,
	}
	a.snap.mode = mode
	log.Info("photo frame loaded",
		"photos_dir", cfg.PhotosDir,
		"mode", mode.String(),
		"current", st.Current,
		"shown", len(st.Shown),
		"buttons", a.ButtonsAvailable())
	return a, nil
}

// Queue exposes the request queue the producers feed.
func (a *App) Queue() *scheduler.Queue { return a.queue }

// Mode returns the active color mode.
func (a *App) Mode() render.ColorMode { return a.mode }

// ButtonsAvailable reports whether button input was set up at startup.
func (a *App) ButtonsAvailable() bool {
	return a.buttons != nil && a.buttons.Available()
}

// Run starts the producers, shows the startup frame and serves requests until
// ctx is done. It returns an error only for fatal display failures.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	watcher := scheduler.NewWatcher(a.cfg.PhotosDir, a.cfg.UploadSettle, func(last string, others []string) {
		a.queue.PushArrival(last, others...)
	}, a.log)
	wg.Add(1)
	go func() {
		defer wg.Done()
		watcher.Run(ctx)
	}()
	if a.ButtonsAvailable() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.buttons.Run(ctx, a.queue.PushButton); err != nil {
				a.log.Error("button input stopped", "error", err)
			}
		}()
	}
	defer wg.Wait()
	defer cancel()

	if err := a.startup(ctx); isFatal(err) {
		return err
	}

	ticker := time.NewTicker(TICK_INTERVAL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.log.Info("photo frame stopping")
			return nil
		case <-a.queue.Ready():
			if err := a.drain(ctx); isFatal(err) {
				return err
			}
		case <-ticker.C:
			if err := a.tick(ctx); isFatal(err) {
				return err
			}
		}
	}
}

func isFatal(err error) bool {
	return errors.Is(err, display.ErrFatal)
}

// drain serves every pending request in priority order.
func (a *App) drain(ctx context.Context) error {
	for ctx.Err() == nil {
		r, ok := a.queue.Pop()
		if !ok {
			return nil
		}
		if err := a.handle(ctx, r); isFatal(err) {
			return err
		}
	}
	return nil
}

// startup shows the first frame: welcome when there are no photos, the daily
// rotation when it is due, otherwise the photo that was on screen.
func (a *App) startup(ctx context.Context) error {
	p, err := a.scan()
	if err != nil {
		a.log.Error("scan photos failed", "error", err)
		return err
	}
	a.lastMaintenance = a.now()
	a.lastCleanup = a.lastMaintenance
	log := a.log.With("trigger", "startup")

	switch {
	case p.Len() == 0 || a.cfg.WelcomeOnStart:
		return logResult(log, a.showWelcome(ctx))
	case a.state.ShouldRotate(a.now(), a.cfg.ChangeHour):
		return logResult(log, a.rotate(ctx))
	case p.Contains(a.state.Current):
		return logResult(log, a.redisplay(ctx))
	default:
		return logResult(log, a.show(ctx, target{dir: history.RandomUnseen}))
	}
}

// handle serves one request.
func (a *App) handle(ctx context.Context, r scheduler.Request) error {
	log := a.log.With("request", r.ID, "trigger", r.Kind.String())
	log.Debug("request started", "waited", a.now().Sub(r.At).Round(time.Millisecond))

	var err error
	switch r.Kind {
	case scheduler.NewArrival:
		err = a.arrival(ctx, r.Photo, r.Queued)
	case scheduler.Button:
		err = a.button(ctx, r.Action)
	case scheduler.Daily:
		err = a.rotate(ctx)
	}
	return logResult(log, err)
}

func logResult(log *slog.Logger, err error) error {
	switch {
	case err == nil:
	case isFatal(err):
		log.Error("display failed permanently", "error", err)
	case errors.Is(err, display.ErrTransient):
		log.Error("display failed, photo not marked shown", "error", err)
	default:
		log.Error("display cycle failed", "error", err)
	}
	return err
}

func (a *App) arrival(ctx context.Context, photo string, queued []string) error {
	if len(queued) > 0 {
		p, err := a.scan()
		if err != nil {
			return err
		}
		now := a.now()
		for _, id := range queued {
			ph, ok := p.Get(id)
			if !ok {
				continue
			}
			if a.state.Enqueue(id, ph.Size, now) {
				a.log.Info("photo queued for rotation", "photo", id)
			}
		}
		a.save()
	}
	a.log.Info("new photo arrived", "photo", photo, "queued", len(queued))
	return a.show(ctx, target{dir: history.NewArrival, id: photo})
}

func (a *App) button(ctx context.Context, action buttons.Action) error {
	switch action {
	case buttons.Next:
		return a.show(ctx, target{dir: history.Forward})
	case buttons.Previous:
		return a.show(ctx, target{dir: history.Backward})
	case buttons.CycleMode:
		return a.setMode(ctx, a.mode.Next())
	case buttons.ResetMode:
		return a.setMode(ctx, render.First())
	}
	return fmt.Errorf("unknown button action %d", int(action))
}

// setMode persists mode and re-renders the photo on screen with it.
func (a *App) setMode(ctx context.Context, mode render.ColorMode) error {
	prev := a.mode
	a.mode = mode
	if err := a.prefs.Save(mode); err != nil {
		a.log.Error("save color mode failed", "error", err)
	}
	a.log.Info("color mode changed", "from", prev.String(), "to", mode.String())
	a.setSnapshot(func(s *snapshot) { s.mode = mode })
	return a.redisplay(ctx)
}

// rotate performs the scheduled daily change.
func (a *App) rotate(ctx context.Context) error {
	err := a.show(ctx, target{dir: history.RandomUnseen})
	switch {
	case err == nil, errors.Is(err, history.ErrEmptyPool):
		a.state.MarkRotated(a.now())
		a.save()
		return nil
	default:
		a.dailyRetryAt = a.now().Add(DAILY_RETRY_DELAY)
		return err
	}
}

// redisplay renders the photo on screen again, or picks one when it is gone.
func (a *App) redisplay(ctx context.Context) error {
	if a.state.Current == "" {
		return a.show(ctx, target{dir: history.RandomUnseen})
	}
	return a.show(ctx, target{dir: history.NewArrival, id: a.state.Current, redisplay: true})
}

// tick runs the minute checks: daily rotation, maintenance and cleanup.
func (a *App) tick(ctx context.Context) error {
	now := a.now()
	if a.state.ShouldRotate(now, a.cfg.ChangeHour) && !now.Before(a.dailyRetryAt) {
		a.queue.PushDaily()
	}
	if now.Sub(a.lastMaintenance) >= a.cfg.MaintenanceInterval {
		a.lastMaintenance = now
		if err := a.maintain(ctx); err != nil {
			return err
		}
	}
	if now.Sub(a.lastCleanup) >= a.cfg.CleanupInterval {
		a.lastCleanup = now
		a.cleanup()
	}
	return nil
}

// maintain reconciles the history with the directory and falls back to the
// welcome frame once the last photo is gone.
func (a *App) maintain(ctx context.Context) error {
	p, err := a.scan()
	if err != nil {
		a.log.Error("maintenance scan failed", "error", err)
		return nil
	}
	a.log.Debug("maintenance", "photos", p.Len(), "shown", len(a.state.Shown), "queued", len(a.state.Queued))
	if p.Len() == 0 && !a.welcomeShown {
		return logResult(a.log.With("trigger", "maintenance"), a.showWelcome(ctx))
	}
	return nil
}

func (a *App) cleanup() {
	p, err := a.scan()
	if err != nil {
		a.log.Error("cleanup scan failed", "error", err)
		return
	}
	report, err := a.state.Cleanup(p, a.cfg.MaxPhotos, p.Remove)
	if err != nil {
		a.log.Error("cleanup incomplete", "error", err)
	}
	if len(report.Deleted) > 0 {
		a.log.Info("storage cleanup",
			"deleted", len(report.Deleted),
			"bytes_reclaimed", report.BytesReclaimed,
			"remaining", report.Remaining,
			"max_photos", a.cfg.MaxPhotos)
	}
	a.save()
	a.setSnapshot(func(s *snapshot) { s.photos = report.Remaining })
}

func (a *App) save() {
	if err := a.store.Save(a.state); err != nil {
		a.log.Error("save history failed", "path", a.store.Path(), "error", err)
	}
}
