package frame

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/photonicat/inky_photo_frame/internal/history"
	"github.com/photonicat/inky_photo_frame/internal/pool"
	"github.com/photonicat/inky_photo_frame/internal/preview"
	"github.com/photonicat/inky_photo_frame/internal/render"
	"github.com/photonicat/inky_photo_frame/internal/welcome"
)

// target says which photo a display cycle is after.
type target struct {
	dir history.Direction
	// id is the photo for history.NewArrival.
	id string
	// redisplay re-renders the photo on screen without counting it as shown.
	redisplay bool
}

// scan lists the photo directory and reconciles the history with it.
func (a *App) scan() (*pool.Pool, error) {
	p, err := pool.Scan(a.cfg.PhotosDir)
	if err != nil {
		return nil, err
	}
	if added, pruned := a.state.Refresh(p); added+pruned > 0 {
		a.log.Debug("history reconciled", "added", added, "pruned", pruned)
		a.save()
	}
	queued := len(a.state.Queued)
	a.setSnapshot(func(s *snapshot) {
		s.photos = p.Len()
		s.queued = queued
	})
	return p, nil
}

func (a *App) renderOptions() render.Options {
	b := a.disp.Bounds()
	return render.Options{
		Width:    b.Dx(),
		Height:   b.Dy(),
		Mode:     a.mode,
		Palette:  a.disp.Palette(),
		Profiles: a.cfg.Profiles,
	}
}

// show selects, renders and displays one photo. Photos that fail to decode
// are skipped in favour of the next candidate until the pool is exhausted.
// An empty pool shows the welcome frame instead.
func (a *App) show(ctx context.Context, t target) error {
	p, err := a.scan()
	if err != nil {
		return err
	}
	if p.Len() == 0 {
		return a.showWelcome(ctx)
	}
	if t.dir == history.NewArrival && !p.Contains(t.id) {
		a.log.Warn("photo is gone, picking another", "photo", t.id)
		t = target{dir: history.RandomUnseen}
	}

	opts := a.renderOptions()
	for candidates := p; candidates.Len() > 0; {
		sel, err := a.selector.Select(a.state, candidates, t.dir, t.id)
		if err != nil {
			return err
		}
		frame, err := render.RenderFile(candidates.Path(sel.ID), opts)
		var decodeErr *render.DecodeError
		if errors.As(err, &decodeErr) {
			a.log.Warn("skipping undecodable photo", "photo", sel.ID, "error", err)
			candidates = without(candidates, sel.ID)
			if t.dir == history.NewArrival {
				t = target{dir: history.RandomUnseen}
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("render %s: %w", sel.ID, err)
		}

		if err := a.disp.Display(ctx, frame); err != nil {
			return err
		}
		a.displayed(p, sel, t, frame)
		return nil
	}
	return ErrNothingShown
}

// displayed records a successful display cycle.
func (a *App) displayed(p *pool.Pool, sel history.Selection, t target, frame *render.Frame) {
	now := a.now()
	if !t.redisplay {
		ph, _ := p.Get(sel.ID)
		a.state.Record(sel.ID, ph.Size, now)
		a.save()
	}
	a.welcomeShown = false
	a.log.Info("photo displayed",
		"photo", sel.ID,
		"direction", t.dir.String(),
		"redisplay", t.redisplay,
		"cycle_reset", sel.CycleReset,
		"from_queue", sel.FromQueue,
		"mode", frame.Mode.String(),
		"shown", len(a.state.Shown),
		"pool", p.Len())

	queued := len(a.state.Queued)
	a.setSnapshot(func(s *snapshot) {
		s.img = frame.Image
		s.photo = sel.ID
		s.shownAt = now
		s.queued = queued
	})
}

func (a *App) showWelcome(ctx context.Context) error {
	b := a.disp.Bounds()
	info := welcome.Gather(ctx, a.cfg.PhotosDir, a.cfg.ProbeHost, a.pinger)
	frame, err := welcome.Render(b.Dx(), b.Dy(), info)
	if err != nil {
		return fmt.Errorf("render welcome: %w", err)
	}
	if err := a.disp.Display(ctx, frame); err != nil {
		return err
	}
	a.welcomeShown = true
	a.log.Info("welcome frame displayed", "ip", info.IP, "online", info.Online)

	now := a.now()
	a.setSnapshot(func(s *snapshot) {
		s.img = frame.Image
		s.photo = ""
		s.shownAt = now
	})
	return nil
}

// without returns p minus id.
func without(p *pool.Pool, id string) *pool.Pool {
	photos := make([]pool.Photo, 0, p.Len())
	for _, ph := range p.Photos {
		if ph.ID != id {
			photos = append(photos, ph)
		}
	}
	return pool.New(p.Dir, photos)
}

func (a *App) setSnapshot(update func(s *snapshot)) {
	a.mu.Lock()
	update(&a.snap)
	a.mu.Unlock()
}

// LastFrame returns the image last sent to the panel.
func (a *App) LastFrame() image.Image {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snap.img
}

// Status describes the frame for the preview server.
func (a *App) Status() preview.Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return preview.Status{
		Photo:            a.snap.photo,
		Mode:             a.snap.mode.String(),
		Display:          a.disp.Name(),
		State:            a.disp.State().String(),
		Photos:           a.snap.photos,
		Queued:           a.snap.queued,
		ButtonsAvailable: a.ButtonsAvailable(),
		ShownAt:          a.snap.shownAt,
	}
}
