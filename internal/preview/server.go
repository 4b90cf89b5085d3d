// Package preview serves the last frame sent to the panel over HTTP so the
// frame can be checked from a browser without walking up to it.
package preview

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Status is the JSON document served at /status.
type Status struct {
	Photo            string    `json:"photo,omitempty"`
	Mode             string    `json:"mode"`
	Display          string    `json:"display"`
	State            string    `json:"state"`
	Photos           int       `json:"photos"`
	Queued           int       `json:"queued"`
	ButtonsAvailable bool      `json:"buttons_available"`
	ShownAt          time.Time `json:"shown_at,omitempty"`
}

// Source supplies what the server shows.
type Source interface {
	// LastFrame returns the image last sent to the panel, or nil.
	LastFrame() image.Image
	Status() Status
}

type Server struct {
	app *fiber.App
	src Source
	log *slog.Logger
}

func New(src Source, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		app: fiber.New(fiber.Config{DisableStartupMessage: true}),
		src: src,
		log: log,
	}
	s.app.Get("/", s.index)
	s.app.Get("/frame", s.frame)
	s.app.Get("/status", s.status)
	return s
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App { return s.app }

// Run listens on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting preview server", "addr", addr)
		errCh <- s.app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Server) index(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.SendString(indexHTML)
}

func (s *Server) frame(c *fiber.Ctx) error {
	img := s.src.LastFrame()
	if img == nil {
		return c.Status(fiber.StatusServiceUnavailable).SendString("No frame available")
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		s.log.Error("encode preview frame", "error", err)
		return c.Status(fiber.StatusInternalServerError).SendString("Failed to encode image")
	}

	c.Set(fiber.HeaderContentType, "image/png")
	c.Set(fiber.HeaderContentLength, strconv.Itoa(buf.Len()))
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Send(buf.Bytes())
}

func (s *Server) status(c *fiber.Ctx) error {
	return c.JSON(s.src.Status())
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Photo Frame</title>
<style>
body { font-family: sans-serif; background: #222; color: #eee; text-align: center; }
img { max-width: 95vw; border: 8px solid #fff; margin-top: 1em; }
pre { display: inline-block; text-align: left; }
</style>
</head>
<body>
<h1>Photo Frame</h1>
<img id="frame" src="/frame" alt="no frame yet">
<pre id="status"></pre>
<script>
async function refresh() {
  const r = await fetch('/status');
  document.getElementById('status').textContent = JSON.stringify(await r.json(), null, 2);
  document.getElementById('frame').src = '/frame?t=' + Date.now();
}
refresh();
setInterval(refresh, 30000);
</script>
</body>
</html>
`
