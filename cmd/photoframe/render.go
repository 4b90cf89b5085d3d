package main

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/photonicat/inky_photo_frame/internal/config"
	"github.com/photonicat/inky_photo_frame/internal/epd"
	"github.com/photonicat/inky_photo_frame/internal/fsutil"
	"github.com/photonicat/inky_photo_frame/internal/render"
)

type renderFlags struct {
	out   string
	mode  string
	size  string
	model string
}

func newRenderCmd(configPath *string) *cobra.Command {
	var f renderFlags

	cmd := &cobra.Command{
		Use:   "render <photo>",
		Short: "Render a photo to PNG as the panel would show it",
		Long: `Render a photo through the color pipeline without touching the hardware.

Modes that leave quantization to the panel are dithered here with the
driver palette, so the PNG matches what the panel would show.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			img, err := renderPreview(args[0], f, cfg)
			if err != nil {
				return err
			}
			if err := writePNG(f.out, img); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%dx%d)\n", f.out, img.Bounds().Dx(), img.Bounds().Dy())
			return nil
		},
	}
	cmd.Flags().StringVarP(&f.out, "output", "o", "out.png", "output PNG path")
	cmd.Flags().StringVar(&f.mode, "mode", "", "color mode: pimoroni, spectra_palette or warmth_boost (default from config)")
	cmd.Flags().StringVar(&f.size, "size", "", "target size WxH (default from model)")
	cmd.Flags().StringVar(&f.model, "model", "e673", "panel model whose palette to use")
	return cmd
}

func renderPreview(path string, f renderFlags, cfg config.Config) (image.Image, error) {
	model, err := epd.ModelByName(f.model)
	if err != nil {
		return nil, err
	}
	modeName := f.mode
	if modeName == "" {
		modeName = cfg.DefaultColorMode
	}
	mode, err := render.ParseColorMode(modeName)
	if err != nil {
		return nil, err
	}
	w, h := model.Width, model.Height
	if f.size != "" {
		if w, h, err = parseSize(f.size); err != nil {
			return nil, err
		}
	}
	profiles, err := modeProfiles(cfg.Modes)
	if err != nil {
		return nil, err
	}

	frame, err := render.RenderFile(path, render.Options{
		Width:    w,
		Height:   h,
		Mode:     mode,
		Palette:  model.Calibrated,
		Profiles: profiles,
	})
	if err != nil {
		return nil, err
	}
	if frame.Quantized {
		return frame.Image, nil
	}
	return render.Quantize(frame.Image, model.Blend(frame.Saturation)), nil
}

func parseSize(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("size %q: want WxH", s)
	}
	w, err := strconv.Atoi(ws)
	if err != nil {
		return 0, 0, fmt.Errorf("size %q: %w", s, err)
	}
	h, err := strconv.Atoi(hs)
	if err != nil {
		return 0, 0, fmt.Errorf("size %q: %w", s, err)
	}
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("size %q must be positive", s)
	}
	return w, h, nil
}

func writePNG(path string, img image.Image) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, buf.Bytes()); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
