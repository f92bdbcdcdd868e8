package services

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"
	"os"
	"strings"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"

	"github.com/castforge/castforge-backend/internal/logger"
)

// CoverComposer overlays an episode title on a source image and writes the
// result as a JPEG cover.
type CoverComposer interface {
	Compose(sourcePath, outputPath, title string) error
}

type coverComposer struct {
	log      *logger.Logger
	fontPath string
}

func NewCoverComposer(fontPath string, log *logger.Logger) CoverComposer {
	return &coverComposer{
		log:      log.With("service", "CoverComposer"),
		fontPath: fontPath,
	}
}

func (c *coverComposer) Compose(sourcePath, outputPath, title string) error {
	f, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("open cover source: %w", err)
	}
	img, _, err := image.Decode(f)
	_ = f.Close()
	if err != nil {
		return fmt.Errorf("decode cover source: %w", err)
	}

	title = strings.TrimSpace(title)
	if title == "" {
		return writeJPEG(outputPath, img)
	}

	b := img.Bounds()
	width := b.Dx()
	height := b.Dy()

	dc := gg.NewContext(width, height)
	dc.DrawImage(img, 0, 0)

	// Dark gradient over the lower half so the title stays readable.
	gradientHeight := height / 2
	for y := 0; y < gradientHeight; y++ {
		alpha := uint8(200 * (1 - float64(y)/float64(gradientHeight)))
		dc.SetColor(color.NRGBA{A: alpha})
		row := float64(height - gradientHeight + y)
		dc.DrawLine(0, row, float64(width), row)
		dc.Stroke()
	}

	fontSize := float64(width) / 15
	if fontSize < 48 {
		fontSize = 48
	}
	face, err := c.loadFace(fontSize)
	if err != nil {
		c.log.Warn("Cover font unavailable, skipping title overlay", "error", err.Error())
		return writeJPEG(outputPath, dc.Image())
	}
	dc.SetFontFace(face)

	tw, th := dc.MeasureString(title)
	x := (float64(width) - tw) / 2
	y := float64(height) - float64(height)/4 + th/2

	shadow := 3.0
	dc.SetColor(color.NRGBA{A: 200})
	dc.DrawString(title, x+shadow, y+shadow)

	dc.SetColor(color.White)
	dc.DrawString(title, x, y)

	return writeJPEG(outputPath, dc.Image())
}

func (c *coverComposer) loadFace(size float64) (font.Face, error) {
	if c.fontPath == "" {
		return nil, fmt.Errorf("no font path configured")
	}
	raw, err := os.ReadFile(c.fontPath)
	if err != nil {
		return nil, fmt.Errorf("read font file: %w", err)
	}
	parsed, err := truetype.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse TTF: %w", err)
	}
	return truetype.NewFace(parsed, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	}), nil
}

func writeJPEG(path string, img image.Image) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create cover output: %w", err)
	}
	defer out.Close()
	if err := jpeg.Encode(out, img, &jpeg.Options{Quality: 95}); err != nil {
		return fmt.Errorf("encode cover jpeg: %w", err)
	}
	return nil
}
