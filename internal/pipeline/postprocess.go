package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"time"

	"github.com/disintegration/imaging"
	"github.com/jung-kurt/gofpdf"
	"github.com/rs/zerolog"
)

// A4 in millimetres and in PDF points.
const (
	a4WidthMM    = 210.0
	a4HeightMM   = 297.0
	pdfMarginPt  = 36.0
	pdfFooterYPt = 20.0
)

// PostProcessor normalizes a selected candidate and exports the three print
// artifacts. All steps are deterministic and local; any failure here is fatal
// for the run because there is no further image to fall back to.
type PostProcessor interface {
	Process(ctx context.Context, imageData []byte, runID string, metadata map[string]any) (*Artifacts, map[string]any, error)
}

// PrintPostProcessorOptions configures the export geometry.
type PrintPostProcessorOptions struct {
	OutputDPI      int
	ThumbnailMaxPx int
	Logger         zerolog.Logger
}

// PrintPostProcessor implements the line-art cleanup and export chain.
type PrintPostProcessor struct {
	dpi      int
	pagePxW  int
	pagePxH  int
	thumbMax int
	logger   zerolog.Logger
}

// NewPrintPostProcessor derives the target pixel grid from the configured
// resolution (A4 at 300 DPI is 2480x3508).
func NewPrintPostProcessor(opts PrintPostProcessorOptions) *PrintPostProcessor {
	dpi := opts.OutputDPI
	if dpi <= 0 {
		dpi = 300
	}
	thumbMax := opts.ThumbnailMaxPx
	if thumbMax <= 0 {
		thumbMax = 400
	}
	return &PrintPostProcessor{
		dpi:      dpi,
		pagePxW:  int(math.Round(a4WidthMM / 25.4 * float64(dpi))),
		pagePxH:  int(math.Round(a4HeightMM / 25.4 * float64(dpi))),
		thumbMax: thumbMax,
		logger:   opts.Logger,
	}
}

// Process runs the full chain: flatten onto white, contrast boost, sharpen,
// auto-level, longest-edge fit onto the print grid, then PNG, PDF and
// thumbnail export. The returned metadata is a merged copy; the input map is
// not mutated.
func (p *PrintPostProcessor) Process(ctx context.Context, imageData []byte, runID string, metadata map[string]any) (*Artifacts, map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	decoded, err := imaging.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, nil, fmt.Errorf("postprocess: decode image: %w", err)
	}

	img := flattenToWhite(decoded)
	img = imaging.AdjustContrast(img, 20)
	img = imaging.Sharpen(img, 1.0)
	img = autoLevels(img, 0.005)

	printW, printH := fitDimensions(img.Bounds().Dx(), img.Bounds().Dy(), p.pagePxW, p.pagePxH)
	printImg := imaging.Resize(img, printW, printH, imaging.Lanczos)

	printPNG, err := encodePNG(printImg)
	if err != nil {
		return nil, nil, fmt.Errorf("postprocess: encode print png: %w", err)
	}
	printPNG = withDPI(printPNG, p.dpi)

	pdfBytes, err := p.exportPDF(printPNG, printW, printH)
	if err != nil {
		return nil, nil, fmt.Errorf("postprocess: export pdf: %w", err)
	}

	thumb := imaging.Fit(img, p.thumbMax, p.thumbMax, imaging.Lanczos)
	thumbPNG, err := encodePNG(thumb)
	if err != nil {
		return nil, nil, fmt.Errorf("postprocess: encode thumbnail: %w", err)
	}

	merged := make(map[string]any, len(metadata)+8)
	for k, v := range metadata {
		merged[k] = v
	}
	merged["final_png_width"] = printW
	merged["final_png_height"] = printH
	merged["final_png_dpi"] = p.dpi
	merged["final_png_size_bytes"] = len(printPNG)
	merged["final_pdf_size_bytes"] = len(pdfBytes)
	merged["thumbnail_width"] = thumb.Bounds().Dx()
	merged["thumbnail_height"] = thumb.Bounds().Dy()
	merged["processed_at"] = time.Now().UTC().Format(time.RFC3339)

	p.logger.Info().
		Str("run_id", runID).
		Int("png_bytes", len(printPNG)).
		Int("pdf_bytes", len(pdfBytes)).
		Msg("pipeline: post-production finished")

	return &Artifacts{PrintPNG: printPNG, PDF: pdfBytes, Thumbnail: thumbPNG}, merged, nil
}

func (p *PrintPostProcessor) exportPDF(pngData []byte, imgW, imgH int) ([]byte, error) {
	pdf := gofpdf.New("P", "pt", "A4", "")
	pdf.AddPage()

	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("artwork", opts, bytes.NewReader(pngData))

	pageW, pageH := pdf.GetPageSize()
	availW := pageW - 2*pdfMarginPt
	availH := pageH - 2*pdfMarginPt
	drawW, drawH := fitWithin(float64(imgW), float64(imgH), availW, availH)
	x := (pageW - drawW) / 2
	y := (pageH - drawH) / 2
	pdf.ImageOptions("artwork", x, y, drawW, drawH, false, opts, 0, "")

	pdf.SetFont("Helvetica", "", 8)
	pdf.SetTextColor(128, 128, 128)
	footer := copyrightFooter
	pdf.Text((pageW-pdf.GetStringWidth(footer))/2, pageH-pdfFooterYPt, footer)

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// flattenToWhite composites any transparency onto an opaque white canvas.
func flattenToWhite(src image.Image) *image.NRGBA {
	bounds := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Over)
	return dst
}

// autoLevels stretches the luminance histogram to full range, discarding the
// given fraction of outliers at each end. Tuned for line art: it pushes the
// paper back to white and the strokes back to black.
func autoLevels(img *image.NRGBA, cutoff float64) *image.NRGBA {
	var histogram [256]int
	total := 0
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := img.NRGBAAt(x, y)
			lum := (299*int(c.R) + 587*int(c.G) + 114*int(c.B)) / 1000
			histogram[lum]++
			total++
		}
	}
	if total == 0 {
		return img
	}

	discard := int(float64(total) * cutoff)
	lo, hi := 0, 255
	for count := 0; lo < 255; lo++ {
		count += histogram[lo]
		if count > discard {
			break
		}
	}
	for count := 0; hi > 0; hi-- {
		count += histogram[hi]
		if count > discard {
			break
		}
	}
	if hi <= lo {
		return img
	}

	var lut [256]uint8
	scale := 255.0 / float64(hi-lo)
	for i := range lut {
		switch {
		case i <= lo:
			lut[i] = 0
		case i >= hi:
			lut[i] = 255
		default:
			lut[i] = uint8(math.Round(float64(i-lo) * scale))
		}
	}

	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{R: lut[c.R], G: lut[c.G], B: lut[c.B], A: c.A}
	})
}

// fitDimensions computes the aspect-preserving longest-edge fit of (w, h)
// into (maxW, maxH).
func fitDimensions(w, h, maxW, maxH int) (int, int) {
	fw, fh := fitWithin(float64(w), float64(h), float64(maxW), float64(maxH))
	return int(math.Round(fw)), int(math.Round(fh))
}

func fitWithin(w, h, maxW, maxH float64) (float64, float64) {
	if w <= 0 || h <= 0 {
		return maxW, maxH
	}
	ratio := w / h
	if ratio > maxW/maxH {
		return maxW, maxW / ratio
	}
	return maxH * ratio, maxH
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// withDPI inserts a pHYs chunk right after IHDR so the raster carries its
// print resolution. The stdlib encoder never writes one. Malformed input is
// returned unchanged.
func withDPI(pngData []byte, dpi int) []byte {
	const sigLen = 8
	const ihdrLen = sigLen + 4 + 4 + 13 + 4 // length + "IHDR" + payload + crc
	if len(pngData) < ihdrLen || !bytes.HasPrefix(pngData, []byte("\x89PNG\r\n\x1a\n")) {
		return pngData
	}

	pixelsPerMetre := uint32(math.Round(float64(dpi) / 0.0254))
	chunk := make([]byte, 0, 21)
	chunk = binary.BigEndian.AppendUint32(chunk, 9)
	body := make([]byte, 0, 13)
	body = append(body, []byte("pHYs")...)
	body = binary.BigEndian.AppendUint32(body, pixelsPerMetre)
	body = binary.BigEndian.AppendUint32(body, pixelsPerMetre)
	body = append(body, 1) // unit: metre
	chunk = append(chunk, body...)
	chunk = binary.BigEndian.AppendUint32(chunk, crc32.ChecksumIEEE(body))

	out := make([]byte, 0, len(pngData)+len(chunk))
	out = append(out, pngData[:ihdrLen]...)
	out = append(out, chunk...)
	out = append(out, pngData[ihdrLen:]...)
	return out
}

var _ PostProcessor = (*PrintPostProcessor)(nil)
