package render

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"github.com/disintegration/imaging"
	"golang.org/x/image/bmp"

	"git.home.luguber.info/inful/dashrender/internal/layout"
)

// monoThreshold splits gray levels into black and white for 1-bit panels.
const monoThreshold = 128

var monoPalette = color.Palette{color.Black, color.White}

// finish applies rotation (clockwise degrees) and color reduction.
func finish(img image.Image, mode layout.ColorMode, rotate int) image.Image {
	switch rotate {
	case 90:
		img = imaging.Rotate270(img)
	case 180:
		img = imaging.Rotate180(img)
	case 270:
		img = imaging.Rotate90(img)
	}

	switch mode {
	case layout.ModeGrayscale:
		return toGray(img)
	case layout.ModeMono:
		return toMono(toGray(img))
	default:
		return img
	}
}

func toGray(img image.Image) *image.Gray {
	src := imaging.Grayscale(img)
	b := src.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			// Grayscale leaves R=G=B.
			out.Pix[y*out.Stride+x] = src.Pix[y*src.Stride+x*4]
		}
	}
	return out
}

func toMono(g *image.Gray) *image.Paletted {
	b := g.Bounds()
	out := image.NewPaletted(b, monoPalette)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if g.GrayAt(x, y).Y >= monoThreshold {
				out.SetColorIndex(x, y, 1)
			}
		}
	}
	return out
}

func (r *Renderer) encode(img image.Image, format layout.Format) ([]byte, string, error) {
	var buf bytes.Buffer
	switch format {
	case layout.FormatJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: r.jpegQuality}); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/jpeg", nil
	case layout.FormatBMP:
		if err := bmp.Encode(&buf, img); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/bmp", nil
	default:
		enc := png.Encoder{CompressionLevel: r.pngCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/png", nil
	}
}

// ContentType returns the MIME type of an encoded format.
func ContentType(f layout.Format) string {
	switch f {
	case layout.FormatJPEG:
		return "image/jpeg"
	case layout.FormatBMP:
		return "image/bmp"
	default:
		return "image/png"
	}
}
