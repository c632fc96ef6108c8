package render

import (
	"math"
	"sync"

	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
)

var parsedFonts = sync.OnceValues(func() (*fontSet, error) {
	regular, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, err
	}
	bold, err := truetype.Parse(gobold.TTF)
	if err != nil {
		return nil, err
	}
	return &fontSet{regular: regular, bold: bold}, nil
})

type fontSet struct {
	regular *truetype.Font
	bold    *truetype.Font
}

// faceCache hands out font faces for a single render. Faces carry glyph
// caches and are not safe for concurrent use, so each render owns its own.
type faceCache struct {
	fonts *fontSet
	faces map[faceKey]font.Face
}

type faceKey struct {
	bold bool
	size int
}

func newFaceCache(fonts *fontSet) *faceCache {
	return &faceCache{fonts: fonts, faces: make(map[faceKey]font.Face)}
}

// face returns a face of the given pixel size, rounded down to a whole pixel
// and clamped to a legible minimum.
func (c *faceCache) face(size float64, bold bool) font.Face {
	key := faceKey{bold: bold, size: max(int(math.Floor(size)), 8)}
	if f, ok := c.faces[key]; ok {
		return f
	}
	ttf := c.fonts.regular
	if bold {
		ttf = c.fonts.bold
	}
	f := truetype.NewFace(ttf, &truetype.Options{Size: float64(key.size), Hinting: font.HintingFull})
	c.faces[key] = f
	return f
}

func (c *faceCache) close() {
	for _, f := range c.faces {
		_ = f.Close()
	}
}
