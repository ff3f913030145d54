package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"

	"github.com/park285/cheese-duel/internal/domain"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// Piece outlines on a 45x45 canvas. {F} is the body color, {S} the outline.
var pieceShapes = map[domain.PieceKind]string{
	domain.Pawn: `<circle cx="22.5" cy="14" r="5.5" fill="{F}" stroke="{S}" stroke-width="1.5"/>
<path d="M 17 36 L 28 36 L 26 22 L 19 22 Z" fill="{F}" stroke="{S}" stroke-width="1.5"/>`,
	domain.Rook: `<path d="M 12 14 L 12 8 L 16 8 L 16 11 L 20 11 L 20 8 L 25 8 L 25 11 L 29 11 L 29 8 L 33 8 L 33 14 Z" fill="{F}" stroke="{S}" stroke-width="1.5"/>
<rect x="15" y="14" width="15" height="22" fill="{F}" stroke="{S}" stroke-width="1.5"/>`,
	domain.Knight: `<path d="M 14 36 L 31 36 C 31 26 29 18 24 11 L 20 8 L 19 12 C 15 14 11 19 10 24 L 13 26 L 18 22 C 18 27 15 31 14 36 Z" fill="{F}" stroke="{S}" stroke-width="1.5"/>
<circle cx="19" cy="15" r="1.2" fill="{S}"/>`,
	domain.Bishop: `<circle cx="22.5" cy="8" r="2.5" fill="{F}" stroke="{S}" stroke-width="1.5"/>
<ellipse cx="22.5" cy="21" rx="6.5" ry="10" fill="{F}" stroke="{S}" stroke-width="1.5"/>
<path d="M 16 36 L 29 36 L 27 30 L 18 30 Z" fill="{F}" stroke="{S}" stroke-width="1.5"/>`,
	domain.Queen: `<path d="M 12 36 L 33 36 L 35 13 L 28 25 L 22.5 10 L 17 25 L 10 13 Z" fill="{F}" stroke="{S}" stroke-width="1.5"/>
<circle cx="10" cy="12" r="2" fill="{F}" stroke="{S}" stroke-width="1.5"/>
<circle cx="22.5" cy="9" r="2" fill="{F}" stroke="{S}" stroke-width="1.5"/>
<circle cx="35" cy="12" r="2" fill="{F}" stroke="{S}" stroke-width="1.5"/>`,
	domain.King: `<path d="M 21 4 L 24 4 L 24 7 L 27 7 L 27 10 L 24 10 L 24 13 L 21 13 L 21 10 L 18 10 L 18 7 L 21 7 Z" fill="{F}" stroke="{S}" stroke-width="1.2"/>
<path d="M 12 36 L 33 36 L 36 20 C 36 15 28 13 22.5 17 C 17 13 9 15 9 20 Z" fill="{F}" stroke="{S}" stroke-width="1.5"/>`,
}

const pieceBase = `<rect x="11" y="36" width="23" height="4" fill="{F}" stroke="{S}" stroke-width="1.5"/>`

func pieceSVG(p domain.Piece) ([]byte, error) {
	shape, ok := pieceShapes[p.Kind]
	if !ok {
		return nil, fmt.Errorf("no shape for piece kind %d", p.Kind)
	}
	fill, stroke := "#f8f8f8", "#1a1a1a"
	if p.Side == domain.Black {
		fill, stroke = "#1a1a1a", "#f0f0f0"
	}
	body := strings.NewReplacer("{F}", fill, "{S}", stroke).Replace(shape + "\n" + pieceBase)
	return []byte(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 45 45" width="45" height="45">` + body + `</svg>`), nil
}

type pieceCacheKey struct {
	piece domain.Piece
	size  int
}

var (
	pieceCache   = map[pieceCacheKey]image.Image{}
	pieceCacheMu sync.RWMutex
)

func renderPieceImage(piece domain.Piece, size int) (image.Image, error) {
	key := pieceCacheKey{piece: piece, size: size}

	pieceCacheMu.RLock()
	if img, ok := pieceCache[key]; ok {
		pieceCacheMu.RUnlock()
		return img, nil
	}
	pieceCacheMu.RUnlock()

	data, err := pieceSVG(piece)
	if err != nil {
		return nil, err
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse piece svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	raster := rasterx.NewDasher(size, size, scanner)
	icon.Draw(raster, 1.0)

	pieceCacheMu.Lock()
	pieceCache[key] = img
	pieceCacheMu.Unlock()

	return img, nil
}
