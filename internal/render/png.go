package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	"github.com/park285/cheese-duel/internal/domain"
	"github.com/park285/cheese-duel/internal/obslog"
	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	squareSize  = 64
	boardMargin = 24
	boardPixels = squareSize * 8
	imagePixels = boardPixels + boardMargin*2
)

var (
	lightSquare         = color.RGBA{233, 207, 163, 255}
	darkSquare          = color.RGBA{187, 136, 96, 255}
	frameColor          = color.RGBA{28, 31, 46, 255}
	originHighlight     = color.NRGBA{R: 255, G: 228, B: 120, A: 150}
	lastMoveHighlight   = color.NRGBA{R: 182, G: 184, B: 190, A: 120}
	destinationDot      = color.NRGBA{R: 40, G: 150, B: 70, A: 190}
	coordinateTextColor = color.NRGBA{R: 8, G: 214, B: 120, A: 255}
)

// SnapshotOptions control one PNG frame.
type SnapshotOptions struct {
	Orientation  domain.Side
	Origin       *domain.Square
	Destinations []domain.Square
}

// RenderPNG draws the position as a PNG image.
func RenderPNG(ctx context.Context, pos domain.Position, opts SnapshotOptions) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	img := image.NewRGBA(image.Rect(0, 0, imagePixels, imagePixels))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(frameColor), image.Point{}, imagedraw.Src)
	origin := image.Point{X: boardMargin, Y: boardMargin}
	orientation := opts.Orientation
	if orientation != domain.Black {
		orientation = domain.White
	}

	for _, sq := range domain.AllSquares() {
		clr := lightSquare
		if (sq.File+sq.Rank)%2 == 0 {
			clr = darkSquare
		}
		imagedraw.Draw(img, squareRect(sq, orientation, origin), image.NewUniform(clr), image.Point{}, imagedraw.Src)
	}

	if m := pos.LastMove; m != nil {
		drawSquareOverlay(img, m.From, orientation, origin, lastMoveHighlight)
		drawSquareOverlay(img, m.To, orientation, origin, lastMoveHighlight)
	}
	if opts.Origin != nil {
		drawSquareOverlay(img, *opts.Origin, orientation, origin, originHighlight)
	}

	for _, sq := range domain.AllSquares() {
		piece := pos.PieceAt(sq)
		if piece.IsZero() {
			continue
		}
		pieceImg, err := renderPieceImage(piece, squareSize)
		if err != nil {
			return nil, err
		}
		rect := squareRect(sq, orientation, origin)
		imagedraw.Draw(img, rect, pieceImg, image.Point{}, imagedraw.Over)
	}

	for _, sq := range opts.Destinations {
		rect := squareRect(sq, orientation, origin)
		center := image.Point{X: rect.Min.X + squareSize/2, Y: rect.Min.Y + squareSize/2}
		drawDisc(img, center, squareSize/7, destinationDot)
	}

	drawCoordinates(img, orientation, origin)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// squareRect places sq on the image with orientation's first rank at the bottom.
func squareRect(sq domain.Square, orientation domain.Side, origin image.Point) image.Rectangle {
	col, row := sq.File, 7-sq.Rank
	if orientation == domain.Black {
		col, row = 7-sq.File, sq.Rank
	}
	x := origin.X + col*squareSize
	y := origin.Y + row*squareSize
	return image.Rect(x, y, x+squareSize, y+squareSize)
}

func drawSquareOverlay(img *image.RGBA, sq domain.Square, orientation domain.Side, origin image.Point, clr color.Color) {
	if !sq.Valid() {
		return
	}
	imagedraw.Draw(img, squareRect(sq, orientation, origin), image.NewUniform(clr), image.Point{}, imagedraw.Over)
}

func drawCoordinates(img *image.RGBA, orientation domain.Side, origin image.Point) {
	face := basicfont.Face7x13
	drawer := &font.Drawer{Dst: img, Face: face, Src: image.NewUniform(coordinateTextColor)}
	ascent := face.Metrics().Ascent.Ceil()

	for i := 0; i < 8; i++ {
		file := domain.Square{File: i, Rank: 0}
		rect := squareRect(file, orientation, origin)
		drawCenteredText(drawer, string(rune('a'+i)), rect.Min.X+squareSize/2, origin.Y+boardPixels+ascent+4)

		rank := domain.Square{File: 0, Rank: i}
		rect = squareRect(rank, orientation, origin)
		drawCenteredText(drawer, string(rune('1'+i)), origin.X-boardMargin/2, rect.Min.Y+squareSize/2+ascent/2)
	}
}

func drawCenteredText(drawer *font.Drawer, text string, centerX, baseline int) {
	width := drawer.MeasureString(text).Round()
	drawer.Dot = fixed.P(centerX-width/2, baseline)
	drawer.DrawString(text)
}

func drawDisc(img *image.RGBA, center image.Point, radius int, clr color.Color) {
	fill := image.NewUniform(clr)
	r2 := radius * radius
	for y := -radius; y <= radius; y++ {
		for x := -radius; x <= radius; x++ {
			if x*x+y*y > r2 {
				continue
			}
			pt := image.Point{X: center.X + x, Y: center.Y + y}
			imagedraw.Draw(img, image.Rectangle{Min: pt, Max: pt.Add(image.Point{X: 1, Y: 1})}, fill, image.Point{}, imagedraw.Over)
		}
	}
}

// PNGSink rewrites a snapshot file whenever the position or selection
// changes. Write errors are logged and do not interrupt the game.
type PNGSink struct {
	path        string
	orientation domain.Side
	logger      *zap.Logger

	mu     sync.Mutex
	pos    domain.Position
	origin *domain.Square
	dests  []domain.Square
}

func NewPNGSink(path string, orientation domain.Side) *PNGSink {
	return &PNGSink{
		path:        path,
		orientation: orientation,
		logger:      obslog.Named("render"),
	}
}

func (s *PNGSink) Path() string { return s.path }

func (s *PNGSink) PositionChanged(pos domain.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = pos
	s.origin = nil
	s.dests = nil
	s.flushLocked()
}

func (s *PNGSink) SelectionChanged(origin *domain.Square, destinations []domain.Square) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.origin = origin
	s.dests = append([]domain.Square(nil), destinations...)
	s.flushLocked()
}

func (s *PNGSink) StatusChanged(string) {}

func (s *PNGSink) FatalError(string) {}

// Flush writes the current frame.
func (s *PNGSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked()
}

func (s *PNGSink) flushLocked() {
	if err := s.writeLocked(); err != nil {
		s.logger.Warn("snapshot_write_failed", zap.String("path", s.path), zap.Error(err))
	}
}

func (s *PNGSink) writeLocked() error {
	data, err := RenderPNG(context.Background(), s.pos, SnapshotOptions{
		Orientation:  s.orientation,
		Origin:       s.origin,
		Destinations: s.dests,
	})
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return os.Rename(tmp, s.path)
}
