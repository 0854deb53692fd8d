package cursor

import (
	"image"
	"image/color"
)

// Sprite is a cursor image with its hot spot (the pixel that points).
type Sprite struct {
	Image   *image.RGBA
	HotSpot image.Point
}

var arrowShape = []string{
	"X           ",
	"XX          ",
	"X.X         ",
	"X..X        ",
	"X...X       ",
	"X....X      ",
	"X.....X     ",
	"X......X    ",
	"X.......X   ",
	"X........X  ",
	"X.....XXXXX ",
	"X..X..X     ",
	"X.X X..X    ",
	"XX  X..X    ",
	"X    X..X   ",
	"     X..X   ",
	"      XX    ",
}

// DefaultSprite returns the built-in arrow cursor.
func DefaultSprite() Sprite {
	img := image.NewRGBA(image.Rect(0, 0, len(arrowShape[0]), len(arrowShape)))
	for y, row := range arrowShape {
		for x, c := range row {
			switch c {
			case 'X':
				img.SetRGBA(x, y, color.RGBA{A: 0xff})
			case '.':
				img.SetRGBA(x, y, color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff})
			}
		}
	}
	return Sprite{Image: img}
}
