package videoproc

import (
	"image"
	"image/color"

	"github.com/xaionaro-go/screenrecorder"
)

// Image wraps (or, for BGRA, converts) the frame buffer into an image.Image.
// The frame is expected to be valid, see VideoFrame.Validate.
func Image(frame *screenrecorder.VideoFrame) (image.Image, error) {
	rect := image.Rect(0, 0, int(frame.Width), int(frame.Height))
	switch frame.PixelFormat {
	case screenrecorder.PixelFormatRGBA:
		return &image.RGBA{Pix: frame.Data, Stride: frame.Stride, Rect: rect}, nil
	case screenrecorder.PixelFormatBGRA:
		return BGRAToRGBA(frame), nil
	case screenrecorder.PixelFormatI420:
		w, h := int(frame.Width), int(frame.Height)
		cw, ch := (w+1)/2, (h+1)/2
		ySize := frame.Stride * h
		return &image.YCbCr{
			Y:              frame.Data[:ySize],
			Cb:             frame.Data[ySize : ySize+cw*ch],
			Cr:             frame.Data[ySize+cw*ch : ySize+2*cw*ch],
			YStride:        frame.Stride,
			CStride:        cw,
			SubsampleRatio: image.YCbCrSubsampleRatio420,
			Rect:           rect,
		}, nil
	}
	return nil, screenrecorder.FormatError{Reason: "unsupported source pixel format " + frame.PixelFormat.String()}
}

// BGRAToRGBA swaps the red and blue channels into a new tightly packed image.
func BGRAToRGBA(frame *screenrecorder.VideoFrame) *image.RGBA {
	w, h := int(frame.Width), int(frame.Height)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		src := frame.Data[y*frame.Stride : y*frame.Stride+w*4]
		dst := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w*4; x += 4 {
			dst[x+0] = src[x+2]
			dst[x+1] = src[x+1]
			dst[x+2] = src[x+0]
			dst[x+3] = src[x+3]
		}
	}
	return img
}

// RGBAToI420 converts the image into planar Y, U, V with 2x2 chroma averaging.
func RGBAToI420(img *image.RGBA) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	cw, ch := (w+1)/2, (h+1)/2
	out := make([]byte, w*h+2*cw*ch)
	yPlane := out[:w*h]
	uPlane := out[w*h : w*h+cw*ch]
	vPlane := out[w*h+cw*ch:]

	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			px := row[x*4:]
			yy, _, _ := color.RGBToYCbCr(px[0], px[1], px[2])
			yPlane[y*w+x] = yy
		}
	}

	for cy := 0; cy < ch; cy++ {
		for cx := 0; cx < cw; cx++ {
			var r, g, bl, n int
			for dy := 0; dy < 2; dy++ {
				for dx := 0; dx < 2; dx++ {
					x, y := cx*2+dx, cy*2+dy
					if x >= w || y >= h {
						continue
					}
					px := img.Pix[y*img.Stride+x*4:]
					r += int(px[0])
					g += int(px[1])
					bl += int(px[2])
					n++
				}
			}
			_, u, v := color.RGBToYCbCr(uint8(r/n), uint8(g/n), uint8(bl/n))
			uPlane[cy*cw+cx] = u
			vPlane[cy*cw+cx] = v
		}
	}
	return out
}
