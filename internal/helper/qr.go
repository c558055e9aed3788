// internal/helper/qr.go
package helper

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/mdp/qrterminal/v3"
	qrcode "github.com/skip2/go-qrcode"
	"github.com/vincent-petithory/dataurl"
)

const (
	DefaultQRSize = 256
	MinQRSize     = 128
	MaxQRSize     = 1024
)

// QR output formats accepted by EncodeQR.
const (
	QRFormatPNG  = "png"
	QRFormatWebP = "webp"
)

// ClampQRSize keeps a requested size inside the supported range.
func ClampQRSize(size int) int {
	if size <= 0 {
		return DefaultQRSize
	}
	if size < MinQRSize {
		return MinQRSize
	}
	if size > MaxQRSize {
		return MaxQRSize
	}
	return size
}

// RenderQRImage draws code as a square image of the given size with a white quiet zone.
func RenderQRImage(code string, size int) (image.Image, error) {
	if code == "" {
		return nil, fmt.Errorf("empty qr code")
	}
	size = ClampQRSize(size)

	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to build qr code: %w", err)
	}
	qr.DisableBorder = true

	// quiet zone is ~8% per side
	margin := size / 12
	inner := size - 2*margin

	modules := qr.Image(inner)
	// nearest neighbour keeps modules crisp
	modules = imaging.Resize(modules, inner, inner, imaging.NearestNeighbor)

	canvas := imaging.New(size, size, color.White)
	return imaging.PasteCenter(canvas, modules), nil
}

// RenderQRPNG renders code as PNG bytes.
func RenderQRPNG(code string, size int) ([]byte, error) {
	img, err := RenderQRImage(code, size)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeQR renders code in the requested format and returns the bytes and content type.
func EncodeQR(code, format string, size int) ([]byte, string, error) {
	switch format {
	case "", QRFormatPNG:
		data, err := RenderQRPNG(code, size)
		return data, "image/png", err

	case QRFormatWebP:
		img, err := RenderQRImage(code, size)
		if err != nil {
			return nil, "", err
		}
		var buf bytes.Buffer
		if err := webp.Encode(&buf, img, &webp.Options{Lossless: true}); err != nil {
			return nil, "", fmt.Errorf("failed to encode WebP: %w", err)
		}
		return buf.Bytes(), "image/webp", nil

	default:
		return nil, "", fmt.Errorf("unsupported qr format %q", format)
	}
}

// QRDataURL wraps PNG bytes in a data: URL for <img src>.
func QRDataURL(pngData []byte) string {
	return dataurl.New(pngData, "image/png").String()
}

// PrintQRTerminal writes code as half-block characters.
func PrintQRTerminal(code string, w io.Writer) {
	qrterminal.GenerateHalfBlock(code, qrterminal.L, w)
}
