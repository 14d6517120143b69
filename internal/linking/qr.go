package linking

import (
	qrcode "github.com/skip2/go-qrcode"
)

// DefaultQRSize is the rendered QR image width in pixels.
const DefaultQRSize = 400

// EncodeFunc renders a QR payload as a PNG image of size×size pixels.
type EncodeFunc func(payload string, size int) ([]byte, error)

// EncodePNG renders payload with medium error correction.
func EncodePNG(payload string, size int) ([]byte, error) {
	return qrcode.Encode(payload, qrcode.Medium, size)
}
