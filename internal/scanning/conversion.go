package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

const (
	mimePNG  = "image/png"
	mimeJPEG = "image/jpeg"
	mimePDF  = "application/pdf"
)

// renderPDF rasterizes the first page of a PDF; receipts are single page
func renderPDF(data []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

// decodeImage decodes HEIC/HEIF with the pure Go decoder and everything else
// with the standard image registry.
func decodeImage(data []byte, mimeType string) (image.Image, error) {
	if isHEIC(data, mimeType) {
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unsupported image (%s), expected JPEG, PNG, GIF, HEIC or PDF: %w", mimeType, err)
	}
	return img, nil
}

// isHEIC checks the ISO-BMFF ftyp brand and the declared MIME type
func isHEIC(data []byte, mimeType string) bool {
	if strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif") {
		return true
	}
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

// prepareImageData normalizes any supported upload into PNG bytes for the model
func prepareImageData(data []byte, contentType string) ([]byte, error) {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if mimeType == "" {
		mimeType = mimeJPEG
	}

	if mimeType == mimePNG && !isHEIC(data, mimeType) {
		return data, nil
	}

	var (
		img image.Image
		err error
	)
	if mimeType == mimePDF {
		img, err = renderPDF(data)
	} else {
		img, err = decodeImage(data, mimeType)
	}
	if err != nil {
		return nil, extractionErr(StageConvert, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, extractionErr(StageConvert, fmt.Errorf("encoding PNG: %w", err))
	}
	return buf.Bytes(), nil
}
