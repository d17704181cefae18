package scanning

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("prepareImageData", func() {
	var (
		input       []byte
		contentType string
		output      []byte
		err         error
	)

	JustBeforeEach(func() {
		output, err = prepareImageData(input, contentType)
	})

	When("the upload is already PNG", func() {
		BeforeEach(func() {
			input = []byte("png bytes")
			contentType = "image/png"
		})

		It("passes the data through untouched", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(output).To(Equal(input))
		})
	})

	When("the upload is JPEG", func() {
		BeforeEach(func() {
			img := image.NewRGBA(image.Rect(0, 0, 4, 4))
			img.Set(1, 1, color.RGBA{R: 255, A: 255})
			var buf bytes.Buffer
			Expect(jpeg.Encode(&buf, img, nil)).To(Succeed())
			input = buf.Bytes()
			contentType = "IMAGE/JPEG "
		})

		It("re-encodes it as PNG", func() {
			Expect(err).NotTo(HaveOccurred())
			_, decodeErr := png.Decode(bytes.NewReader(output))
			Expect(decodeErr).NotTo(HaveOccurred())
		})
	})

	When("the upload is not an image", func() {
		BeforeEach(func() {
			input = []byte("definitely not an image")
			contentType = "image/jpeg"
		})

		It("returns a convert-stage extraction error", func() {
			var xerr *ExtractionError
			Expect(errors.As(err, &xerr)).To(BeTrue())
			Expect(xerr.Stage).To(Equal(StageConvert))
		})
	})
})

var _ = Describe("isHEIC", func() {
	It("detects the ftyp brand", func() {
		data := append([]byte{0, 0, 0, 24}, []byte("ftypheic0000")...)
		Expect(isHEIC(data, "")).To(BeTrue())
	})

	It("trusts the declared MIME type", func() {
		Expect(isHEIC([]byte("x"), "image/heif")).To(BeTrue())
	})

	It("ignores other data", func() {
		Expect(isHEIC([]byte("\x89PNG\r\n\x1a\n0000"), "image/png")).To(BeFalse())
	})
})
