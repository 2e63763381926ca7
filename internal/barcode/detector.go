// Package barcode decodes product barcodes from still images.
package barcode

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // register decoders for DetectBytes
	_ "image/png"
	"log/slog"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/aztec"
	"github.com/makiuchi-d/gozxing/datamatrix"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"

	"github.com/franckalain/foodwise/internal/errors"
)

// Symbology is a supported barcode format.
type Symbology struct {
	Format gozxing.BarcodeFormat
	reader func() gozxing.Reader
}

// Supported is the allow-list, in the order decoders are attempted.
// Retail linear codes come first.
var Supported = []Symbology{
	{gozxing.BarcodeFormat_EAN_13, func() gozxing.Reader { return oned.NewEAN13Reader() }},
	{gozxing.BarcodeFormat_EAN_8, func() gozxing.Reader { return oned.NewEAN8Reader() }},
	{gozxing.BarcodeFormat_UPC_A, func() gozxing.Reader { return oned.NewUPCAReader() }},
	{gozxing.BarcodeFormat_UPC_E, func() gozxing.Reader { return oned.NewUPCEReader() }},
	{gozxing.BarcodeFormat_CODE_128, func() gozxing.Reader { return oned.NewCode128Reader() }},
	{gozxing.BarcodeFormat_QR_CODE, func() gozxing.Reader { return qrcode.NewQRCodeReader() }},
	{gozxing.BarcodeFormat_CODE_39, func() gozxing.Reader { return oned.NewCode39Reader() }},
	{gozxing.BarcodeFormat_CODE_93, func() gozxing.Reader { return oned.NewCode93Reader() }},
	{gozxing.BarcodeFormat_DATA_MATRIX, func() gozxing.Reader { return datamatrix.NewDataMatrixReader() }},
	{gozxing.BarcodeFormat_AZTEC, func() gozxing.Reader { return aztec.NewAztecReader() }},
}

// Result is a decoded barcode.
type Result struct {
	Value  string
	Format gozxing.BarcodeFormat
}

// Detector tries each supported symbology in order and keeps the first hit.
type Detector struct {
	symbologies []Symbology
	tryHarder   bool
}

// NewDetector creates a detector over the full allow-list.
func NewDetector() *Detector {
	return &Detector{
		symbologies: Supported,
		tryHarder:   true,
	}
}

// Detect returns the barcode value, or false when nothing supported was found.
// Decoder failures are logged and reported as "no barcode".
func (d *Detector) Detect(img image.Image) (string, bool) {
	res, err := d.Decode(img)
	if err != nil {
		slog.Debug("Barcode detection failed", "error", err)
		return "", false
	}
	if res == nil {
		return "", false
	}
	return res.Value, true
}

// DetectBytes decodes an encoded JPEG or PNG and runs Detect.
func (d *Detector) DetectBytes(data []byte) (string, bool) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		slog.Debug("Barcode detection skipped, image not decodable", "error", err)
		return "", false
	}
	return d.Detect(img)
}

// Decode returns the first result in allow-list order, nil when nothing
// matched, or a DETECTION error for an internal decoder failure.
func (d *Detector) Decode(img image.Image) (res *Result, err error) {
	if img == nil {
		return nil, errors.NewDetection(fmt.Errorf("nil image"))
	}

	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = errors.NewDetection(fmt.Errorf("decoder panic: %v", r))
		}
	}()

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, errors.NewDetection(err)
	}

	for _, sym := range d.symbologies {
		hints := map[gozxing.DecodeHintType]interface{}{}
		if d.tryHarder {
			hints[gozxing.DecodeHintType_TRY_HARDER] = true
		}

		out, decodeErr := sym.reader().Decode(bmp, hints)
		if decodeErr != nil || out == nil {
			// NotFound, checksum and format errors all mean "not this symbology"
			continue
		}

		text := out.GetText()
		if text == "" {
			continue
		}
		slog.Debug("Barcode detected", "format", out.GetBarcodeFormat().String(), "value", text)
		return &Result{Value: text, Format: out.GetBarcodeFormat()}, nil
	}

	return nil, nil
}
