// Package analysis runs the scan-to-insight pipeline: barcode detection,
// product lookup, prompt, inference, parsing and persistence.
package analysis

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // accept PNG uploads
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/franckalain/foodwise/internal/common"
	"github.com/franckalain/foodwise/internal/errors"
	"github.com/franckalain/foodwise/internal/ml"
	"github.com/franckalain/foodwise/internal/models"
	"github.com/franckalain/foodwise/internal/prompt"
	"github.com/franckalain/foodwise/internal/response"
)

const (
	UnknownProductName = "Unknown Product"

	defaultJPEGQuality     = 80
	defaultTemperature     = 0.2
	defaultMaxOutputTokens = 2048
)

// BarcodeDetector finds a barcode in an image.
type BarcodeDetector interface {
	Detect(img image.Image) (string, bool)
}

// ProductFetcher looks a barcode up; (nil, nil) means not found.
type ProductFetcher interface {
	Fetch(ctx context.Context, barcode string) (*models.ProductRecord, error)
}

// ScanWriter persists completed analyses.
type ScanWriter interface {
	CreateScan(ctx context.Context, scan *models.ScanRecord) error
}

// ImageUploader stores the captured image and returns a reference to it.
type ImageUploader interface {
	Put(ctx context.Context, key string, jpegData []byte) (string, error)
}

// Deps are the collaborators of an Orchestrator. Images may be nil.
type Deps struct {
	Detector BarcodeDetector
	Products ProductFetcher
	Prompts  *prompt.Builder
	Model    ml.Model
	Scans    ScanWriter
	Images   ImageUploader
}

// Options tune an Orchestrator. Zero values take defaults.
type Options struct {
	Retry           common.RetryOptions
	Temperature     float32
	MaxOutputTokens int32
	JPEGQuality     int
	OnTransition    TransitionFunc
	Now             func() time.Time
}

// Request is one analysis invocation.
type Request struct {
	// Key identifies the logical invocation for single-flight; defaults to UserID.
	Key     string
	UserID  string
	Profile models.HealthProfile
	Image   []byte // JPEG or PNG, optional when Barcode is set
	Barcode string // skips detection when set
}

// Orchestrator sequences one analysis per key at a time.
type Orchestrator struct {
	deps Deps
	opts Options

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewOrchestrator wires the pipeline.
func NewOrchestrator(deps Deps, opts Options) *Orchestrator {
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = common.DefaultRetryOptions()
	}
	if opts.Temperature == 0 {
		opts.Temperature = defaultTemperature
	}
	if opts.MaxOutputTokens == 0 {
		opts.MaxOutputTokens = defaultMaxOutputTokens
	}
	if opts.JPEGQuality == 0 {
		opts.JPEGQuality = defaultJPEGQuality
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		deps:     deps,
		opts:     opts,
		inflight: make(map[string]struct{}),
	}
}

// Analyze runs the pipeline and returns the persisted record, or a
// *errors.PipelineError. Nothing is persisted on failure or cancellation.
// A second call with the same key while one is running fails with IN_FLIGHT.
func (o *Orchestrator) Analyze(ctx context.Context, req Request) (*models.ScanRecord, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	key := req.Key
	if key == "" {
		key = req.UserID
	}
	if !o.acquire(key) {
		slog.Warn("Analysis rejected, already in flight", "key", key)
		return nil, errors.NewInFlight(key)
	}
	defer o.release(key)

	r := &run{o: o, key: key, state: StateIdle, started: o.opts.Now()}
	rec, err := r.execute(ctx, req)
	if err != nil {
		pErr, ok := errors.As(err)
		if !ok {
			pErr = errors.NewInternal(err)
		}
		r.moveTo(StateFailed)
		slog.Error("Analysis failed",
			"key", key,
			"code", pErr.Code,
			"error", pErr.Error(),
			"duration", time.Since(r.started))
		return nil, pErr
	}

	r.moveTo(StateDone)
	slog.Info("Analysis complete",
		"key", key,
		"scan_id", rec.ID,
		"mode", rec.Mode,
		"nutri_score", rec.NutriScore,
		"duration", time.Since(r.started))
	return rec, nil
}

// InFlight reports whether an analysis for key is running.
func (o *Orchestrator) InFlight(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inflight[key]
	return ok
}

func (o *Orchestrator) acquire(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inflight[key]; busy {
		return false
	}
	o.inflight[key] = struct{}{}
	return true
}

func (o *Orchestrator) release(key string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, key)
}

func validate(req Request) error {
	if strings.TrimSpace(req.UserID) == "" {
		return errors.NewInvalidRequest("user id is required")
	}
	if err := req.Profile.Validate(); err != nil {
		return errors.NewInvalidRequest(fmt.Sprintf("invalid health profile: %v", err))
	}
	if len(req.Image) == 0 && strings.TrimSpace(req.Barcode) == "" {
		return errors.NewInvalidRequest("an image or a barcode is required")
	}
	return nil
}

// run is the state of a single Analyze call.
type run struct {
	o       *Orchestrator
	key     string
	state   State
	started time.Time
}

func (r *run) moveTo(next State) {
	prev := r.state
	r.state = next
	slog.Debug("Analysis state", "key", r.key, "from", prev.String(), "to", next.String())
	if r.o.opts.OnTransition != nil {
		r.o.opts.OnTransition(r.key, prev, next)
	}
}

func (r *run) execute(ctx context.Context, req Request) (*models.ScanRecord, error) {
	o := r.o

	var img image.Image
	if len(req.Image) > 0 {
		decoded, _, err := image.Decode(bytes.NewReader(req.Image))
		switch {
		case err == nil:
			img = decoded
		case req.Barcode == "":
			return nil, errors.NewInvalidRequest(fmt.Sprintf("image is not a decodable JPEG or PNG: %v", err))
		default:
			slog.Warn("Ignoring undecodable image, barcode supplied", "key", r.key, "error", err)
		}
	}

	barcode := strings.TrimSpace(req.Barcode)
	if barcode == "" {
		r.moveTo(StateDetectBarcode)
		if value, ok := o.deps.Detector.Detect(img); ok {
			barcode = value
		}
	}

	input := prompt.AnalysisInput{Profile: req.Profile, Barcode: barcode}
	var modelImage []byte

	if barcode != "" {
		r.moveTo(StateHasBarcode)
		input.Mode = models.ModeCatalog

		err := common.WithRetry(ctx, "fetch product", o.opts.Retry, func(ctx context.Context) error {
			product, err := o.deps.Products.Fetch(ctx, barcode)
			input.Product = product
			return err
		})
		if err != nil {
			return nil, err
		}
		if input.Product == nil {
			slog.Info("Product not in catalog, continuing with barcode only", "key", r.key, "barcode", barcode)
		}
	} else {
		r.moveTo(StateNoBarcode)
		input.Mode = models.ModeVision

		jpegData, err := encodeJPEG(img, o.opts.JPEGQuality)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		modelImage = jpegData
	}

	r.moveTo(StateBuildingPrompt)
	text, err := o.deps.Prompts.BuildAnalysis(input)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to build prompt: %w", err))
	}

	r.moveTo(StateAwaitingModel)
	var reply string
	err = common.WithRetry(ctx, "generate analysis", o.opts.Retry, func(ctx context.Context) error {
		out, err := o.deps.Model.Generate(ctx, ml.Request{
			Prompt:          text,
			Image:           modelImage,
			Temperature:     o.opts.Temperature,
			MaxOutputTokens: o.opts.MaxOutputTokens,
		})
		reply = out
		return err
	})
	if err != nil {
		return nil, err
	}

	r.moveTo(StateParsingResponse)
	result, err := response.Parse(reply)
	if err != nil {
		slog.Debug("Unparseable model reply", "key", r.key, "reply", reply)
		return nil, err
	}

	rec := &models.ScanRecord{
		UserID:                 req.UserID,
		ProductName:            productName(result, input.Product),
		NutriScore:             result.NutriScore,
		AnalysisPoints:         result.AnalysisPoints,
		Citations:              result.Citations,
		IngredientExplanations: result.IngredientExplanations,
		Confidence:             result.Confidence,
		Barcode:                barcode,
		Mode:                   input.Mode,
		ScannedAt:              o.opts.Now().UTC(),
	}

	if img != nil && o.deps.Images != nil {
		rec.ImageRef = r.uploadImage(ctx, req.UserID, img, modelImage)
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.NewCanceled(err)
	}
	if err := o.deps.Scans.CreateScan(ctx, rec); err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewCanceled(ctx.Err())
		}
		return nil, errors.NewPersistence(err)
	}
	return rec, nil
}

// uploadImage stores the capture; failures leave the reference empty.
func (r *run) uploadImage(ctx context.Context, userID string, img image.Image, encoded []byte) string {
	if encoded == nil {
		var err error
		if encoded, err = encodeJPEG(img, r.o.opts.JPEGQuality); err != nil {
			slog.Warn("Failed to encode image for upload", "key", r.key, "error", err)
			return ""
		}
	}

	key := fmt.Sprintf("scans/%s/%s.jpg", userID, uuid.NewString())
	ref, err := r.o.deps.Images.Put(ctx, key, encoded)
	if err != nil {
		slog.Warn("Image upload failed, saving scan without image", "key", r.key, "error", err)
		return ""
	}
	return ref
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("no image to encode")
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func productName(result *models.AnalysisResult, product *models.ProductRecord) string {
	if result.ProductName != "" {
		return result.ProductName
	}
	if product != nil && product.Name != "" {
		return product.Name
	}
	return UnknownProductName
}
