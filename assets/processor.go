// Package assets downloads, normalizes and re-encodes inventory photos.
package assets

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	_ "golang.org/x/image/webp"

	"golang.org/x/image/draw"

	"lease-offer-sync/models"
	"lease-offer-sync/utils"
)

// maxDownloadBytes caps a single image body read.
const maxDownloadBytes = 20 << 20

// Processor fetches each offer's images, downscales them to a maximum width
// and re-encodes them as JPEG under deterministic, cache-friendly paths.
type Processor struct {
	logger    *utils.Logger
	client    *http.Client
	outDir    string
	publicURL string
	maxWidth  int
	quality   int
	pool      *utils.WorkerPool
}

// Options configures a Processor.
type Options struct {
	OutDir      string
	PublicURL   string
	MaxWidth    int
	Quality     int
	Concurrency int
	Timeout     time.Duration
}

// NewProcessor creates a Processor, creating the output directory if needed.
func NewProcessor(logger *utils.Logger, opts Options) (*Processor, error) {
	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("assets: create output dir: %w", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 3
	}

	return &Processor{
		logger:    logger,
		client:    &http.Client{Timeout: timeout},
		outDir:    opts.OutDir,
		publicURL: opts.PublicURL,
		maxWidth:  opts.MaxWidth,
		quality:   opts.Quality,
		pool:      utils.NewWorkerPool(concurrency, 0),
	}, nil
}

// ProcessBatch fills in Images for every offer in the batch. Offers are
// processed through the bounded worker pool; a failed image is logged and
// skipped without touching the offer's other images or the rest of the batch.
func (p *Processor) ProcessBatch(ctx context.Context, offers []*models.EnrichedOffer) {
	for _, offer := range offers {
		o := offer
		p.pool.Submit(func() {
			o.Images = p.Process(ctx, &o.RawOffer)
		})
	}
	p.pool.Wait()
}

// Process downloads and re-encodes every image of one offer. It always
// returns the images that succeeded; per-image failures are logged only.
func (p *Processor) Process(ctx context.Context, offer *models.RawOffer) []models.ProcessedImage {
	images := make([]models.ProcessedImage, 0, len(offer.ImageURLs))

	for _, src := range offer.ImageURLs {
		img, err := p.processOne(ctx, offer.ExternalID, src)
		if err != nil {
			assetErr := &models.AssetError{ExternalID: offer.ExternalID, URL: src, Err: err}
			p.logger.Warn("[assets] %v — skipping", assetErr)
			continue
		}
		images = append(images, *img)
	}

	return images
}

func (p *Processor) processOne(ctx context.Context, externalID, srcURL string) (*models.ProcessedImage, error) {
	src, err := p.download(ctx, srcURL)
	if err != nil {
		return nil, err
	}

	decoded, _, err := image.Decode(src)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	resized := p.resize(decoded)

	filename := StorageName(externalID, srcURL)
	dest := filepath.Join(p.outDir, filename)

	f, err := os.Create(dest)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", dest, err)
	}
	defer f.Close()

	if err := jpeg.Encode(f, resized, &jpeg.Options{Quality: p.quality}); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	return &models.ProcessedImage{
		SourceURL:   srcURL,
		StoragePath: dest,
		PublicURL:   p.publicURL + "/" + filename,
	}, nil
}

func (p *Processor) download(ctx context.Context, srcURL string) (io.Reader, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return bytes.NewReader(body), nil
}

// resize downscales to maxWidth preserving aspect ratio. Images at or below
// the limit are returned untouched — never upscaled.
func (p *Processor) resize(src image.Image) image.Image {
	bounds := src.Bounds()
	if bounds.Dx() <= p.maxWidth {
		return src
	}

	height := bounds.Dy() * p.maxWidth / bounds.Dx()
	dst := image.NewRGBA(image.Rect(0, 0, p.maxWidth, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	return dst
}

// StorageName builds the deterministic output filename for a source image:
// the offer's external ID plus a short hash of the source URL, so repeated
// downloads of the same URL always land on the same path.
func StorageName(externalID, srcURL string) string {
	sum := sha1.Sum([]byte(srcURL))
	return fmt.Sprintf("%s_%s.jpg", externalID, hex.EncodeToString(sum[:])[:8])
}
