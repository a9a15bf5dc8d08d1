package runtime

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Layer states reported by PullProgress.
const (
	LayerFetching = "fetching"
	LayerFetched  = "fetched"
	LayerUnpacked = "unpacked"
	LayerSkipped  = "skipped"
)

// PullProgress receives layer events while a tool package is pulled.
// Implementations must be safe for concurrent use.
type PullProgress interface {
	Fetching(layer ocispec.Descriptor)
	Fetched(layer ocispec.Descriptor)
	Unpacked(layer ocispec.Descriptor)
	Skipped(layer ocispec.Descriptor)
	Update(digest string, bytesRead int64)
}

// LayerProgress is the last known state of one layer.
type LayerProgress struct {
	Layer     ocispec.Descriptor
	State     string
	BytesRead int64
	Started   time.Time
	Finished  time.Time
}

// LogProgress reports layer events as log lines.
type LogProgress struct {
	logger *log.Logger

	mu     sync.Mutex
	layers map[string]*LayerProgress
}

// NewLogProgress creates a PullProgress logging to logger.
func NewLogProgress(logger *log.Logger) *LogProgress {
	return &LogProgress{
		logger: logger,
		layers: make(map[string]*LayerProgress),
	}
}

func shortDigest(desc ocispec.Descriptor) string {
	s := desc.Digest.String()
	if len(s) > 16 {
		return s[:16]
	}
	return s
}

func (p *LogProgress) Fetching(layer ocispec.Descriptor) {
	p.mu.Lock()
	p.layers[shortDigest(layer)] = &LayerProgress{
		Layer:   layer,
		State:   LayerFetching,
		Started: time.Now(),
	}
	p.mu.Unlock()

	p.logger.Info("pulling layer", "digest", shortDigest(layer), "size", formatBytes(layer.Size))
}

func (p *LogProgress) Fetched(layer ocispec.Descriptor) {
	p.mu.Lock()
	lp, ok := p.layers[shortDigest(layer)]
	if !ok {
		p.mu.Unlock()
		return
	}
	lp.State = LayerFetched
	lp.Finished = time.Now()
	lp.BytesRead = layer.Size
	elapsed := lp.Finished.Sub(lp.Started).Seconds()
	p.mu.Unlock()

	if elapsed <= 0 {
		elapsed = time.Millisecond.Seconds()
	}
	p.logger.Info("pulled layer", "digest", shortDigest(layer), "speed", formatBytesPerSec(float64(layer.Size)/elapsed)+"/s")
}

func (p *LogProgress) Unpacked(layer ocispec.Descriptor) {
	p.mu.Lock()
	if lp, ok := p.layers[shortDigest(layer)]; ok {
		lp.State = LayerUnpacked
	}
	p.mu.Unlock()

	p.logger.Debug("unpacked layer", "digest", layer.Digest.String(), "mediaType", layer.MediaType)
}

func (p *LogProgress) Skipped(layer ocispec.Descriptor) {
	p.mu.Lock()
	p.layers[shortDigest(layer)] = &LayerProgress{Layer: layer, State: LayerSkipped}
	p.mu.Unlock()

	p.logger.Info("skipped layer", "digest", shortDigest(layer), "mediaType", layer.MediaType)
}

func (p *LogProgress) Update(digest string, bytesRead int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if lp, ok := p.layers[digest]; ok {
		lp.BytesRead = bytesRead
	}
}

// Layer returns a copy of the progress recorded for a short digest.
func (p *LogProgress) Layer(digest string) (LayerProgress, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	lp, ok := p.layers[digest]
	if !ok {
		return LayerProgress{}, false
	}
	return *lp, true
}

// formatBytesPerSec formats a transfer rate.
func formatBytesPerSec(bps float64) string {
	switch {
	case bps >= gib:
		return fmt.Sprintf("%.2fGB", bps/gib)
	case bps >= mib:
		return fmt.Sprintf("%.2fMB", bps/mib)
	case bps >= kib:
		return fmt.Sprintf("%.2fKB", bps/kib)
	}
	return fmt.Sprintf("%.0fB", bps)
}

const (
	kib = 1 << 10
	mib = 1 << 20
	gib = 1 << 30
)

func formatBytes(size int64) string {
	if size < kib {
		return fmt.Sprintf("%dB", size)
	}
	return formatBytesPerSec(float64(size))
}
