package runtime

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
)

// Media types of packaged tool layers.
const (
	MediaTypeToolLayer    = "application/vnd.msrun.tool.v1"
	mediaTypeBinaryPrefix = "application/vnd.msrun.bin."
	mediaTypeEmpty        = "application/vnd.oci.empty.v1+json"
)

// PullOptions configure registry access.
type PullOptions struct {
	PlainHTTP bool
	Username  string
	Password  string
	// Logger receives progress; nil discards it.
	Logger *log.Logger
}

// PullToolOCI pulls a packaged tool from an OCI registry into
// ToolsDir()/<name> and returns the installation it describes.
func PullToolOCI(ctx context.Context, imageRef, name string, opts PullOptions) (ToolInstallation, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	ref := imageRef
	if !strings.Contains(ref, "/") {
		ref = "docker.io/library/" + ref
	}

	repo, err := remote.NewRepository(ref)
	if err != nil {
		return ToolInstallation{}, fmt.Errorf("failed to parse image reference %s: %w", ref, err)
	}
	repo.PlainHTTP = opts.PlainHTTP

	client := &auth.Client{
		Client: &http.Client{},
		Cache:  auth.NewCache(),
	}
	if opts.Username != "" {
		client.Credential = auth.StaticCredential(repo.Reference.Registry, auth.Credential{
			Username: opts.Username,
			Password: opts.Password,
		})
	}
	repo.Client = client

	tag := repo.Reference.Reference
	if tag == "" {
		tag = "latest"
	}

	logger.Info("resolving tool image", "tool", name, "ref", ref)
	desc, err := repo.Resolve(ctx, tag)
	if err != nil {
		return ToolInstallation{}, fmt.Errorf("failed to resolve image %s with tag %s: %w", imageRef, tag, err)
	}
	logger.Debug("resolved image", "digest", desc.Digest.String())

	toolDir := filepath.Join(ToolsDir(), name)
	inst, err := pullTool(ctx, repo, desc, name, toolDir, NewLogProgress(logger))
	if err != nil {
		return ToolInstallation{}, err
	}
	logger.Info("installed tool", "tool", name, "home", inst.Home)
	return inst, nil
}

type layerJob struct {
	index int
	layer ocispec.Descriptor
	data  []byte
	err   error
}

// pullTool downloads the layers of the manifest desc from src, unpacks them
// into toolDir and reads the tool manifest.
func pullTool(ctx context.Context, src content.Fetcher, desc ocispec.Descriptor, name, toolDir string, progress PullProgress) (ToolInstallation, error) {
	manifestData, err := content.FetchAll(ctx, src, desc)
	if err != nil {
		return ToolInstallation{}, fmt.Errorf("failed to fetch manifest: %w", err)
	}

	var manifest ocispec.Manifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return ToolInstallation{}, fmt.Errorf("failed to parse manifest: %w", err)
	}

	// Match binary mediaType for current platform: application/vnd.msrun.bin.{os}-{arch}
	binaryMediaType := fmt.Sprintf("%s%s-%s", mediaTypeBinaryPrefix, runtime.GOOS, runtime.GOARCH)

	var layers []ocispec.Descriptor
	haveTool := false
	for _, layer := range manifest.Layers {
		switch {
		case layer.MediaType == mediaTypeEmpty:
			continue
		case layer.MediaType == MediaTypeToolLayer:
			haveTool = true
			layers = append(layers, layer)
		case layer.MediaType == binaryMediaType:
			layers = append(layers, layer)
		default:
			progress.Skipped(layer)
		}
	}
	if !haveTool {
		return ToolInstallation{}, errors.New("tool layer not found in manifest")
	}

	if err := os.RemoveAll(toolDir); err != nil {
		return ToolInstallation{}, fmt.Errorf("failed to clear tool directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(toolDir, "bin"), 0755); err != nil {
		return ToolInstallation{}, fmt.Errorf("failed to create tool directory: %w", err)
	}

	jobs := make(chan layerJob, len(layers))
	results := make(chan layerJob, len(layers))

	// Start 2 worker goroutines for parallel downloading
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				progress.Fetching(job.layer)
				job.data, job.err = trackedFetchAll(ctx, src, job.layer, progress)
				if job.err == nil {
					progress.Fetched(job.layer)
				}
				results <- job
			}
		}()
	}
	for i, layer := range layers {
		jobs <- layerJob{index: i, layer: layer}
	}
	close(jobs)
	wg.Wait()
	close(results)

	// Unpack in manifest order so a binary layer can overwrite the tool layer.
	fetched := make([]layerJob, len(layers))
	for result := range results {
		if result.err != nil {
			return ToolInstallation{}, fmt.Errorf("failed to fetch layer %s: %w", shortDigest(result.layer), result.err)
		}
		fetched[result.index] = result
	}
	for _, job := range fetched {
		if err := extractLayerContent(job.layer, job.data, toolDir); err != nil {
			return ToolInstallation{}, fmt.Errorf("failed to extract layer %s: %w", shortDigest(job.layer), err)
		}
		progress.Unpacked(job.layer)
	}

	toolManifest, err := ReadToolManifest(toolDir)
	if err != nil {
		return ToolInstallation{}, err
	}
	inst := toolManifest.Installation(name, toolDir)
	if _, err := os.Stat(inst.Home); err != nil {
		return ToolInstallation{}, fmt.Errorf("tool executable missing for %s/%s: %w", runtime.GOOS, runtime.GOARCH, err)
	}
	if err := os.Chmod(inst.Home, 0755); err != nil {
		return ToolInstallation{}, fmt.Errorf("failed to make binary executable: %w", err)
	}
	return inst, nil
}

type progressTracker struct {
	reader     io.Reader
	progress   PullProgress
	digest     string
	bytesRead  int64
	lastUpdate time.Time
	updateFreq time.Duration
}

func (pt *progressTracker) Read(p []byte) (int, error) {
	n, err := pt.reader.Read(p)
	if n > 0 {
		pt.bytesRead += int64(n)

		now := time.Now()
		if now.Sub(pt.lastUpdate) >= pt.updateFreq {
			pt.progress.Update(pt.digest, pt.bytesRead)
			pt.lastUpdate = now
		}
	}
	return n, err
}

// trackedFetchAll fetches and verifies layer content, reporting progress
func trackedFetchAll(ctx context.Context, src content.Fetcher, layer ocispec.Descriptor, progress PullProgress) ([]byte, error) {
	rc, err := src.Fetch(ctx, layer)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return content.ReadAll(&progressTracker{
		reader:     rc,
		progress:   progress,
		digest:     shortDigest(layer),
		updateFreq: 100 * time.Millisecond,
	}, layer)
}

// extractLayerContent unpacks archives into targetDir. Any other content is
// written to bin/ under the layer's title annotation.
func extractLayerContent(layer ocispec.Descriptor, layerData []byte, targetDir string) error {
	if bytes.HasPrefix(layerData, []byte{0x1f, 0x8b}) {
		gz, err := gzip.NewReader(bytes.NewReader(layerData))
		if err != nil {
			return fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gz.Close()
		return extractTar(gz, targetDir)
	}

	if isTar(layerData) {
		return extractTar(bytes.NewReader(layerData), targetDir)
	}

	title := layer.Annotations[ocispec.AnnotationTitle]
	if title == "" {
		return fmt.Errorf("layer %s is not an archive and has no %s annotation", shortDigest(layer), ocispec.AnnotationTitle)
	}
	binPath := filepath.Join(targetDir, "bin", filepath.Base(title))
	return os.WriteFile(binPath, layerData, 0755)
}

// extractTar extracts a tar stream into targetDir
func extractTar(reader io.Reader, targetDir string) error {
	tr := tar.NewReader(reader)

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read tar header: %w", err)
		}

		if !filepath.IsLocal(header.Name) {
			return fmt.Errorf("refusing to extract %q outside the tool directory", header.Name)
		}
		targetPath := filepath.Join(targetDir, header.Name)

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
				return err
			}
			file, err := os.Create(targetPath)
			if err != nil {
				return err
			}
			if _, err := io.Copy(file, tr); err != nil {
				file.Close()
				return err
			}
			file.Close()
			// Preserve execute bit
			if err := os.Chmod(targetPath, os.FileMode(header.Mode).Perm()); err != nil {
				return err
			}
		}
	}

	return nil
}

// isTar checks if content is tar format
func isTar(data []byte) bool {
	if len(data) < 512 {
		return false
	}
	// TAR magic is at offset 257
	return string(data[257:262]) == "ustar"
}
