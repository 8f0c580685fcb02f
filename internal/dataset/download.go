package dataset

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// DefaultMirror hosts the gzip-compressed MNIST IDX files.
const DefaultMirror = "https://storage.googleapis.com/cvdf-datasets/mnist"

// allFiles lists every file needed by both splits.
var allFiles = []string{
	"train-images-idx3-ubyte",
	"train-labels-idx1-ubyte",
	"t10k-images-idx3-ubyte",
	"t10k-labels-idx1-ubyte",
}

// Downloader fetches missing dataset files into a directory.
type Downloader struct {
	Mirror       string
	Client       *http.Client
	ShowProgress bool
	Output       io.Writer // Progress bar destination, os.Stderr if nil.
}

// Fetch downloads into dir every dataset file not already present, plain or
// gzip-compressed. Files come from Mirror, DefaultMirror if empty.
func (d *Downloader) Fetch(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating data directory %q", dir)
	}
	for _, name := range allFiles {
		plain := filepath.Join(dir, name)
		if exists(plain) || exists(plain+".gz") {
			klog.V(2).Infof("dataset: %s already present", name)
			continue
		}
		if err := d.fetchFile(ctx, name+".gz", plain+".gz"); err != nil {
			return err
		}
	}
	return nil
}

func (d *Downloader) fetchFile(ctx context.Context, name, target string) error {
	mirror := d.Mirror
	if mirror == "" {
		mirror = DefaultMirror
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	url := mirror + "/" + name

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrapf(err, "building request for %q", url)
	}
	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "downloading %q", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("downloading %q: unexpected status %s", url, resp.Status)
	}

	// Write to a temporary name so an interrupted download is never mistaken
	// for a complete file.
	tmp := target + ".partial"
	file, err := os.Create(tmp)
	if err != nil {
		return errors.Wrapf(err, "creating %q", tmp)
	}
	var dst io.Writer = file
	var bar *progressbar.ProgressBar
	if d.ShowProgress {
		bar = progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetDescription(name),
			progressbar.OptionSetWriter(d.output()),
			progressbar.OptionShowBytes(true),
			progressbar.OptionUseANSICodes(true),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionSetTheme(progressbar.ThemeUnicode),
		)
		dst = io.MultiWriter(file, bar)
	}
	size, err := io.Copy(dst, resp.Body)
	if bar != nil {
		_ = bar.Close()
		_, _ = fmt.Fprintln(d.output())
	}
	if err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "downloading %q to %q", url, tmp)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "closing %q", tmp)
	}
	if err := os.Rename(tmp, target); err != nil {
		return errors.Wrapf(err, "renaming %q", tmp)
	}
	klog.Infof("dataset: downloaded %s (%s)", name, humanize.Bytes(uint64(size)))
	return nil
}

func (d *Downloader) output() io.Writer {
	if d.Output != nil {
		return d.Output
	}
	return os.Stderr
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
