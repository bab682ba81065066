package dataset

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultMirror serves the gzip-compressed MNIST IDX files.
const DefaultMirror = "https://ossci-datasets.s3.amazonaws.com/mnist/"

// Fetch downloads any MNIST file missing from root. Files already present,
// plain or gzip compressed, are left alone. Downloads are decompressed and
// written atomically.
func Fetch(ctx context.Context, root, mirror string) error {
	return fetch(ctx, http.DefaultClient, root, mirror)
}

func fetch(ctx context.Context, client *http.Client, root, mirror string) error {
	if mirror == "" {
		mirror = DefaultMirror
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("dataset: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(2)
	for _, name := range Files() {
		path := filepath.Join(root, name)
		if cached(path) {
			slog.Debug("dataset: cached", "file", name)
			continue
		}
		g.Go(func() error {
			start := time.Now()
			n, err := download(ctx, client, mirror+name+".gz", path)
			if err != nil {
				return fmt.Errorf("dataset: fetching %s: %w", name, err)
			}
			slog.Info("dataset: downloaded", "file", name, "bytes", n, "elapsed", time.Since(start).Round(time.Millisecond))
			return nil
		})
	}
	return g.Wait()
}

func cached(path string) bool {
	for _, p := range []string{path, path + ".gz"} {
		if _, err := os.Stat(p); err == nil {
			return true
		} else if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("dataset: stat failed", "path", p, "error", err)
		}
	}
	return false
}

func download(ctx context.Context, client *http.Client, url, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("GET %s: %s", url, resp.Status)
	}

	zr, err := gzip.NewReader(resp.Body)
	if err != nil {
		return 0, err
	}
	defer zr.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.partial")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, zr)
	if err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	return n, os.Rename(tmp.Name(), dest)
}
