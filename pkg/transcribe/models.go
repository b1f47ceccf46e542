package transcribe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harunnryd/voxnote/pkg/errorsx"
	"github.com/harunnryd/voxnote/pkg/logging"
	"github.com/harunnryd/voxnote/pkg/resilience"
)

// ModelAvailability describes whether the high-quality backend can serve a
// locale right now.
type ModelAvailability struct {
	Supported bool
	Installed bool
}

// ModelCatalog answers availability queries for the high-quality backend.
type ModelCatalog interface {
	Availability(locale string) (ModelAvailability, error)
}

// Installer fetches a locale's model so a future session can upgrade to the
// high-quality backend. Failures are only ever logged by the caller.
type Installer interface {
	Install(ctx context.Context, locale string) error
}

// FileCatalog resolves availability from model files on disk. Cached per
// locale since installs happen out of band and a session only cares about
// the state at start.
type FileCatalog struct {
	dir       string
	supported map[string]bool
	cache     map[string]ModelAvailability
}

func NewFileCatalog(dir string, locales []string) *FileCatalog {
	supported := make(map[string]bool, len(locales))
	for _, l := range locales {
		supported[normalizeLocale(l)] = true
	}
	return &FileCatalog{
		dir:       dir,
		supported: supported,
		cache:     make(map[string]ModelAvailability),
	}
}

func (c *FileCatalog) Availability(locale string) (ModelAvailability, error) {
	key := normalizeLocale(locale)
	if avail, ok := c.cache[key]; ok {
		return avail, nil
	}
	avail := ModelAvailability{Supported: c.supported[key]}
	if avail.Supported {
		if _, err := os.Stat(ModelPath(c.dir, locale)); err == nil {
			avail.Installed = true
		}
	}
	c.cache[key] = avail
	return avail, nil
}

// ModelPath returns the on-disk location of a locale's model file.
func ModelPath(dir, locale string) string {
	return filepath.Join(dir, "ggml-"+normalizeLocale(locale)+".bin")
}

func normalizeLocale(locale string) string {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if i := strings.IndexAny(locale, "-_"); i > 0 {
		locale = locale[:i]
	}
	return locale
}

// HTTPInstaller downloads model files over HTTP into the models directory.
// Downloads go to a temp file first so a torn transfer never looks like an
// installed model.
type HTTPInstaller struct {
	baseURL string
	dir     string
	client  *http.Client
	retry   resilience.RetryPolicy
	logger  *slog.Logger
}

func NewHTTPInstaller(baseURL, dir string, client *http.Client) *HTTPInstaller {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPInstaller{
		baseURL: strings.TrimRight(baseURL, "/"),
		dir:     dir,
		client:  client,
		retry:   resilience.NewRetryPolicy(2, 500*time.Millisecond),
		logger:  logging.NewComponentLogger(slog.Default(), "model_installer"),
	}
}

func (i *HTTPInstaller) Install(ctx context.Context, locale string) error {
	if err := os.MkdirAll(i.dir, 0o755); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonModelInstall)
	}
	url := fmt.Sprintf("%s/ggml-%s.bin", i.baseURL, normalizeLocale(locale))
	dst := ModelPath(i.dir, locale)

	i.logger.Info("model_install_started",
		slog.String("locale", locale),
		slog.String("url", url))

	err := i.retry.Do(func() error {
		return i.download(ctx, url, dst)
	})
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonModelInstall)
	}
	i.logger.Info("model_install_finished", slog.String("locale", locale))
	return nil
}

func (i *HTTPInstaller) download(ctx context.Context, url, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model download returned status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(i.dir, ".model-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
