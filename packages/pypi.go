package packages

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultIndexURL is the PyPI JSON API root.
const DefaultIndexURL = "https://pypi.org/pypi"

// Packages that won't work in WASM (require C extensions, sockets, etc.)
var blockedPackages = map[string]string{
	// C extensions
	"numpy":         "requires C extensions",
	"pandas":        "requires C extensions (numpy)",
	"scipy":         "requires C extensions",
	"tensorflow":    "requires C extensions",
	"torch":         "requires C extensions",
	"scikit-learn":  "requires C extensions",
	"matplotlib":    "requires C extensions",
	"pillow":        "requires C extensions",
	"opencv-python": "requires C extensions",
	"lxml":          "requires C extensions",
	// Socket-based
	"requests": "uses sockets",
	"httpx":    "uses sockets",
	"urllib3":  "uses sockets",
	"aiohttp":  "uses async sockets",
	"flask":    "requires sockets (web framework not supported)",
	"django":   "requires sockets (web framework not supported)",
}

type pypiURL struct {
	PackageType string `json:"packagetype"`
	Filename    string `json:"filename"`
	URL         string `json:"url"`
}

type pypiResponse struct {
	Info struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"info"`
	Urls []pypiURL `json:"urls"`
}

// PyPI installs pure Python wheels from a PyPI-compatible JSON index.
type PyPI struct {
	IndexURL string
	Client   *http.Client

	dir string
	log *logrus.Entry
}

func NewPyPI(dir, indexURL string, logger *logrus.Logger) *PyPI {
	if indexURL == "" {
		indexURL = DefaultIndexURL
	}
	return &PyPI{
		IndexURL: strings.TrimRight(indexURL, "/"),
		Client:   &http.Client{Timeout: 2 * time.Minute},
		dir:      dir,
		log:      entryFor(logger, "python"),
	}
}

func (p *PyPI) Dir() string { return p.dir }

// Install downloads and unpacks every package not already importable from
// the package directory.
func (p *PyPI) Install(ctx context.Context, names []string) error {
	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return fmt.Errorf("create package dir: %w", err)
	}
	return installAll(ctx, names, p.present, p.install)
}

func (p *PyPI) present(spec string) bool {
	name := moduleName(parsePackageSpec(spec))
	for _, candidate := range []string{name, name + ".py"} {
		if _, err := os.Stat(filepath.Join(p.dir, candidate)); err == nil {
			return true
		}
	}
	return false
}

func (p *PyPI) install(ctx context.Context, spec string) error {
	name := parsePackageSpec(spec)
	if reason, blocked := blockedPackages[strings.ToLower(name)]; blocked {
		return &BlockedError{Name: name, Reason: reason}
	}

	body, err := get(ctx, p.Client, fmt.Sprintf("%s/%s/json", p.IndexURL, name))
	if err != nil {
		return fmt.Errorf("fetch package info: %w", err)
	}
	var info pypiResponse
	err = json.NewDecoder(body).Decode(&info)
	body.Close()
	if err != nil {
		return fmt.Errorf("parse index response: %w", err)
	}

	wheelURL := findWheel(info.Urls)
	if wheelURL == "" {
		return fmt.Errorf("no compatible wheel found (pure Python wheel required)")
	}

	p.log.WithField("package", info.Info.Name).WithField("version", info.Info.Version).Info("downloading wheel")
	wheel, err := get(ctx, p.Client, wheelURL)
	if err != nil {
		return fmt.Errorf("download wheel: %w", err)
	}
	defer wheel.Close()

	tmp, err := os.CreateTemp("", "datalab-*.whl")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, wheel); err != nil {
		tmp.Close()
		return fmt.Errorf("download wheel: %w", err)
	}
	tmp.Close()

	if err := extractWheel(tmp.Name(), p.dir); err != nil {
		return fmt.Errorf("extract wheel: %w", err)
	}
	return nil
}

func parsePackageSpec(spec string) string {
	// Handle specs like "requests>=2.32" or "pydantic==2.0"
	for _, op := range []string{">=", "<=", "==", "~=", "!="} {
		if idx := strings.Index(spec, op); idx != -1 {
			return strings.TrimSpace(spec[:idx])
		}
	}
	return strings.TrimSpace(spec)
}

func moduleName(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "-", "_")
}

func findWheel(urls []pypiURL) string {
	for _, u := range urls {
		if u.PackageType != "bdist_wheel" {
			continue
		}
		filename := strings.ToLower(u.Filename)
		if strings.Contains(filename, "-py3-none-any") || strings.Contains(filename, "-py2.py3-none-any") {
			return u.URL
		}
	}
	return ""
}

func extractWheel(wheelPath, destDir string) error {
	r, err := zip.OpenReader(wheelPath)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		name := strings.ToLower(f.Name)
		if strings.HasSuffix(name, ".so") || strings.HasSuffix(name, ".pyd") || strings.HasSuffix(name, ".dylib") {
			return fmt.Errorf("package contains C extensions (%s) which won't work in WASM", filepath.Base(f.Name))
		}
	}

	for _, f := range r.File {
		if strings.Contains(f.Name, ".dist-info/") {
			continue
		}
		dest, err := safeJoin(destDir, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0755); err != nil {
				return err
			}
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return err
		}
		err = writeFile(dest, rc)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
