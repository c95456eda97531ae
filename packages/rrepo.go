package packages

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultRepoURL serves R packages built for WebAssembly.
const DefaultRepoURL = "https://repo.r-wasm.org"

// DefaultContrib is the repository path holding PACKAGES and the archives.
const DefaultContrib = "bin/emscripten/contrib/4.4"

// RRepo installs packages from a CRAN-style repository: it reads the
// PACKAGES index under Contrib and unpacks <name>_<version>.tgz archives.
type RRepo struct {
	RepoURL string
	Contrib string
	Client  *http.Client

	dir string
	log *logrus.Entry
}

func NewRRepo(dir, repoURL string, logger *logrus.Logger) *RRepo {
	if repoURL == "" {
		repoURL = DefaultRepoURL
	}
	return &RRepo{
		RepoURL: strings.TrimRight(repoURL, "/"),
		Contrib: DefaultContrib,
		Client:  &http.Client{Timeout: 2 * time.Minute},
		dir:     dir,
		log:     entryFor(logger, "r"),
	}
}

func (r *RRepo) Dir() string { return r.dir }

func (r *RRepo) base() string {
	return r.RepoURL + "/" + strings.Trim(r.Contrib, "/")
}

// Install resolves versions from the repository index and unpacks every
// package not already present.
func (r *RRepo) Install(ctx context.Context, names []string) error {
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return fmt.Errorf("create package dir: %w", err)
	}

	var missing []string
	for _, name := range names {
		if !r.present(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	body, err := get(ctx, r.Client, r.base()+"/PACKAGES")
	if err != nil {
		return fmt.Errorf("fetch package index: %w", err)
	}
	versions, err := parseIndex(body)
	body.Close()
	if err != nil {
		return fmt.Errorf("parse package index: %w", err)
	}

	return installAll(ctx, missing, r.present, func(ctx context.Context, name string) error {
		version, ok := versions[name]
		if !ok {
			return fmt.Errorf("not in repository index")
		}
		return r.install(ctx, name, version)
	})
}

func (r *RRepo) present(name string) bool {
	_, err := os.Stat(filepath.Join(r.dir, name, "DESCRIPTION"))
	return err == nil
}

func (r *RRepo) install(ctx context.Context, name, version string) error {
	url := fmt.Sprintf("%s/%s_%s.tgz", r.base(), name, version)
	r.log.WithField("package", name).WithField("version", version).Info("downloading package")

	body, err := get(ctx, r.Client, url)
	if err != nil {
		return fmt.Errorf("download archive: %w", err)
	}
	defer body.Close()

	if err := extractTarGz(body, r.dir); err != nil {
		return fmt.Errorf("extract archive: %w", err)
	}
	return nil
}

// parseIndex reads a PACKAGES file in Debian control format and returns
// the version of each package.
func parseIndex(r io.Reader) (map[string]string, error) {
	versions := make(map[string]string)
	var pkg, version string
	flush := func() {
		if pkg != "" && version != "" {
			versions[pkg] = version
		}
		pkg, version = "", ""
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok || strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			continue
		}
		switch key {
		case "Package":
			pkg = strings.TrimSpace(value)
		case "Version":
			version = strings.TrimSpace(value)
		}
	}
	flush()
	return versions, sc.Err()
}

func extractTarGz(r io.Reader, destDir string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		dest, err := safeJoin(destDir, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(dest, tr); err != nil {
				return err
			}
		}
	}
}
