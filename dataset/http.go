package dataset

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultMaxSize = 32 << 20

// HTTPSource fetches <BaseURL>/datasets/<name>.csv.
type HTTPSource struct {
	BaseURL string
	Client  *http.Client
	MaxSize int64
}

func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 30 * time.Second},
		MaxSize: defaultMaxSize,
	}
}

// URL returns the address a dataset is fetched from.
func (s *HTTPSource) URL(name string) string {
	return s.BaseURL + "/datasets/" + FileName(name)
}

func (s *HTTPSource) Fetch(ctx context.Context, name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL(name), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", name, err)
	}
	defer resp.Body.Close()

	maxSize := s.MaxSize
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxSize+1))
	text := string(body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return text, fmt.Errorf("%w: %s", ErrNotFound, name)
	case resp.StatusCode != http.StatusOK:
		return text, fmt.Errorf("fetch %s: HTTP %d", name, resp.StatusCode)
	case readErr != nil:
		return text, fmt.Errorf("read %s: %w", name, readErr)
	case int64(len(body)) > maxSize:
		return text[:maxSize], fmt.Errorf("dataset %s exceeds %d bytes", name, maxSize)
	}
	return text, nil
}
