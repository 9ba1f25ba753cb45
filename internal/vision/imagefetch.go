package vision

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxImageBytes caps stock photo downloads; Open Food Facts front images are
// well under this.
const maxImageBytes = 8 << 20

// ImageFetcher downloads product stock photos so that scans without a live
// camera frame can still go through image analysis.
type ImageFetcher struct {
	httpClient *http.Client
}

// NewImageFetcher creates a fetcher with a bounded per-request timeout.
func NewImageFetcher(timeout time.Duration) *ImageFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ImageFetcher{httpClient: &http.Client{Timeout: timeout}}
}

// Fetch downloads the image at url. Any failure maps to ErrUnavailable so the
// caller's fail-closed handling covers fetch and analysis alike.
func (f *ImageFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: image fetch status %d", ErrUnavailable, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("%w: image exceeds %d bytes", ErrUnavailable, maxImageBytes)
	}
	return data, nil
}
