package messaging

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/BTreeMap/DialogPipe/internal/models"
)

const (
	// DefaultMediaTimeout bounds fetching outbound media from a URL.
	DefaultMediaTimeout = 30 * time.Second
	maxMediaBytes       = 16 << 20
)

// loadMedia reads outbound media from its local path or URL and sniffs the
// MIME type when none is set.
func loadMedia(ctx context.Context, client *http.Client, m *models.Media) ([]byte, string, error) {
	var (
		data []byte
		err  error
	)
	switch {
	case m.Path != "":
		data, err = os.ReadFile(filepath.Clean(m.Path))
		if err != nil {
			return nil, "", fmt.Errorf("failed to read media %s: %w", m.Path, err)
		}
	case m.URL != "":
		req, rerr := http.NewRequestWithContext(ctx, http.MethodGet, m.URL, nil)
		if rerr != nil {
			return nil, "", rerr
		}
		resp, rerr := client.Do(req)
		if rerr != nil {
			return nil, "", fmt.Errorf("failed to fetch media %s: %w", m.URL, rerr)
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, "", fmt.Errorf("failed to fetch media %s: status %d", m.URL, resp.StatusCode)
		}
		data, err = io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
		if err != nil {
			return nil, "", fmt.Errorf("failed to read media %s: %w", m.URL, err)
		}
	default:
		return nil, "", models.ErrMissingMedia
	}

	mimeType := m.MIMEType
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}
