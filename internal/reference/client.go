package reference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/harunnryd/etat/internal/config"
	etaterrors "github.com/harunnryd/etat/internal/errors"
	"github.com/harunnryd/etat/internal/metrics"
)

const maxTemplateBytes = 8 << 20

var templateIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidTemplateID reports whether id is safe to use as a path segment.
func ValidTemplateID(id string) bool {
	return templateIDPattern.MatchString(id)
}

// Fetcher retrieves a raw template payload by id.
type Fetcher interface {
	Fetch(ctx context.Context, templateID string) ([]byte, error)
}

// Client talks to the remote reference endpoint: GET {base}/templates/{id}.
type Client struct {
	BaseURL    string
	HTTP       *http.Client
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	Metrics    *metrics.Metrics
	// MaxBytes caps the response body; zero means 8 MiB.
	MaxBytes   int64
}

func NewClient(cfg config.ReferenceConfig, m *metrics.Metrics) (*Client, error) {
	timeout, err := config.PositiveDurationOrDefault(cfg.Timeout, config.DefaultReferenceTimeout)
	if err != nil {
		return nil, fmt.Errorf("reference.timeout: %w", err)
	}
	backoff, err := config.DurationOrDefault(cfg.RetryBackoff, config.DefaultReferenceRetryBackoff)
	if err != nil {
		return nil, fmt.Errorf("reference.retry_backoff: %w", err)
	}
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = config.DefaultReferenceBaseURL
	}
	if _, err := endpoint(base, "check"); err != nil {
		return nil, err
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}

	return &Client{
		BaseURL:    base,
		HTTP:       &http.Client{},
		Timeout:    timeout,
		MaxRetries: retries,
		Backoff:    backoff,
		Metrics:    m,
		MaxBytes:   maxTemplateBytes,
	}, nil
}

func endpoint(baseURL, templateID string) (string, error) {
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid reference endpoint: %w", err)
	}
	if strings.TrimSpace(parsed.Scheme) == "" || strings.TrimSpace(parsed.Host) == "" {
		return "", fmt.Errorf("invalid reference endpoint %q", baseURL)
	}
	return parsed.JoinPath("templates", templateID).String(), nil
}

// Fetch performs the GET with a per-attempt timeout and bounded retries.
// 404 maps to ErrNotFound; every other failure to ErrNetwork.
func (c *Client) Fetch(ctx context.Context, templateID string) ([]byte, error) {
	if !ValidTemplateID(templateID) {
		return nil, etaterrors.InvalidInput(fmt.Sprintf("invalid template id %q", templateID))
	}
	target, err := endpoint(c.BaseURL, templateID)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := c.Backoff * time.Duration(attempt)
			slog.Debug("Retrying template fetch", "template", templateID, "attempt", attempt, "wait", wait, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		body, retry, err := c.fetchOnce(ctx, target)
		if err == nil {
			c.Metrics.ReferenceFetched("ok")
			return body, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !retry {
			break
		}
	}

	switch {
	case errors.Is(lastErr, etaterrors.ErrNotFound):
		c.Metrics.ReferenceFetched("not_found")
	default:
		c.Metrics.ReferenceFetched("error")
	}
	return nil, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, target string) ([]byte, bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "etat/1.0")

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, true, etaterrors.WrapWithCategory(err, "GET "+target, etaterrors.ErrNetwork)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, etaterrors.NotFound("template not found at " + target)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return nil, true, etaterrors.Network(fmt.Sprintf("GET %s: %s", target, resp.Status))
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return nil, false, etaterrors.Network(fmt.Sprintf("GET %s: %s", target, resp.Status))
	}

	limit := c.MaxBytes
	if limit <= 0 {
		limit = maxTemplateBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, true, etaterrors.WrapWithCategory(err, "read template body", etaterrors.ErrNetwork)
	}
	if int64(len(body)) > limit {
		return nil, false, etaterrors.Network(fmt.Sprintf("GET %s: template too large (over %d bytes)", target, limit))
	}
	return body, false, nil
}
