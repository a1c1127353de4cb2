package report

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/natefinch/atomic"
	"github.com/slack-go/slack"

	"github.com/harunnryd/etat/internal/config"
	"github.com/harunnryd/etat/internal/errors"
)

// Sink delivers an encoded export somewhere outside the device.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, e Export, body []byte, digest string) error
}

// FileSink writes <dir>/<session>.json.
type FileSink struct {
	Dir string
}

func (s *FileSink) Name() string {
	return "file"
}

func (s *FileSink) Deliver(ctx context.Context, e Export, body []byte, digest string) error {
	if e.SessionID == "" {
		return errors.InvalidInput("export has no session id")
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return errors.Wrap(err, "create report dir")
	}
	path := filepath.Join(s.Dir, e.SessionID+".json")
	if err := atomic.WriteFile(path, bytes.NewReader(body)); err != nil {
		return errors.Wrap(err, "write report")
	}
	slog.Debug("Report written", "path", path, "digest", digest)
	return nil
}

// SlackSink posts a short summary to an incoming webhook. The body itself is
// not attached; the digest lets the receiver match it to the file copy.
type SlackSink struct {
	WebhookURL string
	HTTP       *http.Client
}

func NewSlackSink(webhookURL string, timeout time.Duration) *SlackSink {
	return &SlackSink{WebhookURL: webhookURL, HTTP: &http.Client{Timeout: timeout}}
}

func (s *SlackSink) Name() string {
	return "slack"
}

func (s *SlackSink) Deliver(ctx context.Context, e Export, body []byte, digest string) error {
	msg := &slack.WebhookMessage{
		Text: fmt.Sprintf("Inspection %s %s (%s)", e.SessionID, e.Status, e.Flow),
		Attachments: []slack.Attachment{{
			Title: e.TemplateName,
			Fields: []slack.AttachmentField{
				{Title: "Template", Value: e.TemplateID, Short: true},
				{Title: "Tasks", Value: fmt.Sprintf("%d/%d", e.Counts.Completed, e.Counts.Tasks), Short: true},
				{Title: "Interactions", Value: strconv.Itoa(e.Counts.Interactions), Short: true},
				{Title: "Digest", Value: digest, Short: false},
			},
		}},
	}
	if err := slack.PostWebhookCustomHTTPContext(ctx, s.WebhookURL, s.HTTP, msg); err != nil {
		return errors.WrapWithCategory(err, "post slack webhook", errors.ErrNetwork)
	}
	return nil
}

// Reporter encodes an export once and hands it to every configured sink.
type Reporter struct {
	sinks []Sink
}

func NewReporter(sinks ...Sink) *Reporter {
	return &Reporter{sinks: sinks}
}

// FromConfig builds the sinks that are configured; none is valid.
func FromConfig(cfg config.ReportConfig) (*Reporter, error) {
	var sinks []Sink
	if cfg.OutputDir != "" {
		sinks = append(sinks, &FileSink{Dir: cfg.OutputDir})
	}
	if cfg.SlackWebhookURL != "" {
		timeout, err := config.PositiveDurationOrDefault(cfg.Timeout, config.DefaultReportTimeout)
		if err != nil {
			return nil, fmt.Errorf("report.timeout: %w", err)
		}
		sinks = append(sinks, NewSlackSink(cfg.SlackWebhookURL, timeout))
	}
	return NewReporter(sinks...), nil
}

func (r *Reporter) Sinks() []string {
	names := make([]string, len(r.sinks))
	for i, s := range r.sinks {
		names[i] = s.Name()
	}
	return names
}

// Publish encodes e and delivers it to every sink. A failing sink does not
// stop the others; the first error is returned.
func (r *Reporter) Publish(ctx context.Context, e Export) (string, error) {
	body, digest, err := Encode(e)
	if err != nil {
		return "", err
	}
	var first error
	for _, sink := range r.sinks {
		if err := sink.Deliver(ctx, e, body, digest); err != nil {
			slog.Warn("Report delivery failed", "sink", sink.Name(), "session_id", e.SessionID, "error", err)
			if first == nil {
				first = err
			}
		}
	}
	return digest, first
}
