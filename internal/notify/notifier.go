// Package notify delivers anomaly alerts to chat channels (Telegram,
// Discord). Every registered sender receives each alert at or above the
// configured minimum severity.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

// Message is a rendered alert.
type Message struct {
	Title    string
	Body     string
	Severity domain.Severity
}

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// Notifier fans alerts out to its senders.
type Notifier struct {
	senders     []Sender
	minSeverity domain.Severity
	logger      *slog.Logger
}

// NewNotifier creates a Notifier. An empty minSeverity means critical.
func NewNotifier(senders []Sender, minSeverity domain.Severity, logger *slog.Logger) *Notifier {
	if minSeverity == "" {
		minSeverity = domain.SeverityCritical
	}
	return &Notifier{
		senders:     senders,
		minSeverity: minSeverity,
		logger:      logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Alert delivers a, unless it is below the minimum severity.
func (n *Notifier) Alert(ctx context.Context, a domain.Anomaly) error {
	if a.Severity.Rank() < n.minSeverity.Rank() {
		n.logger.DebugContext(ctx, "alert below threshold",
			slog.Int64("id", a.ID),
			slog.String("severity", string(a.Severity)),
		)
		return nil
	}
	return n.dispatch(ctx, FormatAnomaly(a))
}

// Send delivers an arbitrary message to every sender.
func (n *Notifier) Send(ctx context.Context, msg Message) error {
	return n.dispatch(ctx, msg)
}

// dispatch tries every sender; one failure does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, msg Message) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", msg.Title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// headline details, in display order.
var detailOrder = []string{"z_score", "volume", "baseline_avg", "vpin", "whale_count", "correlation", "days_to_close"}

// FormatAnomaly renders an anomaly as plain text.
func FormatAnomaly(a domain.Anomaly) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Market: %s\nType: %s\nScore: %.2f\nDetected: %s",
		a.Ticker, a.Type, a.Score, a.DetectedAt.UTC().Format("2006-01-02 15:04 MST"))

	keys := make([]string, 0, len(a.Details))
	for _, k := range detailOrder {
		if _, ok := a.Details[k]; ok {
			keys = append(keys, k)
		}
	}
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %s", k, formatValue(a.Details[k]))
	}
	if a.ID != 0 {
		fmt.Fprintf(&b, "\nAnomaly #%d", a.ID)
	}

	return Message{
		Title:    fmt.Sprintf("%s anomaly on %s", strings.ToUpper(string(a.Severity)), a.Ticker),
		Body:     b.String(),
		Severity: a.Severity,
	}
}

func formatValue(v any) string {
	switch x := v.(type) {
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%.3f", x)
	default:
		return fmt.Sprint(x)
	}
}
