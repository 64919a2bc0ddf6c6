// Package notification delivers trade alerts to Telegram, a generic webhook
// or the log.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"optbot/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel        `json:"level"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the standard logger.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi fans an alert out to several notifiers. Every notifier is tried;
// failures are joined.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SummarizeOutcomes builds one alert for a fan-out. The level is INFO when
// every account placed, WARNING on a partial fill and CRITICAL when nothing
// went through.
func SummarizeOutcomes(key model.InstrumentKey, side model.Side, outs []model.OrderOutcome) Alert {
	placed := 0
	var lines []string
	for _, o := range outs {
		if o.Success {
			placed++
			lines = append(lines, fmt.Sprintf("%s: placed %s", o.Account, o.OrderID))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s (%s)", o.Account, o.ErrorKind, o.Error))
	}

	level := AlertInfo
	switch {
	case len(outs) == 0 || placed == 0:
		level = AlertCritical
	case placed < len(outs):
		level = AlertWarning
	}

	fields := map[string]string{
		"instrument": key.String(),
		"side":       string(side),
		"placed":     fmt.Sprintf("%d/%d", placed, len(outs)),
	}
	if len(outs) > 0 && outs[0].TraceID != "" {
		fields["trace_id"] = outs[0].TraceID
	}

	return Alert{
		Level:   level,
		Title:   fmt.Sprintf("%s %s: %d/%d placed", side, key, placed, len(outs)),
		Message: strings.Join(lines, "\n"),
		Fields:  fields,
	}
}

// sortedFields renders fields as "k: v" lines in key order.
func sortedFields(fields map[string]string) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k + ": " + fields[k]
	}
	return out
}
