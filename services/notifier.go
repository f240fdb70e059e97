package services

import (
	"fmt"
	"html"
	"strings"
	"time"

	"go.uber.org/zap"

	"keap-export/config"
	"keap-export/models"
)

// Notifier mails a run summary to the configured recipients. Delivery
// problems are logged and reported, never allowed to change the run's
// outcome.
type Notifier struct {
	settings *config.Settings
	logger   *zap.Logger
}

func NewNotifier(settings *config.Settings, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{settings: settings, logger: logger}
}

// NotifyRunFinished sends the summary email. A nil recipient list is a
// no-op so unconfigured environments stay quiet.
func (n *Notifier) NotifyRunFinished(summary *SyncSummary) error {
	if len(n.settings.NotifyTo) == 0 {
		return nil
	}

	subject := fmt.Sprintf("Keap export run %s: success", summary.PublicID)
	if summary.Failed() || (summary.Validation != nil && !summary.Validation.Passed) {
		subject = fmt.Sprintf("Keap export run %s: FAILED", summary.PublicID)
	}

	if err := config.SendMail(n.settings.NotifyTo, subject, n.renderSummary(summary)); err != nil {
		n.logger.Warn("failed to send run notification", zap.Error(err))
		return err
	}
	return nil
}

func (n *Notifier) renderSummary(summary *SyncSummary) string {
	var b strings.Builder
	b.WriteString("<h2>Keap export run summary</h2>")
	fmt.Fprintf(&b, "<p>Run <code>%s</code> finished in %s.</p>", html.EscapeString(summary.PublicID), summary.Duration.Round(time.Second))

	b.WriteString("<table border=\"1\" cellpadding=\"4\" cellspacing=\"0\">")
	b.WriteString("<tr><th>Entity</th><th>Status</th><th>Items</th><th>Pages</th><th>Error</th></tr>")
	for _, r := range summary.Results {
		color := "#1a7f37"
		if r.Status == models.SyncStatusFailed {
			color = "#cf222e"
		} else if r.Status == models.SyncStatusSkipped {
			color = "#9a6700"
		}
		fmt.Fprintf(&b, "<tr><td>%s</td><td style=\"color:%s\">%s</td><td>%d</td><td>%d</td><td>%s</td></tr>",
			html.EscapeString(r.Entity), color, r.Status, r.Items, r.Pages, html.EscapeString(r.Error))
	}
	b.WriteString("</table>")

	if summary.Validation != nil {
		fmt.Fprintf(&b, "<h3>Validation: %s</h3>", map[bool]string{true: "passed", false: "failed"}[summary.Validation.Passed])
		b.WriteString("<ul>")
		for _, c := range summary.Validation.Checks {
			if c.Findings == 0 {
				continue
			}
			label := ""
			if c.Informational {
				label = " (informational)"
			}
			fmt.Fprintf(&b, "<li>%s: %d findings%s %s</li>",
				html.EscapeString(c.Name), c.Findings, label, html.EscapeString(c.Detail))
		}
		b.WriteString("</ul>")
	}
	return b.String()
}
