package monitor

import (
	"context"
	"fmt"
	"strings"

	"github.com/rewired-gh/polyedge/internal/logger"
	"github.com/rewired-gh/polyedge/internal/models"
)

// LogDispatcher writes alerts to the log. It is used when Telegram is disabled.
type LogDispatcher struct{}

func (LogDispatcher) Send(_ context.Context, text string) error {
	logger.Info("ALERT\n%s", text)
	return nil
}

// TextFormatter renders plain-text messages.
type TextFormatter struct{}

func (TextFormatter) Alert(a models.AlertSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s (score %d, size %s)\n", strings.ToUpper(string(a.Action)), a.Question, a.OverallScore, a.RecommendedSize.StringFixed(2))
	fmt.Fprintf(&b, "YES %.1f%% / NO %.1f%%", a.YesProbability, a.NoProbability)
	if a.RiskScore > 0 {
		fmt.Fprintf(&b, ", risk %d/10", a.RiskScore)
	}
	b.WriteString("\n")
	if a.AnalysisText != "" {
		b.WriteString(a.AnalysisText)
		b.WriteString("\n")
	}
	if a.ExitStrategy != "" {
		fmt.Fprintf(&b, "Exit: %s\n", a.ExitStrategy)
	}
	if a.URL != "" {
		b.WriteString(a.URL)
		b.WriteString("\n")
	}
	return b.String()
}

func (TextFormatter) ScanError(err error) string {
	return fmt.Sprintf("Scan error: %v", err)
}

func (TextFormatter) Recovery(failures int) string {
	return fmt.Sprintf("Scanning recovered after %d consecutive failure(s)", failures)
}
