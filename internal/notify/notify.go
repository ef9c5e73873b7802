// Package notify emails alerts whose importance reaches a configured minimum.
package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	models "github.com/Schera-ole/vmwatch/internal/model"
	"github.com/Schera-ole/vmwatch/internal/telemetry"
)

// Mailer delivers a plain text message.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// NopMailer discards every message. It is used when SMTP is not configured.
type NopMailer struct{}

func (NopMailer) Send(context.Context, string, string, string) error { return nil }

// Gate decides whether an alert is worth an email and sends it.
type Gate struct {
	mailer Mailer
	logger *zap.SugaredLogger
}

// NewGate creates a Gate. A nil mailer is replaced by NopMailer.
func NewGate(mailer Mailer, logger *zap.SugaredLogger) *Gate {
	if mailer == nil {
		mailer = NopMailer{}
	}
	return &Gate{mailer: mailer, logger: logger}
}

// MaybeNotify emails alert to recipient when its importance is at least
// minimum. Delivery errors are logged and not returned. The result reports
// whether a message was handed to the mailer successfully.
func (g *Gate) MaybeNotify(ctx context.Context, alert models.Alert, recipient string, minimum models.Importance) bool {
	if !alert.Importance.AtLeast(minimum) || recipient == "" {
		telemetry.Notifications.WithLabelValues("suppressed").Inc()
		return false
	}

	subject := fmt.Sprintf("[vmwatch] %s alert for %s", alert.Importance, alert.VMID)
	if err := g.mailer.Send(ctx, recipient, subject, body(alert)); err != nil {
		telemetry.Notifications.WithLabelValues("failed").Inc()
		g.logger.Errorw("alert email not delivered", "alert", alert.ID, "recipient", recipient, "error", err)
		return false
	}
	telemetry.Notifications.WithLabelValues("sent").Inc()
	g.logger.Infow("alert email sent", "alert", alert.ID, "importance", alert.Importance)
	return true
}

func body(alert models.Alert) string {
	return fmt.Sprintf("%s\n\nVM: %s\nAgent: %s\nImportance: %s\nObserved: %s\nAlert: %s\n",
		alert.Message,
		alert.VMID,
		alert.AgentID,
		alert.Importance,
		alert.Timestamp.Format("2006-01-02 15:04:05 -0700"),
		alert.ID,
	)
}
