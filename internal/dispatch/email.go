package dispatch

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"sentinel/internal/models"
)

// EmailConfig configures an SMTP email channel.
type EmailConfig struct {
	Name     string
	SMTPHost string
	SMTPPort int
	Username string
	Password string
	From     string
	To       []string
}

// EmailChannel delivers firings as plain-text email over SMTP.
type EmailChannel struct {
	name models.ChannelRef
	cfg  EmailConfig

	// sendMail is swappable for tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailChannel creates an email channel.
func NewEmailChannel(cfg EmailConfig) *EmailChannel {
	return &EmailChannel{
		name:     models.ChannelRef(cfg.Name),
		cfg:      cfg,
		sendMail: smtp.SendMail,
	}
}

func (c *EmailChannel) Name() models.ChannelRef { return c.name }

// Send delivers the firing to all configured recipients. Missing
// configuration is permanent; SMTP transport failures are transient.
func (c *EmailChannel) Send(ctx context.Context, firing *models.AlertFiring) error {
	if c.cfg.SMTPHost == "" || c.cfg.From == "" || len(c.cfg.To) == 0 {
		return Permanent(fmt.Errorf("email channel %s is not fully configured", c.name))
	}

	var auth smtp.Auth
	if c.cfg.Username != "" {
		auth = smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.SMTPHost)
	}

	addr := fmt.Sprintf("%s:%d", c.cfg.SMTPHost, c.cfg.SMTPPort)
	msg := c.buildMessage(firing)

	done := make(chan error, 1)
	go func() {
		done <- c.sendMail(addr, auth, c.cfg.From, c.cfg.To, msg)
	}()

	select {
	case <-ctx.Done():
		return Transient(ctx.Err())
	case err := <-done:
		if err != nil {
			return Transient(fmt.Errorf("send email: %w", err))
		}
		return nil
	}
}

func (c *EmailChannel) buildMessage(firing *models.AlertFiring) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", c.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(c.cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: [ALERT] %s\r\n", firing.RuleName)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")

	fmt.Fprintf(&b, "Alert rule %q fired at %s.\r\n\r\n", firing.RuleName, firing.FiredAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Count:     %d (threshold %d)\r\n", firing.Count, firing.Threshold)
	fmt.Fprintf(&b, "Window:    %s — %s\r\n",
		firing.WindowStart.Format(time.RFC3339),
		firing.WindowEnd.Format(time.RFC3339))
	if len(firing.SampleEvents) > 0 {
		fmt.Fprintf(&b, "Samples:   %s\r\n", strings.Join(firing.SampleEvents, ", "))
	}
	return []byte(b.String())
}
