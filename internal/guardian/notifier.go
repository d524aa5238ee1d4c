package guardian

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/charon-estate/charond/internal/model"
)

// EmailNotifier sends grace-period notifications through a Resend-style
// transactional email API.
type EmailNotifier struct {
	client  *http.Client
	baseURL string
	apiKey  string
	from    string
}

func NewEmailNotifier(baseURL, apiKey, from string) *EmailNotifier {
	return &EmailNotifier{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: baseURL,
		apiKey:  apiKey,
		from:    from,
	}
}

type emailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

func (e *EmailNotifier) NotifyGuardian(ctx context.Context, n model.GuardianNotification) error {
	body, err := json.Marshal(emailRequest{
		From:    e.from,
		To:      []string{n.Email},
		Subject: "Action required: verification window open",
		HTML:    notificationBody(n),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("email api returned %d: %s", resp.StatusCode, msg)
	}
	return nil
}

func notificationBody(n model.GuardianNotification) string {
	return fmt.Sprintf(`<p>You are listed as a guardian for %s.</p>
<p>The account entered a verification window. If you believe the owner is
alive, confirm their status before <strong>%s</strong>. After the deadline
their digital estate instructions will be carried out.</p>
<p>Your guardian address: %s</p>`,
		n.Subject, n.GraceDeadline.Format(time.RFC1123), n.Guardian)
}

// LogNotifier is the fallback when no email API key is configured: it
// records the notification in the service log and reports success.
type LogNotifier struct {
	Log *slog.Logger
}

func (l LogNotifier) NotifyGuardian(_ context.Context, n model.GuardianNotification) error {
	log := l.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("guardian notification (log only)",
		"subject", n.Subject, "guardian", n.Guardian,
		"email", n.Email, "deadline", n.GraceDeadline)
	return nil
}
