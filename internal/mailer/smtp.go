package mailer

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/wneessen/go-mail"

	"github.com/and161185/cafe-backoffice/internal/metrics"
)

// SMTPConfig configures SMTPDispatcher.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	// Attempts is the total number of delivery attempts (>=1).
	Attempts uint64
	// Backoff is the base delay of the exponential retry schedule.
	Backoff time.Duration
}

type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTPDispatcher delivers codes over SMTP, retrying transient failures.
type SMTPDispatcher struct {
	client   sender
	from     string
	attempts uint64
	backoff  time.Duration
}

// NewSMTPDispatcher builds a go-mail client from cfg.
func NewSMTPDispatcher(cfg SMTPConfig) (*SMTPDispatcher, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(10 * time.Second),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	c, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return newSMTPDispatcher(c, cfg), nil
}

func newSMTPDispatcher(c sender, cfg SMTPConfig) *SMTPDispatcher {
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	return &SMTPDispatcher{client: c, from: cfg.From, attempts: cfg.Attempts, backoff: cfg.Backoff}
}

// SendCode renders and sends the code e-mail.
func (d *SMTPDispatcher) SendCode(ctx context.Context, to, code, purpose string) error {
	const op = "mailer.SMTPDispatcher.SendCode"

	m, err := d.message(to, code, purpose)
	if err != nil {
		metrics.RecordDispatch("smtp", false)
		return fmt.Errorf("%s: %w", op, err)
	}

	b := retry.WithMaxRetries(d.attempts-1, retry.NewExponential(d.backoff))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		if err := d.client.DialAndSendWithContext(ctx, m); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	metrics.RecordDispatch("smtp", err == nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (d *SMTPDispatcher) message(to, code, purpose string) (*mail.Msg, error) {
	body := Render(code, purpose)
	m := mail.NewMsg()
	if err := m.From(d.from); err != nil {
		return nil, fmt.Errorf("from %q: %w", d.from, err)
	}
	if err := m.To(to); err != nil {
		return nil, fmt.Errorf("recipient: %w", err)
	}
	m.Subject(body.Subject)
	m.SetBodyString(mail.TypeTextPlain, body.Text)
	m.AddAlternativeString(mail.TypeTextHTML, body.HTML)
	return m, nil
}

var _ Dispatcher = (*SMTPDispatcher)(nil)
