// Package mailer delivers one-time codes to account owners.
//
// Three transports are provided: LogDispatcher for development, SMTPDispatcher
// for direct delivery and QueueDispatcher, which hands messages to an asynq
// worker that delivers them through another Dispatcher.
package mailer

import (
	"context"
	"fmt"
	"html"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/cafe-backoffice/internal/metrics"
	"github.com/and161185/cafe-backoffice/internal/otp"
)

// PurposeReset labels codes sent by the password recovery flow.
const PurposeReset = "password reset"

// Dispatcher sends a short numeric code to a recipient.
// A returned error describes the failure for operators; it is never shown to end users.
type Dispatcher interface {
	SendCode(ctx context.Context, to, code, purpose string) error
}

// Message is a rendered code e-mail.
type Message struct {
	Subject string
	Text    string
	HTML    string
}

// Render builds the plain-text and HTML bodies for a code.
func Render(code, purpose string) Message {
	mins := int(otp.TTL / time.Minute)
	return Message{
		Subject: fmt.Sprintf("Your %s code", purpose),
		Text: fmt.Sprintf("Your %s code is %s.\nIt expires in %d minutes. If you did not request it, ignore this message.\n",
			purpose, code, mins),
		HTML: fmt.Sprintf("<p>Your %s code is <strong>%s</strong>.</p><p>It expires in %d minutes. If you did not request it, ignore this message.</p>",
			html.EscapeString(purpose), html.EscapeString(code), mins),
	}
}

// LogDispatcher records codes in the log instead of sending them. It is meant
// for development only: the code itself is logged at debug level.
type LogDispatcher struct {
	log *zap.Logger
}

// NewLogDispatcher returns a development dispatcher.
func NewLogDispatcher(log *zap.Logger) *LogDispatcher {
	return &LogDispatcher{log: log}
}

// SendCode logs the dispatch instead of delivering it.
func (d *LogDispatcher) SendCode(_ context.Context, to, code, purpose string) error {
	d.log.Info("code e-mail not sent (mail.mode=log)", zap.String("to", to), zap.String("purpose", purpose))
	d.log.Debug("code e-mail body", zap.String("to", to), zap.String("code", code))
	metrics.RecordDispatch("log", true)
	return nil
}

var _ Dispatcher = (*LogDispatcher)(nil)
