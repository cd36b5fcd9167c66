package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

var ErrMailFailed = errors.New("failed to deliver passcode email")

var passcodeTmpl = template.Must(template.New("passcode").Parse(`<p>Hi {{.SellerName}},</p>
<p>Your passcode for <b>{{.ItemName}}</b> is:</p>
<h2 style="letter-spacing:4px">{{.Code}}</h2>
<p>Enter it <a href="{{.Link}}">here</a> to publish your listing. It expires in {{.ExpiresIn}}.</p>
<p>If you didn't post anything you can ignore this email.</p>`))

// PasscodeMail is everything the verification email shows
type PasscodeMail struct {
	SellerName string
	ItemName   string
	Code       string
	Link       string
	ExpiresIn  time.Duration
}

func (m *PasscodeMail) render() (string, error) {
	var buf bytes.Buffer
	if err := passcodeTmpl.Execute(&buf, m); err != nil {
		return "", fmt.Errorf("failed to render passcode mail, %w", err)
	}

	return buf.String(), nil
}

type Mailer interface {
	SendPasscode(ctx context.Context, to string, m *PasscodeMail) error
}

// SMTPMailer delivers mail through the configured SMTP relay
type SMTPMailer struct {
	From   string
	Dialer *gomail.Dialer
}

func NewSMTPMailer() *SMTPMailer {
	from := viper.GetString("mail.sender")
	if from == "" {
		from = viper.GetString("mail.username")
	}

	return &SMTPMailer{
		From: from,
		Dialer: gomail.NewDialer(
			viper.GetString("mail.host"),
			viper.GetInt("mail.port"),
			viper.GetString("mail.username"),
			viper.GetString("mail.password"),
		),
	}
}

func (s *SMTPMailer) SendPasscode(ctx context.Context, to string, m *PasscodeMail) error {
	if to == s.From {
		return errors.New("invalid email address")
	}

	body, err := m.render()
	if err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", s.From)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", "Your listing passcode")
	msg.SetBody("text/plain", fmt.Sprintf("Your passcode is %s\n\nVerify here: %s", m.Code, m.Link))
	msg.AddAlternative("text/html", body)

	// gomail can't be cancelled, run it aside and stop waiting once ctx is done
	done := make(chan error, 1)
	go func() {
		done <- s.Dialer.DialAndSend(msg)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogMailer writes passcodes to the log instead of sending them. Used in
// development and when no SMTP relay is configured.
type LogMailer struct{}

func (LogMailer) SendPasscode(_ context.Context, to string, m *PasscodeMail) error {
	zap.L().Info("Passcode mail",
		zap.String("to", to),
		zap.String("code", m.Code),
		zap.String("link", m.Link),
	)

	return nil
}

// NewMailer picks the mailer set by mail.driver
func NewMailer() Mailer {
	if viper.GetString("mail.driver") == "smtp" {
		return NewSMTPMailer()
	}

	return LogMailer{}
}

// SendWithRetry tries the mailer up to retries+1 times, waiting a little
// longer after every failure
func SendWithRetry(ctx context.Context, mailer Mailer, retries int, backoff time.Duration, to string, m *PasscodeMail) error {
	var err error

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * backoff):
			case <-ctx.Done():
				return fmt.Errorf("%w, %w", ErrMailFailed, ctx.Err())
			}
		}

		if err = mailer.SendPasscode(ctx, to, m); err == nil {
			return nil
		}

		zap.L().Warn("Passcode mail failed",
			zap.Int("attempt", attempt+1),
			zap.String("to", to),
			zap.Error(err),
		)
	}

	return fmt.Errorf("%w, %w", ErrMailFailed, err)
}
