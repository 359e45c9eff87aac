package postback

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/wneessen/go-mail"

	"github.com/rpattn/loadflow/internal/apperr"
	"github.com/rpattn/loadflow/internal/enrichment"
)

// EmailOptions configures the email handler.
type EmailOptions struct {
	SMTPServer string `mapstructure:"smtp_server" validate:"required,hostname"`
	SMTPPort   int    `mapstructure:"smtp_port" validate:"min=1,max=65535"`
	SMTPUser   string `mapstructure:"smtp_user" validate:"required"`
	SMTPPass   string `mapstructure:"smtp_pass" validate:"required"`
	Recipient  string `mapstructure:"recipient" validate:"required,email"`
	Subject    string `mapstructure:"subject"`
	SenderName string `mapstructure:"sender_name"`
}

// Sender is the part of *mail.Client the handler uses.
type Sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// EmailHandler mails the rows as a CSV attachment with a short summary.
type EmailHandler struct {
	opts   EmailOptions
	sender Sender
}

func defaultEmailOptions() EmailOptions {
	return EmailOptions{
		SMTPServer: "smtp.gmail.com",
		SMTPPort:   587,
		Subject:    "Freight Data Results",
		SenderName: "Loadflow",
	}
}

func NewEmailHandler(options map[string]any) (Handler, error) {
	opts := defaultEmailOptions()
	if err := decodeOptions(options, &opts); err != nil {
		return nil, err
	}
	client, err := mail.NewClient(opts.SMTPServer,
		mail.WithPort(opts.SMTPPort),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(opts.SMTPUser),
		mail.WithPassword(opts.SMTPPass),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: smtp client: %v", apperr.ErrConfig, err)
	}
	return &EmailHandler{opts: opts, sender: client}, nil
}

// NewEmailHandlerWithSender builds a handler around an existing sender.
func NewEmailHandlerWithSender(options map[string]any, sender Sender) (Handler, error) {
	opts := defaultEmailOptions()
	if err := decodeOptions(options, &opts); err != nil {
		return nil, err
	}
	return &EmailHandler{opts: opts, sender: sender}, nil
}

func (h *EmailHandler) Deliver(ctx context.Context, batch Batch) (string, error) {
	msg, err := h.message(batch)
	if err != nil {
		return "", fmt.Errorf("%w: build email: %v", apperr.ErrPostback, err)
	}
	if err := h.sender.DialAndSendWithContext(ctx, msg); err != nil {
		return "", fmt.Errorf("%w: send email: %v", apperr.ErrPostback, err)
	}
	return h.opts.Recipient, nil
}

func (h *EmailHandler) message(batch Batch) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.FromFormat(h.opts.SenderName, h.opts.SMTPUser); err != nil {
		return nil, err
	}
	if err := msg.To(h.opts.Recipient); err != nil {
		return nil, err
	}
	msg.Subject(fmt.Sprintf("%s - %d records", h.opts.Subject, len(batch.Rows)))
	msg.SetBodyString(mail.TypeTextPlain, h.body(batch))

	data, err := csvBytes(batch.Columns, batch.Rows)
	if err != nil {
		return nil, err
	}
	name := fmt.Sprintf("freight_data_%s.csv", batch.Time.Format("20060102_150405"))
	if err := msg.AttachReader(name, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return msg, nil
}

func (h *EmailHandler) body(batch Batch) string {
	var enriched, tracked int
	for _, row := range batch.Rows {
		if row.Has(enrichment.ColumnTimestamp) {
			enriched++
		}
		if strings.TrimSpace(row.Text("sf_tracking_status")) != "" {
			tracked++
		}
	}

	var sb strings.Builder
	sb.WriteString("Hello,\n\nYour freight data processing is complete.\n\nSummary:\n")
	fmt.Fprintf(&sb, "- Records processed: %d\n", len(batch.Rows))
	fmt.Fprintf(&sb, "- Records enriched: %d\n", enriched)
	fmt.Fprintf(&sb, "- Records with tracking: %d\n", tracked)
	fmt.Fprintf(&sb, "- Processing time: %s\n", batch.Time.Format("2006-01-02 15:04"))
	sb.WriteString("\nPlease find the enriched data attached as a CSV file.\n\n")
	fmt.Fprintf(&sb, "Best regards,\n%s\n", h.opts.SenderName)
	return sb.String()
}
