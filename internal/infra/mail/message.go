package mail

import (
	"bytes"
	"fmt"
	"html/template"
	"mime"
	"mime/multipart"
	"net/textproto"
	textTemplate "text/template"
	"time"

	"github.com/toolme/marketplace-api/internal/core/port"
)

// Subjects of the account emails.
const (
	SubjectVerification  = "ToolMe – Activate your account"
	SubjectPasswordReset = "ToolMe – Reset your password"
)

type bodyData struct {
	Link     string
	ValidFor string
}

var (
	plainBodies = map[port.MessageKind]*textTemplate.Template{
		port.MessageKindVerification: textTemplate.Must(textTemplate.New("verification").Parse(
			"Welcome to ToolMe!\n\n" +
				"Click the link below to activate your account (valid for {{.ValidFor}}):\n{{.Link}}\n\n" +
				"If you didn't create this account, you can ignore this email.\n")),
		port.MessageKindPasswordReset: textTemplate.Must(textTemplate.New("reset").Parse(
			"You requested a password reset for ToolMe.\n\n" +
				"Click the link below to set a new password (valid for {{.ValidFor}}):\n{{.Link}}\n\n" +
				"If you didn't request this, you can ignore this email.\n")),
	}
	htmlBodies = map[port.MessageKind]*template.Template{
		port.MessageKindVerification: template.Must(template.New("verification").Parse(
			`<p>Welcome to ToolMe!</p>` +
				`<p><a href="{{.Link}}">Activate your account</a> (link valid for {{.ValidFor}}).</p>` +
				`<p>If you didn't create this account, you can ignore this email.</p>`)),
		port.MessageKindPasswordReset: template.Must(template.New("reset").Parse(
			`<p>You requested a password reset for ToolMe.</p>` +
				`<p><a href="{{.Link}}">Set a new password</a> (link valid for {{.ValidFor}}).</p>` +
				`<p>If you didn't request this, you can ignore this email.</p>`)),
	}
)

// SubjectFor returns the subject line used for kind.
func SubjectFor(kind port.MessageKind) string {
	switch kind {
	case port.MessageKindPasswordReset:
		return SubjectPasswordReset
	default:
		return SubjectVerification
	}
}

// buildMessage renders msg as a multipart/alternative RFC 5322 message.
func buildMessage(from string, msg port.Message, now time.Time) ([]byte, error) {
	plain, ok := plainBodies[msg.Kind]
	if !ok {
		return nil, fmt.Errorf("mail: unknown message kind %q", msg.Kind)
	}
	data := bodyData{Link: msg.Link, ValidFor: humanizeDuration(msg.ValidFor)}

	subject := msg.Subject
	if subject == "" {
		subject = SubjectFor(msg.Kind)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	var header bytes.Buffer
	fmt.Fprintf(&header, "From: %s\r\n", from)
	fmt.Fprintf(&header, "To: %s\r\n", msg.Recipient)
	fmt.Fprintf(&header, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&header, "Date: %s\r\n", now.Format(time.RFC1123Z))
	header.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&header, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", writer.Boundary())

	part, err := writer.CreatePart(textproto.MIMEHeader{"Content-Type": {`text/plain; charset="UTF-8"`}})
	if err != nil {
		return nil, fmt.Errorf("mail: create plain part: %w", err)
	}
	if err := plain.Execute(part, data); err != nil {
		return nil, fmt.Errorf("mail: render plain body: %w", err)
	}

	part, err = writer.CreatePart(textproto.MIMEHeader{"Content-Type": {`text/html; charset="UTF-8"`}})
	if err != nil {
		return nil, fmt.Errorf("mail: create html part: %w", err)
	}
	if err := htmlBodies[msg.Kind].Execute(part, data); err != nil {
		return nil, fmt.Errorf("mail: render html body: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("mail: close multipart body: %w", err)
	}

	return append(header.Bytes(), body.Bytes()...), nil
}

func humanizeDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "a limited time"
	case d%(24*time.Hour) == 0 && d > 24*time.Hour:
		return fmt.Sprintf("%d days", d/(24*time.Hour))
	case d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	default:
		return plural(int(d.Round(time.Minute)/time.Minute), "minute")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
