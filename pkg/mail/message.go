package mail

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message represents an outbound email. An empty From uses the mailer's sender.
type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// PasswordResetMessage renders the reset email sent in email reset mode.
func PasswordResetMessage(to, appName, token string, ttl time.Duration) Message {
	if appName == "" {
		appName = "Software Center"
	}
	lines := []string{
		fmt.Sprintf("A password reset was requested for your %s account.", appName),
		"",
		"Reset token: " + token,
		"",
		fmt.Sprintf("The token expires in %s. If you did not request a reset you can ignore this message.", ttl.Round(time.Minute)),
	}
	return Message{
		To:      []string{to},
		Subject: appName + " password reset",
		Body:    strings.Join(lines, "\n"),
	}
}

var headerSanitizer = strings.NewReplacer("\r", " ", "\n", " ")

// render produces the RFC 5322 text handed to the DATA command. Body line endings are
// normalised to CRLF.
func (m Message) render(from string, to []string, sentAt time.Time) string {
	var b strings.Builder
	writeHeader := func(name, value string) {
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(headerSanitizer.Replace(value))
		b.WriteString("\r\n")
	}

	writeHeader("From", from)
	writeHeader("To", strings.Join(to, ", "))
	writeHeader("Subject", m.Subject)
	writeHeader("Date", sentAt.Format(time.RFC1123Z))
	writeHeader("Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), senderDomain(from)))
	writeHeader("MIME-Version", "1.0")
	writeHeader("Content-Type", "text/plain; charset=UTF-8")
	b.WriteString("\r\n")

	body := strings.ReplaceAll(m.Body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return b.String()
}

func senderDomain(address string) string {
	address = strings.TrimSuffix(strings.TrimSpace(address), ">")
	if at := strings.LastIndex(address, "@"); at >= 0 && at < len(address)-1 {
		return address[at+1:]
	}
	return "localhost"
}
