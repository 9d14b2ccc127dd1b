package output

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"github.com/gouthamgo/privascan/internal/config"
	"github.com/gouthamgo/privascan/internal/jobs"
)

// EmailHandler sends text documents via email as attachments.
type EmailHandler struct {
	host      string
	port      int
	user      string
	password  string
	from      string
	recipient string
	sendMail  func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailHandler creates a new email output handler.
func NewEmailHandler(cfg config.EmailConfig) *EmailHandler {
	return &EmailHandler{
		host:      cfg.SMTPHost,
		port:      cfg.SMTPPort,
		user:      cfg.SMTPUser,
		password:  cfg.SMTPPassword,
		from:      cfg.FromAddress,
		recipient: cfg.DefaultRecipient,
		sendMail:  smtp.SendMail,
	}
}

func (h *EmailHandler) Name() string { return "email" }

func (h *EmailHandler) Available() bool {
	return h.host != "" && h.from != "" && h.recipient != ""
}

// Send emails a document as a text/plain attachment.
func (h *EmailHandler) Send(ctx context.Context, doc *jobs.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := io.ReadAll(doc.Reader)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}

	msg, err := h.buildMessage(doc, data)
	if err != nil {
		return fmt.Errorf("build email: %w", err)
	}

	var auth smtp.Auth
	if h.user != "" {
		auth = smtp.PlainAuth("", h.user, h.password, h.host)
	}

	addr := h.host + ":" + strconv.Itoa(h.port)
	if err := h.sendMail(addr, auth, h.from, []string{h.recipient}, msg); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	return nil
}

func (h *EmailHandler) buildMessage(doc *jobs.Document, data []byte) ([]byte, error) {
	subject := "privascan: " + doc.Filename
	if doc.Title != "" {
		subject = "privascan: " + doc.Title
	}

	var msg bytes.Buffer
	mw := multipart.NewWriter(&msg)

	fmt.Fprintf(&msg, "From: %s\r\n", h.from)
	fmt.Fprintf(&msg, "To: %s\r\n", h.recipient)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", mw.Boundary())

	body, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/plain; charset=utf-8"},
	})
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(body, "Recognized text: %s\r\n", doc.Filename)

	attachment, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {mime.FormatMediaType("text/plain", map[string]string{"charset": "utf-8", "name": doc.Filename})},
		"Content-Transfer-Encoding": {"base64"},
		"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": doc.Filename})},
	})
	if err != nil {
		return nil, err
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	for i := 0; i < len(encoded); i += 76 {
		end := min(i+76, len(encoded))
		if _, err := io.WriteString(attachment, encoded[i:end]+"\r\n"); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return msg.Bytes(), nil
}
