package output

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/smtp"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gouthamgo/privascan/internal/config"
	"github.com/gouthamgo/privascan/internal/jobs"
)

func textDocument(name, text string) *jobs.Document {
	return &jobs.Document{
		Filename: name,
		Title:    strings.TrimSuffix(name, ".txt"),
		Reader:   strings.NewReader(text),
		Size:     int64(len(text)),
	}
}

func TestManagerTargets(t *testing.T) {
	cfg := config.OutputConfig{
		Filesystem: config.FilesystemConfig{Enabled: true, Directory: t.TempDir()},
		SMB:        config.SMBConfig{Enabled: true, Server: "nas", Share: "docs"},
		Email:      config.EmailConfig{Enabled: false},
	}

	m := NewManager(cfg)
	targets := m.ListTargets()
	if len(targets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(targets))
	}
	if targets[0].Name != "filesystem" || targets[1].Name != "smb" {
		t.Fatalf("unexpected target order %+v", targets)
	}
	for _, target := range targets {
		if !target.Available {
			t.Errorf("target %s should be available", target.Name)
		}
	}
}

func TestManagerUnknownTarget(t *testing.T) {
	m := NewManager(config.OutputConfig{})

	err := m.Send(context.Background(), "paperless", textDocument("a.txt", "hi"))
	if !errors.Is(err, ErrUnknownTarget) {
		t.Fatalf("expected ErrUnknownTarget, got %v", err)
	}
}

func TestFilesystemSend(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	m := NewManager(config.OutputConfig{
		Filesystem: config.FilesystemConfig{Enabled: true, Directory: dir},
	})

	for i := 0; i < 2; i++ {
		if err := m.Send(context.Background(), "filesystem", textDocument("page.txt", "hello world\n")); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, "page.txt"))
	if err != nil {
		t.Fatalf("read first file: %v", err)
	}
	if string(data) != "hello world\n" {
		t.Fatalf("unexpected content %q", data)
	}
	if _, err := os.Stat(filepath.Join(dir, "page_1.txt")); err != nil {
		t.Fatalf("second document should get a suffix: %v", err)
	}
}

func TestFilesystemSendStripsDirectories(t *testing.T) {
	dir := t.TempDir()
	h := NewFilesystemHandler(dir)

	if err := h.Send(context.Background(), textDocument("../../escape.txt", "x")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "escape.txt")); err != nil {
		t.Fatalf("file should be written inside the directory: %v", err)
	}
}

func TestSMBAddressAndFilename(t *testing.T) {
	tests := []struct {
		server string
		want   string
	}{
		{"nas", "nas:445"},
		{"//nas", "nas:445"},
		{"nas:1445", "nas:1445"},
		{"192.168.1.5", "192.168.1.5:445"},
	}
	for _, tt := range tests {
		h := NewSMBHandler(config.SMBConfig{Server: tt.server, Share: "docs"})
		if got := h.address(); got != tt.want {
			t.Errorf("address(%q) = %q, want %q", tt.server, got, tt.want)
		}
	}

	h := NewSMBHandler(config.SMBConfig{Server: "nas", Share: "docs", FilenamePattern: "{date}-{title}"})
	h.now = func() time.Time { return time.Date(2024, 3, 9, 10, 11, 12, 0, time.UTC) }

	if got := h.buildFilename(textDocument("letter.txt", "")); got != "20240309-letter.txt" {
		t.Fatalf("unexpected pattern filename %q", got)
	}

	plain := NewSMBHandler(config.SMBConfig{Server: "nas", Share: "docs"})
	if got := plain.buildFilename(textDocument("letter_20240309_101112.txt", "")); got != "letter_20240309_101112.txt" {
		t.Fatalf("document filename should be kept, got %q", got)
	}
}

func TestEmailSend(t *testing.T) {
	h := NewEmailHandler(config.EmailConfig{
		Enabled:          true,
		SMTPHost:         "mail.example.com",
		SMTPPort:         587,
		SMTPUser:         "scanner",
		SMTPPassword:     "secret",
		FromAddress:      "scanner@example.com",
		DefaultRecipient: "me@example.com",
	})

	var gotAddr string
	var gotTo []string
	var gotMsg []byte
	h.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		if a == nil {
			t.Error("expected SMTP auth")
		}
		gotAddr, gotTo, gotMsg = addr, to, msg
		return nil
	}

	text := "Grüße aus dem Scanner\n"
	if err := h.Send(context.Background(), textDocument("letter.txt", text)); err != nil {
		t.Fatalf("send: %v", err)
	}

	if gotAddr != "mail.example.com:587" || len(gotTo) != 1 || gotTo[0] != "me@example.com" {
		t.Fatalf("unexpected envelope %s %v", gotAddr, gotTo)
	}

	msg, err := mail.ReadMessage(bytes.NewReader(gotMsg))
	if err != nil {
		t.Fatalf("parse message: %v", err)
	}
	subject, _ := new(mime.WordDecoder).DecodeHeader(msg.Header.Get("Subject"))
	if subject != "privascan: letter" {
		t.Fatalf("unexpected subject %q", subject)
	}

	_, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil {
		t.Fatalf("content type: %v", err)
	}
	mr := multipart.NewReader(msg.Body, params["boundary"])

	if _, err := mr.NextPart(); err != nil {
		t.Fatalf("body part: %v", err)
	}
	part, err := mr.NextPart()
	if err != nil {
		t.Fatalf("attachment part: %v", err)
	}
	if part.FileName() != "letter.txt" {
		t.Fatalf("unexpected attachment name %q", part.FileName())
	}
	raw, _ := io.ReadAll(part)
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(string(raw), "\r\n", ""))
	if err != nil {
		t.Fatalf("decode attachment: %v", err)
	}
	if string(decoded) != text {
		t.Fatalf("attachment = %q, want %q", decoded, text)
	}
}

func TestEmailSendError(t *testing.T) {
	h := NewEmailHandler(config.EmailConfig{SMTPHost: "localhost", SMTPPort: 25, FromAddress: "a@b", DefaultRecipient: "c@d"})
	h.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	}

	if err := h.Send(context.Background(), textDocument("x.txt", "x")); err == nil {
		t.Fatal("expected error")
	}
}
