package output

import (
	"context"
	"fmt"
	"io"
	"net"
	"path"
	"strings"
	"time"

	"github.com/gouthamgo/privascan/internal/config"
	"github.com/gouthamgo/privascan/internal/jobs"
	"github.com/hirochachacha/go-smb2"
)

const smbDialTimeout = 10 * time.Second

// SMBHandler uploads text documents to a SMB/CIFS network share.
type SMBHandler struct {
	server          string
	share           string
	username        string
	password        string
	directory       string
	filenamePattern string
	now             func() time.Time
}

// NewSMBHandler creates a new SMB output handler. The password has already
// been resolved from password_file by config.Load.
func NewSMBHandler(cfg config.SMBConfig) *SMBHandler {
	return &SMBHandler{
		server:          cfg.Server,
		share:           cfg.Share,
		username:        cfg.Username,
		password:        cfg.Password,
		directory:       strings.Trim(cfg.Directory, "/"),
		filenamePattern: cfg.FilenamePattern,
		now:             time.Now,
	}
}

func (h *SMBHandler) Name() string { return "smb" }

func (h *SMBHandler) Available() bool {
	return h.server != "" && h.share != ""
}

// Send uploads a document to the SMB share.
func (h *SMBHandler) Send(ctx context.Context, doc *jobs.Document) error {
	dialer := net.Dialer{Timeout: smbDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", h.address())
	if err != nil {
		return fmt.Errorf("SMB connect: %w", err)
	}
	defer conn.Close()

	d := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     h.username,
			Password: h.password,
		},
	}

	session, err := d.DialContext(ctx, conn)
	if err != nil {
		return fmt.Errorf("SMB authenticate: %w", err)
	}
	defer session.Logoff()

	share, err := session.Mount(h.share)
	if err != nil {
		return fmt.Errorf("SMB mount share: %w", err)
	}
	defer share.Umount()
	share = share.WithContext(ctx)

	if h.directory != "" {
		if err := share.MkdirAll(h.directory, 0o755); err != nil {
			return fmt.Errorf("SMB create directory: %w", err)
		}
	}

	target := h.buildFilename(doc)
	if h.directory != "" {
		target = path.Join(h.directory, target)
	}

	f, err := share.Create(target)
	if err != nil {
		return fmt.Errorf("SMB create file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, doc.Reader); err != nil {
		return fmt.Errorf("SMB write: %w", err)
	}

	return nil
}

// address returns host:port, defaulting to port 445 and accepting the
// //server form used in UNC paths.
func (h *SMBHandler) address() string {
	server := strings.TrimPrefix(h.server, "//")
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "445")
	}
	return server
}

func (h *SMBHandler) buildFilename(doc *jobs.Document) string {
	if h.filenamePattern == "" && doc.Filename != "" {
		return doc.Filename
	}

	pattern := h.filenamePattern
	if pattern == "" {
		pattern = "{date}_{time}_{title}"
	}

	now := h.now()
	filename := pattern
	filename = strings.ReplaceAll(filename, "{date}", now.Format("20060102"))
	filename = strings.ReplaceAll(filename, "{time}", now.Format("150405"))

	title := "scan"
	if doc.Title != "" {
		title = doc.Title
	}
	filename = strings.ReplaceAll(filename, "{title}", title)
	filename = strings.ReplaceAll(filename, "/", "_")

	if !strings.HasSuffix(filename, ".txt") {
		filename += ".txt"
	}

	return filename
}
