package notification

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
	"path/filepath"
	"strings"
	"sync"

	"propdesk-affiliate/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type sendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// Sender renders templates from the template directory and relays them over SMTP.
type Sender struct {
	host     string
	port     int
	username string
	password string
	from     string
	dir      string
	send     sendFunc

	mu        sync.RWMutex
	templates map[string]*template.Template
}

type SenderParams struct {
	fx.In
	Config *config.Config
}

func NewSender(p SenderParams) *Sender {
	m := p.Config.Mail
	return &Sender{
		host:      m.Host,
		port:      m.Port,
		username:  m.Username,
		password:  m.Password,
		from:      m.From,
		dir:       m.TemplateDir,
		send:      smtp.SendMail,
		templates: map[string]*template.Template{},
	}
}

func (s *Sender) template(name string) (*template.Template, error) {
	s.mu.RLock()
	tpl, ok := s.templates[name]
	s.mu.RUnlock()
	if ok {
		return tpl, nil
	}

	// names come from constants, but never let one escape the directory
	if filepath.Base(name) != name {
		return nil, fmt.Errorf("invalid template name %q", name)
	}

	tpl, err := template.ParseFiles(filepath.Join(s.dir, name))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.templates[name] = tpl
	s.mu.Unlock()
	return tpl, nil
}

func (s *Sender) Render(email Email) ([]byte, error) {
	tpl, err := s.template(email.Template)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	if err := tpl.Execute(&body, email.Data); err != nil {
		return nil, fmt.Errorf("render %s: %w", email.Template, err)
	}
	return body.Bytes(), nil
}

func (s *Sender) Deliver(ctx context.Context, email Email) error {
	body, err := s.Render(email)
	if err != nil {
		return err
	}

	if s.host == "" {
		zap.L().Info("[Mail] MAIL.HOST not set, email not sent",
			zap.String("to", email.To),
			zap.String("template", email.Template),
		)
		return nil
	}

	to := sanitizeHeader(email.To)
	if to != email.To {
		return fmt.Errorf("invalid recipient %q", email.To)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", sanitizeHeader(s.from))
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", sanitizeHeader(email.Subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	msg.Write(body)

	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	if err := s.send(addr, auth, s.from, []string{to}, msg.Bytes()); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}
	return nil
}

func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}
