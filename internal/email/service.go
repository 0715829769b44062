package email

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/patient-registry/internal/model"
)

type Service interface {
	SendRegistration(ctx context.Context, patient *model.Patient) error
}

// Config is the SMTP relay used for registration notices.
type Config struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// To receives a copy of every notice, typically the front desk.
	To string
}

// Dialer is the part of gomail.Dialer the SMTP service needs.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type smtpService struct {
	dialer Dialer
	from   string
	to     string
}

// NewService returns an SMTP sender, or a no-op sender when mail is disabled.
func NewService(cfg Config) Service {
	if !cfg.Enabled || cfg.Host == "" {
		return noopService{}
	}
	return NewSMTPService(gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password), cfg.From, cfg.To)
}

func NewSMTPService(d Dialer, from, to string) Service {
	return &smtpService{dialer: d, from: from, to: to}
}

func (s *smtpService) SendRegistration(ctx context.Context, patient *model.Patient) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", patient.Email)
	if s.to != "" {
		m.SetHeader("Bcc", s.to)
	}
	m.SetHeader("Subject", "Registration received")
	m.SetBody("text/plain", registrationBody(patient))

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send registration email: %w", err)
	}
	return nil
}

func registrationBody(p *model.Patient) string {
	return fmt.Sprintf(
		"Hello %s,\n\nYour registration on %s has been recorded (record #%d).\nReason for visit: %s\n",
		p.FullName(),
		p.RegistrationDatetime.Format(model.DisplayTimeLayout),
		p.ID,
		p.Reason,
	)
}

type noopService struct{}

func (noopService) SendRegistration(context.Context, *model.Patient) error { return nil }
