package email

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/patient-registry/internal/model"
)

type fakeDialer struct {
	sent []*gomail.Message
	err  error
}

func (d *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	d.sent = append(d.sent, m...)
	return d.err
}

func patient() *model.Patient {
	last := "Rao"
	return &model.Patient{
		ID:                   12,
		FirstName:            "Asha",
		LastName:             &last,
		Email:                "asha@example.com",
		Reason:               "Checkup",
		RegistrationDatetime: model.NewTimestamp(time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)),
	}
}

func TestSendRegistration(t *testing.T) {
	d := &fakeDialer{}
	svc := NewSMTPService(d, "desk@clinic.example", "records@clinic.example")

	require.NoError(t, svc.SendRegistration(context.Background(), patient()))
	require.Len(t, d.sent, 1)

	m := d.sent[0]
	assert.Equal(t, []string{"desk@clinic.example"}, m.GetHeader("From"))
	assert.Equal(t, []string{"asha@example.com"}, m.GetHeader("To"))
	assert.Equal(t, []string{"records@clinic.example"}, m.GetHeader("Bcc"))

	var buf bytes.Buffer
	_, err := m.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Hello Asha Rao")
	assert.Contains(t, buf.String(), "2024-05-01 10:30:00")
	assert.Contains(t, buf.String(), "record #12")
}

func TestSendRegistrationErrors(t *testing.T) {
	d := &fakeDialer{err: errors.New("connection refused")}
	svc := NewSMTPService(d, "desk@clinic.example", "")

	err := svc.SendRegistration(context.Background(), patient())
	assert.ErrorContains(t, err, "connection refused")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.sent = nil
	assert.ErrorIs(t, svc.SendRegistration(ctx, patient()), context.Canceled)
	assert.Empty(t, d.sent)
}

func TestNewServiceDisabled(t *testing.T) {
	assert.IsType(t, noopService{}, NewService(Config{}))
	assert.IsType(t, noopService{}, NewService(Config{Enabled: true}))
	assert.IsType(t, &smtpService{}, NewService(Config{Enabled: true, Host: "smtp.example.com", Port: 587}))
	assert.NoError(t, NewService(Config{}).SendRegistration(context.Background(), patient()))
}
