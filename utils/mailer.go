package utils

import (
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"salesloop/models"

	"gopkg.in/gomail.v2"
	"gorm.io/gorm"
)

// EmailTransport sends one rendered email. The message id is chosen by
// the caller because the tracking pixel and click links embedded in
// the body already carry it; the transport must use the same id for
// its artifact and headers.
type EmailTransport interface {
	SendEmail(messageID, to, subject, html string) error
}

// SMTPMailer delivers through a configured SMTP relay with bounded
// retries on temporary errors.
type SMTPMailer struct {
	DB        *gorm.DB
	Logger    *log.Logger
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
}

func NewSMTPMailer(db *gorm.DB, logger *log.Logger, host string, port int, username, password, fromEmail, fromName string) *SMTPMailer {
	return &SMTPMailer{
		DB:        db,
		Logger:    logger,
		Host:      host,
		Port:      port,
		Username:  username,
		Password:  password,
		FromEmail: fromEmail,
		FromName:  fromName,
	}
}

func (sm *SMTPMailer) SendEmail(messageID, to, subject, html string) error {
	dialer := gomail.NewDialer(sm.Host, sm.Port, sm.Username, sm.Password)
	dialer.TLSConfig = &tls.Config{ServerName: sm.Host}

	maxRetries := 3
	var lastError error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(attempt*attempt) * time.Second
			time.Sleep(backoff)
		}

		err := sm.trySend(dialer, to, subject, html, messageID)
		if err == nil {
			sm.recordArtifact(to, subject, html, messageID)
			return nil
		}

		lastError = err
		if !sm.isTemporaryError(err) {
			break // Permanent error, don't retry
		}
	}

	return fmt.Errorf("failed after %d attempts: %v", maxRetries, lastError)
}

func (sm *SMTPMailer) trySend(dialer *gomail.Dialer, to, subject, html, messageID string) error {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", sm.FromEmail, sm.FromName)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetHeader("Message-ID", fmt.Sprintf("<%s@%s>", messageID, EmailDomain(sm.FromEmail)))
	m.SetBody("text/html", html)

	return dialer.DialAndSend(m)
}

func (sm *SMTPMailer) isTemporaryError(err error) bool {
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"timeout", "temporarily", "try again", "421", "450", "451", "452"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func (sm *SMTPMailer) recordArtifact(to, subject, html, messageID string) {
	if err := sm.DB.Create(&models.OutboundMessage{
		Channel:   models.ChannelEmail,
		To:        to,
		Subject:   subject,
		Body:      html,
		MessageID: messageID,
		Simulated: false,
	}).Error; err != nil {
		sm.Logger.Printf("Failed to record outbound email artifact: %v", err)
	}
}

// SimulatedMailer records the email artifact without touching the
// network, so the UI reflects activity in simulation mode or when no
// SMTP relay is configured.
type SimulatedMailer struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewSimulatedMailer(db *gorm.DB, logger *log.Logger) *SimulatedMailer {
	return &SimulatedMailer{DB: db, Logger: logger}
}

func (sm *SimulatedMailer) SendEmail(messageID, to, subject, html string) error {
	if err := sm.DB.Create(&models.OutboundMessage{
		Channel:   models.ChannelEmail,
		To:        to,
		Subject:   subject,
		Body:      html,
		MessageID: messageID,
		Simulated: true,
	}).Error; err != nil {
		return err
	}
	sm.Logger.Printf("Simulated email to %s (%s)", to, messageID)
	return nil
}
