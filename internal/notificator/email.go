package notificator

import (
	"fmt"
	"net/smtp"

	"github.com/socialpulse/walletcore/pkg/logger"
)

// EmailNotificator mails alerts to the ops address.
type EmailNotificator struct {
	logger *logger.Logger

	SMTPHost   string
	SMTPPort   int
	SMTPSender string
	OpsEmail   string

	SMTPAuth smtp.Auth
}

func NewEmailNotificator(logger *logger.Logger, smtpHost string, smtpPort int, smtpUser, smtpPassword, smtpSender, opsEmail string) *EmailNotificator {
	auth := smtp.PlainAuth(
		"",
		smtpUser,
		smtpPassword,
		smtpHost,
	)

	return &EmailNotificator{
		logger:     logger,
		SMTPAuth:   auth,
		SMTPHost:   smtpHost,
		SMTPPort:   smtpPort,
		SMTPSender: smtpSender,
		OpsEmail:   opsEmail,
	}
}

func (e *EmailNotificator) SendAlert(message string) {
	addr := fmt.Sprintf("%s:%d", e.SMTPHost, e.SMTPPort)
	msg := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		e.SMTPSender,
		e.OpsEmail,
		"Wallet alert",
		message,
	)
	if err := smtp.SendMail(addr, e.SMTPAuth, e.SMTPSender, []string{e.OpsEmail}, []byte(msg)); err != nil {
		e.logger.Error("Failed to send email alert: ", err)
	}
}
