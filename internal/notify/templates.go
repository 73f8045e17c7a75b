package notify

import (
	"bytes"
	"html/template"
	"time"

	"github.com/iliyamo/account-service/internal/queue"
)

var (
	createAccountTmpl = template.Must(template.New("create_account").Parse(`<body style="font-family: Arial, sans-serif; background-color: #f9f9f9; margin: 50px; padding: 20px; color: #555;">
  <div style="width: 100%; max-width: 600px; margin: 0 auto; background-color: #fff; padding: 20px; border-radius: 10px;">
    <h2 style="color: #277E16;">Hey {{.Name}}, your account is almost ready</h2>
    <p>Your single use code is:</p>
    <div style="background-color: #277E16; width: 120px; padding: 10px; text-align: center; border-radius: 8px; color: #fff; font-size: 25px; letter-spacing: 2px; margin: 20px auto;">{{.OTP}}</div>
    <p>This code is valid for {{.Minutes}} minutes.</p>
  </div>
</body>`))

	resetPasswordTmpl = template.Must(template.New("reset_password").Parse(`<body style="font-family: Arial, sans-serif; background-color: #f9f9f9; margin: 50px; padding: 20px; color: #555;">
  <div style="width: 100%; max-width: 600px; margin: 0 auto; background-color: #fff; padding: 20px; border-radius: 10px;">
    <p>Your password reset code is:</p>
    <div style="background-color: #277E16; width: 120px; padding: 10px; text-align: center; border-radius: 8px; color: #fff; font-size: 25px; letter-spacing: 2px; margin: 20px auto;">{{.OTP}}</div>
    <p>This code is valid for {{.Minutes}} minutes. If you did not ask for a reset, ignore this email.</p>
  </div>
</body>`))
)

type templateData struct {
	Name    string
	OTP     string
	Minutes int
}

// CreateAccountEmail renders the verification email sent on registration
// and on resend.
func CreateAccountEmail(to, name, otp string, validFor time.Duration) (queue.EmailMessage, error) {
	if name == "" {
		name = "User"
	}
	return render(createAccountTmpl, queue.KindCreateAccount, to, "Verify your account",
		templateData{Name: name, OTP: otp, Minutes: int(validFor.Minutes())})
}

// ResetPasswordEmail renders the forget-password email.
func ResetPasswordEmail(to, otp string, validFor time.Duration) (queue.EmailMessage, error) {
	return render(resetPasswordTmpl, queue.KindResetPassword, to, "Reset your password",
		templateData{OTP: otp, Minutes: int(validFor.Minutes())})
}

func render(t *template.Template, kind, to, subject string, data templateData) (queue.EmailMessage, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return queue.EmailMessage{}, err
	}
	return queue.EmailMessage{
		Kind:      kind,
		To:        to,
		Subject:   subject,
		HTML:      buf.String(),
		CreatedAt: time.Now().UTC(),
	}, nil
}
