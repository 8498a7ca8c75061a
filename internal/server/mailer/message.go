// Package mailer delivers one-time codes by email. Senders talk to a
// provider; dispatchers decide when that happens relative to the request.
package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

const otpSubject = "Your verification code"

// OTPMessage is what travels from the verification flow to a Sender, either
// in-process or as the JSON body of a queue message.
type OTPMessage struct {
	To       string        `json:"to"`
	Code     string        `json:"code"`
	ValidFor time.Duration `json:"valid_for"`
}

func (m OTPMessage) minutes() int {
	n := int(m.ValidFor.Round(time.Minute) / time.Minute)
	if n < 1 {
		n = 1
	}
	return n
}

func (m OTPMessage) Subject() string {
	return otpSubject
}

func (m OTPMessage) Text() string {
	return fmt.Sprintf("Your OTP is: %s\n\nThis code is valid for %d minutes.\nIf you didn't request this, ignore this email.", m.Code, m.minutes())
}

var otpHTML = template.Must(template.New("otp").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>Verify your identity</title></head>
<body style="margin:0;padding:0;background:#0d0d0d;font-family:Georgia,serif;">
  <table width="100%" cellpadding="0" cellspacing="0" style="background:#0d0d0d;">
    <tr><td align="center" style="padding:60px 20px;">
      <table width="480" cellpadding="0" cellspacing="0" style="max-width:100%;background:#161616;border:1px solid #2a2a2a;border-radius:4px;">
        <tr><td style="padding:48px;">
          <p style="margin:0 0 8px;font-size:28px;color:#f0f0f0;">Here's your code.</p>
          <p style="margin:0 0 40px;font-style:italic;font-size:16px;color:#666666;">Use it within the next {{.Minutes}} minutes.</p>
          <p style="margin:0;padding:32px 24px;text-align:center;background:#0d0d0d;border:1px solid #2a2a2a;border-radius:4px;font-family:monospace;font-size:42px;letter-spacing:16px;color:#c8f542;">{{.Code}}</p>
          <p style="margin:40px 0 0;font-style:italic;font-size:13px;color:#444444;">Didn't ask for this? You can safely ignore it.</p>
        </td></tr>
        <tr><td style="padding:20px 48px;border-top:1px solid #1e1e1e;font-family:monospace;font-size:11px;color:#333333;">&copy; {{.Year}} nexus</td></tr>
      </table>
    </td></tr>
  </table>
</body>
</html>
`))

func (m OTPMessage) HTML() (string, error) {
	var buf bytes.Buffer
	err := otpHTML.Execute(&buf, struct {
		Code    string
		Minutes int
		Year    int
	}{m.Code, m.minutes(), time.Now().Year()})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
