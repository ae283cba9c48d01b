// SendGrid-backed notification transport.
package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

const (
	sgHost     = "https://api.sendgrid.com"
	sgEndpoint = "/v3/mail/send"
)

// SendGrid delivers notifications as transactional email through the
// SendGrid v3 API.
type SendGrid struct {
	key  string
	from *sgmail.Email
}

var _ Notifier = (*SendGrid)(nil)

// NewSendGrid constructs a SendGrid transport sending from the given
// name/address pair using the supplied API key.
func NewSendGrid(key, fromName, fromEmail string) *SendGrid {
	return &SendGrid{
		key:  key,
		from: sgmail.NewEmail(fromName, fromEmail),
	}
}

// Notify sends a plain-text email to address. A non-2xx API response is
// reported as an error so the caller can log and count the failure.
func (s *SendGrid) Notify(ctx context.Context, address, subject, body string) error {
	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)

	p := sgmail.NewPersonalization()
	p.Subject = subject
	p.AddTos(sgmail.NewEmail("", address))
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", body))

	req := sendgrid.GetRequest(s.key, sgEndpoint, sgHost)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(m)

	res, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return err
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid: status %d", res.StatusCode)
	}
	return nil
}
