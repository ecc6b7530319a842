package notifier

import (
	"bytes"
	"html/template"
	"time"

	"github.com/asiradnan/musical-bassoon/services/notification-service/internal/events"
)

var (
	confirmationTmpl = template.Must(template.New("confirmation").Parse(`
<h1>Booking Confirmation</h1>
<p>Thank you for booking with us!</p>
<h2>Booking Details:</h2>
<ul>
  <li>Room: {{.Room}}</li>
  <li>Date: {{.Day}}</li>
  <li>Time: {{.StartTime}} - {{.EndTime}}</li>
  <li>Total Hours: {{.TotalHours}}</li>
  <li>Price: ${{.Price}}</li>
</ul>
<p>Please note that cancellations must be made at least 24 hours before your booking time to receive a refund.</p>
`))

	paymentTmpl = template.Must(template.New("payment").Parse(`
<h1>Payment Received</h1>
<p>Your payment for the booking below has been received.</p>
<ul>
  <li>Room: {{.Room}}</li>
  <li>Date: {{.Day}}</li>
  <li>Time: {{.StartTime}} - {{.EndTime}}</li>
  <li>Amount: ${{.Price}}</li>
  {{- if .PaymentID}}
  <li>Payment ID: {{.PaymentID}}</li>
  {{- end}}
</ul>
`))

	cancellationTmpl = template.Must(template.New("cancellation").Parse(`
<h1>Booking Cancellation</h1>
<p>Your booking has been cancelled successfully.</p>
<h2>Booking Details:</h2>
<ul>
  <li>Room: {{.Room}}</li>
  <li>Date: {{.Day}}</li>
  <li>Time: {{.StartTime}} - {{.EndTime}}</li>
</ul>
{{- if .IsPaid}}
<p>A refund of ${{.Price}} will be processed within 3-5 business days.</p>
{{- end}}
`))
)

type view struct {
	events.Booking
	Day string
}

func newView(b events.Booking) view {
	day := b.Date
	if t, err := time.Parse("2006-01-02", b.Date); err == nil {
		day = t.Format("Mon, 2 Jan 2006")
	}
	return view{Booking: b, Day: day}
}

func render(t *template.Template, b events.Booking) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, newView(b)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Confirmation renders the message sent after a booking is created.
func Confirmation(b events.Booking) (subject, body string, err error) {
	body, err = render(confirmationTmpl, b)
	return "Booking Confirmation", body, err
}

func PaymentReceived(b events.Booking) (subject, body string, err error) {
	body, err = render(paymentTmpl, b)
	return "Payment Received", body, err
}

// Cancellation mentions a refund only for paid bookings.
func Cancellation(b events.Booking) (subject, body string, err error) {
	body, err = render(cancellationTmpl, b)
	return "Booking Cancellation", body, err
}
