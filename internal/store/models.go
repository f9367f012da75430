package store

import (
	"strings"
	"time"
)

// Rate is one billing-rate rule on a client.
type Rate struct {
	EpisodeType string  `json:"episodeType"`
	RateType    string  `json:"rateType"`
	Rate        float64 `json:"rate"`
}

// Client is the billed party, identified by a unique email.
type Client struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Rates     []Rate    `json:"rates"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RateFor returns the first rate rule matching the episode type. Rules carry
// no uniqueness constraint; first structural match wins.
func (c Client) RateFor(episodeType string) (Rate, bool) {
	for _, r := range c.Rates {
		if strings.EqualFold(r.EpisodeType, episodeType) {
			return r, true
		}
	}
	return Rate{}, false
}

// Clip is an embedded hours/minutes/seconds value object owned by its invoice.
type Clip struct {
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

// Invoice is a billable unit of work owed by a client. DatePaid is the single
// source of truth for whether the invoice is paid.
type Invoice struct {
	ID                    string     `json:"id"`
	ClientName            string     `json:"client"`
	ClientID              string     `json:"clientId"`
	EpisodeTitle          string     `json:"episodeTitle"`
	EpisodeType           string     `json:"type"`
	EarnedAfterFees       float64    `json:"earnedAfterFees"`
	InvoicedAmount        float64    `json:"invoicedAmount"`
	BilledMinutes         float64    `json:"billedMinutes"`
	Length                Clip       `json:"length"`
	EditingTime           Clip       `json:"editingTime"`
	BillableHours         float64    `json:"billableHours"`
	RunningHourlyTotal    float64    `json:"runningHourlyTotal"`
	RatePerMinute         float64    `json:"ratePerMinute"`
	PaymentMethod         string     `json:"paymentMethod,omitempty"`
	StripeCustomerID      string     `json:"stripeCustomerId,omitempty"`
	StripePaymentIntentID string     `json:"-"`
	ChargeAttempts        int        `json:"-"`
	DateInvoiced          *time.Time `json:"dateInvoiced,omitempty"`
	DatePaid              *time.Time `json:"datePaid,omitempty"`
	Note                  string     `json:"note,omitempty"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
}

// Paid reports whether a successful charge has been reconciled.
func (i Invoice) Paid() bool {
	return i.DatePaid != nil
}
