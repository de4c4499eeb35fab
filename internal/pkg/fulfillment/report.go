package fulfillment

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ManuelReschke/OrderFox/internal/pkg/catalog"
	"github.com/ManuelReschke/OrderFox/internal/pkg/mail"
	"github.com/ManuelReschke/OrderFox/internal/pkg/order"
	"github.com/ManuelReschke/OrderFox/internal/pkg/packeta"
)

type Action string

const (
	ActionFulfilled       Action = "fulfilled"
	ActionAwaitingPayment Action = "awaiting_payment"
	ActionIgnored         Action = "ignored"
	ActionFailed          Action = "failed"
)

type Shipment struct {
	packeta.Result
	State packeta.ShipmentState
}

// Report is everything one run of the chain produced. Stage errors never
// stop the later stages.
type Report struct {
	EventID   string
	EventType string
	SessionID string
	Action    Action

	Order      *order.Order
	Weight     catalog.WeightResult
	Shipment   Shipment
	LabelKey   string
	InvoiceURL string
	Email      mail.Outcome
	RetryJobs  []string

	Err         error
	ShipmentErr error
	LabelErr    error
	InvoiceErr  error

	mu sync.Mutex
}

// Summary renders the report as one log line.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "event=%s session=%s action=%s", r.EventID, r.SessionID, r.Action)
	if r.Err != nil {
		fmt.Fprintf(&b, " error=%q", r.Err.Error())
		return b.String()
	}
	if r.Action != ActionFulfilled {
		return b.String()
	}

	fmt.Fprintf(&b, " shipment=%s", r.Shipment.State)
	if r.Shipment.PacketID != "" {
		fmt.Fprintf(&b, " packet=%s", r.Shipment.PacketID)
	}
	if r.Weight.Kg > 0 {
		fmt.Fprintf(&b, " weight=%.3fkg", r.Weight.Kg)
	}
	if len(r.Weight.Unmatched) > 0 {
		fmt.Fprintf(&b, " unmatched=%s", strings.Join(r.Weight.Unmatched, ","))
	}
	if r.LabelKey != "" {
		fmt.Fprintf(&b, " label=%s", r.LabelKey)
	}
	fmt.Fprintf(&b, " invoice=%t email=%t", r.InvoiceURL != "", r.Email.Success)

	for _, e := range []struct {
		name string
		err  error
	}{{"shipment_error", r.ShipmentErr}, {"label_error", r.LabelErr}, {"invoice_error", r.InvoiceErr}} {
		if e.err != nil {
			fmt.Fprintf(&b, " %s=%q", e.name, e.err.Error())
		}
	}
	if len(r.RetryJobs) > 0 {
		fmt.Fprintf(&b, " retries=%d", len(r.RetryJobs))
	}
	return b.String()
}
