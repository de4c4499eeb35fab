package order

import (
	"errors"
	"strings"

	"github.com/stripe/stripe-go/v82"
)

// ErrEmptySession is returned when there is no session to extract from.
var ErrEmptySession = errors.New("checkout session is empty")

// Metadata keys set on the checkout session by the storefront.
const (
	MetaPickupPointID      = "packeta_point_id"
	MetaPickupPointName    = "packeta_point_name"
	MetaPickupPointAddress = "packeta_point_address"
	MetaDeliveryMethod     = "delivery_method"

	MetaReferralSource    = "referral_source"
	MetaReferralMedium    = "referral_medium"
	MetaReferralCampaign  = "referral_campaign"
	MetaReferralRef       = "referral_ref"
	MetaReferralTimestamp = "referral_timestamp"

	// ProductMetaShippingRequired on a product opts it out of shipping when "false".
	ProductMetaShippingRequired = "shipping_required"
)

// Order is the read-only view of a paid checkout session.
type Order struct {
	SessionID     string
	PaymentStatus string
	Customer      Customer
	Money         Money
	LineItems     []LineItem
	Delivery      Delivery
	Referral      Referral
	InvoiceID     string
}

type Customer struct {
	Email string
	Name  string
	Phone string
}

// Money amounts are in the currency's minor unit.
type Money struct {
	Subtotal int64
	Shipping int64
	Total    int64
	Currency string
}

type LineItem struct {
	PriceRef         string
	Description      string
	Quantity         int64
	AmountTotal      int64
	ShippingRequired bool
}

// Delivery holds at most one target: a carrier pickup point or a street address.
type Delivery struct {
	Method      string
	PickupPoint *PickupPoint
	Address     *Address
}

type PickupPoint struct {
	ID      string
	Name    string
	Address string
}

type Address struct {
	Name       string
	Line1      string
	Line2      string
	City       string
	PostalCode string
	State      string
	Country    string
}

const maxNumberLen = 32

// Number is the order number shown to people and sent to the carrier: the
// session id without its mode prefix, cut to a length the carrier accepts.
func (o *Order) Number() string {
	n := o.SessionID
	for _, prefix := range []string{"cs_live_", "cs_test_"} {
		if strings.HasPrefix(n, prefix) {
			n = strings.TrimPrefix(n, prefix)
			break
		}
	}
	if len(n) > maxNumberLen {
		n = n[:maxNumberLen]
	}
	return n
}

// HasTarget reports whether there is somewhere to ship to.
func (d Delivery) HasTarget() bool {
	return d.PickupPoint != nil || d.Address != nil
}

// String renders the delivery target on one line.
func (d Delivery) String() string {
	switch {
	case d.PickupPoint != nil:
		parts := []string{d.PickupPoint.Name, d.PickupPoint.Address}
		s := joinNonEmpty(parts, ", ")
		if s == "" {
			return d.PickupPoint.ID
		}
		return s
	case d.Address != nil:
		a := d.Address
		city := joinNonEmpty([]string{a.PostalCode, a.City}, " ")
		return joinNonEmpty([]string{a.Name, a.Line1, a.Line2, city, a.State, a.Country}, ", ")
	default:
		return ""
	}
}

// RequiresShipping is true when there is a delivery target and at least one
// item is a physical good.
func (o *Order) RequiresShipping() bool {
	if !o.Delivery.HasTarget() {
		return false
	}
	for _, item := range o.LineItems {
		if item.ShippingRequired {
			return true
		}
	}
	return false
}

// FromSession derives an Order from a checkout session retrieved with line
// items and products expanded.
func FromSession(cs *stripe.CheckoutSession) (*Order, error) {
	if cs == nil || cs.ID == "" {
		return nil, ErrEmptySession
	}

	o := &Order{
		SessionID:     cs.ID,
		PaymentStatus: string(cs.PaymentStatus),
		Money: Money{
			Subtotal: cs.AmountSubtotal,
			Total:    cs.AmountTotal,
			Currency: strings.ToUpper(string(cs.Currency)),
		},
	}
	if cs.ShippingCost != nil {
		o.Money.Shipping = cs.ShippingCost.AmountTotal
	}
	if cs.CustomerDetails != nil {
		o.Customer = Customer{
			Email: strings.TrimSpace(cs.CustomerDetails.Email),
			Name:  strings.TrimSpace(cs.CustomerDetails.Name),
			Phone: strings.TrimSpace(cs.CustomerDetails.Phone),
		}
	}
	if cs.Invoice != nil {
		o.InvoiceID = cs.Invoice.ID
	}

	if cs.LineItems != nil {
		for _, li := range cs.LineItems.Data {
			if li == nil {
				continue
			}
			o.LineItems = append(o.LineItems, lineItemFrom(li))
		}
	}

	o.Delivery = deliveryFrom(cs)
	o.Referral = referralFrom(cs.Metadata)
	return o, nil
}

func lineItemFrom(li *stripe.LineItem) LineItem {
	item := LineItem{
		Description:      li.Description,
		Quantity:         li.Quantity,
		AmountTotal:      li.AmountTotal,
		ShippingRequired: true,
	}
	if li.Price != nil {
		item.PriceRef = li.Price.ID
		if p := li.Price.Product; p != nil {
			if item.Description == "" {
				item.Description = p.Name
			}
			if v, ok := p.Metadata[ProductMetaShippingRequired]; ok && strings.EqualFold(strings.TrimSpace(v), "false") {
				item.ShippingRequired = false
			}
		}
	}
	return item
}

func deliveryFrom(cs *stripe.CheckoutSession) Delivery {
	d := Delivery{Method: strings.TrimSpace(cs.Metadata[MetaDeliveryMethod])}

	if id := strings.TrimSpace(cs.Metadata[MetaPickupPointID]); id != "" {
		d.PickupPoint = &PickupPoint{
			ID:      id,
			Name:    strings.TrimSpace(cs.Metadata[MetaPickupPointName]),
			Address: strings.TrimSpace(cs.Metadata[MetaPickupPointAddress]),
		}
		return d
	}

	if ci := cs.CollectedInformation; ci != nil && ci.ShippingDetails != nil && ci.ShippingDetails.Address != nil {
		a := ci.ShippingDetails.Address
		d.Address = &Address{
			Name:       ci.ShippingDetails.Name,
			Line1:      a.Line1,
			Line2:      a.Line2,
			City:       a.City,
			PostalCode: a.PostalCode,
			State:      a.State,
			Country:    a.Country,
		}
	}
	return d
}

func joinNonEmpty(parts []string, sep string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
