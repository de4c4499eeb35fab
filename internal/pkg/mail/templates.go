package mail

import (
	"context"
	"fmt"
	"strings"

	"github.com/a-h/templ"
	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/OrderFox/internal/pkg/order"
)

// OrderEmail is everything both documents are rendered from.
type OrderEmail struct {
	Order      *order.Order
	ShopName   string
	Locale     string
	WeightKg   float64
	PacketID   string
	Barcode    string
	InvoiceURL string
}

// FormatMoney renders minor units as "990.00 CZK".
func FormatMoney(minor int64, currency string) string {
	s := decimal.New(minor, -2).StringFixed(2)
	if currency == "" {
		return s
	}
	return s + " " + currency
}

func deliveryLine(s Strings, o *order.Order) string {
	if d := o.Delivery.String(); d != "" {
		return d
	}
	return s.NoDelivery
}

// CustomerConfirmation is the document sent to the buyer.
func CustomerConfirmation(data OrderEmail) templ.Component {
	return customerConfirmation(StringsFor(data.Locale), data)
}

// AdminNotification is the document sent to the shop operator.
func AdminNotification(data OrderEmail) templ.Component {
	return adminNotification(StringsFor(data.Locale), data)
}

func customerLine(o *order.Order) string {
	return strings.TrimSpace(strings.Join([]string{o.Customer.Name, o.Customer.Email, o.Customer.Phone}, " "))
}

func packetLine(s Strings, data OrderEmail) string {
	if data.PacketID == "" {
		return s.NoPacket
	}
	if data.Barcode != "" {
		return data.PacketID + " (" + data.Barcode + ")"
	}
	return data.PacketID
}

func weightLine(kg float64) string {
	return decimal.NewFromFloat(kg).StringFixed(3) + " kg"
}

func quantityLabel(n int64) string {
	return fmt.Sprintf("%d×", n)
}

func greeting(s Strings, name string) string {
	first := strings.Fields(name)
	if len(first) == 0 {
		return s.Greeting + ","
	}
	return s.Greeting + " " + first[0] + ","
}

// Render renders a component to a string.
func Render(ctx context.Context, c templ.Component) (string, error) {
	var sb strings.Builder
	if err := c.Render(ctx, &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}
