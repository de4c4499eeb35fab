package packeta

import (
	"encoding/xml"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrShipmentCreation = errors.New("shipment creation failed")
	ErrLabelFetch       = errors.New("label fetch failed")
)

// ShipmentState tracks a parcel through the only transitions the carrier flow
// knows: none -> created|failed and created -> labeled.
type ShipmentState string

const (
	StateNone    ShipmentState = "none"
	StateCreated ShipmentState = "created"
	StateFailed  ShipmentState = "failed"
	StateLabeled ShipmentState = "labeled"
)

// AfterCreate applies the createPacket outcome. Only valid from StateNone.
func (s ShipmentState) AfterCreate(ok bool) ShipmentState {
	if s != StateNone {
		return s
	}
	if ok {
		return StateCreated
	}
	return StateFailed
}

// AfterLabel applies the label fetch outcome. A failed fetch keeps the
// parcel in StateCreated.
func (s ShipmentState) AfterLabel(ok bool) ShipmentState {
	if s == StateCreated && ok {
		return StateLabeled
	}
	return s
}

// ShipmentRequest is one createPacket call. Money is in minor units.
type ShipmentRequest struct {
	OrderNumber   string `validate:"required,max=36"`
	FirstName     string `validate:"required"`
	LastName      string
	Email         string `validate:"omitempty,email"`
	Phone         string
	PickupPointID int     `validate:"gt=0"`
	DeclaredValue int64   `validate:"gte=0"`
	Currency      string  `validate:"omitempty,len=3"`
	WeightKg      float64 `validate:"gt=0"`
	CODAmount     int64   `validate:"gte=0"`
}

// Result is the outcome of CreatePacket. Error is set when Success is false.
type Result struct {
	Success  bool
	PacketID string
	Barcode  string
	Error    string
}

// SplitName treats the first whitespace separated token as the first name and
// the rest as the last name.
func SplitName(full string) (first, last string) {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return "", ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}

func minorToMajor(amount int64) string {
	return decimal.New(amount, -2).StringFixed(2)
}

func formatWeight(kg float64) string {
	return decimal.NewFromFloat(kg).StringFixed(3)
}

type createPacketEnvelope struct {
	XMLName          xml.Name         `xml:"createPacket"`
	APIPassword      string           `xml:"apiPassword"`
	PacketAttributes packetAttributes `xml:"packetAttributes"`
}

type packetAttributes struct {
	Number    string `xml:"number"`
	Name      string `xml:"name"`
	Surname   string `xml:"surname"`
	Email     string `xml:"email,omitempty"`
	Phone     string `xml:"phone,omitempty"`
	AddressID int    `xml:"addressId"`
	COD       string `xml:"cod"`
	Value     string `xml:"value"`
	Weight    string `xml:"weight"`
	Currency  string `xml:"currency,omitempty"`
	Eshop     string `xml:"eshop,omitempty"`
}

type packetLabelEnvelope struct {
	XMLName     xml.Name `xml:"packetLabelPdf"`
	APIPassword string   `xml:"apiPassword"`
	PacketID    string   `xml:"packetId"`
	Format      string   `xml:"format"`
	Offset      int      `xml:"offset"`
}

type apiResponse struct {
	XMLName xml.Name `xml:"response"`
	Status  string   `xml:"status"`
	Fault   string   `xml:"fault"`
	String  string   `xml:"string"`
	Result  struct {
		ID      string `xml:"id"`
		Barcode string `xml:"barcode"`
		Inner   string `xml:",chardata"`
	} `xml:"result"`
	Detail struct {
		Attributes struct {
			Faults []struct {
				Name  string `xml:"name"`
				Fault string `xml:"fault"`
			} `xml:"fault"`
		} `xml:"attributes"`
	} `xml:"detail"`
}

func (r *apiResponse) ok() bool {
	return strings.EqualFold(strings.TrimSpace(r.Status), "ok")
}

// errorMessage picks the most specific message the carrier reported.
func (r *apiResponse) errorMessage() string {
	for _, f := range r.Detail.Attributes.Faults {
		msg := strings.TrimSpace(f.Fault)
		if msg == "" {
			continue
		}
		if name := strings.TrimSpace(f.Name); name != "" {
			return name + ": " + msg
		}
		return msg
	}
	if s := strings.TrimSpace(r.String); s != "" {
		return s
	}
	if s := strings.TrimSpace(r.Fault); s != "" {
		return s
	}
	if s := strings.TrimSpace(r.Status); s != "" {
		return "unexpected status " + s
	}
	return "unexpected response"
}
