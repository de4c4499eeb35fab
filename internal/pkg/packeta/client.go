package packeta

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"github.com/sony/gobreaker/v2"
)

const (
	DefaultAPIURL      = "https://www.zasilkovna.cz/api/rest"
	DefaultLabelFormat = "A7 on A4"
	requestTimeout     = 30 * time.Second
	maxResponseBytes   = 10 << 20
)

var pdfMagic = []byte("%PDF")

type Config struct {
	APIURL      string
	APIPassword string
	Eshop       string
	LabelFormat string
}

// Client talks to the carrier's XML REST endpoint. Every call is a single
// attempt bounded by a 30s timeout and guarded by a circuit breaker.
type Client struct {
	cfg        Config
	HTTPClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	validate   *validator.Validate
}

func NewClient(cfg Config) *Client {
	if strings.TrimSpace(cfg.APIURL) == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if strings.TrimSpace(cfg.LabelFormat) == "" {
		cfg.LabelFormat = DefaultLabelFormat
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "packeta",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var se *statusError
			return err == nil || errors.As(err, &se)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnf("[Packeta] circuit breaker %s: %s -> %s", name, from, to)
		},
	})

	return &Client{
		cfg:        cfg,
		HTTPClient: &http.Client{Timeout: requestTimeout},
		breaker:    breaker,
		validate:   validator.New(),
	}
}

// CreatePacket registers a parcel for a pickup point. It never returns an
// error: every failure ends up in Result.Error.
func (c *Client) CreatePacket(ctx context.Context, req ShipmentRequest) Result {
	if err := c.validate.Struct(req); err != nil {
		return Result{Error: fmt.Sprintf("invalid shipment request: %v", err)}
	}

	env := createPacketEnvelope{
		APIPassword: c.cfg.APIPassword,
		PacketAttributes: packetAttributes{
			Number:    req.OrderNumber,
			Name:      req.FirstName,
			Surname:   req.LastName,
			Email:     req.Email,
			Phone:     req.Phone,
			AddressID: req.PickupPointID,
			COD:       minorToMajor(req.CODAmount),
			Value:     minorToMajor(req.DeclaredValue),
			Weight:    formatWeight(req.WeightKg),
			Currency:  req.Currency,
			Eshop:     c.cfg.Eshop,
		},
	}

	body, err := c.post(ctx, env)
	if err != nil {
		return Result{Error: err.Error()}
	}

	var resp apiResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return Result{Error: fmt.Sprintf("malformed carrier response: %v", err)}
	}
	if !resp.ok() {
		return Result{Error: resp.errorMessage()}
	}
	id := strings.TrimSpace(resp.Result.ID)
	if id == "" {
		return Result{Error: "carrier response has no packet id"}
	}
	return Result{Success: true, PacketID: id, Barcode: strings.TrimSpace(resp.Result.Barcode)}
}

// FetchLabel downloads the printable label for a created packet.
func (c *Client) FetchLabel(ctx context.Context, packetID string) ([]byte, error) {
	id := strings.TrimSpace(packetID)
	if id == "" {
		return nil, fmt.Errorf("%w: packet id is required", ErrLabelFetch)
	}

	body, err := c.post(ctx, packetLabelEnvelope{
		APIPassword: c.cfg.APIPassword,
		PacketID:    id,
		Format:      c.cfg.LabelFormat,
		Offset:      0,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLabelFetch, err)
	}

	if bytes.HasPrefix(body, pdfMagic) {
		return body, nil
	}

	var resp apiResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: unexpected label response: %v", ErrLabelFetch, err)
	}
	if !resp.ok() {
		return nil, fmt.Errorf("%w: %s", ErrLabelFetch, resp.errorMessage())
	}
	pdf, err := base64.StdEncoding.DecodeString(strings.TrimSpace(resp.Result.Inner))
	if err != nil {
		return nil, fmt.Errorf("%w: label is not base64: %v", ErrLabelFetch, err)
	}
	if !bytes.HasPrefix(pdf, pdfMagic) {
		return nil, fmt.Errorf("%w: label is not a PDF", ErrLabelFetch)
	}
	return pdf, nil
}

func (c *Client) post(ctx context.Context, envelope any) ([]byte, error) {
	payload, err := xml.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	body, err := c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(append([]byte(xml.Header), payload...)))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "text/xml; charset=utf-8")

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("status=%d", resp.StatusCode)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &statusError{code: resp.StatusCode, body: body}
		}
		return body, nil
	})
	if err != nil {
		var se *statusError
		if errors.As(err, &se) {
			return nil, se
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("carrier unavailable: %w", err)
		}
		return nil, fmt.Errorf("carrier request failed: %w", err)
	}
	return body, nil
}

type statusError struct {
	code int
	body []byte
}

func (e *statusError) Error() string {
	return fmt.Sprintf("carrier request failed: status=%d body=%s", e.code, strings.TrimSpace(string(e.body)))
}
