package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/OrderFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/OrderFox/internal/pkg/mail"
	"github.com/ManuelReschke/OrderFox/internal/pkg/packeta"
)

// ShipmentPayload is a create_shipment job. Request is empty when the order
// could not be turned into a request at all.
type ShipmentPayload struct {
	SessionID string                  `json:"session_id"`
	Request   packeta.ShipmentRequest `json:"request"`
}

type LabelPayload struct {
	SessionID string `json:"session_id"`
	PacketID  string `json:"packet_id"`
}

// EmailPayload carries what the chain learned so a resend matches the
// original mail. The order itself is re-read from the session.
type EmailPayload struct {
	SessionID  string  `json:"session_id"`
	Role       string  `json:"role"`
	WeightKg   float64 `json:"weight_kg"`
	PacketID   string  `json:"packet_id,omitempty"`
	Barcode    string  `json:"barcode,omitempty"`
	InvoiceURL string  `json:"invoice_url,omitempty"`
}

type CatalogMismatchPayload struct {
	SessionID string `json:"session_id"`
	PriceRef  string `json:"price_ref"`
}

func emailPayloadFrom(role string, data mail.OrderEmail) EmailPayload {
	return EmailPayload{
		SessionID:  data.Order.SessionID,
		Role:       role,
		WeightKg:   data.WeightKg,
		PacketID:   data.PacketID,
		Barcode:    data.Barcode,
		InvoiceURL: data.InvoiceURL,
	}
}

// RegisterHandlers installs the retry handlers on the queue.
func (s *Service) RegisterHandlers(q *jobqueue.Queue) {
	q.Register(jobqueue.JobTypeCreateShipment, s.retryShipment)
	q.Register(jobqueue.JobTypeFetchLabel, s.retryLabel)
	q.Register(jobqueue.JobTypeSendEmail, s.retryEmail)
}

func (s *Service) retryShipment(ctx context.Context, job *jobqueue.Job) error {
	var p ShipmentPayload
	if err := job.DecodePayload(&p); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, jobqueue.ErrPermanent)
	}
	if p.Request.PickupPointID == 0 {
		return fmt.Errorf("order %s: %w: %w", p.SessionID, ErrNoPickupPoint, jobqueue.ErrPermanent)
	}

	res := s.Shipper.CreatePacket(ctx, p.Request)
	if !res.Success {
		s.count(ctx, StageShipment, "retry_failed")
		return fmt.Errorf("%w: %s", packeta.ErrShipmentCreation, res.Error)
	}
	s.count(ctx, StageShipment, "retry_ok")
	log.Infof("[Fulfillment] Packet %s created on retry for order %s", res.PacketID, p.SessionID)

	if _, err := s.fetchAndArchive(ctx, res.PacketID); err != nil {
		log.Warnf("[Fulfillment] Label for packet %s not fetched: %v", res.PacketID, err)
		if s.Retry != nil {
			payload, _ := jobqueue.EncodePayload(LabelPayload{SessionID: p.SessionID, PacketID: res.PacketID})
			if _, err := s.Retry.EnqueueJob(ctx, jobqueue.JobTypeFetchLabel, payload); err != nil {
				log.Errorf("[Fulfillment] Failed to schedule label retry: %v", err)
			}
		}
	}
	return nil
}

func (s *Service) retryLabel(ctx context.Context, job *jobqueue.Job) error {
	var p LabelPayload
	if err := job.DecodePayload(&p); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, jobqueue.ErrPermanent)
	}
	if p.PacketID == "" {
		return fmt.Errorf("order %s: missing packet id: %w", p.SessionID, jobqueue.ErrPermanent)
	}

	key, err := s.fetchAndArchive(ctx, p.PacketID)
	if err != nil {
		s.count(ctx, StageLabel, "retry_failed")
		return err
	}
	s.count(ctx, StageLabel, "retry_ok")
	log.Infof("[Fulfillment] Label for packet %s fetched on retry (archive=%q)", p.PacketID, key)
	return nil
}

func (s *Service) retryEmail(ctx context.Context, job *jobqueue.Job) error {
	var p EmailPayload
	if err := job.DecodePayload(&p); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, jobqueue.ErrPermanent)
	}
	if p.Role != mail.RoleCustomer && p.Role != mail.RoleAdmin {
		return fmt.Errorf("unknown email role %q: %w", p.Role, jobqueue.ErrPermanent)
	}

	cs, err := s.Sessions.RetrieveSession(ctx, p.SessionID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionRetrieval, err)
	}
	o, err := s.extractOrder(cs)
	if err != nil {
		return fmt.Errorf("%v: %w", err, jobqueue.ErrPermanent)
	}

	data := mail.OrderEmail{
		Order:      o,
		ShopName:   s.ShopName,
		Locale:     s.Locale,
		WeightKg:   p.WeightKg,
		PacketID:   p.PacketID,
		Barcode:    p.Barcode,
		InvoiceURL: p.InvoiceURL,
	}
	id, err := s.Mail.Send(ctx, p.Role, data)
	if err != nil {
		s.count(ctx, StageEmail, "retry_failed")
		if p.Role == mail.RoleCustomer && o.Customer.Email == "" {
			return errors.Join(err, jobqueue.ErrPermanent)
		}
		return err
	}
	s.count(ctx, StageEmail, "retry_ok")
	log.Infof("[Fulfillment] %s email for order %s sent on retry (id=%s)", p.Role, p.SessionID, id)
	return nil
}
