package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"

	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v82"
	"golang.org/x/sync/errgroup"

	"github.com/ManuelReschke/OrderFox/internal/pkg/catalog"
	"github.com/ManuelReschke/OrderFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/OrderFox/internal/pkg/labelstore"
	"github.com/ManuelReschke/OrderFox/internal/pkg/mail"
	"github.com/ManuelReschke/OrderFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/OrderFox/internal/pkg/order"
	"github.com/ManuelReschke/OrderFox/internal/pkg/packeta"
	"github.com/ManuelReschke/OrderFox/internal/pkg/payment"
)

var (
	ErrSessionRetrieval = errors.New("session retrieval failed")
	ErrNoPickupPoint    = errors.New("order has no carrier pickup point")
	ErrStagePanic       = errors.New("stage panicked")
)

// Stage names used in counters and logs.
const (
	StageSession  = "session"
	StageShipment = "shipment"
	StageLabel    = "label"
	StageInvoice  = "invoice"
	StageEmail    = "email"
)

type SessionSource interface {
	RetrieveSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error)
}

type InvoiceResolver interface {
	HostedInvoiceURL(ctx context.Context, invoiceID string) (string, error)
}

type Shipper interface {
	CreatePacket(ctx context.Context, req packeta.ShipmentRequest) packeta.Result
	FetchLabel(ctx context.Context, packetID string) ([]byte, error)
}

type EmailSender interface {
	SendOrderEmails(ctx context.Context, data mail.OrderEmail) mail.Outcome
	Send(ctx context.Context, role string, data mail.OrderEmail) (string, error)
}

// RetryScheduler takes over work that failed inside the request. It is
// satisfied by *jobqueue.Queue.
type RetryScheduler interface {
	EnqueueJob(ctx context.Context, jobType jobqueue.JobType, payload map[string]interface{}) (*jobqueue.Job, error)
	DeadLetter(ctx context.Context, jobType jobqueue.JobType, payload map[string]interface{}, reason string) (*jobqueue.Job, error)
}

// Deps wires a Service. Labels, Retry and Counters are optional.
type Deps struct {
	Sessions SessionSource
	Invoices InvoiceResolver
	Shipper  Shipper
	Catalog  *catalog.Catalog
	Mail     EmailSender
	Labels   labelstore.Archive
	Retry    RetryScheduler
	Counters *counter.Stages
	ShopName string
	Locale   string
}

// Service runs the post-payment chain for one checkout session.
type Service struct {
	Deps
}

func NewService(deps Deps) *Service {
	return &Service{Deps: deps}
}

// Handle routes a verified webhook event. It never returns an error: every
// outcome is on the report.
func (s *Service) Handle(ctx context.Context, evt *payment.WebhookEvent) *Report {
	r := &Report{EventID: evt.ID, EventType: evt.StripeType, SessionID: evt.SessionID}

	switch evt.Type {
	case payment.EventSessionCompleted, payment.EventAsyncPaymentSucceeded:
		if evt.SessionID == "" {
			r.Action = ActionIgnored
			log.Warnf("[Fulfillment] Event %s (%s) carries no checkout session", evt.ID, evt.StripeType)
			return r
		}
		s.fulfill(ctx, r)
	default:
		r.Action = ActionIgnored
		log.Infof("[Fulfillment] Event %s (%s) needs no action", evt.ID, evt.StripeType)
	}
	return r
}

// Fulfill runs the chain for a session outside of webhook delivery.
func (s *Service) Fulfill(ctx context.Context, eventID, sessionID string) *Report {
	r := &Report{EventID: eventID, SessionID: sessionID}
	s.fulfill(ctx, r)
	return r
}

func (s *Service) fulfill(ctx context.Context, r *Report) {
	defer func() {
		log.Infof("[Fulfillment] %s", r.Summary())
	}()

	cs, err := s.Sessions.RetrieveSession(ctx, r.SessionID)
	if err != nil {
		r.Action = ActionFailed
		r.Err = fmt.Errorf("%w: %v", ErrSessionRetrieval, err)
		s.count(ctx, StageSession, counter.OutcomeFailed)
		return
	}
	o, err := s.extractOrder(cs)
	if err != nil {
		r.Action = ActionFailed
		r.Err = err
		s.count(ctx, StageSession, counter.OutcomeFailed)
		return
	}
	s.count(ctx, StageSession, counter.OutcomeOK)
	r.Order = o

	if o.PaymentStatus == string(stripe.CheckoutSessionPaymentStatusUnpaid) {
		r.Action = ActionAwaitingPayment
		return
	}
	r.Action = ActionFulfilled

	var g errgroup.Group
	g.Go(func() error {
		defer s.recoverStage(ctx, r, StageShipment)
		s.ship(ctx, r)
		return nil
	})
	g.Go(func() error {
		defer s.recoverStage(ctx, r, StageInvoice)
		s.resolveInvoice(ctx, r)
		return nil
	})
	_ = g.Wait()

	s.sendEmails(ctx, r)
}

func (s *Service) extractOrder(cs *stripe.CheckoutSession) (*order.Order, error) {
	o, err := order.FromSession(cs)
	if err != nil {
		return nil, err
	}
	if s.Catalog != nil {
		s.Catalog.NameItems(o.LineItems)
	}
	return o, nil
}

// recoverStage must be deferred directly. A panic in a stage goroutine would
// otherwise take the whole process down.
func (s *Service) recoverStage(ctx context.Context, r *Report, stage string) {
	v := recover()
	if v == nil {
		return
	}
	err := fmt.Errorf("%w: %s: %v", ErrStagePanic, stage, v)
	log.Errorf("[Fulfillment] %v (order %s)\n%s", err, r.SessionID, debug.Stack())

	switch stage {
	case StageShipment:
		if r.Shipment.State == packeta.StateNone {
			r.Shipment.State = packeta.StateFailed
		}
		r.ShipmentErr = err
	case StageInvoice:
		r.InvoiceURL = ""
		r.InvoiceErr = err
	}
	s.count(ctx, stage, counter.OutcomeFailed)
}

func (s *Service) ship(ctx context.Context, r *Report) {
	o := r.Order
	r.Shipment.State = packeta.StateNone
	if !o.RequiresShipping() {
		s.count(ctx, StageShipment, counter.OutcomeSkipped)
		return
	}

	r.Weight = s.Catalog.Weight(o.LineItems)
	for _, ref := range r.Weight.Unmatched {
		log.Warnf("[Fulfillment] No catalog weight for price %s in order %s", ref, o.SessionID)
		s.deadLetter(ctx, jobqueue.JobTypeCatalogMismatch, CatalogMismatchPayload{SessionID: o.SessionID, PriceRef: ref},
			"no catalog entry for price ref "+ref)
	}

	req, err := s.shipmentRequest(o, r.Weight.Kg)
	if err != nil {
		r.Shipment.State = packeta.StateFailed
		r.ShipmentErr = fmt.Errorf("%w: %v", packeta.ErrShipmentCreation, err)
		s.count(ctx, StageShipment, counter.OutcomeFailed)
		s.deadLetter(ctx, jobqueue.JobTypeCreateShipment, ShipmentPayload{SessionID: o.SessionID}, err.Error())
		return
	}

	res := s.Shipper.CreatePacket(ctx, req)
	r.Shipment.Result = res
	r.Shipment.State = r.Shipment.State.AfterCreate(res.Success)
	if !res.Success {
		r.ShipmentErr = fmt.Errorf("%w: %s", packeta.ErrShipmentCreation, res.Error)
		s.count(ctx, StageShipment, counter.OutcomeFailed)
		s.schedule(ctx, r, jobqueue.JobTypeCreateShipment, ShipmentPayload{SessionID: o.SessionID, Request: req})
		return
	}
	s.count(ctx, StageShipment, counter.OutcomeOK)

	key, err := s.fetchAndArchive(ctx, res.PacketID)
	if err != nil {
		r.LabelErr = err
		s.count(ctx, StageLabel, counter.OutcomeFailed)
		s.schedule(ctx, r, jobqueue.JobTypeFetchLabel, LabelPayload{SessionID: o.SessionID, PacketID: res.PacketID})
		return
	}
	r.Shipment.State = r.Shipment.State.AfterLabel(true)
	r.LabelKey = key
	s.count(ctx, StageLabel, counter.OutcomeOK)
}

func (s *Service) shipmentRequest(o *order.Order, weightKg float64) (packeta.ShipmentRequest, error) {
	if o.Delivery.PickupPoint == nil {
		return packeta.ShipmentRequest{}, ErrNoPickupPoint
	}
	pointID, err := strconv.Atoi(o.Delivery.PickupPoint.ID)
	if err != nil {
		return packeta.ShipmentRequest{}, fmt.Errorf("%w: invalid id %q", ErrNoPickupPoint, o.Delivery.PickupPoint.ID)
	}

	first, last := packeta.SplitName(o.Customer.Name)
	return packeta.ShipmentRequest{
		OrderNumber:   o.Number(),
		FirstName:     first,
		LastName:      last,
		Email:         o.Customer.Email,
		Phone:         o.Customer.Phone,
		PickupPointID: pointID,
		DeclaredValue: o.Money.Subtotal,
		Currency:      o.Money.Currency,
		WeightKg:      weightKg,
	}, nil
}

// fetchAndArchive returns the archive key, empty when no archive is
// configured. An archive failure is logged and does not fail the label.
func (s *Service) fetchAndArchive(ctx context.Context, packetID string) (string, error) {
	pdf, err := s.Shipper.FetchLabel(ctx, packetID)
	if err != nil {
		return "", err
	}
	if s.Labels == nil {
		return "", nil
	}
	key, err := s.Labels.Put(ctx, packetID, pdf)
	if err != nil {
		log.Errorf("[Fulfillment] Failed to archive label for packet %s: %v", packetID, err)
		return "", nil
	}
	return key, nil
}

func (s *Service) resolveInvoice(ctx context.Context, r *Report) {
	if r.Order.InvoiceID == "" {
		s.count(ctx, StageInvoice, counter.OutcomeSkipped)
		return
	}
	url, err := s.Invoices.HostedInvoiceURL(ctx, r.Order.InvoiceID)
	if err != nil {
		r.InvoiceErr = err
		s.count(ctx, StageInvoice, counter.OutcomeFailed)
		return
	}
	r.InvoiceURL = url
	s.count(ctx, StageInvoice, counter.OutcomeOK)
}

func (s *Service) emailData(r *Report) mail.OrderEmail {
	return mail.OrderEmail{
		Order:      r.Order,
		ShopName:   s.ShopName,
		Locale:     s.Locale,
		WeightKg:   r.Weight.Kg,
		PacketID:   r.Shipment.Result.PacketID,
		Barcode:    r.Shipment.Result.Barcode,
		InvoiceURL: r.InvoiceURL,
	}
}

func (s *Service) sendEmails(ctx context.Context, r *Report) {
	data := s.emailData(r)
	r.Email = s.Mail.SendOrderEmails(ctx, data)
	if r.Email.Success {
		s.count(ctx, StageEmail, counter.OutcomeOK)
		return
	}
	s.count(ctx, StageEmail, counter.OutcomeFailed)

	if r.Email.CustomerErr != nil {
		s.schedule(ctx, r, jobqueue.JobTypeSendEmail, emailPayloadFrom(mail.RoleCustomer, data))
	}
	if r.Email.AdminErr != nil {
		s.schedule(ctx, r, jobqueue.JobTypeSendEmail, emailPayloadFrom(mail.RoleAdmin, data))
	}
}

func (s *Service) schedule(ctx context.Context, r *Report, jobType jobqueue.JobType, payload interface{}) {
	if s.Retry == nil {
		return
	}
	m, err := jobqueue.EncodePayload(payload)
	if err != nil {
		log.Errorf("[Fulfillment] Failed to encode %s retry: %v", jobType, err)
		return
	}
	job, err := s.Retry.EnqueueJob(ctx, jobType, m)
	if err != nil {
		log.Errorf("[Fulfillment] Failed to schedule %s retry: %v", jobType, err)
		return
	}
	r.mu.Lock()
	r.RetryJobs = append(r.RetryJobs, job.ID)
	r.mu.Unlock()
}

func (s *Service) deadLetter(ctx context.Context, jobType jobqueue.JobType, payload interface{}, reason string) {
	if s.Retry == nil {
		return
	}
	m, err := jobqueue.EncodePayload(payload)
	if err != nil {
		log.Errorf("[Fulfillment] Failed to encode %s record: %v", jobType, err)
		return
	}
	if _, err := s.Retry.DeadLetter(ctx, jobType, m, reason); err != nil {
		log.Errorf("[Fulfillment] Failed to record %s: %v", jobType, err)
	}
}

func (s *Service) count(ctx context.Context, stage, outcome string) {
	if err := s.Counters.Add(ctx, stage, outcome); err != nil {
		log.Debugf("[Fulfillment] Counter %s:%s not updated: %v", stage, outcome, err)
	}
}
