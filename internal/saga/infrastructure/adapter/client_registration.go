package adapter

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"fulfillment/internal/pkg/httpclient"
	"fulfillment/internal/pkg/retry"
	"fulfillment/internal/saga/domain"
)

// Wire format of the client/order-registration system: an envelope-wrapped
// XML document per call. The element names are the external contract; do not
// rename them.
type crmEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    crmBody  `xml:"Body"`
}

type crmBody struct {
	Register     *crmRegisterRequest  `xml:"RegisterOrderRequest,omitempty"`
	Cancel       *crmCancelRequest    `xml:"CancelOrderRequest,omitempty"`
	RegisterResp *crmRegisterResponse `xml:"RegisterOrderResponse,omitempty"`
	CancelResp   *crmCancelResponse   `xml:"CancelOrderResponse,omitempty"`
	Fault        *crmFault            `xml:"Fault,omitempty"`
}

type crmRegisterRequest struct {
	OrderNumber        string `xml:"OrderNumber"`
	ClientID           string `xml:"ClientId"`
	PickupAddress      string `xml:"PickupAddress"`
	DeliveryAddress    string `xml:"DeliveryAddress"`
	PackageDescription string `xml:"PackageDescription"`
	Priority           string `xml:"Priority"`
}

type crmCancelRequest struct {
	OrderNumber string `xml:"OrderNumber"`
}

type crmRegisterResponse struct {
	OrderNumber    string `xml:"OrderNumber"`
	Status         string `xml:"Status"`
	RegistrationID string `xml:"RegistrationId"`
	Message        string `xml:"Message"`
}

type crmCancelResponse struct {
	OrderNumber string `xml:"OrderNumber"`
	Status      string `xml:"Status"`
	Message     string `xml:"Message"`
}

type crmFault struct {
	Code        string `xml:"Code"`
	Reason      string `xml:"Reason"`
	OrderNumber string `xml:"OrderNumber"`
}

const (
	crmStatusSuccess   = "SUCCESS"
	crmStatusCancelled = "CANCELLED"
)

var (
	crmExecutePolicy = retry.Policy{MaxAttempts: 3, Backoff: 200 * time.Millisecond, Multiplier: 2}
	// Compensation gets a smaller budget: it is best effort and must not
	// stall the unwind of earlier steps.
	crmCompensatePolicy = retry.Policy{MaxAttempts: 2, Backoff: 200 * time.Millisecond, Multiplier: 2}
)

// ClientRegistrationAdapter registers an order with the CRM system and, on
// compensation, cancels the registration.
type ClientRegistrationAdapter struct {
	client *httpclient.Client
	url    string
}

func NewClientRegistrationAdapter(client *httpclient.Client, url string) *ClientRegistrationAdapter {
	return &ClientRegistrationAdapter{client: client, url: url}
}

func (a *ClientRegistrationAdapter) Name() domain.Step {
	return domain.StepClientRegistration
}

func (a *ClientRegistrationAdapter) Execute(ctx context.Context, req *domain.OrderFulfillmentRequest) domain.StepResult {
	envelope := crmEnvelope{Body: crmBody{Register: &crmRegisterRequest{
		OrderNumber:        req.OrderNumber,
		ClientID:           req.ClientID,
		PickupAddress:      req.PickupAddress,
		DeliveryAddress:    req.DeliveryAddress,
		PackageDescription: req.PackageDescription,
		Priority:           string(req.Priority),
	}}}

	var raw string
	var message string
	err := retry.Do(ctx, crmExecutePolicy, func(ctx context.Context) error {
		body, err := a.call(ctx, &envelope)
		if err != nil {
			return err
		}

		reply, err := decodeCRMEnvelope(body)
		if err != nil {
			return retry.Permanent(err)
		}
		if reply.Body.Fault != nil {
			return retry.Permanent(errors.Errorf("CRM fault %s: %s", reply.Body.Fault.Code, reply.Body.Fault.Reason))
		}
		resp := reply.Body.RegisterResp
		if resp == nil {
			return retry.Permanent(errors.New("CRM reply carries neither response nor fault"))
		}
		if resp.Status != crmStatusSuccess {
			return retry.Permanent(errors.Errorf("CRM rejected order: status %s: %s", resp.Status, resp.Message))
		}

		raw = string(body)
		message = fmt.Sprintf("order registered with CRM, registration id %s", resp.RegistrationID)
		return nil
	})
	if err != nil {
		return domain.StepFailure("CRM registration failed", err.Error())
	}
	return domain.StepSuccess(message, raw)
}

func (a *ClientRegistrationAdapter) Compensate(ctx context.Context, orderNumber string) domain.StepResult {
	envelope := crmEnvelope{Body: crmBody{Cancel: &crmCancelRequest{OrderNumber: orderNumber}}}

	var raw string
	err := retry.Do(ctx, crmCompensatePolicy, func(ctx context.Context) error {
		body, err := a.call(ctx, &envelope)
		if err != nil {
			return err
		}

		reply, err := decodeCRMEnvelope(body)
		if err != nil {
			return retry.Permanent(err)
		}
		if reply.Body.Fault != nil {
			return retry.Permanent(errors.Errorf("CRM fault %s: %s", reply.Body.Fault.Code, reply.Body.Fault.Reason))
		}
		resp := reply.Body.CancelResp
		if resp == nil || resp.Status != crmStatusCancelled {
			return retry.Permanent(errors.New("CRM did not confirm cancellation"))
		}

		raw = string(body)
		return nil
	})
	if err != nil {
		return domain.StepFailure("CRM cancellation failed", err.Error())
	}
	return domain.StepSuccess("CRM registration cancelled", raw)
}

// call posts one envelope and applies the shared failure taxonomy: transport
// errors and 5xx are transient, any other non-200 is a permanent rejection.
func (a *ClientRegistrationAdapter) call(ctx context.Context, envelope *crmEnvelope) ([]byte, error) {
	payload, err := xml.Marshal(envelope)
	if err != nil {
		return nil, retry.Permanent(errors.Wrap(err, "encode CRM envelope"))
	}

	resp, err := a.client.Post(ctx, a.url, "application/xml", payload, nil)
	if err != nil {
		return nil, errors.Wrap(err, "CRM call")
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, errors.Errorf("CRM returned status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, retry.Permanent(errors.Errorf("CRM returned status %d", resp.StatusCode))
	}
	return resp.Body, nil
}

func decodeCRMEnvelope(body []byte) (*crmEnvelope, error) {
	var reply crmEnvelope
	if err := xml.Unmarshal(body, &reply); err != nil {
		return nil, errors.Wrap(err, "decode CRM reply")
	}
	return &reply, nil
}
