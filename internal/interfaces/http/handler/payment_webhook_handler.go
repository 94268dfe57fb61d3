package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	billingapp "github.com/faithflows/backend/internal/application/billing"
	"github.com/gin-gonic/gin"
)

// Maximum webhook payload size (64KB, provider events are small)
const maxWebhookPayloadSize = 65536

// SignatureHeader carries the hex HMAC-SHA512 of the webhook body
const SignatureHeader = "X-Paystack-Signature"

// PaymentWebhookProcessor verifies and applies a raw webhook body
type PaymentWebhookProcessor interface {
	ProcessWebhook(ctx context.Context, payload []byte, signature string) (*billingapp.WebhookResult, error)
}

// PaymentWebhookHandler handles the payment provider webhook.
// It is called by the provider and does not require authentication.
type PaymentWebhookHandler struct {
	BaseHandler
	processor PaymentWebhookProcessor
}

// NewPaymentWebhookHandler creates a new PaymentWebhookHandler
func NewPaymentWebhookHandler(processor PaymentWebhookProcessor) *PaymentWebhookHandler {
	return &PaymentWebhookHandler{processor: processor}
}

// PaymentWebhookResponse represents the response for a payment webhook
//
//	@Description	Payment webhook response
type PaymentWebhookResponse struct {
	Received         bool   `json:"received" example:"true"`
	Event            string `json:"event,omitempty" example:"charge.success"`
	Reference        string `json:"reference,omitempty" example:"T685312322670591"`
	Processed        bool   `json:"processed" example:"true"`
	AlreadyProcessed bool   `json:"already_processed,omitempty" example:"false"`
	Message          string `json:"message,omitempty" example:"Subscription activated"`
}

// HandlePaymentWebhook godoc
//
//	@ID				handleSubscriptionPaymentWebhook
//	@Summary		Handle subscription payment webhook
//	@Description	Receive payment events; a verified charge.success activates the paid plan named in its metadata
//	@Tags			webhooks
//	@Accept			json
//	@Produce		json
//	@Param			X-Paystack-Signature	header		string					true	"HMAC-SHA512 of the body"
//	@Success		200						{object}	PaymentWebhookResponse	"Webhook received"
//	@Failure		400						{object}	PaymentWebhookResponse	"Invalid request"
//	@Failure		401						{object}	PaymentWebhookResponse	"Invalid signature"
//	@Failure		413						{object}	PaymentWebhookResponse	"Payload too large"
//	@Failure		500						{object}	PaymentWebhookResponse	"Processing failed, retry"
//	@Router			/billing/subscription-payment/webhook [post]
func (h *PaymentWebhookHandler) HandlePaymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookPayloadSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, PaymentWebhookResponse{Message: "Failed to read request body"})
		return
	}
	if len(payload) > maxWebhookPayloadSize {
		c.JSON(http.StatusRequestEntityTooLarge, PaymentWebhookResponse{Message: "Payload too large"})
		return
	}

	signature := c.GetHeader(SignatureHeader)
	if signature == "" {
		c.JSON(http.StatusUnauthorized, PaymentWebhookResponse{Message: "Missing " + SignatureHeader + " header"})
		return
	}

	result, err := h.processor.ProcessWebhook(c.Request.Context(), payload, signature)
	switch {
	case errors.Is(err, billingapp.ErrInvalidSignature):
		c.JSON(http.StatusUnauthorized, PaymentWebhookResponse{Message: "Webhook signature verification failed"})
		return
	case result == nil && errors.Is(err, billingapp.ErrInvalidPayload):
		c.JSON(http.StatusBadRequest, PaymentWebhookResponse{Message: "Invalid webhook payload"})
		return
	case result == nil && err != nil:
		c.JSON(http.StatusInternalServerError, PaymentWebhookResponse{Message: "Webhook processing failed"})
		return
	}

	resp := PaymentWebhookResponse{
		Received:         true,
		Event:            result.Event,
		Reference:        result.Reference,
		Processed:        result.Processed,
		AlreadyProcessed: result.AlreadyProcessed,
		Message:          result.Message,
	}
	switch {
	case err == nil:
		c.JSON(http.StatusOK, resp)
	case errors.Is(err, billingapp.ErrInvalidPayload):
		// Verified but unusable; retrying the delivery cannot fix it
		c.JSON(http.StatusOK, resp)
	default:
		// Transient; a non-2xx makes the provider redeliver
		resp.Message = "Webhook received but processing failed"
		c.JSON(http.StatusInternalServerError, resp)
	}
}
