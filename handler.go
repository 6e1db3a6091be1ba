package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/systemli/postfix-policy-adapter/policy"
)

// RejectMessage is the text sent alongside a REJECT action when a sender
// exceeded its quota.
const RejectMessage = "Rate limit exceeded, please try again later"

// PolicyRequest represents a decoded Postfix policy request.
type PolicyRequest struct {
	Request          string
	ProtocolState    string
	ProtocolName     string
	Sender           string
	Recipient        string
	RecipientCount   string
	ClientAddress    string
	ClientName       string
	SaslMethod       string
	SaslUsername     string
	Size             string
	QueueID          string
	Instance         string
	EncryptionCipher string
}

// RatelimitHandler accumulates the attributes of one policy request and
// decides whether the message stays within the sender's quota. It implements
// policy.RequestHandler; a fresh instance serves every request.
type RatelimitHandler struct {
	ctx         context.Context
	client      QuotaService
	rateLimiter *RateLimiter

	request PolicyRequest
	started time.Time
}

// NewRatelimitHandler creates a handler for a single policy request.
func NewRatelimitHandler(ctx context.Context, client QuotaService, rateLimiter *RateLimiter) *RatelimitHandler {
	return &RatelimitHandler{
		ctx:         ctx,
		client:      client,
		rateLimiter: rateLimiter,
		started:     time.Now(),
	}
}

// Attribute records one name=value pair of the request. Unknown attributes
// are ignored.
func (h *RatelimitHandler) Attribute(name, value []byte) error {
	v := string(value)

	switch string(name) {
	case "request":
		h.request.Request = v
	case "protocol_state":
		h.request.ProtocolState = v
	case "protocol_name":
		h.request.ProtocolName = v
	case "sender":
		h.request.Sender = v
	case "recipient":
		h.request.Recipient = v
	case "recipient_count":
		h.request.RecipientCount = v
	case "client_address":
		h.request.ClientAddress = v
	case "client_name":
		h.request.ClientName = v
	case "sasl_method":
		h.request.SaslMethod = v
	case "sasl_username":
		h.request.SaslUsername = v
	case "size":
		h.request.Size = v
	case "queue_id":
		h.request.QueueID = v
	case "instance":
		h.request.Instance = v
	case "encryption_cipher":
		h.request.EncryptionCipher = v
	}

	return nil
}

// Response decides the action for the accumulated request.
func (h *RatelimitHandler) Response() (policy.Response, error) {
	logger.Debug("Processing policy request",
		zap.String("sender", h.request.Sender),
		zap.String("sasl_username", h.request.SaslUsername),
		zap.String("protocol_state", h.request.ProtocolState),
		zap.String("client_address", h.request.ClientAddress),
		zap.String("queue_id", h.request.QueueID))

	// Only count at the END-OF-MESSAGE stage, so only messages that will
	// actually be sent hit the counters.
	if h.request.ProtocolState != "END-OF-MESSAGE" {
		return h.finish("skip", policy.Dunno), nil
	}

	// The SASL username is more reliable than the envelope sender for
	// authenticated users.
	sender := h.request.SaslUsername
	if sender == "" {
		sender = h.request.Sender
	}

	if sender == "" {
		logger.Debug("No sender identity found, allowing message")
		return h.finish("check", policy.Dunno), nil
	}

	ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
	defer cancel()

	quota, err := h.client.GetQuota(ctx, sender)
	if err != nil {
		// Quota API error, fail open and allow the message.
		logger.Warn("Failed to fetch quota, allowing message",
			zap.String("sender", sender), zap.Error(err))
		return h.finishError("check"), nil
	}

	if quota.PerHour == 0 && quota.PerDay == 0 {
		logger.Debug("No quota limits configured", zap.String("sender", sender))
		return h.finish("check", policy.Dunno), nil
	}

	allowed, hourCount, dayCount, err := h.rateLimiter.CheckAndIncrement(ctx, sender, quota)
	if err != nil {
		// Redis error, fail open as well.
		logger.Warn("Rate limit check failed, allowing message",
			zap.String("sender", sender), zap.Error(err))
		return h.finishError("check"), nil
	}

	quotaChecksTotal.Inc()

	fields := []zap.Field{
		zap.String("sender", sender),
		zap.Int64("hour_count", hourCount),
		zap.Int64("day_count", dayCount),
		zap.Int("hour_limit", quota.PerHour),
		zap.Int("day_limit", quota.PerDay),
	}

	if !allowed {
		logger.Info("Rate limit exceeded", fields...)
		quotaExceededTotal.Inc()
		return h.finish("check", policy.Reject([]byte(RejectMessage))), nil
	}

	logger.Debug("Message allowed", fields...)
	return h.finish("check", policy.Dunno), nil
}

func (h *RatelimitHandler) finish(stage string, response policy.Response) policy.Response {
	outcome := "dunno"
	if response.Action == policy.ActionReject {
		outcome = "reject"
	}
	policyRequestsTotal.WithLabelValues(stage, outcome).Inc()
	policyRequestDuration.WithLabelValues(stage, outcome).Observe(time.Since(h.started).Seconds())
	return response
}

func (h *RatelimitHandler) finishError(stage string) policy.Response {
	policyRequestsTotal.WithLabelValues(stage, "error").Inc()
	policyRequestDuration.WithLabelValues(stage, "error").Observe(time.Since(h.started).Seconds())
	return policy.Dunno
}
