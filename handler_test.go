package main

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/systemli/postfix-policy-adapter/policy"
)

// MockQuotaService is a mock implementation of QuotaService for testing.
type MockQuotaService struct {
	mock.Mock
}

func (m *MockQuotaService) GetQuota(ctx context.Context, sender string) (*Quota, error) {
	args := m.Called(ctx, sender)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Quota), args.Error(1)
}

type RatelimitHandlerTestSuite struct {
	suite.Suite

	client      *MockQuotaService
	rateLimiter *RateLimiter
}

func (s *RatelimitHandlerTestSuite) SetupTest() {
	s.client = &MockQuotaService{}
	mr := miniredis.RunT(s.T())
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s.rateLimiter = NewRateLimiter(rdb)
}

func (s *RatelimitHandlerTestSuite) newHandler() *RatelimitHandler {
	return NewRatelimitHandler(context.Background(), s.client, s.rateLimiter)
}

func (s *RatelimitHandlerTestSuite) feed(h *RatelimitHandler, attributes map[string]string) {
	for name, value := range attributes {
		s.Require().NoError(h.Attribute([]byte(name), []byte(value)))
	}
}

func (s *RatelimitHandlerTestSuite) TestAttribute() {
	handler := s.newHandler()
	s.feed(handler, map[string]string{
		"request":           "smtpd_access_policy",
		"protocol_state":    "END-OF-MESSAGE",
		"protocol_name":     "ESMTP",
		"sender":            "user@example.org",
		"recipient":         "recipient@example.com",
		"recipient_count":   "5",
		"client_address":    "192.168.1.1",
		"client_name":       "mail.example.org",
		"sasl_method":       "PLAIN",
		"sasl_username":     "user@example.org",
		"size":              "12345",
		"queue_id":          "ABC123",
		"instance":          "def456",
		"encryption_cipher": "TLS_AES_256_GCM_SHA384",
		"unknown_attribute": "is ignored",
	})

	s.Equal(PolicyRequest{
		Request:          "smtpd_access_policy",
		ProtocolState:    "END-OF-MESSAGE",
		ProtocolName:     "ESMTP",
		Sender:           "user@example.org",
		Recipient:        "recipient@example.com",
		RecipientCount:   "5",
		ClientAddress:    "192.168.1.1",
		ClientName:       "mail.example.org",
		SaslMethod:       "PLAIN",
		SaslUsername:     "user@example.org",
		Size:             "12345",
		QueueID:          "ABC123",
		Instance:         "def456",
		EncryptionCipher: "TLS_AES_256_GCM_SHA384",
	}, handler.request)
}

func (s *RatelimitHandlerTestSuite) TestResponse() {
	s.Run("skip non end-of-message stages", func() {
		handler := s.newHandler()
		s.feed(handler, map[string]string{
			"protocol_state": "RCPT",
			"sender":         "user@example.org",
		})

		response, err := handler.Response()
		s.NoError(err)
		s.Equal(policy.Dunno, response)
		s.client.AssertNotCalled(s.T(), "GetQuota")
	})

	s.Run("allow without sender identity", func() {
		handler := s.newHandler()
		s.feed(handler, map[string]string{"protocol_state": "END-OF-MESSAGE"})

		response, err := handler.Response()
		s.NoError(err)
		s.Equal(policy.Dunno, response)
		s.client.AssertNotCalled(s.T(), "GetQuota")
	})

	s.Run("fail open on quota api error", func() {
		s.client.On("GetQuota", mock.Anything, "user@example.org").
			Return(nil, errors.New("api error")).Once()

		handler := s.newHandler()
		s.feed(handler, map[string]string{
			"protocol_state": "END-OF-MESSAGE",
			"sender":         "user@example.org",
		})

		response, err := handler.Response()
		s.NoError(err)
		s.Equal(policy.Dunno, response)
		s.client.AssertExpectations(s.T())
	})

	s.Run("allow without configured limits", func() {
		s.client.On("GetQuota", mock.Anything, "user@example.org").
			Return(&Quota{}, nil).Once()

		handler := s.newHandler()
		s.feed(handler, map[string]string{
			"protocol_state": "END-OF-MESSAGE",
			"sender":         "user@example.org",
		})

		response, err := handler.Response()
		s.NoError(err)
		s.Equal(policy.Dunno, response)
	})

	s.Run("reject when quota exceeded", func() {
		s.client.On("GetQuota", mock.Anything, "user@example.org").
			Return(&Quota{PerHour: 2, PerDay: 100}, nil)

		for i := 0; i < 2; i++ {
			handler := s.newHandler()
			s.feed(handler, map[string]string{
				"protocol_state": "END-OF-MESSAGE",
				"sender":         "user@example.org",
			})

			response, err := handler.Response()
			s.NoError(err)
			s.Equal(policy.Dunno, response, "message %d should be allowed", i+1)
		}

		handler := s.newHandler()
		s.feed(handler, map[string]string{
			"protocol_state": "END-OF-MESSAGE",
			"sender":         "user@example.org",
		})

		response, err := handler.Response()
		s.NoError(err)
		s.Equal(policy.ActionReject, response.Action)
		s.Equal(RejectMessage, string(response.Payload))
	})

	s.Run("prefer sasl username over envelope sender", func() {
		s.client.On("GetQuota", mock.Anything, "auth@example.org").
			Return(&Quota{PerHour: 1, PerDay: 100}, nil)

		handler := s.newHandler()
		s.feed(handler, map[string]string{
			"protocol_state": "END-OF-MESSAGE",
			"sender":         "first@example.org",
			"sasl_username":  "auth@example.org",
		})
		response, err := handler.Response()
		s.NoError(err)
		s.Equal(policy.Dunno, response)

		handler = s.newHandler()
		s.feed(handler, map[string]string{
			"protocol_state": "END-OF-MESSAGE",
			"sender":         "second@example.org",
			"sasl_username":  "auth@example.org",
		})
		response, err = handler.Response()
		s.NoError(err)
		s.Equal(policy.ActionReject, response.Action)
	})
}

func TestRatelimitHandler(t *testing.T) {
	suite.Run(t, new(RatelimitHandlerTestSuite))
}
