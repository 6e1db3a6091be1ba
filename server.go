package main

import (
	"context"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/systemli/postfix-policy-adapter/policy"
)

// PolicyServer serves the Postfix SMTP access policy delegation protocol,
// answering each request via a fresh RatelimitHandler. It implements the
// ConnectionHandler interface.
type PolicyServer struct {
	client      QuotaService
	rateLimiter *RateLimiter
}

// NewPolicyServer creates a new PolicyServer with the given QuotaService
// and RateLimiter.
func NewPolicyServer(client QuotaService, rateLimiter *RateLimiter) *PolicyServer {
	return &PolicyServer{client: client, rateLimiter: rateLimiter}
}

// StartPolicyServer starts the policy server on the given address.
func StartPolicyServer(ctx context.Context, wg *sync.WaitGroup, addr string, server *PolicyServer) {
	config := TCPServerConfig{
		Name: "policy",
		Addr: addr,
		OnConnectionAcquired: func() {
			activeConnections.Inc()
		},
		OnConnectionReleased: func() {
			activeConnections.Dec()
		},
		OnPoolUsageChanged: func(size int) {
			connectionPoolUsage.Set(float64(size))
		},
	}

	StartTCPServer(ctx, wg, config, server)
}

// HandleConnection implements ConnectionHandler for PolicyServer. It serves
// any number of policy requests on the connection until the peer closes it
// or a fatal error occurs. The caller (tcpserver.go) closes the connection.
func (p *PolicyServer) HandleConnection(ctx context.Context, conn net.Conn) {
	err := policy.HandleConnection(conn, conn, func() policy.RequestHandler {
		return NewRatelimitHandler(ctx, p.client, p.rateLimiter)
	})
	if err == nil {
		logger.Debug("Client closed connection")
		return
	}

	switch e := err.(type) {
	case *policy.ProtocolError:
		logger.Error("Malformed policy request, closing connection",
			zap.ByteString("line", e.Line))
		protocolErrorsTotal.Inc()
	case *policy.HandlerError:
		logger.Error("Policy handler failed, closing connection", zap.Error(e.Err))
	case *policy.TransportError:
		// Usually a peer that went away or a connection deadline.
		logger.Debug("Policy connection aborted", zap.Error(err))
	default:
		logger.Error("Policy connection failed", zap.Error(err))
	}
}
