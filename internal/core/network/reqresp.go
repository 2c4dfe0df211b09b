package network

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/thanhpk/randstr"

	"github.com/peerdex-network/peerdex-daemon/internal/core/ports"
	"github.com/peerdex-network/peerdex-daemon/pkg/scheduler"
)

const (
	envelopeVersion = 1

	// DefaultRequestTimeout is how long a handler waits for the matching
	// response before faulting.
	DefaultRequestTimeout = 60 * time.Second

	nonceLength = 16
)

// Request is the wire shape of a nonce-matched request; Response mirrors the
// nonce back so the requester can pair them.
type Request struct {
	Nonce string          `json:"nonce"`
	Body  json.RawMessage `json:"body"`
}

// Response carries the responder's payload together with the request nonce.
type Response struct {
	Nonce string          `json:"nonce"`
	Body  json.RawMessage `json:"body"`
}

// HandlerOpts groups the parameters of a request/response exchange.
type HandlerOpts struct {
	Transport ports.PeerTransport
	Scheduler scheduler.Scheduler
	// Breaker guards the send; a tripped breaker fails fast without hitting
	// the wire.
	Breaker      *gobreaker.CircuitBreaker
	RequestType  string
	ResponseType string
	Timeout      time.Duration
	OnComplete   func(body json.RawMessage, from ports.NodeAddress)
	OnFault      func(reason string)
}

// Handler performs a single nonce-matched request with timeout. A response
// arriving after cancellation, or a timer firing after the response was
// processed, is a silent no-op: the stopped flag makes the two races
// idempotent. A Handler is single-use.
type Handler struct {
	transport    ports.PeerTransport
	sched        scheduler.Scheduler
	breaker      *gobreaker.CircuitBreaker
	requestType  string
	responseType string
	timeout      time.Duration
	onComplete   func(body json.RawMessage, from ports.NodeAddress)
	onFault      func(reason string)

	nonce          string
	stopped        bool
	timer          scheduler.Timer
	removeListener func()
}

// NewHandler returns a Handler ready to fire one request.
func NewHandler(opts HandlerOpts) *Handler {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Handler{
		transport:    opts.Transport,
		sched:        opts.Scheduler,
		breaker:      opts.Breaker,
		requestType:  opts.RequestType,
		responseType: opts.ResponseType,
		timeout:      timeout,
		onComplete:   opts.OnComplete,
		onFault:      opts.OnFault,
		nonce:        randstr.Hex(nonceLength),
	}
}

// SendRequest arms the timeout, registers the response listener and sends
// the request to the target. The timer is armed before the send so a fast
// failure response cannot race a not-yet-existing timer.
func (h *Handler) SendRequest(to ports.NodeAddress, body interface{}) {
	bodyData, err := json.Marshal(body)
	if err != nil {
		h.fault(to, fmt.Sprintf("serializing request: %s", err))
		return
	}
	payload, err := json.Marshal(Request{Nonce: h.nonce, Body: bodyData})
	if err != nil {
		h.fault(to, fmt.Sprintf("serializing request: %s", err))
		return
	}
	env := ports.Envelope{
		Version: envelopeVersion,
		Type:    h.requestType,
		UID:     uuid.New().String(),
		Sender:  h.transport.Address(),
		Payload: payload,
	}

	h.timer = h.sched.ScheduleOnce(h.timeout, func() {
		h.fault(to, fmt.Sprintf(
			"request %s to %s timed out after %s", h.requestType, to, h.timeout,
		))
	})
	h.removeListener = h.transport.AddMessageListener(
		func(env ports.Envelope, from ports.NodeAddress) {
			h.onEnvelope(env, from)
		},
	)

	onSendError := func(err error) {
		h.sched.Do(func() {
			h.fault(to, fmt.Sprintf("sending %s to %s: %s", h.requestType, to, err))
		})
	}
	if h.breaker == nil {
		h.transport.Send(to, env, func(err error) {
			if err != nil {
				onSendError(err)
			}
		})
		return
	}
	// The breaker needs a synchronous outcome, so the guarded send waits for
	// the delivery callback off the scheduler goroutine.
	go func() {
		_, err := h.breaker.Execute(func() (interface{}, error) {
			errChan := make(chan error, 1)
			h.transport.Send(to, env, func(err error) { errChan <- err })
			return nil, <-errChan
		})
		if err != nil {
			onSendError(err)
		}
	}()
}

// Cancel stops the exchange; any response arriving afterwards is ignored.
func (h *Handler) Cancel() {
	h.sched.Do(h.cleanup)
}

func (h *Handler) onEnvelope(env ports.Envelope, from ports.NodeAddress) {
	if env.Type != h.responseType {
		return
	}
	var resp Response
	if err := json.Unmarshal(env.Payload, &resp); err != nil {
		log.WithError(err).Debug("reqresp: dropping malformed response")
		return
	}
	if resp.Nonce != h.nonce {
		log.Debugf(
			"reqresp: ignoring response with foreign nonce from %s", from,
		)
		return
	}
	h.sched.Do(func() {
		if h.stopped {
			return
		}
		h.cleanup()
		if h.onComplete != nil {
			h.onComplete(resp.Body, from)
		}
	})
}

func (h *Handler) fault(peer ports.NodeAddress, reason string) {
	if h.stopped {
		return
	}
	h.cleanup()
	h.transport.MarkPeerFailed(peer)
	log.Debug("reqresp: " + reason)
	if h.onFault != nil {
		h.onFault(reason)
	}
}

func (h *Handler) cleanup() {
	h.stopped = true
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	if h.removeListener != nil {
		h.removeListener()
		h.removeListener = nil
	}
}

// Respond sends a Response mirroring the request nonce back to the
// requester. Used by the serving side of an exchange.
func Respond(
	transport ports.PeerTransport, sched scheduler.Scheduler,
	to ports.NodeAddress, responseType, nonce string, body interface{},
) error {
	bodyData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("serializing response: %w", err)
	}
	payload, err := json.Marshal(Response{Nonce: nonce, Body: bodyData})
	if err != nil {
		return fmt.Errorf("serializing response: %w", err)
	}
	env := ports.Envelope{
		Version: envelopeVersion,
		Type:    responseType,
		UID:     uuid.New().String(),
		Sender:  transport.Address(),
		Payload: payload,
	}
	transport.Send(to, env, func(err error) {
		if err != nil {
			log.WithError(err).Debugf("reqresp: sending response to %s", to)
			transport.MarkPeerFailed(to)
		}
	})
	return nil
}
