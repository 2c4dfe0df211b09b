package protocol

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/peerdex-network/peerdex-daemon/internal/core/domain"
	"github.com/peerdex-network/peerdex-daemon/internal/core/ports"
	"github.com/peerdex-network/peerdex-daemon/pkg/scheduler"
	"github.com/peerdex-network/peerdex-daemon/pkg/taskrunner"
)

// DefaultAwaitTimeout bounds how long a side waits for the peer's next
// protocol message before aborting the trade.
const DefaultAwaitTimeout = 60 * time.Second

// TaskFactory builds a task bound to the run's process model. Factories are
// invoked lazily when their step starts, so tasks observe the state left by
// the previous steps.
type TaskFactory func(pm *ProcessModel) taskrunner.Task

// Step is one phase of a protocol definition. The opening step of the
// initiating side has no ExpectMsg and runs on Start; every other step is
// triggered by a peer message of the expected type arriving while the trade
// sits in FromState.
type Step struct {
	Name      string
	ExpectMsg string
	FromState int
	ToState   int
	Tasks     []TaskFactory
	// AwaitTimeout bounds the wait for the NEXT step's message once this step
	// completed. Zero means nothing more is awaited.
	AwaitTimeout time.Duration
}

// Definition is the ordered list of steps a role walks through.
type Definition []Step

// Opts groups the parameters of a protocol run.
type Opts struct {
	Model      *ProcessModel
	Definition Definition
	Scheduler  scheduler.Scheduler
	// OnUpdate is called after every trade mutation so the owner can persist
	// it. Runs on the scheduler goroutine.
	OnUpdate func(trade *domain.Trade)
	// OnTerminated is called exactly once when the run completes or fails.
	OnTerminated func(trade *domain.Trade)
}

// Protocol drives one trade through its definition. All entry points dispatch
// onto the scheduler goroutine, which owns every piece of protocol state.
type Protocol struct {
	model        *ProcessModel
	def          Definition
	sched        scheduler.Scheduler
	onUpdate     func(trade *domain.Trade)
	onTerminated func(trade *domain.Trade)

	stepIdx    int
	running    bool
	terminated bool
	awaitTimer scheduler.Timer
	seenUIDs   map[string]struct{}
}

// New returns a protocol run ready to be started.
func New(opts Opts) *Protocol {
	return &Protocol{
		model:        opts.Model,
		def:          opts.Definition,
		sched:        opts.Scheduler,
		onUpdate:     opts.OnUpdate,
		onTerminated: opts.OnTerminated,
		seenUIDs:     map[string]struct{}{},
	}
}

// Start kicks off the run. The initiating side executes its opening step
// right away; the responding side waits for the first peer message.
func (p *Protocol) Start() {
	p.sched.Do(func() {
		if p.terminated || len(p.def) == 0 {
			return
		}
		if p.def[0].ExpectMsg == "" {
			p.runStep(p.def[0], nil)
		}
	})
}

// HandleMessage feeds an inbound peer message into the run. Messages that do
// not match the awaited type and phase are logged and dropped without
// touching the trade; duplicates are detected by envelope uid.
func (p *Protocol) HandleMessage(
	msg TradeMessage, uid string, from ports.NodeAddress,
) {
	p.sched.Do(func() { p.handleMessage(msg, uid, from) })
}

func (p *Protocol) handleMessage(
	msg TradeMessage, uid string, from ports.NodeAddress,
) {
	trade := p.model.Trade
	if p.terminated {
		return
	}
	if msg.GetTradeId() != trade.Id {
		log.Debugf(
			"protocol: dropping message for foreign trade %s", msg.GetTradeId(),
		)
		return
	}
	if string(from) != trade.PeerAddress {
		log.Warnf(
			"protocol: dropping message for trade %s from non-peer %s",
			trade.Id, from,
		)
		return
	}
	if _, ok := p.seenUIDs[uid]; ok {
		log.Debugf("protocol: dropping duplicate message %s", uid)
		return
	}
	p.seenUIDs[uid] = struct{}{}

	if failed, ok := msg.(TradeFailedMessage); ok {
		p.onPeerFailed(failed)
		return
	}
	if p.running {
		log.Warnf(
			"protocol: dropping %T for trade %s, a pipeline is still running",
			msg, trade.Id,
		)
		return
	}
	if p.stepIdx >= len(p.def) {
		log.Debugf(
			"protocol: dropping %T for finished trade %s", msg, trade.Id,
		)
		return
	}

	step := p.def[p.stepIdx]
	msgType, err := MessageType(msg)
	if err != nil {
		log.WithError(err).Warn("protocol: dropping unclassifiable message")
		return
	}
	if msgType != step.ExpectMsg || trade.Status.Code != step.FromState {
		log.Warnf(
			"protocol: dropping out-of-phase %s for trade %s in state %d, awaiting %s in state %d",
			msgType, trade.Id, trade.Status.Code, step.ExpectMsg, step.FromState,
		)
		return
	}

	p.runStep(step, msg)
}

// runStep builds the step's tasks against the live model and runs them
// strictly in order.
func (p *Protocol) runStep(step Step, msg TradeMessage) {
	p.stopAwaitTimer()
	p.running = true
	p.model.Received = msg

	tasks := make([]taskrunner.Task, 0, len(step.Tasks))
	for _, factory := range step.Tasks {
		tasks = append(tasks, factory(p.model))
	}
	runner := taskrunner.New(taskrunner.Opts{
		Tasks:      tasks,
		Scheduler:  p.sched,
		OnComplete: func() { p.onStepComplete(step) },
		OnFailure:  p.failTrade,
	})
	log.Debugf(
		"protocol: trade %s entering step %s", p.model.Trade.Id, step.Name,
	)
	runner.Start()
}

func (p *Protocol) onStepComplete(step Step) {
	trade := p.model.Trade
	if err := trade.AdvanceTo(step.ToState); err != nil {
		// A task advanced past the step's target state: logic error in the
		// definition, not a trade failure.
		log.WithError(err).Errorf(
			"protocol: step %s target state for trade %s", step.Name, trade.Id,
		)
	}
	p.running = false
	p.stepIdx++
	p.persist()

	if trade.IsCompleted() || p.stepIdx >= len(p.def) {
		p.terminate()
		return
	}
	if step.AwaitTimeout > 0 {
		awaited := p.def[p.stepIdx]
		p.awaitTimer = p.sched.ScheduleOnce(step.AwaitTimeout, func() {
			p.failTrade(&AwaitTimeoutError{
				MessageType: awaited.ExpectMsg,
				Timeout:     step.AwaitTimeout,
			})
		})
	}
}

// onPeerFailed aborts the local side after the peer reported its own abort.
// No failure message is sent back, that would just bounce between the two.
func (p *Protocol) onPeerFailed(msg TradeFailedMessage) {
	trade := p.model.Trade
	log.Infof(
		"protocol: peer aborted trade %s: %s", trade.Id, msg.ErrorMessage,
	)
	trade.Fail("peer aborted: " + msg.ErrorMessage)
	p.compensate()
	p.persist()
	p.terminate()
}

// failTrade is the single local abort path: record the reason, undo the offer
// removal if the maker got that far, tell the peer, terminate.
func (p *Protocol) failTrade(err error) {
	trade := p.model.Trade
	log.WithError(err).Warnf("protocol: trade %s failed", trade.Id)
	trade.Fail(err.Error())
	p.running = false
	p.compensate()
	p.notifyPeerFailed(err)
	p.persist()
	p.terminate()
}

// compensate republishes the offer the maker pulled off the book for this
// trade. Best effort: the offer book logs its own failures.
func (p *Protocol) compensate() {
	if !p.model.OfferRemoved || p.model.OfferBook == nil {
		return
	}
	p.model.OfferRemoved = false
	if err := p.model.OfferBook.RepublishOffer(p.model.Offer); err != nil {
		log.WithError(err).Errorf(
			"protocol: republishing offer %s", p.model.Offer.Id,
		)
	}
}

func (p *Protocol) notifyPeerFailed(reason error) {
	trade := p.model.Trade
	env, err := encodeForPeer(p.model, TradeFailedMessage{
		TradeId:      trade.Id,
		ErrorMessage: reason.Error(),
	})
	if err != nil {
		log.WithError(err).Error("protocol: encoding failure notification")
		return
	}
	p.model.Transport.Send(
		ports.NodeAddress(trade.PeerAddress), env, func(err error) {
			if err != nil {
				log.WithError(err).Debugf(
					"protocol: notifying %s of failed trade", trade.PeerAddress,
				)
			}
		},
	)
}

func (p *Protocol) terminate() {
	if p.terminated {
		return
	}
	p.terminated = true
	p.stopAwaitTimer()
	if p.onTerminated != nil {
		p.onTerminated(p.model.Trade)
	}
}

func (p *Protocol) persist() {
	if p.onUpdate != nil {
		p.onUpdate(p.model.Trade)
	}
}

func (p *Protocol) stopAwaitTimer() {
	if p.awaitTimer != nil {
		p.awaitTimer.Stop()
		p.awaitTimer = nil
	}
}

// AwaitTimeoutError reports that the peer did not send the awaited message in
// time.
type AwaitTimeoutError struct {
	MessageType string
	Timeout     time.Duration
}

func (e *AwaitTimeoutError) Error() string {
	return "peer did not send " + e.MessageType + " within " + e.Timeout.String()
}
