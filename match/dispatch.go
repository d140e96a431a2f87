package match

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/exp/maps"
	"golang.org/x/sync/singleflight"
)


// a state changing decision on a feed candidate or an incoming request
type DispatchAction string

const (
	DispatchConnect DispatchAction = "connect"
	DispatchPass DispatchAction = "pass"
	DispatchAccept DispatchAction = "accept"
	DispatchReject DispatchAction = "reject"
)

func ParseDispatchAction(s string) (DispatchAction, error) {
	action := DispatchAction(s)
	if !action.Valid() {
		return "", fmt.Errorf("Unknown action: %s", s)
	}
	return action, nil
}

func (self DispatchAction) Valid() bool {
	switch self {
	case DispatchConnect, DispatchPass, DispatchAccept, DispatchReject:
		return true
	default:
		return false
	}
}

// connect and pass act on feed candidates
func (self DispatchAction) IsFeedAction() bool {
	return self == DispatchConnect || self == DispatchPass
}

// accept and reject act on incoming requests
func (self DispatchAction) IsReviewAction() bool {
	return self == DispatchAccept || self == DispatchReject
}

// the path status of the outbound request
func (self DispatchAction) Status() string {
	switch self {
	case DispatchConnect:
		return SendStatusInterested
	case DispatchPass:
		return SendStatusIgnored
	case DispatchAccept:
		return ReviewStatusAccepted
	case DispatchReject:
		return ReviewStatusRejected
	default:
		return ""
	}
}


// the outbound calls of the dispatcher. `DevMatchApi` implements this
type ActionSender interface {
	SendRequestSync(ctx context.Context, status string, toUserId Id) (*SendRequestResult, error)
	ReviewRequestSync(ctx context.Context, status string, requestId Id) (*ReviewRequestResult, error)
}


type DispatchOutcome struct {
	Action DispatchAction
	EntityId Id
	// the trace id of the call that sent the request
	TraceId LocalId
	// true when this dispatch joined a call already in flight for the entity.
	// A joined dispatch sends nothing and reports the outcome of the pending call
	Shared bool
	Message string
	Err error
}

func (self *DispatchOutcome) Ok() bool {
	return self.Err == nil
}


type DispatchOutcomeFunction func(outcome *DispatchOutcome)


type DispatchSettings struct {
	RequestTimeout time.Duration
}

func DefaultDispatchSettings() *DispatchSettings {
	return &DispatchSettings{
		RequestTimeout: 30 * time.Second,
	}
}


// sends decisions and reconciles the owning collection.
// At most one request is in flight per entity id. A dispatch for an id that is pending
// joins the pending call. There is no retry inside the dispatcher: one call, one request.
// The entity is removed from its collection when the dispatch starts, whatever the outcome.
// The product favors forward progress over strict consistency, so a failed connect
// does not restore the candidate
type Dispatcher struct {
	ctx context.Context
	cancel context.CancelFunc

	sender ActionSender
	store *AppStore
	gate *Gate
	settings *DispatchSettings

	group singleflight.Group

	stateLock sync.Mutex
	// entity id -> trace id of the pending call
	inFlight map[Id]LocalId

	outcomeCallbacks *CallbackList[DispatchOutcomeFunction]
}

func NewDispatcherWithDefaults(ctx context.Context, sender ActionSender, store *AppStore, gate *Gate) *Dispatcher {
	return NewDispatcher(ctx, sender, store, gate, DefaultDispatchSettings())
}

func NewDispatcher(ctx context.Context, sender ActionSender, store *AppStore, gate *Gate, settings *DispatchSettings) *Dispatcher {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &Dispatcher{
		ctx: cancelCtx,
		cancel: cancel,
		sender: sender,
		store: store,
		gate: gate,
		settings: settings,
		inFlight: map[Id]LocalId{},
		outcomeCallbacks: NewCallbackList[DispatchOutcomeFunction](),
	}
}

// called once per sent request, not for joined dispatches
func (self *Dispatcher) AddOutcomeCallback(outcomeCallback DispatchOutcomeFunction) func() {
	callbackId := self.outcomeCallbacks.Add(outcomeCallback)
	return func() {
		self.outcomeCallbacks.Remove(callbackId)
	}
}

// true while a request for the entity is pending. Views disable the entity's buttons
func (self *Dispatcher) InFlight(entityId Id) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	_, ok := self.inFlight[entityId]
	return ok
}

func (self *Dispatcher) InFlightIds() []Id {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return maps.Keys(self.inFlight)
}

// blocks until the outcome is known or `ctx` is done.
// When `ctx` is done first the request still completes and reconciles the store;
// only this caller stops waiting for it
func (self *Dispatcher) Dispatch(ctx context.Context, action DispatchAction, entityId Id) *DispatchOutcome {
	if !action.Valid() {
		return &DispatchOutcome{
			Action: action,
			EntityId: entityId,
			Err: fmt.Errorf("Unknown action: %s", action),
		}
	}
	if entityId == "" {
		return &DispatchOutcome{
			Action: action,
			Err: ErrNoCandidate,
		}
	}

	var traceId LocalId
	shared := false
	var resultChannel <-chan singleflight.Result
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if pendingTraceId, ok := self.inFlight[entityId]; ok {
			traceId = pendingTraceId
			shared = true
		} else {
			traceId = NewLocalId()
			self.inFlight[entityId] = traceId
		}
		// the call runs in its own goroutine
		resultChannel = self.group.DoChan(string(entityId), func() (any, error) {
			return self.send(action, entityId, traceId), nil
		})
	}()

	if shared {
		glog.V(LogLevelKey).Infof("[dispatch]%s %s joined pending (%s)\n", action, entityId, traceId)
	}

	select {
	case result := <-resultChannel:
		outcome := *result.Val.(*DispatchOutcome)
		// the pending call may be for a different action on the same entity
		outcome.Shared = shared || self.joinedCompleting(entityId, traceId, &outcome)
		return &outcome
	case <-ctx.Done():
		go func() {
			// buffered, the result stays readable after the caller leaves
			result := <-resultChannel
			self.joinedCompleting(entityId, traceId, result.Val.(*DispatchOutcome))
		}()
		return &DispatchOutcome{
			Action: action,
			EntityId: entityId,
			TraceId: traceId,
			Shared: shared,
			Err: ctx.Err(),
		}
	}
}

func (self *Dispatcher) DispatchAsync(action DispatchAction, entityId Id, callback DispatchOutcomeFunction) {
	go func() {
		outcome := self.Dispatch(self.ctx, action, entityId)
		if callback != nil {
			HandleError(func() {
				callback(outcome)
			})
		}
	}()
}

// a dispatch registered after the pending call released the entity but before the
// call resolved ends up joined to that call. Its registration has no call of its own
func (self *Dispatcher) joinedCompleting(entityId Id, traceId LocalId, outcome *DispatchOutcome) bool {
	if outcome.TraceId == traceId {
		return false
	}
	self.release(entityId, traceId)
	return true
}

func (self *Dispatcher) release(entityId Id, traceId LocalId) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.inFlight[entityId] == traceId {
		delete(self.inFlight, entityId)
	}
}

// the single outbound request for one dispatch
func (self *Dispatcher) send(action DispatchAction, entityId Id, traceId LocalId) *DispatchOutcome {
	defer self.release(entityId, traceId)

	glog.V(LogLevelKey).Infof("[dispatch]%s %s start (%s)\n", action, entityId, traceId)

	// optimistic removal
	self.remove(action, entityId)

	outcome := &DispatchOutcome{
		Action: action,
		EntityId: entityId,
		TraceId: traceId,
	}

	requestCtx, cancel := context.WithTimeout(self.ctx, self.settings.RequestTimeout)
	defer cancel()

	request := func() {
		HandleError(func() {
			if action.IsFeedAction() {
				var result *SendRequestResult
				result, outcome.Err = self.sender.SendRequestSync(requestCtx, action.Status(), entityId)
				if result != nil {
					outcome.Message = result.Message
				}
			} else {
				var result *ReviewRequestResult
				result, outcome.Err = self.sender.ReviewRequestSync(requestCtx, action.Status(), entityId)
				if result != nil {
					outcome.Message = result.Message
				}
			}
		}, func(err error) {
			outcome.Err = err
		})
	}
	if glog.V(LogLevelFrequent) {
		Trace(fmt.Sprintf("[dispatch]%s %s", action, entityId), request)
	} else {
		request()
	}

	if outcome.Err == nil {
		glog.V(LogLevelKey).Infof("[dispatch]%s %s end (%s)\n", action, entityId, traceId)
		// idempotent, the entity may have been re-added by a refresh while in flight
		self.remove(action, entityId)
	} else {
		glog.Infof("[dispatch]%s %s error = %s (%s)\n", action, entityId, outcome.Err, traceId)
		if self.gate == nil || !self.gate.CheckUnauthorized(outcome.Err) {
			self.store.Notifications.Errorf("%s", ErrorMessage(outcome.Err, failureMessage(action)))
		}
	}

	for _, callback := range self.outcomeCallbacks.Get() {
		HandleError(func() {
			callback(outcome)
		})
	}
	return outcome
}

func (self *Dispatcher) remove(action DispatchAction, entityId Id) {
	if action.IsFeedAction() {
		self.store.Feed.RemoveById(entityId)
	} else {
		self.store.Requests.RemoveById(entityId)
	}
}

// stops waiting callers. Requests in flight are canceled
func (self *Dispatcher) Close() {
	self.cancel()
}


func failureMessage(action DispatchAction) string {
	switch action {
	case DispatchConnect:
		return "Could not send the connection request."
	case DispatchPass:
		return "Could not skip the profile."
	case DispatchAccept:
		return "Could not accept the request."
	case DispatchReject:
		return "Could not reject the request."
	default:
		return "Something went wrong."
	}
}
