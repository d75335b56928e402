package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/russross/autograder/types"
)

var errAlreadyQueued = fmt.Errorf("student already has a submission in the queue")
var errSubmissionsDisabled = fmt.Errorf("student submissions are currently disabled")

// QueueEvent is one message pushed to a watching client.
type QueueEvent struct {
	Type       string      `json:"type"`
	Message    string      `json:"message,omitempty"`
	Position   int         `json:"position,omitempty"`
	Submission *Submission `json:"submission,omitempty"`
}

const (
	eventUpdate   = "update"
	eventWarning  = "warning"
	eventError    = "error"
	eventPosition = "position"
	eventResults  = "results"
)

// observerRegistry tracks the open websockets per student. A student
// may watch from several tabs; every socket gets every event.
type observerRegistry struct {
	mu      sync.Mutex
	sockets map[string][]*websocket.Conn
}

func newObserverRegistry() *observerRegistry {
	return &observerRegistry{sockets: make(map[string][]*websocket.Conn)}
}

func (r *observerRegistry) Add(netID string, socket *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sockets[netID] = append(r.sockets[netID], socket)
}

func (r *observerRegistry) Remove(netID string, socket *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.sockets[netID][:0]
	for _, elt := range r.sockets[netID] {
		if elt != socket {
			kept = append(kept, elt)
		}
	}
	if len(kept) == 0 {
		delete(r.sockets, netID)
	} else {
		r.sockets[netID] = kept
	}
}

// Send pushes an event to every socket a student has open. Write
// failures drop the socket silently; the reader goroutine notices the
// closed connection and unregisters it.
func (r *observerRegistry) Send(netID string, event *QueueEvent) {
	r.mu.Lock()
	sockets := append([]*websocket.Conn(nil), r.sockets[netID]...)
	r.mu.Unlock()
	for _, socket := range sockets {
		socket.WriteJSON(event)
	}
}

// ObserverFor adapts the registry into the per-job Observer.
func (r *observerRegistry) ObserverFor(netID string) Observer {
	return &socketObserver{registry: r, netID: netID}
}

type socketObserver struct {
	registry *observerRegistry
	netID    string
}

func (o *socketObserver) Update(message string) {
	o.registry.Send(o.netID, &QueueEvent{Type: eventUpdate, Message: message})
}

func (o *socketObserver) Warning(message string) {
	o.registry.Send(o.netID, &QueueEvent{Type: eventWarning, Message: message})
}

func (o *socketObserver) Error(message string) {
	o.registry.Send(o.netID, &QueueEvent{Type: eventError, Message: message})
}

// trafficController owns submission admission and the single grading
// worker. Admission and grading share the durable queue, so a restart
// picks up exactly where the previous process stopped.
type trafficController struct {
	deps         *graderDeps
	registry     *observerRegistry
	wake         chan struct{}
	gradeTimeout time.Duration
}

func newTrafficController(deps *graderDeps, registry *observerRegistry, gradeTimeout time.Duration) *trafficController {
	if gradeTimeout <= 0 {
		gradeTimeout = 10 * time.Minute
	}
	return &trafficController{
		deps:         deps,
		registry:     registry,
		wake:         make(chan struct{}, 1),
		gradeTimeout: gradeTimeout,
	}
}

// Start recovers jobs that were mid-flight when the previous process
// died, then launches the worker.
func (tc *trafficController) Start(ctx context.Context) error {
	count, err := tc.deps.store.ResetStarted()
	if err != nil {
		return fmt.Errorf("failed to recover interrupted jobs: %v", err)
	}
	if count > 0 {
		log.Printf("re-queued %d job(s) interrupted by restart", count)
	}
	go tc.workerLoop(ctx)
	tc.poke()
	return nil
}

// Submit admits one grading request. Students get at most one slot in
// the queue; a duplicate is rejected, never replaced, so a running job
// cannot be pre-empted by mashing the submit button.
func (tc *trafficController) Submit(item *QueueItem) (int, error) {
	if err := item.Normalize(); err != nil {
		return 0, err
	}

	if !item.Admin {
		if err := tc.checkSubmissionsOpen(); err != nil {
			return 0, err
		}
	}

	inserted, err := tc.deps.store.Enqueue(item)
	if err != nil {
		return 0, err
	}
	if !inserted {
		return tc.position(item.NetID), errAlreadyQueued
	}

	tc.broadcastPositions()
	tc.poke()
	return tc.position(item.NetID), nil
}

func (tc *trafficController) checkSubmissionsOpen() error {
	enabled, err := configBool(tc.deps.store, ConfigStudentSubmissionsEnabled, true)
	if err != nil {
		return err
	}
	if !enabled {
		return errSubmissionsDisabled
	}
	shutdown, err := configTime(tc.deps.store, ConfigGraderShutdownDate)
	if err != nil {
		return err
	}
	if !shutdown.IsZero() && time.Now().After(shutdown) {
		return errSubmissionsDisabled
	}
	return nil
}

// position returns the 1-based queue position, 0 when absent.
func (tc *trafficController) position(netID string) int {
	items, err := tc.deps.store.All()
	if err != nil {
		return 0
	}
	for i, elt := range items {
		if elt.NetID == netID {
			return i + 1
		}
	}
	return 0
}

func (tc *trafficController) broadcastPositions() {
	items, err := tc.deps.store.All()
	if err != nil {
		return
	}
	for i, elt := range items {
		tc.registry.Send(elt.NetID, &QueueEvent{Type: eventPosition, Position: i + 1})
	}
}

func (tc *trafficController) poke() {
	select {
	case tc.wake <- struct{}{}:
	default:
	}
}

// workerLoop drains the queue one job at a time. The periodic tick
// catches items enqueued by another process sharing the database.
func (tc *trafficController) workerLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tc.wake:
		case <-ticker.C:
		}
		tc.drain(ctx)
	}
}

func (tc *trafficController) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		item, err := tc.deps.store.ClaimNext()
		if err != nil {
			log.Printf("failed to claim next queue item: %v", err)
			return
		}
		if item == nil {
			return
		}
		tc.process(ctx, item)
		tc.broadcastPositions()
	}
}

// process grades one claimed item. In-process failures are terminal
// for the item: the student is told and the slot is freed. Only a
// crash leaves an item started, and startup recovery re-runs those.
func (tc *trafficController) process(ctx context.Context, item *QueueItem) {
	observer := tc.registry.ObserverFor(item.NetID)

	job, err := newGradingJob(item, item.Admin, tc.deps, observer)
	if err == nil {
		jobCtx, cancel := context.WithTimeout(ctx, tc.gradeTimeout)
		var sub *Submission
		sub, err = job.run(jobCtx)
		cancel()
		if err == nil {
			tc.registry.Send(item.NetID, &QueueEvent{Type: eventResults, Submission: sub})
		}
	}
	if err != nil {
		log.Printf("grading failed for %s %s: %v", item.NetID, item.Phase, err)
		observer.Error("Grading failed: " + err.Error())
	}

	if err := tc.deps.store.Complete(item.NetID); err != nil {
		log.Printf("failed to remove %s from queue: %v", item.NetID, err)
	}
}
