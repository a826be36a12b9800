// Package scheduler arms one-shot delivery jobs, one per pending reminder.
package scheduler

import (
	"log"
	"sync"
	"time"
)

// Callback delivers a fired reminder. A returned error is a delivery
// failure: logged, never retried.
type Callback func(reminderID string) error

// deliveryWait bounds how long a fire waits on its callback before the
// delivery is written off, so one stuck transport cannot stall the
// timer goroutine forever.
const deliveryWait = 5 * time.Second

type jobState int

const (
	statePending jobState = iota
	stateFired
	stateCancelled
)

type job struct {
	reminderID string
	fireAt     time.Time
	timer      *time.Timer
	state      jobState
}

// Scheduler owns a mutex-guarded table of pending jobs. Each job fires
// its callback exactly once, even under concurrent Arm/Cancel races.
type Scheduler struct {
	mu   sync.Mutex
	jobs map[string]*job
}

func New() *Scheduler {
	return &Scheduler{jobs: make(map[string]*job)}
}

// Arm schedules exactly one invocation of callback at fireAt. A fireAt
// already in the past fires as soon as possible rather than being
// dropped. Re-arming a reminder id replaces its pending job.
func (s *Scheduler) Arm(reminderID string, fireAt time.Time, callback Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.jobs[reminderID]; ok && prev.state == statePending {
		prev.timer.Stop()
		prev.state = stateCancelled
	}

	j := &job{reminderID: reminderID, fireAt: fireAt, state: statePending}
	delay := time.Until(fireAt)
	if delay < 0 {
		delay = 0
	}
	j.timer = time.AfterFunc(delay, func() { s.fire(j, callback) })
	s.jobs[reminderID] = j
}

// Cancel prevents a pending job from firing. Fired or unknown ids are a
// no-op.
func (s *Scheduler) Cancel(reminderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[reminderID]
	if !ok || j.state != statePending {
		return
	}
	j.timer.Stop()
	j.state = stateCancelled
	delete(s.jobs, reminderID)
}

// Pending reports whether a reminder still has an unfired job.
func (s *Scheduler) Pending(reminderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[reminderID]
	return ok && j.state == statePending
}

// Stop cancels every pending job. Used on shutdown.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, j := range s.jobs {
		if j.state == statePending {
			j.timer.Stop()
			j.state = stateCancelled
		}
		delete(s.jobs, id)
	}
}

// fire runs on the timer goroutine. The Pending -> Fired transition is
// taken under the table lock, so a Cancel racing an imminent fire can
// neither double-fire the job nor leave it ambiguously pending.
func (s *Scheduler) fire(j *job, callback Callback) {
	s.mu.Lock()
	if j.state != statePending {
		s.mu.Unlock()
		return
	}
	j.state = stateFired
	delete(s.jobs, j.reminderID)
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- callback(j.reminderID) }()

	select {
	case err := <-done:
		if err != nil {
			log.Printf("[SCHED] Delivery failed for reminder %s: %v", j.reminderID, err)
		}
	case <-time.After(deliveryWait):
		log.Printf("[SCHED] Delivery timed out for reminder %s after %v", j.reminderID, deliveryWait)
	}
}
