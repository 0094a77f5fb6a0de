package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"duochat/internal/models"
)

func TestUserStateCacheOperations(t *testing.T) {
	state := newUserState()
	init := func() *models.SessionState {
		return &models.SessionState{Mode: "gemini", Duo: models.DuoState{Outputs: map[string]string{}}}
	}

	if _, ok := state.get("alice"); ok {
		t.Fatalf("unexpected state before update")
	}
	st, err := state.update("alice", init, func(s *models.SessionState) error {
		s.CurrentChat = "Chat 1"
		s.Duo.Outputs["gemini"] = "g"
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if st.Username != "alice" || st.CurrentChat != "Chat 1" || st.UpdatedAt.IsZero() {
		t.Fatalf("unexpected state: %#v", st)
	}

	// returned copies must not alias the stored value
	st.Duo.Outputs["gemini"] = "mutated"
	got, _ := state.get("alice")
	if got.Duo.Outputs["gemini"] != "g" {
		t.Fatalf("stored state mutated through copy")
	}

	boom := errors.New("boom")
	if _, err := state.update("alice", init, func(s *models.SessionState) error {
		s.CurrentChat = "Chat 9"
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	got, _ = state.get("alice")
	if got.CurrentChat != "Chat 1" {
		t.Fatalf("failed update leaked: %q", got.CurrentChat)
	}

	state.drop("alice")
	if state.len() != 0 {
		t.Fatalf("drop did not clear state")
	}
}

func TestManagerStateDefaultsAndReset(t *testing.T) {
	manager := NewManager(DispatcherConfig{MinWorkers: 1, MaxWorkers: 2, QueueSize: 4}, "gemini", nil)
	defer manager.Close()

	st := manager.State("bob")
	if st.Mode != "gemini" || st.Style != models.StyleProfessional || st.CurrentChat != "" {
		t.Fatalf("unexpected default state: %#v", st)
	}
	if _, err := manager.UpdateState("bob", func(s *models.SessionState) error {
		s.Mode = "openai"
		s.Mail.Signature = "Bob"
		return nil
	}); err != nil {
		t.Fatalf("update state: %v", err)
	}
	if got := manager.State("bob"); got.Mode != "openai" || got.Mail.Signature != "Bob" {
		t.Fatalf("update not visible: %#v", got)
	}

	manager.ResetUser("bob")
	if got := manager.State("bob"); got.Mode != "gemini" || got.Mail.Signature != "" {
		t.Fatalf("reset did not restore defaults: %#v", got)
	}
}

func TestManagerRunExecutesJob(t *testing.T) {
	manager := NewManager(DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4}, "gemini", nil)
	defer manager.Close()

	var ran bool
	if err := manager.Run(context.Background(), "carol", func(ctx context.Context) {
		ran = true
	}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !ran {
		t.Fatalf("job did not run before Run returned")
	}
}

func TestDispatcherRoundRobinsUsers(t *testing.T) {
	d := &Dispatcher{
		pool:      newJobChannelPool(1, 1, time.Minute),
		queues:    make(map[string]*userQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
	}
	defer d.pool.close()

	var mu sync.Mutex
	var order []string
	job := func(user, name string) Job {
		return newJob(context.Background(), user, func(context.Context) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		})
	}
	jobs := []Job{job("alice", "a1"), job("alice", "a2"), job("alice", "a3"), job("bob", "b1")}
	for _, j := range jobs {
		d.enqueueJob(j)
	}
	for d.dispatchOne() {
	}
	for _, j := range jobs {
		<-j.done
	}
	want := []string{"a1", "b1", "a2", "a3"}
	mu.Lock()
	defer mu.Unlock()
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("unexpected order %v, want %v", order, want)
		}
	}
}

func TestDispatcherBusy(t *testing.T) {
	// no run loop: nothing drains the queue
	d := &Dispatcher{JobQueue: make(chan Job, 1)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Submit(ctx, "alice", func(context.Context) {})
	}()
	waitFor(t, func() bool { return len(d.JobQueue) == 1 })

	if err := d.Submit(context.Background(), "bob", func(context.Context) {}); !errors.Is(err, ErrDispatcherBusy) {
		t.Fatalf("expected ErrDispatcherBusy, got %v", err)
	}
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected queued submit to observe cancel, got %v", err)
	}
}

func TestDispatcherSkipsCancelledJobs(t *testing.T) {
	d := NewDispatcher(1, 1, 4, time.Minute)
	defer d.Close()

	started := make(chan struct{})
	gate := make(chan struct{})
	go d.Submit(context.Background(), "alice", func(context.Context) {
		close(started)
		<-gate
	})
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	ran := make(chan struct{}, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Submit(ctx, "alice", func(context.Context) { ran <- struct{}{} })
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	close(gate)

	// a follow-up job proves the cancelled one was dequeued without running
	if err := d.Submit(context.Background(), "alice", func(context.Context) {}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case <-ran:
		t.Fatalf("cancelled job ran")
	default:
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}
