package api

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FollowerConfig holds configuration for a stream follower
type FollowerConfig struct {
	Book          string
	SessionAlias  string
	Direction     string
	MaxPollCount  int           // Max messages per poll
	PollInterval  time.Duration // Wait between empty polls
	StartSequence int64         // Messages after this sequence are delivered first; -1 reads from the start
}

// Follower reads one message stream in sequence order, remembering the
// last delivered sequence between polls.
type Follower struct {
	client *Client
	config FollowerConfig

	mu      sync.Mutex
	last    int64
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewFollower creates a follower positioned after cfg.StartSequence
func NewFollower(client *Client, cfg FollowerConfig) *Follower {
	if cfg.MaxPollCount <= 0 {
		cfg.MaxPollCount = 500
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	return &Follower{client: client, config: cfg, last: cfg.StartSequence}
}

// LastSequence is the sequence of the last delivered message
func (f *Follower) LastSequence() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// Poll fetches the messages written after the last delivered one
func (f *Follower) Poll(ctx context.Context) ([]Message, error) {
	after := f.LastSequence()
	resp, err := f.client.Messages(ctx, f.config.Book, MessageQuery{
		SessionAlias:  f.config.SessionAlias,
		Direction:     f.config.Direction,
		AfterSequence: &after,
		Limit:         f.config.MaxPollCount,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("poll error: %s", resp.Errors[0])
	}
	if n := len(resp.Messages); n > 0 {
		f.mu.Lock()
		f.last = resp.Messages[n-1].Sequence
		f.mu.Unlock()
	}
	return resp.Messages, nil
}

// Start polls in the background and passes every non-empty result to
// handler until Stop is called or ctx is done. Poll errors are passed to
// onError and retried after the poll interval.
func (f *Follower) Start(ctx context.Context, handler func([]Message) error, onError func(error)) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return fmt.Errorf("follower is already running")
	}
	f.running = true
	f.stop = make(chan struct{})
	f.done = make(chan struct{})
	f.mu.Unlock()

	go f.followLoop(ctx, handler, onError)
	return nil
}

func (f *Follower) followLoop(ctx context.Context, handler func([]Message) error, onError func(error)) {
	defer close(f.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stop:
			return
		default:
		}
		messages, err := f.Poll(ctx)
		if err == nil && len(messages) > 0 {
			err = handler(messages)
		}
		if err != nil && onError != nil && ctx.Err() == nil {
			onError(err)
		}
		if err == nil && len(messages) > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-f.stop:
			return
		case <-time.After(f.config.PollInterval):
		}
	}
}

// Stop ends the background loop and waits for it to exit
func (f *Follower) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.running = false
	close(f.stop)
	done := f.done
	f.mu.Unlock()
	<-done
}
