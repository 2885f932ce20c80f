// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"sort"
	"sync"

	"github.com/ManuGH/nvrview/internal/playback"
)

// Subscriber receives the outputs of every session.
type Subscriber interface {
	OnMediaHandle(h SessionHandle, media playback.Handle)
	OnStatus(h SessionHandle, status playback.Status)
	OnTerminalError(h SessionHandle, err error)
}

// SubscriberFuncs adapts plain functions to Subscriber. Nil fields are skipped.
type SubscriberFuncs struct {
	MediaHandle   func(SessionHandle, playback.Handle)
	Status        func(SessionHandle, playback.Status)
	TerminalError func(SessionHandle, error)
}

func (f SubscriberFuncs) OnMediaHandle(h SessionHandle, media playback.Handle) {
	if f.MediaHandle != nil {
		f.MediaHandle(h, media)
	}
}

func (f SubscriberFuncs) OnStatus(h SessionHandle, status playback.Status) {
	if f.Status != nil {
		f.Status(h, status)
	}
}

func (f SubscriberFuncs) OnTerminalError(h SessionHandle, err error) {
	if f.TerminalError != nil {
		f.TerminalError(h, err)
	}
}

type subscribers struct {
	mu   sync.RWMutex
	next int
	subs map[int]Subscriber
}

func (s *subscribers) add(sub Subscriber) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[int]Subscriber)
	}
	id := s.next
	s.next++
	s.subs[id] = sub
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (s *subscribers) each(fn func(Subscriber)) {
	s.mu.RLock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	subs := make([]Subscriber, 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		subs = append(subs, s.subs[id])
	}
	s.mu.RUnlock()
	for _, sub := range subs {
		fn(sub)
	}
}

// sessionConsumer fans one controller's outputs out to the subscribers.
type sessionConsumer struct {
	handle SessionHandle
	subs   *subscribers
}

func (c *sessionConsumer) OnMediaHandle(media playback.Handle) {
	c.subs.each(func(s Subscriber) { s.OnMediaHandle(c.handle, media) })
}

func (c *sessionConsumer) OnStatus(status playback.Status) {
	c.subs.each(func(s Subscriber) { s.OnStatus(c.handle, status) })
}

func (c *sessionConsumer) OnTerminalError(err error) {
	c.subs.each(func(s Subscriber) { s.OnTerminalError(c.handle, err) })
}
