package service

import (
	"context"
	"fmt"
	"sync"

	"gowa-bridge/internal/model"
)

type fakeHandle struct {
	id     string
	events chan Event

	mu        sync.Mutex
	identity  *model.Identity
	startErr  error
	pingErr   error
	groupsErr error
	sendErr   error
	logoutErr error
	groups    []model.GroupSummary
	sendCalls int
	started   bool
	loggedOut bool
	closed    bool
}

func newFakeHandle(id string) *fakeHandle {
	return &fakeHandle{id: id, events: make(chan Event, 32)}
}

func (h *fakeHandle) ID() string           { return h.id }
func (h *fakeHandle) Events() <-chan Event { return h.events }

func (h *fakeHandle) emit(ev Event) { h.events <- ev }

func (h *fakeHandle) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = true
	return h.startErr
}

func (h *fakeHandle) Identity() *model.Identity {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.identity
}

func (h *fakeHandle) setIdentity(id *model.Identity) {
	h.mu.Lock()
	h.identity = id
	h.mu.Unlock()
}

func (h *fakeHandle) set(fn func(h *fakeHandle)) {
	h.mu.Lock()
	fn(h)
	h.mu.Unlock()
}

func (h *fakeHandle) Ping(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pingErr
}

func (h *fakeHandle) JoinedGroups(ctx context.Context) ([]model.GroupSummary, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.groups, h.groupsErr
}

func (h *fakeHandle) SendText(ctx context.Context, target, body string) (*model.SendResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sendCalls++
	if h.sendErr != nil {
		return nil, h.sendErr
	}
	return &model.SendResult{MessageID: "MSG1", Recipient: target}, nil
}

func (h *fakeHandle) Logout(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.loggedOut = true
	return h.logoutErr
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *fakeHandle) snapshot() (started, loggedOut, closed bool, sendCalls int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.started, h.loggedOut, h.closed, h.sendCalls
}

type fakeProvider struct {
	mu        sync.Mutex
	handles   []*fakeHandle
	newErr    error
	configure func(h *fakeHandle)
}

func (p *fakeProvider) NewHandle(ctx context.Context) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.newErr != nil {
		return nil, p.newErr
	}
	h := newFakeHandle(fmt.Sprintf("h%d", len(p.handles)+1))
	if p.configure != nil {
		p.configure(h)
	}
	p.handles = append(p.handles, h)
	return h, nil
}

func (p *fakeProvider) handle(i int) *fakeHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handles[i]
}

func (p *fakeProvider) last() *fakeHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handles[len(p.handles)-1]
}

func (p *fakeProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}
