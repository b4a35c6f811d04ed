package integration_test

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"telxfwd/internal/models"
	"telxfwd/internal/session"
)

// Delivery is one message a fake platform received.
type Delivery struct {
	AccountID int64
	Target    string
	Content   string
	Source    string
	Ref       string
	Forwarded bool
}

// FakePlatform is an in-memory connector whose sessions record every call.
// Failures queued with FailNext are returned by the next dispatches.
type FakePlatform struct {
	platform models.Platform

	mu         sync.Mutex
	deliveries []Delivery
	failures   []error
	connects   int
	nextID     int
}

func NewFakePlatform(platform models.Platform) *FakePlatform {
	return &FakePlatform{platform: platform}
}

func (p *FakePlatform) Connect(ctx context.Context, account *models.LinkedAccount) (session.MessagingSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connects++
	return &fakeSession{platform: p, accountID: account.ID}, nil
}

// FailNext makes the next len(errs) dispatches fail in order.
func (p *FakePlatform) FailNext(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = append(p.failures, errs...)
}

func (p *FakePlatform) Deliveries() []Delivery {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Delivery(nil), p.deliveries...)
}

func (p *FakePlatform) Connects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connects
}

func (p *FakePlatform) record(d Delivery) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.failures) > 0 {
		err := p.failures[0]
		p.failures = p.failures[1:]
		return "", err
	}
	p.nextID++
	p.deliveries = append(p.deliveries, d)
	return fmt.Sprintf("%s-%d", p.platform, p.nextID), nil
}

type fakeSession struct {
	platform  *FakePlatform
	accountID int64
	closed    bool
}

func (s *fakeSession) Platform() models.Platform {
	return s.platform.platform
}

func (s *fakeSession) Send(ctx context.Context, target, content string) (string, error) {
	return s.platform.record(Delivery{AccountID: s.accountID, Target: target, Content: content})
}

func (s *fakeSession) Forward(ctx context.Context, source, dest, ref string) (string, error) {
	return s.platform.record(Delivery{AccountID: s.accountID, Target: dest, Source: source, Ref: ref, Forwarded: true})
}

func (s *fakeSession) IsAlive(ctx context.Context) error {
	if s.closed {
		return errors.New("session closed")
	}
	return nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}
