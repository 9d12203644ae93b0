package transport

import (
	"bytes"
	"context"
	"errors"
	"sync"
)

const pipeBuffer = 256

type pipe struct {
	done chan struct{}
	once sync.Once
	err  error
}

func (p *pipe) close(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// PipeEnd is one side of an in-memory channel.
type PipeEnd struct {
	p   *pipe
	in  <-chan []byte
	out chan<- []byte
}

// Pipe returns two connected ends. Frames sent on one are received on the
// other in order; closing either end closes both.
func Pipe() (*PipeEnd, *PipeEnd) {
	p := &pipe{done: make(chan struct{})}
	ab := make(chan []byte, pipeBuffer)
	ba := make(chan []byte, pipeBuffer)
	return &PipeEnd{p: p, in: ba, out: ab}, &PipeEnd{p: p, in: ab, out: ba}
}

func (e *PipeEnd) Send(ctx context.Context, msg []byte) error {
	select {
	case <-e.p.done:
		return e.p.err
	default:
	}
	select {
	case e.out <- bytes.Clone(msg):
		return nil
	case <-e.p.done:
		return e.p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *PipeEnd) Recv(ctx context.Context) ([]byte, error) {
	// frames sent before a close are still delivered
	select {
	case m := <-e.in:
		return m, nil
	default:
	}
	select {
	case m := <-e.in:
		return m, nil
	case <-e.p.done:
		select {
		case m := <-e.in:
			return m, nil
		default:
		}
		return nil, e.p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *PipeEnd) Close() error {
	e.p.close(ErrClosed)
	return nil
}

// CloseWith closes both ends, making the peer's Recv fail with a CloseError.
func (e *PipeEnd) CloseWith(code int, reason string) {
	e.p.close(&CloseError{Code: code, Reason: reason})
}

// Fail closes both ends with an arbitrary transport error.
func (e *PipeEnd) Fail(err error) {
	e.p.close(err)
}

func (e *PipeEnd) Done() <-chan struct{} { return e.p.done }

// FakeDialer hands out in-memory pipes. Each successful dial publishes the
// server end on Accepted. Queued errors are returned by the next dials first.
type FakeDialer struct {
	Accepted chan *PipeEnd

	mu    sync.Mutex
	errs  []error
	dials int
	block chan struct{}
}

func NewFakeDialer() *FakeDialer {
	return &FakeDialer{Accepted: make(chan *PipeEnd, 16)}
}

// FailNext makes the next dial return err.
func (d *FakeDialer) FailNext(err error) {
	d.mu.Lock()
	d.errs = append(d.errs, err)
	d.mu.Unlock()
}

// Hold makes dials block until Release or the dial context ends.
func (d *FakeDialer) Hold() {
	d.mu.Lock()
	d.block = make(chan struct{})
	d.mu.Unlock()
}

func (d *FakeDialer) Release() {
	d.mu.Lock()
	if d.block != nil {
		close(d.block)
		d.block = nil
	}
	d.mu.Unlock()
}

func (d *FakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *FakeDialer) Dial(ctx context.Context) (Channel, DialStats, error) {
	d.mu.Lock()
	d.dials++
	block := d.block
	var err error
	if len(d.errs) > 0 {
		err = d.errs[0]
		d.errs = d.errs[1:]
	}
	d.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, DialStats{}, ctx.Err()
		}
	}
	if err != nil {
		return nil, DialStats{}, err
	}
	client, server := Pipe()
	select {
	case d.Accepted <- server:
	default:
		return nil, DialStats{}, errors.New("fake dialer: too many unaccepted connections")
	}
	return client, DialStats{}, nil
}
