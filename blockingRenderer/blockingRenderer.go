////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package blockingRenderer renders source code to HTML on a render worker
// while presenting a plain blocking call to the caller.
package blockingRenderer

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elixxir/blocking-renderer/renderer"
	"gitlab.com/elixxir/blocking-renderer/rendererWorker"
	"gitlab.com/elixxir/blocking-renderer/utils"
	"gitlab.com/elixxir/blocking-renderer/worker"
)

var (
	// ErrStopped is returned by Render after Stop has been called.
	ErrStopped = errors.New("blocking renderer has been stopped")

	// ErrOutstanding is returned by Render when an earlier render that timed
	// out has still not finished. No request is sent to the worker.
	ErrOutstanding = errors.New("a previous render is still outstanding")
)

// BlockingRenderer spawns a render worker and makes synchronous render calls
// to it. Calls are serialised: one render is outstanding at a time.
type BlockingRenderer struct {
	m *worker.Manager

	// port is the main thread's end of the dedicated channel.
	port *worker.MessagePort

	// wake is notified by the worker after each result is posted on port and
	// after each render failure is recorded in failures.
	wake *worker.WakeCell

	// timedOut is the number of renders that timed out and have neither
	// posted a result nor failed since.
	timedOut int

	// failures holds render failures reported by the worker that have not
	// been matched to a request yet.
	failures   []error
	failureMux sync.Mutex

	nextID  uint64
	stopped bool
	stopErr error

	p   Params
	mux sync.Mutex
}

// New spawns a render worker that renders with the engine started by start,
// then sends it the handshake carrying the dedicated channel and wake cell.
// Returns once the worker is ready to accept render requests.
func New(start renderer.StartFunc, p Params) (*BlockingRenderer, error) {
	br := &BlockingRenderer{
		wake: worker.NewWakeCell(),
		p:    p,
	}

	wp := p.Worker
	onError := wp.OnError
	wp.OnError = func(err error) {
		br.recordFailure(err)
		if onError != nil {
			onError(err)
		}
	}

	m, err := worker.NewManager(
		rendererWorker.NewWorkerFunc(start, wp), wp.Name,
		worker.Params{
			MessageLogging:  wp.MessageLogging,
			ResponseTimeout: p.ResponseTimeout,
		})
	if err != nil {
		return nil, errors.Wrap(err, "failed to spawn render worker")
	}
	br.m = m

	mc := worker.NewMessageChannel(wp.Name + "/dedicated")
	br.port = mc.Port1()

	hm := rendererWorker.HandshakeMessage{Port: mc.Port2(), Wake: br.wake}
	err = m.SendTransfer(rendererWorker.HandshakeTag, nil, hm.Transfer())
	if err != nil {
		m.Terminate()
		return nil, errors.Wrap(err, "failed to send handshake")
	}

	return br, nil
}

// Render sends the source code to the worker and blocks until its HTML is
// returned, the worker reports that the render failed, or
// Params.RenderTimeout elapses.
//
// If an earlier render timed out, Render first waits up to
// Params.RenderTimeout for it to finish and discards its result. If it still
// has not finished, ErrOutstanding is returned without sending the request.
func (br *BlockingRenderer) Render(lang, code string) (string, error) {
	br.mux.Lock()
	defer br.mux.Unlock()

	if br.stopped {
		return "", ErrStopped
	}

	if err := br.settle(); err != nil {
		return "", err
	}

	data, err := json.Marshal(rendererWorker.RenderMessage{Lang: lang, Code: code})
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal render request")
	}
	payload, err := worker.EncodeMessage(rendererWorker.RenderTag, br.nextID, data)
	if err != nil {
		return "", err
	}
	br.nextID++

	if err = br.port.PostMessage(payload); err != nil {
		return "", errors.Wrap(err, "failed to send render request")
	}

	ctx, cancel := context.WithTimeout(context.Background(), br.p.RenderTimeout)
	defer cancel()
	for {
		if err = br.wake.Wait(ctx); err != nil {
			br.timedOut++
			return "", errors.Wrapf(err, "timed out after %s waiting for %q "+
				"render of %s", br.p.RenderTimeout, lang, utils.Head(code, 20))
		}

		// The worker posts the result before notifying, so it must be here
		// unless the render failed
		if e, ok := br.port.TryReadMessage(); ok {
			return string(e.Data()), nil
		} else if err = br.takeFailure(); err != nil {
			return "", err
		}
	}
}

// settle waits for every render that timed out to either post its result or
// fail, discarding the outcome so that it is not mistaken for the result of
// the next request.
func (br *BlockingRenderer) settle() error {
	br.discardStale()
	if br.timedOut == 0 {
		br.wake.Clear()
		return nil
	}

	jww.WARN.Printf("[WW] [%s] Waiting up to %s for %d timed out renders to "+
		"finish.", br.m.Name(), br.p.RenderTimeout, br.timedOut)

	ctx, cancel := context.WithTimeout(context.Background(), br.p.RenderTimeout)
	defer cancel()
	for br.timedOut > 0 {
		if err := br.wake.Wait(ctx); err != nil {
			return errors.Wrapf(ErrOutstanding, "%d timed out renders have "+
				"not finished after %s", br.timedOut, br.p.RenderTimeout)
		}
		br.discardStale()
	}

	br.wake.Clear()
	return nil
}

// discardStale drops results and failures of renders that timed out.
func (br *BlockingRenderer) discardStale() {
	for {
		e, ok := br.port.TryReadMessage()
		if !ok {
			break
		}
		jww.WARN.Printf("[WW] [%s] Discarding late render result %s.",
			br.m.Name(), utils.Preview(e.Data()))
		br.settled()
	}

	for {
		err := br.takeFailure()
		if err == nil {
			break
		}
		jww.WARN.Printf("[WW] [%s] Discarding late render failure: %s",
			br.m.Name(), err)
		br.settled()
	}
}

// settled marks one timed out render as finished.
func (br *BlockingRenderer) settled() {
	if br.timedOut > 0 {
		br.timedOut--
	}
}

// recordFailure stores render failures reported by the worker and wakes the
// waiting caller. Other errors are ignored.
func (br *BlockingRenderer) recordFailure(err error) {
	var re *rendererWorker.RenderError
	if !errors.As(err, &re) {
		return
	}

	br.failureMux.Lock()
	br.failures = append(br.failures, re)
	br.failureMux.Unlock()
	br.wake.Notify()
}

// takeFailure removes and returns the oldest recorded render failure. Returns
// nil if there is none.
func (br *BlockingRenderer) takeFailure() error {
	br.failureMux.Lock()
	defer br.failureMux.Unlock()
	if len(br.failures) == 0 {
		return nil
	}
	err := br.failures[0]
	br.failures = br.failures[1:]
	return err
}

// Stop shuts down the worker and waits for it to exit. Calling Stop again
// returns the result of the first call.
func (br *BlockingRenderer) Stop() error {
	br.mux.Lock()
	defer br.mux.Unlock()

	if br.stopped {
		return br.stopErr
	}
	br.stopped = true
	br.stopErr = br.stop()
	br.port.Close()
	return br.stopErr
}

func (br *BlockingRenderer) stop() error {
	if err := br.m.SendMessage(rendererWorker.ShutdownTag, nil); err != nil {
		br.m.Terminate()
		return errors.Wrap(err, "failed to send shutdown")
	}

	ctx, cancel := context.WithTimeout(context.Background(), br.p.StopTimeout)
	defer cancel()
	code, err := br.m.Wait(ctx)
	if err != nil {
		br.m.Terminate()
		return err
	} else if code != 0 {
		return errors.Errorf("render worker exited with status %d", code)
	}

	return nil
}
