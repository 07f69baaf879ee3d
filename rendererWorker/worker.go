////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package rendererWorker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elixxir/blocking-renderer/renderer"
	"gitlab.com/elixxir/blocking-renderer/utils"
	"gitlab.com/elixxir/blocking-renderer/worker"
)

// renderPreviewLen is the number of characters of source code printed in
// render log lines.
const renderPreviewLen = 20

// Worker handles the messages sent to a render worker. It starts the renderer
// once, binds the dedicated channel and wake cell on handshake, renders each
// request, and stops the renderer and exits on the first shutdown.
type Worker struct {
	tm *worker.ThreadManager

	// handle resolves once the renderer has started.
	handle *utils.Future[renderer.Handle]

	// shared resolves once the first handshake arrives. Later handshakes
	// replace its value.
	shared *utils.Future[*HandshakeMessage]

	// shuttingDown is set by the first shutdown and never reset.
	shuttingDown bool

	// pending tracks renders that have not finished; inFlight is its count.
	pending  sync.WaitGroup
	inFlight int

	// ctx is cancelled once the worker exits.
	ctx    context.Context
	cancel context.CancelFunc

	metrics *metrics
	p       Params
	mux     sync.Mutex
}

// NewWorkerFunc returns the body of a render worker that renders with the
// engine started by start. It is passed to worker.NewManager to spawn the
// worker.
func NewWorkerFunc(start renderer.StartFunc, p Params) worker.WorkerFunc {
	return func(tm *worker.ThreadManager) {
		if _, err := New(tm, start, p); err != nil {
			jww.ERROR.Printf("[WW] [%s] Failed to initialise render worker: %+v",
				tm.Name(), err)
			tm.Exit(1)
			return
		}
		tm.SignalReady()
	}
}

// New registers the render worker's callbacks on the ThreadManager and starts
// the renderer in the background. Messages are accepted before the renderer
// has finished starting.
func New(tm *worker.ThreadManager, start renderer.StartFunc, p Params) (*Worker, error) {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		tm:      tm,
		handle:  utils.NewFuture[renderer.Handle](),
		shared:  utils.NewFuture[*HandshakeMessage](),
		ctx:     ctx,
		cancel:  cancel,
		metrics: newMetrics(),
		p:       p,
	}

	if err := w.metrics.register(p.Registerer); err != nil {
		cancel()
		return nil, err
	}

	tm.RegisterCallback(HandshakeTag, w.onHandshake)
	tm.RegisterCallback(RenderTag, w.onRender)
	tm.RegisterCallback(ShutdownTag, w.onShutdown)
	tm.RegisterErrorCallback(w.onError)

	go func() {
		<-tm.Done()
		cancel()
	}()

	go w.startRenderer(start)

	return w, nil
}

// startRenderer starts the renderer and resolves the handle future.
func (w *Worker) startRenderer(start renderer.StartFunc) {
	jww.INFO.Printf("[WW] [%s] Starting renderer.", w.tm.Name())
	startTime := time.Now()

	h, err := start(w.ctx)
	if err != nil {
		w.handle.Reject(errors.Wrap(err, "failed to start renderer"))
		w.tm.ReportError(errors.Wrap(err, "failed to start renderer"))
		return
	}

	// The worker exited while the renderer was starting; nothing will ever
	// stop it otherwise
	if w.ctx.Err() != nil {
		if err = h.Stop(context.Background()); err != nil {
			jww.WARN.Printf("[WW] [%s] Failed to stop renderer started after "+
				"exit: %+v", w.tm.Name(), err)
		}
		w.handle.Reject(w.ctx.Err())
		return
	}

	jww.INFO.Printf("[WW] [%s] Renderer started in %s.",
		w.tm.Name(), time.Since(startTime))
	w.handle.Resolve(h)
}

// onError is called by the ThreadManager with every protocol violation and
// every error reported by a render or shutdown.
func (w *Worker) onError(err error) {
	if errors.Is(err, worker.ErrUnrecognizedMessage) {
		w.metrics.protocolErrors.Inc()
	}
	if w.p.OnError != nil {
		w.p.OnError(err)
	}
}

// onHandshake stores the dedicated port and wake cell and starts receiving
// render requests on the dedicated port. A repeated handshake replaces the
// previous port and wake cell.
func (w *Worker) onHandshake(_ []byte, transfer *worker.Transfer) error {
	hm, err := handshakeFromTransfer(transfer)
	if err != nil {
		return errors.Wrapf(worker.ErrUnrecognizedMessage,
			"invalid handshake: %s", err)
	}

	if w.shared.Replace(hm) {
		jww.WARN.Printf("[WW] [%s] Received a repeated handshake; replacing "+
			"the dedicated channel and wake cell.", w.tm.Name())
	}

	err = w.tm.ListenPort(DedicatedChannel, hm.Port, RenderTag)
	if err != nil {
		return errors.Wrap(err, "failed to listen on dedicated channel")
	}

	jww.INFO.Printf("[WW] [%s] Handshake complete on port %q.",
		w.tm.Name(), hm.Port.Name())

	return nil
}

// onRender starts rendering the request in the background so that other
// messages keep being handled while it runs.
func (w *Worker) onRender(data []byte, _ *worker.Transfer) error {
	var msg RenderMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return errors.Wrapf(err, "failed to unmarshal %T", msg)
	}

	w.mux.Lock()
	if w.shuttingDown {
		w.mux.Unlock()
		w.metrics.renders.WithLabelValues(msg.Lang, resultDropped).Inc()
		jww.WARN.Printf("[WW] [%s] Dropping render of %q received during "+
			"shutdown.", w.tm.Name(), utils.Head(msg.Code, renderPreviewLen))
		return nil
	}
	w.pending.Add(1)
	w.inFlight++
	w.mux.Unlock()

	w.metrics.inFlight.Inc()
	go w.render(msg)

	return nil
}

// render renders the request, posts the HTML on the dedicated channel, and
// notifies the wake cell. Failures are reported and produce no result.
func (w *Worker) render(msg RenderMessage) {
	defer func() {
		w.mux.Lock()
		w.inFlight--
		w.mux.Unlock()
		w.metrics.inFlight.Dec()
		w.pending.Done()
	}()

	label := fmt.Sprintf("%s %q", utils.Fingerprint(msg.Lang, msg.Code),
		utils.Head(msg.Code, renderPreviewLen))
	jww.INFO.Printf("[WW] [%s] Rendering %s", w.tm.Name(), label)
	start := time.Now()

	if err := w.renderAndPost(msg); err != nil {
		w.metrics.renders.WithLabelValues(msg.Lang, resultError).Inc()
		w.tm.ReportError(&RenderError{Lang: msg.Lang, Label: label, Err: err})
		return
	}

	elapsed := time.Since(start)
	w.metrics.renders.WithLabelValues(msg.Lang, resultOK).Inc()
	w.metrics.renderDuration.Observe(elapsed.Seconds())
	jww.INFO.Printf("[WW] [%s] Rendered %s in %s", w.tm.Name(), label, elapsed)
}

// renderAndPost waits for the renderer, renders, waits for the handshake, then
// posts the HTML before notifying the wake cell.
func (w *Worker) renderAndPost(msg RenderMessage) error {
	handle, err := w.handle.Await(w.ctx)
	if err != nil {
		return errors.Wrap(err, "renderer is unavailable")
	}

	html, err := handle.Render(w.ctx, msg.Lang, msg.Code)
	if err != nil {
		return err
	}

	shared, err := w.shared.Await(w.ctx)
	if err != nil {
		return errors.Wrap(err, "no handshake received")
	}

	if err = shared.Port.PostMessage([]byte(html)); err != nil {
		return errors.Wrap(err, "failed to post rendered HTML")
	}
	shared.Wake.Notify()

	return nil
}

// onShutdown starts shutting down the worker. Only the first shutdown has an
// effect.
func (w *Worker) onShutdown([]byte, *worker.Transfer) error {
	w.mux.Lock()
	if w.shuttingDown {
		w.mux.Unlock()
		jww.DEBUG.Printf("[WW] [%s] Ignoring repeated shutdown.", w.tm.Name())
		return nil
	}
	w.shuttingDown = true
	w.mux.Unlock()

	jww.INFO.Printf("[WW] [%s] Shutting down.", w.tm.Name())
	go w.shutdown()

	return nil
}

// shutdown drains in-flight renders, stops the renderer, and exits the worker
// with status 0. The worker exits with status 1 if the renderer cannot be
// stopped.
func (w *Worker) shutdown() {
	w.drain()

	handle, err := w.handle.Await(w.ctx)
	if err != nil {
		w.tm.ReportError(errors.Wrap(err, "cannot stop renderer"))
		w.tm.Exit(1)
		return
	}

	if err = handle.Stop(w.ctx); err != nil {
		w.tm.ReportError(errors.Wrap(err, "failed to stop renderer"))
		w.tm.Exit(1)
		return
	}

	w.tm.Exit(0)
}

// drain waits up to Params.ShutdownDrainTimeout for in-flight renders to
// finish. No render can start once shutdown has begun.
func (w *Worker) drain() {
	w.mux.Lock()
	n := w.inFlight
	w.mux.Unlock()
	if n == 0 {
		return
	}

	timeout := w.p.ShutdownDrainTimeout
	if timeout <= 0 {
		jww.WARN.Printf("[WW] [%s] Abandoning %d in-flight renders.",
			w.tm.Name(), n)
		return
	}

	jww.INFO.Printf("[WW] [%s] Waiting up to %s for %d in-flight renders.",
		w.tm.Name(), timeout, n)

	done := make(chan struct{})
	go func() {
		w.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		w.mux.Lock()
		n = w.inFlight
		w.mux.Unlock()
		jww.WARN.Printf("[WW] [%s] Timed out after %s; abandoning %d "+
			"in-flight renders.", w.tm.Name(), timeout, n)
	}
}

// ShuttingDown returns true once a shutdown has been received.
func (w *Worker) ShuttingDown() bool {
	w.mux.Lock()
	defer w.mux.Unlock()
	return w.shuttingDown
}
