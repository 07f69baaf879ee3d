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
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"gitlab.com/elixxir/blocking-renderer/renderer"
	"gitlab.com/elixxir/blocking-renderer/worker"
)

// fakeHandle is a renderer.Handle that wraps the code in a tag named after the
// language. Renders block while block is non-nil and open; Stop blocks while
// stopBlock is non-nil and open.
type fakeHandle struct {
	block     chan struct{}
	stopBlock chan struct{}
	renders   atomic.Int32
	stops     atomic.Int32
}

func (h *fakeHandle) Render(ctx context.Context, lang, code string) (string, error) {
	h.renders.Add(1)
	if h.block != nil {
		select {
		case <-h.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return fmt.Sprintf("<%s>%s</%s>", lang, code, lang), nil
}

func (h *fakeHandle) Stop(ctx context.Context) error {
	h.stops.Add(1)
	if h.stopBlock != nil {
		select {
		case <-h.stopBlock:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (h *fakeHandle) start(context.Context) (renderer.Handle, error) {
	return h, nil
}

// testWorker is a render worker running on a ThreadManager with the main
// thread's ends of its control and dedicated channels.
type testWorker struct {
	*Worker
	control   *worker.MessagePort
	dedicated *worker.MessagePort
	wake      *worker.WakeCell
	errs      chan error
}

// newTestWorker starts a render worker with the fake handle and completes the
// handshake.
func newTestWorker(t *testing.T, h *fakeHandle, p Params) *testWorker {
	tw := newUnboundTestWorker(t, h.start, p)
	tw.dedicated, tw.wake = tw.handshake(t)
	return tw
}

// newUnboundTestWorker starts a render worker without sending a handshake.
func newUnboundTestWorker(
	t *testing.T, start renderer.StartFunc, p Params) *testWorker {
	errs := make(chan error, 10)
	p.Name = t.Name()
	p.MessageLogging = true
	p.OnError = func(err error) { errs <- err }

	mc := worker.NewMessageChannel(t.Name() + "/control")
	tm := worker.NewThreadManager(mc.Port2(), t.Name(), true)
	t.Cleanup(func() { tm.Exit(1) })

	w, err := New(tm, start, p)
	require.NoError(t, err)

	return &testWorker{Worker: w, control: mc.Port1(), errs: errs}
}

// handshake sends a handshake with a new dedicated channel and wake cell and
// returns the main thread's end of them.
func (tw *testWorker) handshake(
	t *testing.T) (*worker.MessagePort, *worker.WakeCell) {
	mc := worker.NewMessageChannel(t.Name() + "/dedicated")
	hm := HandshakeMessage{Port: mc.Port2(), Wake: worker.NewWakeCell()}
	tw.send(t, tw.control, HandshakeTag, nil, hm.Transfer())
	return mc.Port1(), hm.Wake
}

func (tw *testWorker) send(t *testing.T, port *worker.MessagePort, tag worker.Tag,
	data []byte, transfer *worker.Transfer) {
	payload, err := worker.EncodeMessage(tag, 0, data)
	require.NoError(t, err)
	require.NoError(t, port.PostMessageTransfer(payload, transfer))
}

func (tw *testWorker) render(t *testing.T, port *worker.MessagePort, lang, code string) {
	data, err := json.Marshal(RenderMessage{Lang: lang, Code: code})
	require.NoError(t, err)
	tw.send(t, port, RenderTag, data, nil)
}

// await blocks on the wake cell and then reads the result, which must already
// be on the port.
func await(t *testing.T, port *worker.MessagePort, wake *worker.WakeCell) string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := wake.Wait(ctx); err != nil {
		t.Fatalf("Timed out waiting for wake: %+v", err)
	}
	e, ok := port.TryReadMessage()
	if !ok {
		t.Fatal("Woken before the result was posted.")
	}
	return string(e.Data())
}

func waitExit(t *testing.T, tm *worker.ThreadManager) int {
	select {
	case <-tm.Done():
		return tm.ExitCode()
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for worker to exit.")
	}
	return -1
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("Timed out waiting for %s.", desc)
		case <-time.After(time.Millisecond):
		}
	}
}

// Tests that a render posts exactly one result on the dedicated channel and
// notifies the wake cell exactly once, after the result is posted.
func TestWorker_Render(t *testing.T) {
	tw := newTestWorker(t, &fakeHandle{}, DefaultParams())

	tw.render(t, tw.dedicated, "js", "let x = 1")
	html := await(t, tw.dedicated, tw.wake)
	if expected := "<js>let x = 1</js>"; html != expected {
		t.Errorf("Unexpected HTML.\nexpected: %s\nreceived: %s", expected, html)
	}

	// No second result or signal
	time.Sleep(10 * time.Millisecond)
	if _, ok := tw.dedicated.TryReadMessage(); ok {
		t.Error("More than one result posted.")
	}
	if tw.wake.Load() != 0 {
		t.Error("More than one notify.")
	}

	waitFor(t, "render metrics", func() bool {
		return testutil.ToFloat64(
			tw.metrics.renders.WithLabelValues("js", resultOK)) == 1 &&
			testutil.ToFloat64(tw.metrics.inFlight) == 0
	})
}

// Tests that the result is posted before the wake cell is notified when no
// thread is waiting, so that the latched signal always finds a result.
func TestWorker_Render_PostBeforeNotify(t *testing.T) {
	tw := newTestWorker(t, &fakeHandle{}, DefaultParams())

	tw.render(t, tw.dedicated, "go", "package main")
	waitFor(t, "latched wake", func() bool { return tw.wake.Load() == 1 })
	if _, ok := tw.dedicated.TryReadMessage(); !ok {
		t.Error("Wake latched before result was posted.")
	}
}

// Tests that a render received before the handshake completes once the
// handshake arrives.
func TestWorker_RenderBeforeHandshake(t *testing.T) {
	tw := newUnboundTestWorker(t, (&fakeHandle{}).start, DefaultParams())

	tw.render(t, tw.control, "py", "print(1)")
	time.Sleep(10 * time.Millisecond)

	port, wake := tw.handshake(t)
	if html := await(t, port, wake); html != "<py>print(1)</py>" {
		t.Errorf("Unexpected HTML.\nexpected: %s\nreceived: %s",
			"<py>print(1)</py>", html)
	}
}

// Tests that a render received before the renderer has started completes once
// it has.
func TestWorker_RenderBeforeStart(t *testing.T) {
	h := &fakeHandle{}
	release := make(chan struct{})
	start := func(ctx context.Context) (renderer.Handle, error) {
		<-release
		return h, nil
	}
	tw := newUnboundTestWorker(t, start, DefaultParams())
	port, wake := tw.handshake(t)

	tw.render(t, port, "c", "int x;")
	time.Sleep(10 * time.Millisecond)
	require.Zero(t, h.renders.Load())
	close(release)

	require.Equal(t, "<c>int x;</c>", await(t, port, wake))
}

// Tests that a repeated handshake replaces the dedicated channel and wake cell
// so that later results are posted to the new ones.
func TestWorker_RepeatedHandshake(t *testing.T) {
	tw := newTestWorker(t, &fakeHandle{}, DefaultParams())

	port, wake := tw.handshake(t)
	waitFor(t, "replaced handshake", func() bool {
		hm, _ := tw.shared.Await(context.Background())
		return hm.Wake == wake
	})

	tw.render(t, port, "js", "a")
	require.Equal(t, "<js>a</js>", await(t, port, wake))

	if _, ok := tw.dedicated.TryReadMessage(); ok {
		t.Error("Result posted on the replaced channel.")
	}
}

// Tests that concurrent renders each post their own result.
func TestWorker_ConcurrentRenders(t *testing.T) {
	h := &fakeHandle{block: make(chan struct{})}
	tw := newTestWorker(t, h, DefaultParams())

	tw.render(t, tw.dedicated, "a", "1")
	tw.render(t, tw.dedicated, "b", "2")
	waitFor(t, "both renders to start", func() bool {
		return h.renders.Load() == 2
	})
	require.Equal(t, 2., testutil.ToFloat64(tw.metrics.inFlight))
	close(h.block)

	results := map[string]bool{}
	for i := 0; i < 2; i++ {
		results[await(t, tw.dedicated, tw.wake)] = true
	}
	for _, expected := range []string{"<a>1</a>", "<b>2</b>"} {
		if !results[expected] {
			t.Errorf("Missing result %s in %v", expected, results)
		}
	}
}

// Tests that repeated shutdowns stop the renderer once and exit the worker
// with status 0, after which no message is processed.
func TestWorker_Shutdown(t *testing.T) {
	h := &fakeHandle{}
	tw := newTestWorker(t, h, DefaultParams())

	for i := 0; i < 3; i++ {
		tw.send(t, tw.control, ShutdownTag, nil, nil)
	}

	if code := waitExit(t, tw.tm); code != 0 {
		t.Errorf("Unexpected exit code.\nexpected: %d\nreceived: %d", 0, code)
	}
	if n := h.stops.Load(); n != 1 {
		t.Errorf("Unexpected stop count.\nexpected: %d\nreceived: %d", 1, n)
	}
	require.True(t, tw.ShuttingDown())

	// The worker's ports are closed
	if err := tw.dedicated.PostMessage(nil); !errors.Is(err, worker.ErrPortClosed) {
		t.Errorf("Dedicated channel open after exit: %v", err)
	}
	require.Zero(t, h.renders.Load())
}

// Tests that shutdown waits for an in-flight render to post its result before
// stopping the renderer.
func TestWorker_Shutdown_Drain(t *testing.T) {
	h := &fakeHandle{block: make(chan struct{})}
	tw := newTestWorker(t, h, DefaultParams())

	tw.render(t, tw.dedicated, "js", "x")
	waitFor(t, "render to start", func() bool { return h.renders.Load() == 1 })
	tw.send(t, tw.control, ShutdownTag, nil, nil)

	time.Sleep(10 * time.Millisecond)
	require.Zero(t, h.stops.Load(), "renderer stopped during drain")
	close(h.block)

	require.Equal(t, "<js>x</js>", await(t, tw.dedicated, tw.wake))
	require.Equal(t, 0, waitExit(t, tw.tm))
	require.EqualValues(t, 1, h.stops.Load())
}

// Tests that a zero drain timeout abandons in-flight renders.
func TestWorker_Shutdown_NoDrain(t *testing.T) {
	h := &fakeHandle{block: make(chan struct{})}
	p := DefaultParams()
	p.ShutdownDrainTimeout = 0
	tw := newTestWorker(t, h, p)

	tw.render(t, tw.dedicated, "js", "x")
	waitFor(t, "render to start", func() bool { return h.renders.Load() == 1 })
	tw.send(t, tw.control, ShutdownTag, nil, nil)

	require.Equal(t, 0, waitExit(t, tw.tm))
	if _, ok := tw.dedicated.TryReadMessage(); ok {
		t.Error("Abandoned render posted a result.")
	}
}

// Tests that a render received while shutting down is dropped.
func TestWorker_RenderDuringShutdown(t *testing.T) {
	h := &fakeHandle{stopBlock: make(chan struct{})}
	tw := newTestWorker(t, h, DefaultParams())

	tw.send(t, tw.control, ShutdownTag, nil, nil)
	waitFor(t, "renderer stop", func() bool { return h.stops.Load() == 1 })

	tw.render(t, tw.dedicated, "js", "late")
	waitFor(t, "dropped render", func() bool {
		return testutil.ToFloat64(
			tw.metrics.renders.WithLabelValues("js", resultDropped)) == 1
	})
	close(h.stopBlock)

	require.Equal(t, 0, waitExit(t, tw.tm))
	require.Zero(t, h.renders.Load())
	if _, ok := tw.dedicated.TryReadMessage(); ok {
		t.Error("Dropped render posted a result.")
	}
}

// Error path: Tests that unknown tags and malformed handshakes are reported as
// protocol errors without stopping the worker.
func TestWorker_ProtocolErrors(t *testing.T) {
	tw := newTestWorker(t, &fakeHandle{}, DefaultParams())

	tw.send(t, tw.control, "Bogus", nil, nil)
	tw.send(t, tw.control, HandshakeTag, nil, nil)
	// Shutdown is not accepted on the dedicated channel
	tw.send(t, tw.dedicated, ShutdownTag, nil, nil)

	for i := 0; i < 3; i++ {
		select {
		case err := <-tw.errs:
			if !errors.Is(err, worker.ErrUnrecognizedMessage) {
				t.Errorf("Unexpected error %d.\nexpected: %v\nreceived: %+v",
					i, worker.ErrUnrecognizedMessage, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Timed out waiting for error %d.", i)
		}
	}
	require.Equal(t, 3., testutil.ToFloat64(tw.metrics.protocolErrors))
	require.False(t, tw.ShuttingDown())

	// The worker still renders
	tw.render(t, tw.dedicated, "js", "ok")
	require.Equal(t, "<js>ok</js>", await(t, tw.dedicated, tw.wake))
}

// Error path: Tests that a renderer that fails to start fails every render and
// causes shutdown to exit with status 1.
func TestWorker_StartFailure(t *testing.T) {
	startErr := errors.New("no engine")
	tw := newUnboundTestWorker(t, func(context.Context) (renderer.Handle, error) {
		return nil, startErr
	}, DefaultParams())
	port, wake := tw.handshake(t)

	tw.render(t, port, "js", "x")
	deadline := time.After(2 * time.Second)
	var renderErrs int
	for found := 0; found < 2; {
		select {
		case err := <-tw.errs:
			if !errors.Is(err, startErr) {
				t.Errorf("Unexpected error.\nexpected: %v\nreceived: %+v",
					startErr, err)
			}
			var re *RenderError
			if errors.As(err, &re) {
				renderErrs++
				require.Equal(t, "js", re.Lang)
			}
			found++
		case <-deadline:
			t.Fatal("Timed out waiting for start and render errors.")
		}
	}
	if renderErrs != 1 {
		t.Errorf("Unexpected number of render errors.\nexpected: %d"+
			"\nreceived: %d", 1, renderErrs)
	}
	require.Zero(t, wake.Load())

	tw.send(t, tw.control, ShutdownTag, nil, nil)
	require.Equal(t, 1, waitExit(t, tw.tm))
}

// Tests that the worker's metrics are registered on the given registerer.
func TestNew_Registerer(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := DefaultParams()
	p.Registerer = reg
	tw := newTestWorker(t, &fakeHandle{}, p)

	tw.render(t, tw.dedicated, "js", "x")
	await(t, tw.dedicated, tw.wake)

	waitFor(t, "render metrics", func() bool {
		n, err := testutil.GatherAndCount(
			reg, metricsNamespace+"_renders_total")
		return err == nil && n == 1
	})

	// Registering the same collectors twice fails
	mc := worker.NewMessageChannel("second")
	tm := worker.NewThreadManager(mc.Port2(), "second", false)
	defer tm.Exit(0)
	if _, err := New(tm, (&fakeHandle{}).start, p); err == nil {
		t.Error("Registered duplicate metrics.")
	}
}

// Tests that NewWorkerFunc spawns a worker that signals ready through a
// worker.Manager.
func TestNewWorkerFunc(t *testing.T) {
	m, err := worker.NewManager(NewWorkerFunc((&fakeHandle{}).start,
		DefaultParams()), "test", worker.Params{ResponseTimeout: time.Second})
	require.NoError(t, err)
	require.NoError(t, m.SendMessage(ShutdownTag, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	code, err := m.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, code)
}
