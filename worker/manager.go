////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package worker

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elixxir/blocking-renderer/utils"
)

// WorkerFunc is the body of a worker. It is called on a new goroutine with the
// ThreadManager bound to the worker's end of the control channel. It must
// register its callbacks and then call ThreadManager.SignalReady; it may
// return immediately afterwards.
type WorkerFunc func(tm *ThreadManager)

// Manager spawns a worker and manages the sending of messages to it over the
// control channel.
type Manager struct {
	// port is the main thread's end of the control channel.
	port *MessagePort

	// tm is the worker's ThreadManager. The Manager only uses it to observe
	// when the worker exits.
	tm *ThreadManager

	// nextID is the ID assigned to the next message sent.
	nextID uint64

	// name describes the worker. It is used for debugging and logging purposes.
	name string

	Params

	mux sync.Mutex
}

// NewManager spawns a new worker running fn and returns its Manager. This
// function only returns once the worker has signalled that it is ready or
// Params.ResponseTimeout elapses.
func NewManager(fn WorkerFunc, name string, p Params) (*Manager, error) {
	mc := NewMessageChannel(name + "/control")
	m := &Manager{
		port:   mc.Port1(),
		tm:     NewThreadManager(mc.Port2(), name, p.MessageLogging),
		name:   name,
		Params: p,
	}

	go fn(m.tm)

	ctx, cancel := context.WithTimeout(context.Background(), p.ResponseTimeout)
	defer cancel()
	if err := m.waitReady(ctx); err != nil {
		m.tm.Exit(1)
		return nil, err
	}

	jww.INFO.Printf("[WW] [%s] Worker is ready.", name)

	return m, nil
}

// waitReady blocks until the worker sends ReadyTag on the control channel.
func (m *Manager) waitReady(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.tm.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	e, err := m.port.ReadMessage(ctx)
	if err != nil {
		select {
		case <-m.tm.Done():
			return errors.Errorf("worker %q exited with status %d before it "+
				"was ready", m.name, m.tm.ExitCode())
		default:
		}
		return errors.Wrapf(err, "failed waiting for worker %q to be ready "+
			"after %s", m.name, m.ResponseTimeout)
	}

	var msg Message
	if err = json.Unmarshal(e.Data(), &msg); err != nil {
		return errors.Wrapf(ErrUnrecognizedMessage,
			"could not decode ready message %s: %s", utils.Preview(e.Data()), err)
	} else if msg.Tag != ReadyTag {
		return errors.Wrapf(ErrUnrecognizedMessage,
			"expected %q from worker %q, received %q", ReadyTag, m.name, msg.Tag)
	}

	return nil
}

// Name returns the name of the worker.
func (m *Manager) Name() string { return m.name }

// SendMessage sends the data to the worker with the given tag on the control
// channel. It returns immediately and does not wait for the message to be
// handled.
func (m *Manager) SendMessage(tag Tag, data []byte) error {
	return m.SendTransfer(tag, data, nil)
}

// SendTransfer sends the data to the worker with the given tag on the control
// channel and transfers ownership of the objects in transfer to it.
func (m *Manager) SendTransfer(tag Tag, data []byte, transfer *Transfer) error {
	m.mux.Lock()
	id := m.nextID
	m.nextID++
	m.mux.Unlock()

	if m.MessageLogging {
		jww.DEBUG.Printf("[WW] [%s] Sending message for %q and ID %d: %s",
			m.name, tag, id, utils.Preview(data))
	}

	payload, err := EncodeMessage(tag, id, data)
	if err != nil {
		return err
	}

	return m.port.PostMessageTransfer(payload, transfer)
}

// Done returns a channel that is closed once the worker has exited.
func (m *Manager) Done() <-chan struct{} { return m.tm.Done() }

// Wait blocks until the worker exits and returns its exit status. Returns an
// error if the context is done first.
func (m *Manager) Wait(ctx context.Context) (int, error) {
	select {
	case <-m.tm.Done():
		return m.tm.ExitCode(), nil
	case <-ctx.Done():
		return 0, errors.Wrapf(ctx.Err(), "worker %q did not exit", m.name)
	}
}

// Terminate immediately stops the worker with exit status 1 without giving it
// a chance to clean up. Does nothing if the worker has already exited.
func (m *Manager) Terminate() {
	m.tm.Exit(1)
	m.port.Close()
}
