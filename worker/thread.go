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

// ErrUnrecognizedMessage is returned for a received message whose tag is
// unknown, missing, or not accepted on the channel it arrived on. It means the
// two sides disagree on the protocol.
var ErrUnrecognizedMessage = errors.New("unrecognized message")

// receiveQueueChanSize is the size of the channel that received messages are
// queued on while they wait to be processed.
const receiveQueueChanSize = 100

// ThreadReceptionCallback is called with the data of a message received from
// the main thread and any objects transferred with it. Returned errors are
// printed to the log and passed to the registered error callback.
type ThreadReceptionCallback func(data []byte, transfer *Transfer) error

// ThreadErrorCallback is called with every error that occurs while processing a
// received message.
type ThreadErrorCallback func(err error)

// portListener describes a MessagePort the worker receives messages on.
type portListener struct {
	port *MessagePort

	// tags is the set of tags accepted on the port. A nil set accepts every
	// registered tag.
	tags map[Tag]struct{}

	cancel context.CancelFunc
}

// received is a message queued for processing with the channel it came from
// and the tags accepted on that channel.
type received struct {
	channel Channel
	tags    map[Tag]struct{}
	event   MessageEvent
}

// ThreadManager queues incoming messages from the main thread and handles them
// based on their tag. Messages from every channel the worker listens on are
// processed one at a time, in the order they were queued.
type ThreadManager struct {
	// port is the control port the worker was spawned with.
	port *MessagePort

	// callbacks is a list of callbacks to handle messages that come from the
	// main thread keyed on the callback tag.
	callbacks map[Tag]ThreadReceptionCallback

	// errorCB is called with every error returned while processing a message.
	errorCB ThreadErrorCallback

	// channels is a map of every port the worker listens on keyed on its
	// Channel, including the control channel.
	channels map[Channel]*portListener

	// receiveQueue is the channel that all received messages are queued on
	// while they wait to be processed.
	receiveQueue chan received

	// quit, when closed, stops the thread that processes received messages.
	quit chan struct{}

	// done is closed once the worker has exited.
	done     chan struct{}
	exitCode int
	exitOnce sync.Once

	// name describes the worker. It is used for debugging and logging purposes.
	name string

	// messageLogging determines if debug message logs should be printed every
	// time a message is received.
	messageLogging bool

	mux sync.Mutex
}

// NewThreadManager initialises a new ThreadManager that receives messages on
// the given control port.
func NewThreadManager(
	port *MessagePort, name string, messageLogging bool) *ThreadManager {
	tm := &ThreadManager{
		port:           port,
		callbacks:      make(map[Tag]ThreadReceptionCallback),
		channels:       make(map[Channel]*portListener),
		receiveQueue:   make(chan received, receiveQueueChanSize),
		quit:           make(chan struct{}),
		done:           make(chan struct{}),
		name:           name,
		messageLogging: messageLogging,
	}

	if err := tm.listen(ControlChannel, port, nil); err != nil {
		jww.FATAL.Panicf("[WW] [%s] Failed to listen on control channel: %+v",
			name, err)
	}

	// Start thread to process messages from the main thread
	go tm.processThread()

	return tm
}

// Name returns the name of the worker.
func (tm *ThreadManager) Name() string { return tm.name }

// ListenPort starts receiving messages on the port under the given Channel.
// Only messages with one of the given tags are accepted on it; all others are
// rejected with ErrUnrecognizedMessage. If a port is already registered for the
// Channel, it is stopped and replaced.
func (tm *ThreadManager) ListenPort(
	channel Channel, port *MessagePort, tags ...Tag) error {
	if channel == ControlChannel {
		return errors.New("cannot replace the control channel")
	}

	allowed := make(map[Tag]struct{}, len(tags))
	for _, tag := range tags {
		allowed[tag] = struct{}{}
	}

	tm.mux.Lock()
	pl, exists := tm.channels[channel]
	tm.mux.Unlock()
	if exists && pl.port == port {
		jww.WARN.Printf("[WW] [%s] Already listening on channel %s (port %q).",
			tm.name, channel, port.Name())
		return nil
	}

	tm.StopListening(channel)
	if err := tm.listen(channel, port, allowed); err != nil {
		return err
	}

	jww.INFO.Printf("[WW] [%s] Listening on channel %s (port %q) for tags %v.",
		tm.name, channel, port.Name(), tags)
	return nil
}

// StopListening stops receiving messages on the Channel. Messages already
// queued from it are still processed. Does nothing if no port is registered.
func (tm *ThreadManager) StopListening(channel Channel) {
	tm.mux.Lock()
	pl, exists := tm.channels[channel]
	delete(tm.channels, channel)
	tm.mux.Unlock()

	if exists {
		pl.cancel()
		jww.DEBUG.Printf("[WW] [%s] Stopped listening on channel %s.",
			tm.name, channel)
	}
}

// listen registers the port and forwards its messages to the receive queue.
func (tm *ThreadManager) listen(
	channel Channel, port *MessagePort, tags map[Tag]struct{}) error {
	ctx, cancel := context.WithCancel(context.Background())
	events, err := port.Listen(ctx)
	if err != nil {
		cancel()
		return errors.Wrapf(err, "could not listen on channel %s", channel)
	}

	tm.mux.Lock()
	tm.channels[channel] = &portListener{port: port, tags: tags, cancel: cancel}
	tm.mux.Unlock()

	go func() {
		for e := range events {
			select {
			case tm.receiveQueue <- received{channel, tags, e}:
			case <-tm.quit:
				cancel()
				return
			}
		}
	}()

	return nil
}

// processThread processes received messages sequentially.
func (tm *ThreadManager) processThread() {
	jww.INFO.Printf("[WW] [%s] Starting worker process thread.", tm.name)
	for {
		select {
		case <-tm.quit:
			jww.INFO.Printf("[WW] [%s] Quitting worker process thread.", tm.name)
			return
		case r := <-tm.receiveQueue:
			// Never process a message once the worker has exited
			select {
			case <-tm.quit:
				jww.INFO.Printf(
					"[WW] [%s] Quitting worker process thread.", tm.name)
				return
			default:
			}

			err := tm.processReceivedMessage(r)
			if err != nil {
				jww.ERROR.Printf("[WW] [%s] Failed to process message "+
					"received on channel %s: %+v", tm.name, r.channel, err)
				tm.reportError(err)
			}
		}
	}
}

// processReceivedMessage decodes the message received on the channel and calls
// the callback registered for its tag. This functions blocks until the callback
// returns.
func (tm *ThreadManager) processReceivedMessage(r received) error {
	channel, data := r.channel, r.event.Data()

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return errors.Wrapf(ErrUnrecognizedMessage,
			"could not decode %s: %s", utils.Preview(data), err)
	}

	if tm.messageLogging {
		jww.DEBUG.Printf("[WW] [%s] Worker received message for %q and ID %d "+
			"on channel %s with data: %s", tm.name, msg.Tag, msg.ID, channel,
			utils.Preview(msg.Data))
	}

	tm.mux.Lock()
	callback, exists := tm.callbacks[msg.Tag]
	tm.mux.Unlock()

	if !exists {
		return errors.Wrapf(ErrUnrecognizedMessage,
			"unknown or missing message tag %q in %s", msg.Tag,
			utils.Preview(data))
	} else if r.tags != nil {
		if _, allowed := r.tags[msg.Tag]; !allowed {
			return errors.Wrapf(ErrUnrecognizedMessage,
				"tag %q is not accepted on channel %s", msg.Tag, channel)
		}
	}

	if err := callback(msg.Data, r.event.Transfer()); err != nil {
		return errors.Wrapf(err, "callback for %q and ID %d returned an error",
			msg.Tag, msg.ID)
	}

	return nil
}

// reportError passes the error to the registered error callback, if any.
func (tm *ThreadManager) reportError(err error) {
	tm.mux.Lock()
	cb := tm.errorCB
	tm.mux.Unlock()
	if cb != nil {
		cb(err)
	}
}

// RegisterCallback registers the callback with the given tag overwriting any
// previous registered callbacks with the same tag. This function is thread
// safe.
func (tm *ThreadManager) RegisterCallback(
	tag Tag, receptionCallback ThreadReceptionCallback) {
	jww.DEBUG.Printf(
		"[WW] [%s] Worker registering callback for tag %q", tm.name, tag)
	tm.mux.Lock()
	tm.callbacks[tag] = receptionCallback
	tm.mux.Unlock()
}

// RegisterErrorCallback registers the callback that is called with every error
// that occurs while processing a received message. It overwrites any previously
// registered error callback.
func (tm *ThreadManager) RegisterErrorCallback(cb ThreadErrorCallback) {
	tm.mux.Lock()
	tm.errorCB = cb
	tm.mux.Unlock()
}

// ReportError logs the error and passes it to the registered error callback.
// It is used by callbacks that continue work after they return.
func (tm *ThreadManager) ReportError(err error) {
	jww.ERROR.Printf("[WW] [%s] %+v", tm.name, err)
	tm.reportError(err)
}

// SignalReady sends a signal to the main thread indicating that the worker is
// ready. Once the main thread receives this, it will initiate communication.
// Therefore, this should only be run once all callbacks are registered.
func (tm *ThreadManager) SignalReady() {
	tm.SendMessage(ReadyTag, nil)
}

// SendMessage sends a message to the main thread on the control channel.
func (tm *ThreadManager) SendMessage(tag Tag, data []byte) {
	payload, err := EncodeMessage(tag, 0, data)
	if err != nil {
		jww.FATAL.Panicf("[WW] [%s] Worker failed to encode message for %q "+
			"going to main: %+v", tm.name, tag, err)
	}

	if tm.messageLogging {
		jww.DEBUG.Printf("[WW] [%s] Worker sending message for %q with data: %s",
			tm.name, tag, utils.Preview(data))
	}

	if err = tm.port.PostMessage(payload); err != nil {
		jww.ERROR.Printf("[WW] [%s] Worker failed to send %q to main: %+v",
			tm.name, tag, err)
	}
}

// Exit stops the message processing thread, closes every port the worker
// listens on, and records the exit status. No message is processed after Exit
// is called. Only the first call has an effect.
func (tm *ThreadManager) Exit(code int) {
	tm.exitOnce.Do(func() {
		jww.INFO.Printf("[WW] [%s] Worker exiting with status %d.", tm.name, code)

		tm.mux.Lock()
		tm.exitCode = code
		channels := tm.channels
		tm.channels = make(map[Channel]*portListener)
		tm.mux.Unlock()

		close(tm.quit)
		for _, pl := range channels {
			pl.cancel()
			pl.port.Close()
		}

		close(tm.done)
	})
}

// Done returns a channel that is closed once the worker has exited.
func (tm *ThreadManager) Done() <-chan struct{} { return tm.done }

// ExitCode returns the status the worker exited with. It is only meaningful
// after Done is closed.
func (tm *ThreadManager) ExitCode() int {
	tm.mux.Lock()
	defer tm.mux.Unlock()
	return tm.exitCode
}
