////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package worker

// Tag describes how a message sent to or from the worker should be handled.
type Tag string

// Generic tags used by all workers.
const (
	// ReadyTag is sent by the worker to the main thread once its message loop
	// is running and its callbacks are registered.
	ReadyTag Tag = "Ready"
)

// Channel names a MessagePort that a worker receives messages on. The empty
// Channel is the control channel that the worker is spawned with.
type Channel string

// ControlChannel is the channel every worker is born with.
const ControlChannel Channel = ""

// String returns the channel name for use in logs. The control channel is
// printed as "control".
func (c Channel) String() string {
	if c == ControlChannel {
		return "control"
	}
	return string(c)
}
