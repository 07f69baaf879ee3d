////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package rendererWorker

import "gitlab.com/elixxir/blocking-renderer/worker"

// List of tags that can be sent to the render worker. Any other tag is
// rejected as unrecognized.
const (
	HandshakeTag worker.Tag = "Handshake"
	RenderTag    worker.Tag = "Render"
	ShutdownTag  worker.Tag = "Shutdown"
)

// DedicatedChannel is the channel the render worker listens on for render
// requests once the handshake is done. Only RenderTag is accepted on it.
const DedicatedChannel worker.Channel = "dedicated"
