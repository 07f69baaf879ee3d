////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package logging

import (
	"io"
	"os"
	"sync"

	"github.com/armon/circbuf"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

////////////////////////////////////////////////////////////////////////////////
// Log File Log Listener                                                      //
////////////////////////////////////////////////////////////////////////////////

// LogFile represents a virtual log file in memory. It contains a circular
// buffer that limits the log file, overwriting the oldest logs.
type LogFile struct {
	name      string
	threshold jww.Threshold
	b         *lockedBuffer
	id        uint64
}

// lockedBuffer serialises access to a circbuf.Buffer, which is not safe for
// concurrent use. Every jww logger at or above the threshold writes to it.
type lockedBuffer struct {
	b   *circbuf.Buffer
	mux sync.Mutex
}

func (lb *lockedBuffer) Write(p []byte) (int, error) {
	lb.mux.Lock()
	defer lb.mux.Unlock()
	return lb.b.Write(p)
}

func (lb *lockedBuffer) Bytes() []byte {
	lb.mux.Lock()
	defer lb.mux.Unlock()
	return append([]byte{}, lb.b.Bytes()...)
}

func (lb *lockedBuffer) TotalWritten() int64 {
	lb.mux.Lock()
	defer lb.mux.Unlock()
	return lb.b.TotalWritten()
}

// NewLogFile initialises a new [LogFile] for log writing and registers it as a
// jwalterweatherman log listener.
func NewLogFile(
	name string, threshold jww.Threshold, maxSize int) (*LogFile, error) {
	// Create new buffer of the specified size
	b, err := circbuf.NewBuffer(int64(maxSize))
	if err != nil {
		return nil, errors.Wrap(err, "could not create new circular buffer")
	}

	// Logged before registering so that the file starts empty
	jww.INFO.Printf("[LOG] Outputting log to file %q of max size %d at "+
		"level %s", name, maxSize, threshold)

	lf := &LogFile{
		name:      name,
		threshold: threshold,
		b:         &lockedBuffer{b: b},
	}
	lf.id = AddLogListener(lf.Listen)

	return lf, nil
}

// Listen is called for every logging event. This function adheres to the
// [jwalterweatherman.LogListener] type.
func (lf *LogFile) Listen(t jww.Threshold) io.Writer {
	if t < lf.threshold {
		return nil
	}

	return lf.b
}

// Name returns the name of the log file.
func (lf *LogFile) Name() string { return lf.name }

// Threshold returns the log level threshold used in the file.
func (lf *LogFile) Threshold() jww.Threshold { return lf.threshold }

// GetFile returns the entire log file.
func (lf *LogFile) GetFile() []byte { return lf.b.Bytes() }

// MaxSize returns the max size, in bytes, that the log file is allowed to be.
func (lf *LogFile) MaxSize() int { return int(lf.b.b.Size()) }

// Size returns the total number of bytes written to the log file, including
// those that have since been overwritten.
func (lf *LogFile) Size() int { return int(lf.b.TotalWritten()) }

// StopLogging unregisters the log file. Logs already written can still be
// read.
func (lf *LogFile) StopLogging() { RemoveLogListener(lf.id) }

// WriteFile writes the contents of the log file to the path on disk,
// replacing any existing file.
func (lf *LogFile) WriteFile(path string) error {
	err := os.WriteFile(path, lf.GetFile(), 0644)
	if err != nil {
		return errors.Wrapf(err, "failed to write log file %q", path)
	}
	return nil
}
