////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package logging

import (
	"sort"
	"sync"

	jww "github.com/spf13/jwalterweatherman"
)

// logListeners holds every listener registered with jwalterweatherman through
// this package, keyed on the ID returned when it was added.
var logListeners = newLogListenerList()

type logListenerList struct {
	listeners map[uint64]jww.LogListener
	nextID    uint64
	mux       sync.Mutex
}

func newLogListenerList() *logListenerList {
	return &logListenerList{listeners: make(map[uint64]jww.LogListener)}
}

// AddLogListener registers the log listener with jwalterweatherman. Returns a
// unique ID that can be used to remove the listener.
func AddLogListener(ll jww.LogListener) uint64 {
	return logListeners.add(ll)
}

// RemoveLogListener unregisters the log listener with the ID from
// jwalterweatherman. Unknown IDs are ignored.
func RemoveLogListener(id uint64) {
	logListeners.remove(id)
}

// NumLogListeners returns the number of registered log listeners.
func NumLogListeners() int {
	logListeners.mux.Lock()
	defer logListeners.mux.Unlock()
	return len(logListeners.listeners)
}

func (lll *logListenerList) add(ll jww.LogListener) uint64 {
	lll.mux.Lock()
	defer lll.mux.Unlock()

	id := lll.nextID
	lll.nextID++
	lll.listeners[id] = ll
	jww.SetLogListeners(lll.ordered()...)

	return id
}

func (lll *logListenerList) remove(id uint64) {
	lll.mux.Lock()
	defer lll.mux.Unlock()

	if _, exists := lll.listeners[id]; !exists {
		return
	}
	delete(lll.listeners, id)
	jww.SetLogListeners(lll.ordered()...)
}

// ordered returns the listeners in the order they were added. Must be called
// with the lock held.
func (lll *logListenerList) ordered() []jww.LogListener {
	ids := make([]uint64, 0, len(lll.listeners))
	for id := range lll.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	listeners := make([]jww.LogListener, len(ids))
	for i, id := range ids {
		listeners[i] = lll.listeners[id]
	}
	return listeners
}
