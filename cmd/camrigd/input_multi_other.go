//go:build !linux

package main

import "os"

// readInputEventsMulti falls back to one blocking reader per device where epoll is
// unavailable. Readers exit when their file is closed.
func readInputEventsMulti(files []*os.File, events chan<- inputEvent, readErr chan<- error, stop <-chan struct{}) {
	for _, f := range files {
		go readInputEvents(f, events, readErr)
	}
	<-stop
}
