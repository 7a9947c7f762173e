// Package signals is a best-effort in-process wakeup bus. Producers nudge a
// dispatcher so it polls ahead of its ticker; delivery is lossy by design
// and nothing durable ever travels through here.
package signals

import (
	"math/rand"
	"sync"
)

type Signal string

const EmailItemQueued Signal = "email-item-queued"
const CallItemQueued Signal = "call-item-queued"

var mu sync.RWMutex
var sigs = map[Signal][]chan struct{}{}

// Notify wakes one listener, if any is idle.
func Notify(channel Signal) {
	mu.RLock()
	defer mu.RUnlock()
	chans := sigs[channel]
	l := len(chans)
	if l > 0 {
		select {
		case chans[rand.Intn(l)] <- struct{}{}:
		default:
		}
	}
}

// Broadcast wakes every listener that is not already pending.
func Broadcast(channel Signal) {
	mu.RLock()
	defer mu.RUnlock()
	for _, c := range sigs[channel] {
		select {
		case c <- struct{}{}:
		default:
		}
	}
}

func Listen(channel Signal) (signal <-chan struct{}, cancel func()) {
	mu.Lock()
	defer mu.Unlock()
	c := make(chan struct{}, 1)

	sigs[channel] = append(sigs[channel], c)

	return c, func() {
		mu.Lock()
		defer mu.Unlock()

		var chans []chan struct{}
		for _, cc := range sigs[channel] {
			if cc == c {
				continue
			}
			chans = append(chans, cc)
		}
		sigs[channel] = chans
	}
}
