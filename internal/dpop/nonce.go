package dpop

import "sync"

// NonceTracker holds the last DPoP-Nonce observed on one channel. Reads and
// writes are mutually exclusive, so a proof is never built while a fresher
// nonce is being recorded.
type NonceTracker struct {
	lock  sync.RWMutex
	nonce string
}

func (n *NonceTracker) Nonce() string {
	n.lock.RLock()
	defer n.lock.RUnlock()
	return n.nonce
}

// Observe records a nonce read from a response and reports whether it differs
// from the previous value. An empty nonce means the server sent none and is
// ignored.
func (n *NonceTracker) Observe(nonce string) bool {
	if nonce == "" {
		return false
	}

	n.lock.Lock()
	defer n.lock.Unlock()

	changed := n.nonce != nonce
	n.nonce = nonce
	return changed
}

func (n *NonceTracker) Reset() {
	n.lock.Lock()
	n.nonce = ""
	n.lock.Unlock()
}
