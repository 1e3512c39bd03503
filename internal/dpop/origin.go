package dpop

import (
	"net/http"
	"sync"
)

// OriginTransport keeps one Transport, and therefore one nonce, per origin.
type OriginTransport struct {
	lock       sync.Mutex
	proofs     ProofCreator
	opts       []TransportOption
	transports map[string]*Transport
}

func NewOriginTransport(proofs ProofCreator, opts ...TransportOption) *OriginTransport {
	return &OriginTransport{
		proofs:     proofs,
		opts:       opts,
		transports: make(map[string]*Transport),
	}
}

// For returns the Transport bound to origin, creating it on first use.
func (o *OriginTransport) For(origin string) *Transport {
	o.lock.Lock()
	defer o.lock.Unlock()

	t, ok := o.transports[origin]
	if !ok {
		opts := append(append([]TransportOption{}, o.opts...), WithNonceTracker(&NonceTracker{}))
		t = NewTransport(o.proofs, opts...)
		o.transports[origin] = t
	}
	return t
}

func (o *OriginTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return o.For(Origin(req.URL)).RoundTrip(req)
}

func (o *OriginTransport) Client() *http.Client {
	return &http.Client{Transport: o}
}

var _ http.RoundTripper = (*OriginTransport)(nil)
