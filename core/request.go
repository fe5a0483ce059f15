package core

// RequestKind is the kind of an inbound request that needs a decision.
type RequestKind string

const (
	RequestConnect         RequestKind = "connect"
	RequestSendTransaction RequestKind = "sendTransaction"
	RequestSignData        RequestKind = "signData"
)

// RequestState is the lifecycle state of a pending request.
type RequestState string

const (
	StateProposed RequestState = "proposed"
	StateApproved RequestState = "approved"
	StateRejected RequestState = "rejected"
	StateExpired  RequestState = "expired"
)

// Terminal reports whether no further transitions are possible from s.
func (s RequestState) Terminal() bool {
	return s == StateApproved || s == StateRejected || s == StateExpired
}
