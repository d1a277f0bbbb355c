package t2sa

import "sync/atomic"

// ConnState is the lifecycle state of the client connection.
type ConnState uint32

const (
	Disconnected ConnState = iota
	Closing
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Closing:
		return "Closing"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	default:
		return "Unknown"
	}
}

// atomicConnState holds a ConnState with compare-and-swap transitions.
type atomicConnState struct {
	state atomic.Uint32
}

func (st *atomicConnState) Get() ConnState {
	return ConnState(st.state.Load())
}

func (st *atomicConnState) Set(state ConnState) {
	st.state.Store(uint32(state))
}

func (st *atomicConnState) IsConnected() bool {
	return st.Get() == Connected
}

// ToConnecting succeeds only from Disconnected.
func (st *atomicConnState) ToConnecting() bool {
	return st.state.CompareAndSwap(uint32(Disconnected), uint32(Connecting))
}

func (st *atomicConnState) ToConnected() bool {
	if st.IsConnected() {
		return true
	}

	return st.state.CompareAndSwap(uint32(Connecting), uint32(Connected))
}

func (st *atomicConnState) ToClosing() bool {
	if st.state.CompareAndSwap(uint32(Connected), uint32(Closing)) {
		return true
	}

	return st.state.CompareAndSwap(uint32(Connecting), uint32(Closing))
}

func (st *atomicConnState) ToDisconnected() bool {
	if st.Get() == Disconnected {
		return true
	}

	return st.state.CompareAndSwap(uint32(Closing), uint32(Disconnected))
}
