// Package link defines the contract between the bus controller and one
// physical transport.
package link

import "sysbus-go/protocol"

// Link is one physical transport attached to a node. Implementations encode
// with the codec their medium uses. TryReceive never blocks; absence of data
// is not an error.
type Link interface {
	Open() error
	Send(addr protocol.Address, payload []byte) error
	TryReceive() (protocol.Message, bool)
}

// Closer is implemented by links owning background resources.
type Closer interface {
	Close() error
}
