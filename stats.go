package ministreaming

import "sync/atomic"

// Stats is a snapshot of a manager's counters.
type Stats struct {
	SynsReceived    uint64 // SYNs seen
	SynsRejected    uint64 // SYNs refused by the access list or limits
	SynsNoConsumer  uint64 // SYNs refused because nobody listened
	AcceptTimeouts  uint64 // SYNs refused because Accept did not take them in time
	AckSendFailures uint64 // accepted SYNs whose ACK could not be sent

	UnknownPackets uint64 // packets with an unknown type or too short to parse
	LatePackets    uint64 // packets for recently closed connections
	DispatchErrors uint64 // packets for IDs this manager never knew

	MessagesSent      uint64 // messages handed to the session
	MessagesDelivered uint64 // tracked messages the transport confirmed
	MessagesFailed    uint64 // tracked messages the transport reported lost
}

type managerCounters struct {
	synsReceived    atomic.Uint64
	synsRejected    atomic.Uint64
	synsNoConsumer  atomic.Uint64
	acceptTimeouts  atomic.Uint64
	ackSendFailures atomic.Uint64
	unknownPackets  atomic.Uint64
	latePackets     atomic.Uint64
	dispatchErrors  atomic.Uint64
	messagesSent    atomic.Uint64
}

func (c *managerCounters) snapshot(delivery DeliveryStats) Stats {
	return Stats{
		SynsReceived:      c.synsReceived.Load(),
		SynsRejected:      c.synsRejected.Load(),
		SynsNoConsumer:    c.synsNoConsumer.Load(),
		AcceptTimeouts:    c.acceptTimeouts.Load(),
		AckSendFailures:   c.ackSendFailures.Load(),
		UnknownPackets:    c.unknownPackets.Load(),
		LatePackets:       c.latePackets.Load(),
		DispatchErrors:    c.dispatchErrors.Load(),
		MessagesSent:      c.messagesSent.Load(),
		MessagesDelivered: delivery.Delivered,
		MessagesFailed:    delivery.Failed,
	}
}
