package realtime

import "time"

const (
	// Inbound frames are tiny control messages.
	maxFrameBytes = 4 << 10

	defaultSendQueue = 16
	minSendQueue     = 4

	defaultWriteTimeout = 5 * time.Second
	defaultReadIdle     = 2 * time.Minute
	closeGrace          = time.Second

	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second
	maxPingFailures   = 3

	// Per-connection inbound budget.
	rateLimitEvents = 20
	rateLimitWindow = 10 * time.Second
)
