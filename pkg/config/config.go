package config

import "time"

// Server defaults
const (
	DefaultPort         = "8080"
	DefaultDataDir      = "./data/osem"
	DefaultMaxStorageGB = 1
	DefaultMaxMemoryMB  = 48
)

// Background task intervals
const (
	BadgerGCInterval  = 10 * time.Minute
	RetentionInterval = 1 * time.Hour
)

// Ingest timeouts and limits
const (
	IngestTimeout = 5 * time.Second

	// Bodies above this size are rejected before decoding
	IngestMaxBodyBytes = 2 << 20
)

// Export timeouts
const (
	// ExportWriteTimeout bounds a whole streamed export
	ExportWriteTimeout = 10 * time.Minute
	StatsTimeout       = 5 * time.Second
)

// Notification queue
const (
	NotifyBuffer = 256
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)
