package config

import "time"

// RedisDial caps the wait when connecting to the descriptor store.
const RedisDial = 2 * time.Second

// RedisRequest caps a single descriptor read or write from the CLI.
const RedisRequest = 2 * time.Second

// ReadHeader limits how long the local bridge waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the local bridge waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
