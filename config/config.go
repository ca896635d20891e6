package config

import (
	"flag"
	"time"
)

type Config struct {
	Role       string
	ListenAddr string
	PeerURL    string
	OutboxDir  string
	NotesPath  string
	RequestTTL time.Duration
}

// Get creates configuration from command-line arguments.
func Get() *Config {
	role := flag.String("role", "phone", "device role (watch or phone)")
	listenaddr := flag.String("listenaddr", "localhost:3050", "address the phone role listens on")
	peerurl := flag.String("peer", "ws://localhost:3050/peer", "websocket url of the phone peer (watch role only)")
	outboxdir := flag.String("outboxdir", "./outbox", "durable outbox path on filesystem")
	notespath := flag.String("notespath", "./notes", "notes database path on filesystem")
	requestttl := flag.Uint64("requestttl", 0, "ms, timeout after which a pending request fails locally (0 disables)")
	flag.Parse()

	return &Config{
		Role:       *role,
		ListenAddr: *listenaddr,
		PeerURL:    *peerurl,
		OutboxDir:  *outboxdir,
		NotesPath:  *notespath,
		RequestTTL: time.Duration(*requestttl) * time.Millisecond,
	}
}
