package main

import "time"

// Daemon defaults
const (
	defaultSpeakerTimeoutMS   = 1500 // per remote call
	defaultDiscoveryTimeoutMS = 3000
	defaultPollIntervalMS     = 2000
	defaultBrightness         = 60

	// Resume points older than this are dropped at startup.
	positionMaxAge = 180 * 24 * time.Hour

	// Bounded queue between input sources and the loop.
	eventQueueSize = 64
	broadcastQueue = 64

	snapshotWait = 1 * time.Second
)
