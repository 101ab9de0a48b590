// Package perfship provides an embeddable agent that batches client-side
// performance snapshots and ships them to an ingest service.
//
// # Basic Usage
//
//	cfg := perfship.DefaultConfig()
//	cfg.ServiceURL = "https://ingest.example.com"
//	cfg.AuthKey = "your-api-key"
//
//	agent, err := perfship.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := agent.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	_ = agent.Report(perfship.Item{
//	    Key:       "lcp",
//	    Timestamp: time.Now(),
//	    Payload:   map[string]any{"value": 2400},
//	})
//
//	if err := agent.Stop(); err != nil {
//	    log.Printf("shutdown error: %v", err)
//	}
//
// # Batching
//
// Snapshots of the same key taken less than 500ms apart are coalesced into
// one. A key delivered less than TTL ago, or already queued, is not
// reported again. Full batches are delivered one at a time; failed batches
// are retried with exponential backoff and then dropped. When the batch
// queue is full new batches are dropped.
//
// # Lifecycle Sources
//
// A [LifecycleSource] passed via [WithLifecycleSource] flushes every
// pipeline when the host is hidden or about to unload. The CLI uses OS
// signals for this.
//
// # Event Handling
//
// Implement [EventHandler], or embed [BaseEventHandler], and pass it via
// [WithEventHandler]. Delivery events are called from the delivery
// goroutine and should return quickly.
//
// # Lifecycle States
//
// An Agent moves forward through [StateIdle], [StateStarting],
// [StateRunning] and [StateStopping] and ends in [StateStopped] or
// [StateCrashed]. It is started at most once. An agent that is created
// but never started must be released with [Agent.Close].
package perfship
