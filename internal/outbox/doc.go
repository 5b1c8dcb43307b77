// Package outbox publishes document events through the transactional outbox.
//
// Lifecycle operations build events with the Emitter and append them to
// the outbox_events table inside the transaction that changed the document.
// The Relay later claims committed events, publishes them to Kafka and
// records each delivery attempt, so an event is published only if its
// change committed.
//
// # Event Types
//
//   - document.created: a document was registered
//   - document.classified: a control number was issued
//   - document.type_changed: the document type changed after creation
//   - document.released: an outbound document was dispatched
//   - document.deleted: a document was soft-deleted
//   - document.restored: a soft delete was undone
//
// # Usage
//
//	writer := outbox.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.BatchSize, cfg.Kafka.BatchTimeout)
//	relay := outbox.NewRelay(store, writer, outbox.RelayConfig{
//	    PollInterval: cfg.Outbox.PollInterval,
//	    BatchSize:    cfg.Outbox.BatchSize,
//	    MaxAttempts:  cfg.Outbox.MaxAttempts,
//	}, logger, metrics)
//	err := relay.Run(ctx)
package outbox
