// Package queue defines the work queue contract used by the router and the
// stage consumers, and opens the configured backend.
//
// Queues are addressed by name. Names are case-normalized by the caller
// (config.NormalizeQueueName) before they reach a backend. Delivery is
// at-least-once: a received message stays invisible to other consumers until
// it is deleted or its visibility window lapses.
package queue
