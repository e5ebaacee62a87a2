// Package federation provides the message schema, Redis queue schema, and
// transport client for the Courier federated agent system. Agents and the
// orchestrator exchange immutable Message envelopes through per-agent durable
// mailboxes backed by Redis lists, plus one Pub/Sub fan-out channel for
// broadcasts.
//
// All Redis keys and channels are namespaced by instance name to enable
// multiple Courier instances to safely coexist on a single Redis server.
package federation
