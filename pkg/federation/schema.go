package federation

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by instance name to
// enable multiple Courier instances to safely coexist on a single Redis
// server.
//
// Key pattern: courier:{instance_name}:{entity}:{agent}[:{qualifier}]
// Channel pattern: courier:{instance_name}:broadcast

// DrainOrder returns the priorities in the order a consumer drains a mailbox:
// high before medium before low. Every Priority value appears exactly once.
func DrainOrder() []Priority {
	return []Priority{PriorityHigh, PriorityMedium, PriorityLow}
}

// MailboxKey returns the Redis list key for one priority level of an agent's
// mailbox. Messages are LPUSHed by senders and drained from the tail, so each
// list is FIFO per priority.
// Pattern: courier:{instance_name}:mailbox:{agent}:{priority}
func MailboxKey(instanceName string, agent AgentType, priority Priority) string {
	return fmt.Sprintf("courier:%s:mailbox:%s:%s", instanceName, agent, priority)
}

// ProcessingKey returns the Redis list key holding the single in-flight
// message a consumer has pulled but not yet acknowledged.
// Pattern: courier:{instance_name}:processing:{agent}
func ProcessingKey(instanceName string, agent AgentType) string {
	return fmt.Sprintf("courier:%s:processing:%s", instanceName, agent)
}

// DeadLetterKey returns the Redis list key for an agent's dead-letter queue.
// Poison bodies and messages that exhaust their delivery budget land here.
// Pattern: courier:{instance_name}:deadletter:{agent}
func DeadLetterKey(instanceName string, agent AgentType) string {
	return fmt.Sprintf("courier:%s:deadletter:%s", instanceName, agent)
}

// DeliveriesKey returns the Redis hash key tracking per-message delivery
// counts for an agent's mailbox (message_id -> count). Counting lives in
// Redis rather than the message body so redelivered bodies stay
// byte-identical.
// Pattern: courier:{instance_name}:deliveries:{agent}
func DeliveriesKey(instanceName string, agent AgentType) string {
	return fmt.Sprintf("courier:%s:deliveries:%s", instanceName, agent)
}

// ConsumersKey returns the Redis hash key for an agent's consumer registry
// (consumer_id -> last-seen unix milliseconds). Entries are refreshed by
// active consumer loops and pruned when stale.
// Pattern: courier:{instance_name}:consumers:{agent}
func ConsumersKey(instanceName string, agent AgentType) string {
	return fmt.Sprintf("courier:%s:consumers:%s", instanceName, agent)
}

// AgentsKey returns the Redis set key listing the declared agent identities
// for this instance. Populated idempotently on Connect.
// Pattern: courier:{instance_name}:agents
func AgentsKey(instanceName string) string {
	return fmt.Sprintf("courier:%s:agents", instanceName)
}

// BroadcastChannel returns the Pub/Sub channel name for fan-out broadcasts.
// Delivery is copy-to-every-current-subscriber with no persistence for
// absent consumers.
// Pattern: courier:{instance_name}:broadcast
func BroadcastChannel(instanceName string) string {
	return fmt.Sprintf("courier:%s:broadcast", instanceName)
}
