package federation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Default transport tuning. Overridable per client via Options.
const (
	DefaultConnectAttempts = 5
	DefaultConnectDelay    = 5 * time.Second
	DefaultMaxDeliveries   = 3
	DefaultPollInterval    = 100 * time.Millisecond
	DefaultConsumerTTL     = 15 * time.Second
)

// MessageHandler processes one delivered message and optionally returns a
// reply to be sent through the transport. A non-nil error triggers redelivery
// (bounded by MaxDeliveries, then dead-lettering).
type MessageHandler func(*Message) (*Message, error)

// QueueInfo reports the state of one agent's mailbox.
type QueueInfo struct {
	Depth        int64 `json:"depth"`         // Messages waiting across all priority levels
	Consumers    int   `json:"consumers"`     // Active consumer loops registered within the TTL window
	DeadLettered int64 `json:"dead_lettered"` // Bodies parked in the dead-letter queue
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithConnectRetry overrides the bounded retry policy used by Connect.
func WithConnectRetry(attempts int, delay time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.connectAttempts = attempts
		}
		if delay > 0 {
			c.connectDelay = delay
		}
	}
}

// WithMaxDeliveries sets how many times a message is delivered before it is
// dead-lettered. The minimum is 1 (no redelivery at all).
func WithMaxDeliveries(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxDeliveries = n
		}
	}
}

// WithPollInterval sets how long an idle consumer loop sleeps between
// mailbox polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithConsumerTTL sets the staleness window for consumer registry entries.
func WithConsumerTTL(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.consumerTTL = d
		}
	}
}

// Client provides instance-scoped queue transport over Redis. All keys and
// channels are automatically namespaced with the instance name. The client is
// safe for concurrent use, but by convention each process owns exactly one
// client per component (no hidden shared singletons).
type Client struct {
	rdb          *redis.Client
	instanceName string
	logger       *zap.Logger

	connectAttempts int
	connectDelay    time.Duration
	maxDeliveries   int
	pollInterval    time.Duration
	consumerTTL     time.Duration

	connected atomic.Bool
}

// NewClient creates a queue transport client for the specified instance.
// The client does not touch the network until Connect is called.
func NewClient(redisOpts *redis.Options, instanceName string, opts ...Option) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	c := &Client{
		rdb:             redis.NewClient(redisOpts),
		instanceName:    instanceName,
		logger:          zap.NewNop(),
		connectAttempts: DefaultConnectAttempts,
		connectDelay:    DefaultConnectDelay,
		maxDeliveries:   DefaultMaxDeliveries,
		pollInterval:    DefaultPollInterval,
		consumerTTL:     DefaultConsumerTTL,
	}

	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "transport"), zap.String("instance", instanceName))

	return c, nil
}

// Connect verifies broker connectivity with bounded retries and idempotently
// declares the known agent mailboxes. Returns false, never an error, once the
// retry budget is exhausted; callers must treat "not connected" as a steady
// state they can retry at a higher level.
//
// Safe to call multiple times; reconnecting an already connected client is a
// no-op beyond re-running the declarations.
func (c *Client) Connect(ctx context.Context) bool {
	for attempt := 1; attempt <= c.connectAttempts; attempt++ {
		err := c.rdb.Ping(ctx).Err()
		if err == nil {
			if declErr := c.declareAgents(ctx); declErr != nil {
				c.logger.Warn("agent declaration failed", zap.Error(declErr))
			}
			c.connected.Store(true)
			c.logger.Info("connected to broker", zap.Int("attempt", attempt))
			return true
		}

		c.logger.Warn("connection attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.connectAttempts),
			zap.Error(err))

		if attempt < c.connectAttempts {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(c.connectDelay):
			}
		}
	}

	c.logger.Error("failed to connect to broker", zap.Int("attempts", c.connectAttempts))
	return false
}

// declareAgents records the fixed agent identities in the instance's agent
// set. Mailboxes themselves are Redis lists and need no declaration, but the
// set makes the roster introspectable.
func (c *Client) declareAgents(ctx context.Context) error {
	members := make([]any, 0, len(KnownAgents()))
	for _, agent := range KnownAgents() {
		members = append(members, string(agent))
	}
	return c.rdb.SAdd(ctx, AgentsKey(c.instanceName), members...).Err()
}

// Connected reports whether Connect has succeeded.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Ping verifies broker connectivity. Useful for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the underlying connection. Implements io.Closer.
// Safe to call when not connected.
func (c *Client) Close() error {
	c.connected.Store(false)
	return c.rdb.Close()
}

// Send routes a message to its target agent's mailbox, selecting the priority
// list from the message's priority hint. Returns false if the target is
// unknown, the client is not connected, or the broker write fails -- never an
// error. Delivery is durable: the body stays in the mailbox until a consumer
// acknowledges it.
func (c *Client) Send(ctx context.Context, m *Message) bool {
	if !c.connected.Load() {
		c.logger.Warn("send while not connected", zap.String("message_id", m.MessageID))
		return false
	}

	if err := m.TargetAgent.Validate(); err != nil {
		c.logger.Warn("send to unknown target",
			zap.String("target", string(m.TargetAgent)),
			zap.String("message_id", m.MessageID))
		return false
	}

	priority := m.Priority
	if priority.Validate() != nil {
		priority = PriorityMedium
	}

	body, err := m.ToJSON()
	if err != nil {
		c.logger.Warn("send serialization failed", zap.String("message_id", m.MessageID), zap.Error(err))
		return false
	}

	key := MailboxKey(c.instanceName, m.TargetAgent, priority)
	if err := c.rdb.LPush(ctx, key, body).Err(); err != nil {
		c.logger.Warn("send failed", zap.String("message_id", m.MessageID), zap.Error(err))
		return false
	}

	c.logger.Debug("sent message",
		zap.String("message_id", m.MessageID),
		zap.String("type", string(m.MessageType)),
		zap.String("target", string(m.TargetAgent)))
	return true
}

// Broadcast publishes a message to the fan-out channel. Every currently
// subscribed agent receives a copy; agents not subscribed at publish time
// never see it (fan-out is not queued-if-absent, unlike mailboxes).
func (c *Client) Broadcast(ctx context.Context, m *Message) bool {
	if !c.connected.Load() {
		return false
	}

	body, err := m.ToJSON()
	if err != nil {
		c.logger.Warn("broadcast serialization failed", zap.String("message_id", m.MessageID), zap.Error(err))
		return false
	}

	if err := c.rdb.Publish(ctx, BroadcastChannel(c.instanceName), body).Err(); err != nil {
		c.logger.Warn("broadcast failed", zap.String("message_id", m.MessageID), zap.Error(err))
		return false
	}

	c.logger.Debug("broadcast message",
		zap.String("message_id", m.MessageID),
		zap.String("type", string(m.MessageType)))
	return true
}

// GetOne pulls a single message from the agent's mailbox with immediate
// acknowledgment, draining priorities high to low. Returns nil when the
// mailbox is empty or on any transport error. Undecodable bodies are
// dead-lettered and skipped.
func (c *Client) GetOne(ctx context.Context, agent AgentType) *Message {
	if !c.connected.Load() {
		return nil
	}
	if agent.Validate() != nil {
		return nil
	}

	for _, priority := range DrainOrder() {
		key := MailboxKey(c.instanceName, agent, priority)
		for {
			body, err := c.rdb.RPop(ctx, key).Result()
			if errors.Is(err, redis.Nil) {
				break
			}
			if err != nil {
				c.logger.Warn("mailbox pop failed", zap.String("agent", string(agent)), zap.Error(err))
				return nil
			}

			m, decodeErr := FromJSON([]byte(body))
			if decodeErr != nil {
				c.deadLetter(ctx, agent, body, decodeErr)
				continue
			}
			return m
		}
	}
	return nil
}

// Consume pulls messages one at a time from the agent's mailbox and invokes
// the handler for each, blocking until the context is cancelled. At most one
// message is in flight at any moment.
//
// Delivery semantics:
//   - A non-nil reply from the handler is sent through Send before the
//     original message is acknowledged.
//   - A handler error requeues the message for redelivery, up to the client's
//     MaxDeliveries budget, after which the body is dead-lettered.
//   - A body that fails to decode is dead-lettered immediately, never
//     requeued, so poison messages cannot loop.
//   - With autoAck set, messages are acknowledged before the handler runs and
//     handler errors do not trigger redelivery.
//
// The consumer registers itself in the agent's consumer registry for the
// duration of the loop, which backs QueueStats consumer counts.
func (c *Client) Consume(ctx context.Context, agent AgentType, handler MessageHandler, autoAck bool) error {
	if !c.connected.Load() {
		return fmt.Errorf("not connected")
	}
	if err := agent.Validate(); err != nil {
		return fmt.Errorf("cannot consume: %w", err)
	}

	consumerID := uuid.New().String()
	consumersKey := ConsumersKey(c.instanceName, agent)
	processingKey := ProcessingKey(c.instanceName, agent)

	defer func() {
		// Deregistration uses a fresh context: the loop context is
		// usually already cancelled by the time we get here.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		c.rdb.HDel(cleanupCtx, consumersKey, consumerID)
	}()

	c.logger.Info("consumer started",
		zap.String("agent", string(agent)),
		zap.String("consumer_id", consumerID))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopped", zap.String("agent", string(agent)))
			return nil
		default:
		}

		if err := c.rdb.HSet(ctx, consumersKey, consumerID, time.Now().UnixMilli()).Err(); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("consumer registration refresh failed", zap.Error(err))
		}

		body, ok := c.pullOne(ctx, agent, processingKey)
		if !ok {
			select {
			case <-ctx.Done():
				c.logger.Info("consumer stopped", zap.String("agent", string(agent)))
				return nil
			case <-time.After(c.pollInterval):
			}
			continue
		}

		c.dispatch(ctx, agent, processingKey, body, handler, autoAck)
	}
}

// pullOne moves the next message, highest priority first, from the mailbox to
// the processing list. Returns false when every priority level is empty.
func (c *Client) pullOne(ctx context.Context, agent AgentType, processingKey string) (string, bool) {
	for _, priority := range DrainOrder() {
		key := MailboxKey(c.instanceName, agent, priority)
		body, err := c.rdb.LMove(ctx, key, processingKey, "RIGHT", "LEFT").Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				c.logger.Warn("mailbox pull failed", zap.String("agent", string(agent)), zap.Error(err))
			}
			return "", false
		}
		return body, true
	}
	return "", false
}

// dispatch decodes and processes one pulled message, applying the ack,
// requeue, and dead-letter rules.
func (c *Client) dispatch(ctx context.Context, agent AgentType, processingKey, body string, handler MessageHandler, autoAck bool) {
	deliveriesKey := DeliveriesKey(c.instanceName, agent)

	m, decodeErr := FromJSON([]byte(body))
	if decodeErr != nil {
		c.rdb.LRem(ctx, processingKey, 1, body)
		c.deadLetter(ctx, agent, body, decodeErr)
		return
	}

	if autoAck {
		c.rdb.LRem(ctx, processingKey, 1, body)
	}

	c.logger.Debug("received message",
		zap.String("message_id", m.MessageID),
		zap.String("type", string(m.MessageType)),
		zap.String("source", string(m.SourceAgent)))

	reply, err := invokeHandler(handler, m)
	if err != nil {
		if autoAck {
			c.logger.Warn("handler failed (auto-ack, not redelivered)",
				zap.String("message_id", m.MessageID), zap.Error(err))
			return
		}
		c.requeueOrDeadLetter(ctx, agent, processingKey, deliveriesKey, body, m, err)
		return
	}

	if reply != nil {
		if !c.Send(ctx, reply) {
			c.logger.Warn("reply send failed",
				zap.String("message_id", m.MessageID),
				zap.String("reply_id", reply.MessageID))
		}
	}

	if !autoAck {
		c.rdb.LRem(ctx, processingKey, 1, body)
	}
	c.rdb.HDel(ctx, deliveriesKey, m.MessageID)
}

// requeueOrDeadLetter handles a failed delivery: requeue at the consuming end
// of the mailbox while the delivery budget lasts, dead-letter after that.
func (c *Client) requeueOrDeadLetter(ctx context.Context, agent AgentType, processingKey, deliveriesKey, body string, m *Message, cause error) {
	deliveries, err := c.rdb.HIncrBy(ctx, deliveriesKey, m.MessageID, 1).Result()
	if err != nil {
		deliveries = int64(c.maxDeliveries)
	}

	c.rdb.LRem(ctx, processingKey, 1, body)

	if deliveries >= int64(c.maxDeliveries) {
		c.rdb.HDel(ctx, deliveriesKey, m.MessageID)
		c.deadLetter(ctx, agent, body, cause)
		return
	}

	if err := c.rdb.RPush(ctx, MailboxKey(c.instanceName, agent, m.Priority), body).Err(); err != nil {
		c.logger.Warn("requeue failed", zap.String("message_id", m.MessageID), zap.Error(err))
		return
	}

	c.logger.Warn("message requeued after handler failure",
		zap.String("message_id", m.MessageID),
		zap.Int64("delivery", deliveries),
		zap.Int("max_deliveries", c.maxDeliveries),
		zap.Error(cause))
}

// deadLetter parks a body on the agent's dead-letter queue.
func (c *Client) deadLetter(ctx context.Context, agent AgentType, body string, cause error) {
	if err := c.rdb.LPush(ctx, DeadLetterKey(c.instanceName, agent), body).Err(); err != nil {
		c.logger.Error("dead-letter write failed", zap.Error(err))
		return
	}
	c.logger.Warn("message dead-lettered", zap.String("agent", string(agent)), zap.Error(cause))
}

// invokeHandler runs the handler, converting a panic into an error so a
// single failing message cannot take down the consumer loop.
func invokeHandler(handler MessageHandler, m *Message) (reply *Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			reply = nil
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(m)
}

// QueueStats returns, for every known agent, the mailbox depth, the number of
// live consumers, and the dead-letter queue depth. Best-effort: returns zero
// values for any agent whose stats cannot be read.
func (c *Client) QueueStats(ctx context.Context) map[string]QueueInfo {
	stats := make(map[string]QueueInfo, len(KnownAgents()))

	for _, agent := range KnownAgents() {
		info := QueueInfo{}

		for _, priority := range DrainOrder() {
			depth, err := c.rdb.LLen(ctx, MailboxKey(c.instanceName, agent, priority)).Result()
			if err != nil {
				continue
			}
			info.Depth += depth
		}

		info.Consumers = c.liveConsumers(ctx, agent)

		if dead, err := c.rdb.LLen(ctx, DeadLetterKey(c.instanceName, agent)).Result(); err == nil {
			info.DeadLettered = dead
		}

		stats[string(agent)] = info
	}

	return stats
}

// liveConsumers counts registry entries refreshed within the TTL window,
// pruning stale ones as it goes.
func (c *Client) liveConsumers(ctx context.Context, agent AgentType) int {
	key := ConsumersKey(c.instanceName, agent)
	entries, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return 0
	}

	cutoff := time.Now().Add(-c.consumerTTL).UnixMilli()
	live := 0
	for id, lastSeen := range entries {
		var ms int64
		if _, scanErr := fmt.Sscanf(lastSeen, "%d", &ms); scanErr != nil || ms < cutoff {
			c.rdb.HDel(ctx, key, id)
			continue
		}
		live++
	}
	return live
}

// DeadLetters returns up to limit raw bodies from the agent's dead-letter
// queue, newest first. Bodies are returned verbatim because dead-lettered
// messages are frequently the ones that cannot be decoded.
func (c *Client) DeadLetters(ctx context.Context, agent AgentType, limit int64) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	bodies, err := c.rdb.LRange(ctx, DeadLetterKey(c.instanceName, agent), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letters: %w", err)
	}
	return bodies, nil
}

// Subscription represents an active Pub/Sub subscription to the broadcast
// channel. Caller must call Close() when done to clean up resources.
type Subscription struct {
	events <-chan *Message
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of broadcast messages. The channel is closed
// when the subscription is closed or the context is cancelled.
func (s *Subscription) Events() <-chan *Message {
	return s.events
}

// Errors returns the channel of subscription errors. Errors include decode
// failures of broadcast bodies; the subscription continues after errors and
// the offending message is skipped.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
// Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeBroadcast subscribes to the instance's fan-out channel.
// Returns a Subscription that delivers decoded Messages. Caller must call
// subscription.Close() when done; context cancellation also stops it.
//
// Events are delivered on a buffered channel (size 10) to prevent blocking.
// A slow subscriber can drop broadcasts (at-most-once delivery).
func (c *Client) SubscribeBroadcast(ctx context.Context) (*Subscription, error) {
	if !c.connected.Load() {
		return nil, fmt.Errorf("not connected")
	}

	pubsub := c.rdb.Subscribe(ctx, BroadcastChannel(c.instanceName))

	eventsChan := make(chan *Message, 10)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				m, err := FromJSON([]byte(msg.Payload))
				if err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to decode broadcast: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- m:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}
