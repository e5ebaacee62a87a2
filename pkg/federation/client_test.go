package federation

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestClient creates a connected client backed by a miniredis instance
func setupTestClient(t *testing.T, opts ...Option) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	opts = append([]Option{
		WithConnectRetry(1, time.Millisecond),
		WithPollInterval(5 * time.Millisecond),
	}, opts...)

	client, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	require.True(t, client.Connect(context.Background()))
	return client, mr
}

func TestNewClient(t *testing.T) {
	t.Run("rejects empty instance name", func(t *testing.T) {
		_, err := NewClient(&redis.Options{Addr: "localhost:6379"}, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "instance name cannot be empty")
	})

	t.Run("creates client successfully", func(t *testing.T) {
		client, _ := setupTestClient(t)
		assert.NotNil(t, client)
		assert.Equal(t, "test-instance", client.instanceName)
	})
}

func TestConnect(t *testing.T) {
	t.Run("declares known agents idempotently", func(t *testing.T) {
		client, _ := setupTestClient(t)
		ctx := context.Background()

		// Connecting twice must not fail or duplicate anything.
		require.True(t, client.Connect(ctx))

		members, err := client.rdb.SMembers(ctx, AgentsKey("test-instance")).Result()
		require.NoError(t, err)
		assert.Len(t, members, len(KnownAgents()))
		assert.Contains(t, members, string(AgentLocalClaude))
		assert.Contains(t, members, string(AgentOrchestrator))
	})

	t.Run("returns false after exhausting retries", func(t *testing.T) {
		client, err := NewClient(&redis.Options{Addr: "127.0.0.1:1"}, "test-instance",
			WithConnectRetry(2, time.Millisecond))
		require.NoError(t, err)
		defer client.Close()

		assert.False(t, client.Connect(context.Background()))
		assert.False(t, client.Connected())
	})
}

func TestSend(t *testing.T) {
	ctx := context.Background()

	t.Run("routes by target agent and priority", func(t *testing.T) {
		client, mr := setupTestClient(t)

		m := NewTaskRequest(AgentOrchestrator, AgentLocalClaude, TaskCodeReview, map[string]any{"code": "x"})
		m.Priority = PriorityHigh
		require.True(t, client.Send(ctx, m))

		bodies, err := mr.List(MailboxKey("test-instance", AgentLocalClaude, PriorityHigh))
		require.NoError(t, err)
		require.Len(t, bodies, 1)

		decoded, err := FromJSON([]byte(bodies[0]))
		require.NoError(t, err)
		assert.Equal(t, m.MessageID, decoded.MessageID)
	})

	t.Run("unknown target returns false", func(t *testing.T) {
		client, _ := setupTestClient(t)

		m := NewMessage(MessageTypeHeartbeat, AgentOrchestrator, AgentType("martian"), nil)
		assert.False(t, client.Send(ctx, m))
	})

	t.Run("not connected returns false", func(t *testing.T) {
		mr := miniredis.NewMiniRedis()
		require.NoError(t, mr.Start())
		defer mr.Close()

		client, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
		require.NoError(t, err)
		defer client.Close()

		m := NewMessage(MessageTypeHeartbeat, AgentOrchestrator, AgentLocalClaude, nil)
		assert.False(t, client.Send(ctx, m))
	})
}

func TestGetOne(t *testing.T) {
	ctx := context.Background()

	t.Run("empty mailbox returns nil", func(t *testing.T) {
		client, _ := setupTestClient(t)
		assert.Nil(t, client.GetOne(ctx, AgentLocalClaude))
	})

	t.Run("drains high priority before low", func(t *testing.T) {
		client, _ := setupTestClient(t)

		low := NewMessage(MessageTypeStatusUpdate, AgentLocalClaude, AgentOrchestrator, nil)
		low.Priority = PriorityLow
		high := NewMessage(MessageTypeStatusUpdate, AgentLocalClaude, AgentOrchestrator, nil)
		high.Priority = PriorityHigh

		require.True(t, client.Send(ctx, low))
		require.True(t, client.Send(ctx, high))

		first := client.GetOne(ctx, AgentOrchestrator)
		require.NotNil(t, first)
		assert.Equal(t, high.MessageID, first.MessageID)

		second := client.GetOne(ctx, AgentOrchestrator)
		require.NotNil(t, second)
		assert.Equal(t, low.MessageID, second.MessageID)
	})

	t.Run("acknowledges immediately", func(t *testing.T) {
		client, mr := setupTestClient(t)

		m := NewMessage(MessageTypeStatusUpdate, AgentLocalClaude, AgentOrchestrator, nil)
		require.True(t, client.Send(ctx, m))
		require.NotNil(t, client.GetOne(ctx, AgentOrchestrator))

		bodies, _ := mr.List(MailboxKey("test-instance", AgentOrchestrator, PriorityMedium))
		assert.Empty(t, bodies)
	})

	t.Run("dead-letters undecodable bodies and keeps going", func(t *testing.T) {
		client, mr := setupTestClient(t)

		key := MailboxKey("test-instance", AgentOrchestrator, PriorityMedium)
		_, err := mr.Lpush(key, `{not json`)
		require.NoError(t, err)

		valid := NewMessage(MessageTypeStatusUpdate, AgentLocalClaude, AgentOrchestrator, nil)
		require.True(t, client.Send(ctx, valid))

		// The poison body sits at the tail, so it is popped first,
		// dead-lettered, and the valid message is returned.
		got := client.GetOne(ctx, AgentOrchestrator)
		require.NotNil(t, got)
		assert.Equal(t, valid.MessageID, got.MessageID)

		dead, err := client.DeadLetters(ctx, AgentOrchestrator, 10)
		require.NoError(t, err)
		require.Len(t, dead, 1)
		assert.Equal(t, `{not json`, dead[0])
	})
}

func TestConsume(t *testing.T) {
	t.Run("processes, replies, and acknowledges", func(t *testing.T) {
		client, mr := setupTestClient(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		req := NewTaskRequest(AgentOrchestrator, AgentLocalClaude, TaskCodeReview, map[string]any{"code": "x"})
		require.True(t, client.Send(ctx, req))

		done := make(chan error, 1)
		go func() {
			done <- client.Consume(ctx, AgentLocalClaude, func(m *Message) (*Message, error) {
				return m.CreateResponse(map[string]any{"review": "ok"}, true), nil
			}, false)
		}()

		var reply *Message
		require.Eventually(t, func() bool {
			reply = client.GetOne(ctx, AgentOrchestrator)
			return reply != nil
		}, 2*time.Second, 10*time.Millisecond, "expected a reply in the orchestrator mailbox")

		assert.Equal(t, MessageTypeTaskResponse, reply.MessageType)
		assert.Equal(t, req.MessageID, reply.CorrelationID)

		// Original message fully acknowledged: nothing left in flight.
		assert.Eventually(t, func() bool {
			processing, _ := mr.List(ProcessingKey("test-instance", AgentLocalClaude))
			return len(processing) == 0
		}, time.Second, 10*time.Millisecond)

		cancel()
		assert.NoError(t, <-done)
	})

	t.Run("handler error requeues then dead-letters", func(t *testing.T) {
		client, _ := setupTestClient(t, WithMaxDeliveries(2))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		req := NewTaskRequest(AgentOrchestrator, AgentLocalClaude, TaskCodeReview, nil)
		require.True(t, client.Send(ctx, req))

		var invocations atomic.Int32
		go client.Consume(ctx, AgentLocalClaude, func(m *Message) (*Message, error) {
			invocations.Add(1)
			panic("handler blew up")
		}, false)

		require.Eventually(t, func() bool {
			dead, err := client.DeadLetters(ctx, AgentLocalClaude, 10)
			return err == nil && len(dead) == 1
		}, 2*time.Second, 10*time.Millisecond, "message should be dead-lettered after the delivery budget")

		assert.Equal(t, int32(2), invocations.Load(), "delivered exactly MaxDeliveries times")
	})

	t.Run("poison body is dead-lettered without invoking the handler", func(t *testing.T) {
		client, mr := setupTestClient(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		key := MailboxKey("test-instance", AgentLocalClaude, PriorityMedium)
		_, err := mr.Lpush(key, `{"message_id": 42}`)
		require.NoError(t, err)

		var invocations atomic.Int32
		go client.Consume(ctx, AgentLocalClaude, func(m *Message) (*Message, error) {
			invocations.Add(1)
			return nil, nil
		}, false)

		require.Eventually(t, func() bool {
			dead, err := client.DeadLetters(ctx, AgentLocalClaude, 10)
			return err == nil && len(dead) == 1
		}, 2*time.Second, 10*time.Millisecond)

		assert.Equal(t, int32(0), invocations.Load())
	})

	t.Run("registers and deregisters the consumer", func(t *testing.T) {
		client, _ := setupTestClient(t)
		ctx := context.Background()
		consumeCtx, cancel := context.WithCancel(ctx)

		done := make(chan error, 1)
		go func() {
			done <- client.Consume(consumeCtx, AgentLocalClaude, func(m *Message) (*Message, error) {
				return nil, nil
			}, false)
		}()

		require.Eventually(t, func() bool {
			return client.QueueStats(ctx)[string(AgentLocalClaude)].Consumers == 1
		}, 2*time.Second, 10*time.Millisecond)

		cancel()
		require.NoError(t, <-done)

		assert.Eventually(t, func() bool {
			return client.QueueStats(ctx)[string(AgentLocalClaude)].Consumers == 0
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("not connected returns an error", func(t *testing.T) {
		mr := miniredis.NewMiniRedis()
		require.NoError(t, mr.Start())
		defer mr.Close()

		client, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
		require.NoError(t, err)
		defer client.Close()

		err = client.Consume(context.Background(), AgentLocalClaude, func(m *Message) (*Message, error) {
			return nil, nil
		}, false)
		assert.Error(t, err)
	})
}

func TestBroadcast(t *testing.T) {
	t.Run("delivers to current subscribers", func(t *testing.T) {
		client, _ := setupTestClient(t)
		ctx := context.Background()

		sub, err := client.SubscribeBroadcast(ctx)
		require.NoError(t, err)
		defer sub.Close()

		// Allow the subscription goroutine to attach before publishing.
		time.Sleep(50 * time.Millisecond)

		m := NewMessage(MessageTypeStatusUpdate, AgentOrchestrator, AgentLocalClaude, map[string]any{"note": "maintenance"})
		require.True(t, client.Broadcast(ctx, m))

		select {
		case got := <-sub.Events():
			assert.Equal(t, m.MessageID, got.MessageID)
		case <-time.After(2 * time.Second):
			t.Fatal("broadcast not delivered to subscriber")
		}
	})

	t.Run("absent subscribers never see a broadcast", func(t *testing.T) {
		client, _ := setupTestClient(t)
		ctx := context.Background()

		m := NewMessage(MessageTypeStatusUpdate, AgentOrchestrator, AgentLocalClaude, nil)
		require.True(t, client.Broadcast(ctx, m))

		// Subscribe only after the broadcast: fan-out does not
		// retroactively deliver.
		sub, err := client.SubscribeBroadcast(ctx)
		require.NoError(t, err)
		defer sub.Close()

		select {
		case got := <-sub.Events():
			t.Fatalf("unexpected retroactive delivery: %v", got.MessageID)
		case <-time.After(200 * time.Millisecond):
		}
	})
}

func TestQueueStats(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m := NewTaskRequest(AgentOrchestrator, AgentLocalClaude, TaskCodeReview, nil)
		require.True(t, client.Send(ctx, m))
	}
	high := NewTaskRequest(AgentOrchestrator, AgentLocalClaude, TaskCodeReview, nil)
	high.Priority = PriorityHigh
	require.True(t, client.Send(ctx, high))

	stats := client.QueueStats(ctx)

	assert.Equal(t, int64(4), stats[string(AgentLocalClaude)].Depth, "depth sums all priority levels")
	assert.Equal(t, int64(0), stats[string(AgentOrchestrator)].Depth)
	assert.Equal(t, 0, stats[string(AgentLocalClaude)].Consumers)

	// Every known agent is reported, even idle ones.
	assert.Len(t, stats, len(KnownAgents()))
}

func TestQueueStatsPrunesStaleConsumers(t *testing.T) {
	client, _ := setupTestClient(t, WithConsumerTTL(50*time.Millisecond))
	ctx := context.Background()

	key := ConsumersKey("test-instance", AgentLocalClaude)
	require.NoError(t, client.rdb.HSet(ctx, key, "fresh", time.Now().UnixMilli()).Err())
	require.NoError(t, client.rdb.HSet(ctx, key, "stale", time.Now().Add(-time.Hour).UnixMilli()).Err())

	stats := client.QueueStats(ctx)
	assert.Equal(t, 1, stats[string(AgentLocalClaude)].Consumers, "entries outside the TTL window do not count")

	// The stale entry is pruned from the registry, not just skipped.
	exists, err := client.rdb.HExists(ctx, key, "stale").Result()
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = client.rdb.HExists(ctx, key, "fresh").Result()
	require.NoError(t, err)
	assert.True(t, exists)
}
