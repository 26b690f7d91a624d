package presence

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gomodule/redigo/redis"
)

// DefaultRedisSyncInterval ...
const DefaultRedisSyncInterval = 30 * time.Second

// RedisTransportConfig ...
type RedisTransportConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	ConnectTimeout time.Duration
	// SyncInterval is how often a channel re-reads the full snapshot even
	// without join/leave traffic. The periodic sync self-heals any missed
	// delta.
	SyncInterval time.Duration

	LogLevel   LogLevel
	LogHandler LogHandler
}

// RedisTransport implements Transport on top of a redis instance. Presence
// announcements live in a hash per topic and join/leave notifications
// travel over redis pub/sub, so several engine processes converge on the
// same snapshot.
type RedisTransport struct {
	mu       sync.RWMutex
	config   RedisTransportConfig
	pool     *redis.Pool
	channels map[string]*redisChannel
	closed   bool
	logger   *logger
}

// NewRedisTransport function initializes the redis transport and verifies
// connectivity with a ping.
func NewRedisTransport(config RedisTransportConfig) (*RedisTransport, error) {
	if config.SyncInterval == 0 {
		config.SyncInterval = DefaultRedisSyncInterval
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 5 * time.Second
	}

	addr := config.Host + ":" + config.Port

	pool := &redis.Pool{
		MaxIdle:     8,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			options := []redis.DialOption{
				redis.DialConnectTimeout(config.ConnectTimeout),
				redis.DialDatabase(config.DB),
			}
			if config.Password != "" {
				options = append(options, redis.DialPassword(config.Password))
			}
			return redis.Dial("tcp", addr, options...)
		},
	}

	conn := pool.Get()
	defer conn.Close()
	if _, err := conn.Do("PING"); err != nil {
		return nil, err
	}

	t := &RedisTransport{
		config:   config,
		pool:     pool,
		channels: make(map[string]*redisChannel),
	}
	if config.LogHandler != nil {
		t.logger = newLogger(config.LogLevel, config.LogHandler)
	}

	return t, nil
}

// Channel ...
func (t *RedisTransport) Channel(topic string, key string) TransportChannel {
	c := &redisChannel{
		transport: t,
		topic:     topic,
		key:       key,
		handlers:  make(map[ChannelEvent][]func()),
		closeCh:   make(chan struct{}),
	}

	t.mu.Lock()
	t.channels[topic] = c
	t.mu.Unlock()

	return c
}

// Close shuts down the transport and every channel created from it.
func (t *RedisTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	channels := make([]*redisChannel, 0, len(t.channels))
	for _, c := range t.channels {
		channels = append(channels, c)
	}
	t.mu.Unlock()

	for _, c := range channels {
		_ = c.Close()
	}

	return t.pool.Close()
}

func (t *RedisTransport) removeChannel(topic string) {
	t.mu.Lock()
	delete(t.channels, topic)
	t.mu.Unlock()
}

// presenceEvent is the pub/sub notification published alongside hash
// mutations so other processes know to re-read the snapshot.
type presenceEvent struct {
	Event string `json:"event"`
	Key   string `json:"key,omitempty"`
}

type redisChannel struct {
	transport *RedisTransport

	topic string
	key   string

	mu         sync.RWMutex
	handlers   map[ChannelEvent][]func()
	subscribed bool
	closed     bool

	closeCh chan struct{}
	psc     *redis.PubSubConn
}

func (c *redisChannel) On(event ChannelEvent, fn func()) {
	c.mu.Lock()
	c.handlers[event] = append(c.handlers[event], fn)
	c.mu.Unlock()
}

// Subscribe opens a dedicated pub/sub connection for the topic and starts
// the reader goroutine. The subscribed event fires once redis confirms the
// subscription, followed by an initial sync.
func (c *redisChannel) Subscribe() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrorChannelClosed
	}
	if c.subscribed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, err := c.transport.pool.Dial()
	if err != nil {
		return err
	}

	psc := &redis.PubSubConn{Conn: conn}
	if err := psc.Subscribe(c.topic); err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.psc = psc
	c.mu.Unlock()

	go c.reader(psc)
	go c.syncLoop()

	return nil
}

func (c *redisChannel) reader(psc *redis.PubSubConn) {
	for {
		switch v := psc.Receive().(type) {
		case redis.Subscription:
			if v.Count > 0 {
				c.mu.Lock()
				c.subscribed = true
				c.mu.Unlock()
				c.emit(EventSubscribed)
				c.emit(EventSync)
			}
		case redis.Message:
			var event presenceEvent
			if err := json.Unmarshal(v.Data, &event); err != nil {
				c.transport.logger.log(NewLogEntry(LogLevelWarn, "malformed presence event", map[string]interface{}{"topic": c.topic, "error": err.Error()}))
				continue
			}
			switch event.Event {
			case string(EventJoin):
				c.emit(EventJoin)
			case string(EventLeave):
				c.emit(EventLeave)
			default:
				c.emit(EventSync)
			}
		case error:
			select {
			case <-c.closeCh:
				return
			default:
			}
			c.transport.logger.log(NewLogEntry(LogLevelWarn, "presence pub/sub receive error", map[string]interface{}{"topic": c.topic, "error": v.Error()}))
			return
		}
	}
}

func (c *redisChannel) syncLoop() {
	ticker := time.NewTicker(c.transport.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeCh:
			return
		case <-ticker.C:
			c.emit(EventSync)
		}
	}
}

// Track writes the announcement into the topic hash and notifies other
// processes. It is only valid once the subscription is established. An
// announcement without a member identifier is inert: the subscription stays
// open but nothing is stored.
func (c *redisChannel) Track(payload PresencePayload) error {
	c.mu.RLock()
	closed := c.closed
	subscribed := c.subscribed
	c.mu.RUnlock()
	if closed {
		return ErrorChannelClosed
	}
	if !subscribed {
		return ErrorNotSubscribed
	}

	field := c.key
	if field == "" {
		field = payload.MemberID
	}
	if field == "" {
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return ErrorBadPayload
	}

	conn := c.transport.pool.Get()
	defer conn.Close()

	if _, err := conn.Do("HSET", c.topic, field, data); err != nil {
		return err
	}
	return c.publish(conn, presenceEvent{Event: string(EventJoin), Key: field})
}

// Untrack removes the announcement from the topic hash.
func (c *redisChannel) Untrack() error {
	field := c.key
	if field == "" {
		return nil
	}

	conn := c.transport.pool.Get()
	defer conn.Close()

	if _, err := conn.Do("HDEL", c.topic, field); err != nil {
		return err
	}
	return c.publish(conn, presenceEvent{Event: string(EventLeave), Key: field})
}

// Snapshot reads the topic hash and decodes every record. Entries that can
// not be decoded are dropped, the rest of the snapshot is still served.
func (c *redisChannel) Snapshot() RawSnapshot {
	conn := c.transport.pool.Get()
	defer conn.Close()

	values, err := redis.StringMap(conn.Do("HGETALL", c.topic))
	if err != nil {
		c.transport.logger.log(NewLogEntry(LogLevelWarn, "error reading presence snapshot", map[string]interface{}{"topic": c.topic, "error": err.Error()}))
		return RawSnapshot{}
	}

	snapshot := make(RawSnapshot, len(values))
	for key, raw := range values {
		var record interface{}
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			c.transport.logger.log(NewLogEntry(LogLevelWarn, "malformed presence record", map[string]interface{}{"topic": c.topic, "key": key, "error": err.Error()}))
			continue
		}
		snapshot[key] = record
	}

	return snapshot
}

func (c *redisChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.subscribed = false
	psc := c.psc
	c.psc = nil
	close(c.closeCh)
	c.mu.Unlock()

	c.transport.removeChannel(c.topic)

	if psc != nil {
		_ = psc.Unsubscribe(c.topic)
		return psc.Close()
	}
	return nil
}

func (c *redisChannel) publish(conn redis.Conn, event presenceEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return ErrorBadPayload
	}
	_, err = conn.Do("PUBLISH", c.topic, data)
	return err
}

func (c *redisChannel) emit(event ChannelEvent) {
	c.mu.RLock()
	fns := make([]func(), len(c.handlers[event]))
	copy(fns, c.handlers[event])
	c.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}
