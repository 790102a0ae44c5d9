package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/htram-gateway/internal/config"
	"github.com/taoyao-code/htram-gateway/internal/device"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
	disconnectQuiesceMs   = 500
	keepAlive             = 60 * time.Second
	commandTimeout        = 30 * time.Second
	commandQueueSize      = 16
)

// CommandHandler 下行控制回调
type CommandHandler func(ctx context.Context, device, op string, payload []byte) error

// Publisher 读数发布（MQTT）
type Publisher struct {
	client   pahomqtt.Client
	clientID string
	topics   Topics
	qos      byte
	retain   bool
	timeout  time.Duration
	log      *zap.Logger

	mu      sync.RWMutex
	handler CommandHandler

	// 每台设备一个命令队列，串行执行，不占用 paho 的路由协程
	workersMu sync.Mutex
	workers   map[string]chan command
	closed    bool
	baseCtx   context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

type command struct {
	op      string
	payload []byte
}

// Option 可选项
type Option func(*Publisher)

// WithLogger 指定日志
func WithLogger(l *zap.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.log = l
		}
	}
}

// WithPublishTimeout 等待确认的超时
func WithPublishTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// ClientID 配置为空时生成随机 ID
func ClientID(cfg cfgpkg.MQTTConfig) string {
	if cfg.ClientID != "" {
		return cfg.ClientID
	}
	return "htram-gateway-" + uuid.NewString()[:8]
}

func buildClientOptions(cfg cfgpkg.MQTTConfig, clientID string, topics Topics) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetKeepAlive(keepAlive)
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	opts.SetConnectTimeout(timeout)
	// 命令回调可能等待设备重连，不能阻塞 keepalive
	opts.SetOrderMatters(false)
	// 异常断开时由 broker 发布 offline
	opts.SetWill(topics.GatewayStatus(), statusPayload("offline", clientID), 1, true)
	return opts
}

func statusPayload(status, clientID string) string {
	b, _ := json.Marshal(map[string]string{
		"status":    status,
		"client_id": clientID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	return string(b)
}

// Connect 连接 broker 并发布 online
func Connect(cfg cfgpkg.MQTTConfig, opts ...Option) (*Publisher, error) {
	if cfg.QoS > 2 {
		return nil, ErrInvalidQoS
	}
	clientID := ClientID(cfg)
	topics := Topics{Prefix: cfg.TopicPrefix}
	co := buildClientOptions(cfg, clientID, topics)

	p := New(nil, cfg, opts...)
	co.SetOnConnectHandler(func(c pahomqtt.Client) {
		c.Publish(topics.GatewayStatus(), p.qos, true, statusPayload("online", clientID))
		p.resubscribe(c)
	})
	co.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		p.log.Warn("mqtt connection lost", zap.Error(err))
	})

	client := pahomqtt.NewClient(co)
	token := client.Connect()
	timeout := co.ConnectTimeout
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	p.client = client
	p.clientID = clientID
	p.log.Info("mqtt connected", zap.String("broker", cfg.Broker), zap.String("client_id", clientID))
	return p, nil
}

// New 使用已有客户端构造
func New(client pahomqtt.Client, cfg cfgpkg.MQTTConfig, opts ...Option) *Publisher {
	p := &Publisher{
		client:  client,
		topics:  Topics{Prefix: cfg.TopicPrefix},
		qos:     cfg.QoS,
		retain:  cfg.Retain,
		timeout: defaultPublishTimeout,
		log:     zap.NewNop(),
		workers: make(map[string]chan command),
	}
	p.baseCtx, p.cancel = context.WithCancel(context.Background())
	for _, o := range opts {
		o(p)
	}
	return p
}

// Topics 当前主题布局
func (p *Publisher) Topics() Topics { return p.topics }

func (p *Publisher) publish(ctx context.Context, topic string, retain bool, payload []byte) error {
	if p.client == nil || !p.client.IsConnected() {
		return ErrNotConnected
	}
	token := p.client.Publish(topic, p.qos, retain, payload)
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-timer.C:
		return fmt.Errorf("%w: %s", ErrTimeout, topic)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// PublishReading 发布设备快照
func (p *Publisher) PublishReading(ctx context.Context, name string, rd device.Reading) error {
	data, err := json.Marshal(rd)
	if err != nil {
		return fmt.Errorf("marshal reading: %w", err)
	}
	return p.publish(ctx, p.topics.State(name), p.retain, data)
}

// PublishAvailability 发布设备在线状态
func (p *Publisher) PublishAvailability(ctx context.Context, name string, online bool) error {
	v := "offline"
	if online {
		v = "online"
	}
	return p.publish(ctx, p.topics.Availability(name), true, []byte(v))
}

// HandleCommands 订阅下行控制主题
func (p *Publisher) HandleCommands(h CommandHandler) error {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
	if p.client == nil || !p.client.IsConnected() {
		return ErrNotConnected
	}
	return p.subscribe(p.client)
}

func (p *Publisher) resubscribe(c pahomqtt.Client) {
	p.mu.RLock()
	has := p.handler != nil
	p.mu.RUnlock()
	if has {
		if err := p.subscribe(c); err != nil {
			p.log.Warn("mqtt resubscribe failed", zap.Error(err))
		}
	}
}

func (p *Publisher) subscribe(c pahomqtt.Client) error {
	token := c.Subscribe(p.topics.SetWildcard(), p.qos, p.onMessage)
	if !token.WaitTimeout(p.timeout) {
		return ErrTimeout
	}
	return token.Error()
}

func (p *Publisher) onMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	name, op, ok := p.topics.ParseSet(msg.Topic())
	if !ok {
		return
	}
	p.mu.RLock()
	has := p.handler != nil
	p.mu.RUnlock()
	if !has {
		return
	}
	payload := append([]byte(nil), msg.Payload()...)
	if !p.dispatch(name, command{op: op, payload: payload}) {
		p.log.Warn("mqtt command dropped",
			zap.String("device", name), zap.String("op", op))
	}
}

// dispatch 投递到设备队列，队列满或已关闭时返回 false
func (p *Publisher) dispatch(name string, cmd command) bool {
	p.workersMu.Lock()
	defer p.workersMu.Unlock()
	if p.closed {
		return false
	}
	q, ok := p.workers[name]
	if !ok {
		q = make(chan command, commandQueueSize)
		p.workers[name] = q
		p.wg.Add(1)
		go p.runWorker(name, q)
	}
	select {
	case q <- cmd:
		return true
	default:
		return false
	}
}

func (p *Publisher) runWorker(name string, q <-chan command) {
	defer p.wg.Done()
	for {
		select {
		case <-p.baseCtx.Done():
			return
		case cmd := <-q:
			p.execute(name, cmd)
		}
	}
}

func (p *Publisher) execute(name string, cmd command) {
	p.mu.RLock()
	h := p.handler
	p.mu.RUnlock()
	if h == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("mqtt handler panic",
				zap.String("device", name), zap.String("op", cmd.op), zap.Any("panic", r))
		}
	}()
	ctx, cancel := context.WithTimeout(p.baseCtx, commandTimeout)
	defer cancel()
	if err := h(ctx, name, cmd.op, cmd.payload); err != nil {
		p.log.Warn("mqtt command failed",
			zap.String("device", name), zap.String("op", cmd.op), zap.Error(err))
	}
}

func (p *Publisher) stopWorkers() {
	p.workersMu.Lock()
	if p.closed {
		p.workersMu.Unlock()
		return
	}
	p.closed = true
	p.workersMu.Unlock()
	p.cancel()
	p.wg.Wait()
}

// HealthCheck 连接状态
func (p *Publisher) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.client == nil || !p.client.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Close 发布 offline 后断开
func (p *Publisher) Close() error {
	p.stopWorkers()
	if p.client == nil {
		return nil
	}
	if p.client.IsConnected() {
		t := p.client.Publish(p.topics.GatewayStatus(), p.qos, true, statusPayload("offline", p.clientID))
		t.WaitTimeout(p.timeout)
	}
	p.client.Disconnect(disconnectQuiesceMs)
	return nil
}
