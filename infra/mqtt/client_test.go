package mqtt

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/chargeslot/core/model"
	"github.com/kilianp07/chargeslot/internal/eventbus"
)

// helper to generate self-signed cert
func generateCert(t *testing.T) (certFile, keyFile, caFile string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	tmpl := x509.Certificate{SerialNumber: big.NewInt(1), Subject: pkix.Name{CommonName: "test"}, NotBefore: time.Now(), NotAfter: time.Now().Add(time.Hour)}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("create cert: %v", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})

	dir := t.TempDir()
	certFile = dir + "/cert.pem"
	keyFile = dir + "/key.pem"
	caFile = dir + "/ca.pem"
	if err := os.WriteFile(certFile, certPEM, 0o600); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	if err := os.WriteFile(caFile, certPEM, 0o600); err != nil {
		t.Fatalf("write ca: %v", err)
	}
	return
}

func useMock(t *testing.T, mc *mockClient) {
	t.Helper()
	newMQTTClient = func(o *paho.ClientOptions) pahoClient { mc.opts = o; return mc }
	t.Cleanup(func() { newMQTTClient = func(opts *paho.ClientOptions) pahoClient { return paho.NewClient(opts) } })
}

func promotedEvent() model.QueueEvent {
	return model.QueueEvent{
		Type: model.QueueEventPromoted,
		Entry: model.QueueEntry{
			ID:          "e1",
			StationID:   "st-1",
			RequesterID: "alice",
			Priority:    2,
			Status:      model.QueueProcessing,
		},
		Waiting:     3,
		ServiceTime: 25 * time.Minute,
		Time:        time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestLoadTLSConfig(t *testing.T) {
	cert, key, ca := generateCert(t)
	cfg := Config{UseTLS: true, ClientCert: cert, ClientKey: key, CABundle: ca}
	tlsCfg, err := cfg.LoadTLSConfig()
	if err != nil {
		t.Fatalf("load tls: %v", err)
	}
	if len(tlsCfg.Certificates) == 0 {
		t.Fatalf("no certs loaded")
	}
	if tlsCfg.RootCAs == nil {
		t.Fatalf("no root CAs")
	}
	if _, err := (Config{UseTLS: true}).LoadTLSConfig(); err == nil {
		t.Fatalf("expected error without cert paths")
	}
}

func TestNewClientOptionsAuth(t *testing.T) {
	opts, err := NewClientOptions(Config{Broker: "tcp://localhost:1883", ClientID: "id", Username: "u", Password: "p"})
	if err != nil {
		t.Fatalf("opts: %v", err)
	}
	if opts.Username != "u" || opts.Password != "p" {
		t.Fatalf("auth not set")
	}
}

func TestConfigDefaultsAndValidate(t *testing.T) {
	cfg := Config{}
	cfg.SetDefaults()
	if cfg.TopicPrefix != "chargeslot" || cfg.MaxRetries != 3 || cfg.BackoffMS != 100 || cfg.ClientID == "" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled config must validate: %v", err)
	}
	cfg.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing broker error")
	}
	cfg.Broker = "tcp://localhost:1883"
	cfg.QoS = map[string]byte{"billing": 1}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unknown qos kind error")
	}
}

func TestNotifyTopicsAndQoS(t *testing.T) {
	mc := &mockClient{}
	useMock(t, mc)
	n, err := NewPahoNotifier(Config{Broker: "tcp://localhost:1883", TopicPrefix: "ev", QoS: map[string]byte{"station": 1, "requester": 2}})
	if err != nil {
		t.Fatalf("notifier: %v", err)
	}
	if err := n.Notify(context.Background(), promotedEvent()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(mc.published) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(mc.published))
	}
	if mc.published[0].topic != "ev/station/st-1/queue" || mc.published[0].qos != 1 {
		t.Fatalf("station publish: %+v", mc.published[0])
	}
	if mc.published[1].topic != "ev/requester/alice/queue" || mc.published[1].qos != 2 {
		t.Fatalf("requester publish: %+v", mc.published[1])
	}
	var p Payload
	if err := json.Unmarshal(mc.published[0].payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.Type != model.QueueEventPromoted || p.Status != model.QueueProcessing || p.ServiceMS != 1500000 || p.Waiting != 3 {
		t.Fatalf("unexpected payload: %+v", p)
	}
	n.Close()
}

func TestLWTConfigured(t *testing.T) {
	mc := &mockClient{}
	useMock(t, mc)
	n, err := NewPahoNotifier(Config{Broker: "tcp://localhost:1883", ClientID: "id", LWTTopic: "lwt", LWTPayload: "bye", LWTQoS: 1})
	if err != nil {
		t.Fatalf("notifier: %v", err)
	}
	if !mc.opts.WillEnabled {
		t.Fatalf("will not enabled")
	}
	if mc.opts.WillTopic != "lwt" || string(mc.opts.WillPayload) != "bye" {
		t.Fatalf("will options incorrect")
	}
	n.Close()
	if len(mc.published) != 0 {
		t.Fatalf("unexpected publish on disconnect")
	}
}

func TestRetryLogic(t *testing.T) {
	mc := &mockClient{publishErrs: []error{fmt.Errorf("net fail"), nil}}
	useMock(t, mc)
	n, err := NewPahoNotifier(Config{Broker: "tcp://localhost:1883", MaxRetries: 1, BackoffMS: 1})
	if err != nil {
		t.Fatalf("notifier: %v", err)
	}
	if err := n.Notify(context.Background(), promotedEvent()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	// station topic twice, requester topic once
	if len(mc.published) != 3 {
		t.Fatalf("expected retries, got %d publishes", len(mc.published))
	}
}

func TestRetryExhausted(t *testing.T) {
	fail := fmt.Errorf("net fail")
	mc := &mockClient{publishErrs: []error{fail, fail, fail}}
	useMock(t, mc)
	n, err := NewPahoNotifier(Config{Broker: "tcp://localhost:1883", MaxRetries: 2, BackoffMS: 1})
	if err != nil {
		t.Fatalf("notifier: %v", err)
	}
	if err := n.Notify(context.Background(), promotedEvent()); err == nil {
		t.Fatalf("expected error")
	}
	if len(mc.published) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(mc.published))
	}
}

func TestStartNotifierForwardsEvents(t *testing.T) {
	mc := &mockClient{}
	useMock(t, mc)
	n, err := NewPahoNotifier(Config{Broker: "tcp://localhost:1883"})
	if err != nil {
		t.Fatalf("notifier: %v", err)
	}
	bus := eventbus.New[model.QueueEvent]()
	ctx, cancel := context.WithCancel(context.Background())
	done := StartNotifier(ctx, bus, n)
	bus.Publish(promotedEvent())

	deadline := time.Now().Add(time.Second)
	for mc.count() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("event not forwarded")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}

func TestNopNotifier(t *testing.T) {
	var n Notifier = NopNotifier{}
	if err := n.Notify(context.Background(), promotedEvent()); err != nil {
		t.Fatalf("nop notify: %v", err)
	}
	n.Close()
}

type published struct {
	topic   string
	qos     byte
	payload []byte
}

// mockClient implements pahoClient for tests
type mockClient struct {
	mu          sync.Mutex
	opts        *paho.ClientOptions
	published   []published
	publishErrs []error
}

func (m *mockClient) IsConnected() bool { return true }
func (m *mockClient) Connect() paho.Token {
	if m.opts != nil && m.opts.OnConnect != nil {
		m.opts.OnConnect(nil)
	}
	return &dummyToken{}
}
func (m *mockClient) Disconnect(uint) {}
func (m *mockClient) Publish(topic string, qos byte, _ bool, payload interface{}) paho.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, _ := payload.([]byte)
	m.published = append(m.published, published{topic, qos, b})
	if len(m.publishErrs) > 0 {
		err := m.publishErrs[0]
		m.publishErrs = m.publishErrs[1:]
		return &dummyToken{err: err}
	}
	return &dummyToken{}
}

func (m *mockClient) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.published)
}

type dummyToken struct{ err error }

func (d dummyToken) Wait() bool                     { return true }
func (d dummyToken) WaitTimeout(time.Duration) bool { return true }
func (d dummyToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (d dummyToken) Error() error                   { return d.err }
