package hailuo

import (
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/LLM-Red-Team/hailuo-free-api/pkg/kv"
)

const (
	// DefaultBaseURL is the default Hailuo web API base URL.
	DefaultBaseURL = "https://hailuoai.com"

	// DefaultTimeout is the default unary request timeout.
	DefaultTimeout = 30 * time.Second

	// StreamIdleTimeout is the read-idle timeout of the multiplexed
	// streaming transport. The upstream keeps a generation stream alive
	// with events well inside this window.
	StreamIdleTimeout = 120 * time.Second

	// DeviceTTL is the lifetime of an upstream-issued device identity.
	DeviceTTL = 10800 * time.Second
)

// Client is the Hailuo web API client.
//
// Unlike an official API client it authenticates with a user credential
// (the web session token) and a registered device identity; every request
// carries a canonical device query string and a content checksum.
type Client struct {
	// Chat provides conversation and message operations.
	Chat *ChatService

	// Voice provides persona switching and speech synthesis operations.
	Voice *VoiceService

	// File provides attachment upload operations.
	File *FileService

	// Devices resolves and caches per-credential device identities.
	Devices *DeviceManager

	config *clientConfig
	http   *httpClient
}

type clientConfig struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	timeout      time.Duration
	deviceStore  kv.Store
	now          func() time.Time
}

// Option is a function that configures the client.
type Option func(*clientConfig)

// WithBaseURL sets a custom base URL for the API.
func WithBaseURL(url string) Option {
	return func(c *clientConfig) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client. It is used for both unary and
// streaming requests, replacing the default HTTP/2 streaming transport.
func WithHTTPClient(client *http.Client) Option {
	return func(c *clientConfig) {
		c.httpClient = client
		c.streamClient = client
	}
}

// WithTimeout sets the unary request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) {
		c.timeout = timeout
	}
}

// WithDeviceStore sets a persistent store for device identities so they
// survive process restarts. The store is still owned by a single process;
// see DeviceManager for the coherence contract.
func WithDeviceStore(store kv.Store) Option {
	return func(c *clientConfig) {
		c.deviceStore = store
	}
}

// withClock overrides the time source. Test hook.
func withClock(now func() time.Time) Option {
	return func(c *clientConfig) {
		c.now = now
	}
}

// NewClient creates a new Hailuo web API client.
//
// There is no API key: each call takes the caller's credential, and the
// client registers (and caches) a device identity per credential on demand.
func NewClient(opts ...Option) *Client {
	cfg := &clientConfig{
		baseURL: DefaultBaseURL,
		timeout: DefaultTimeout,
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.httpClient == nil {
		cfg.httpClient = &http.Client{Timeout: cfg.timeout}
	}
	if cfg.streamClient == nil {
		// Streamed generations are sent as the terminal frame of a
		// multiplexed HTTP/2 session. No overall timeout: streams are
		// bounded by the read-idle window instead.
		cfg.streamClient = &http.Client{
			Transport: &http2.Transport{
				ReadIdleTimeout: StreamIdleTimeout,
			},
		}
	}

	c := &Client{
		config: cfg,
		http:   newHTTPClient(cfg),
	}

	c.Devices = newDeviceManager(c.http, cfg.deviceStore, cfg.now)
	c.Chat = &ChatService{client: c}
	c.Voice = &VoiceService{client: c}
	c.File = &FileService{client: c}

	return c
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.config.baseURL
}
