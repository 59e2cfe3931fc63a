package hailuo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"

	"github.com/LLM-Red-Team/hailuo-free-api/pkg/kv"
)

// DeviceIdentity is an upstream-issued device registration bound to one
// credential. Every signed request carries its DeviceID and UserID.
type DeviceIdentity struct {
	DeviceID    string
	UserID      string
	RefreshTime time.Time
}

// Valid reports whether the identity is still inside its TTL at time now.
func (d *DeviceIdentity) Valid(now time.Time) bool {
	return d != nil && now.Before(d.RefreshTime)
}

// deviceRecord is the persisted form of a DeviceIdentity.
type deviceRecord struct {
	DeviceID    string `msgpack:"device_id"`
	UserID      string `msgpack:"user_id"`
	RefreshUnix int64  `msgpack:"refresh_unix"`
}

// DeviceManager caches device identities per credential.
//
// Concurrent Acquire calls for the same credential are coalesced: while a
// registration is in flight every caller waits for the same outcome, so at
// most one registration request exists per credential at a time. The cache
// is coherent only within one process; a multi-process deployment would
// need an external coordinator, which is out of scope here (the upstream
// permits only one concurrent generation per account anyway).
type DeviceManager struct {
	http  *httpClient
	store kv.Store // optional, for restart survival
	now   func() time.Time

	mu    sync.Mutex
	cache map[string]*DeviceIdentity

	group singleflight.Group
}

func newDeviceManager(h *httpClient, store kv.Store, now func() time.Time) *DeviceManager {
	return &DeviceManager{
		http:  h,
		store: store,
		now:   now,
		cache: make(map[string]*DeviceIdentity),
	}
}

// Acquire returns the device identity for the credential, registering a new
// one when the cache misses or the TTL has expired. Registration rejections
// surface as *Error with KindAuth and are not cached.
func (m *DeviceManager) Acquire(ctx context.Context, credential string) (*DeviceIdentity, error) {
	key := credentialDigest(credential)

	if d := m.cached(key); d.Valid(m.now()) {
		return d, nil
	}

	v, err, _ := m.group.Do(key, func() (any, error) {
		// A waiter queued behind a successful refresh finds the entry here.
		if d := m.cached(key); d.Valid(m.now()) {
			return d, nil
		}
		if d := m.loadPersisted(ctx, key); d.Valid(m.now()) {
			m.put(key, d)
			return d, nil
		}
		d, err := m.register(ctx, credential)
		if err != nil {
			return nil, err
		}
		m.put(key, d)
		m.persist(ctx, key, d)
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*DeviceIdentity), nil
}

// Evict drops the cached identity for the credential. Called when the
// upstream rejects the identity as stale; the next Acquire registers anew.
func (m *DeviceManager) Evict(ctx context.Context, credential string) {
	key := credentialDigest(credential)
	m.mu.Lock()
	delete(m.cache, key)
	m.mu.Unlock()
	if m.store != nil {
		if err := m.store.Delete(ctx, kv.Key{"device", key}); err != nil {
			slog.Warn("evict persisted device identity", "err", err)
		}
	}
}

func (m *DeviceManager) cached(key string) *DeviceIdentity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache[key]
}

func (m *DeviceManager) put(key string, d *DeviceIdentity) {
	m.mu.Lock()
	m.cache[key] = d
	m.mu.Unlock()
}

func (m *DeviceManager) loadPersisted(ctx context.Context, key string) *DeviceIdentity {
	if m.store == nil {
		return nil
	}
	raw, err := m.store.Get(ctx, kv.Key{"device", key})
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			slog.Warn("load persisted device identity", "err", err)
		}
		return nil
	}
	var rec deviceRecord
	if err := msgpack.Unmarshal(raw, &rec); err != nil {
		slog.Warn("decode persisted device identity", "err", err)
		return nil
	}
	return &DeviceIdentity{
		DeviceID:    rec.DeviceID,
		UserID:      rec.UserID,
		RefreshTime: time.Unix(rec.RefreshUnix, 0),
	}
}

func (m *DeviceManager) persist(ctx context.Context, key string, d *DeviceIdentity) {
	if m.store == nil {
		return
	}
	raw, err := msgpack.Marshal(&deviceRecord{
		DeviceID:    d.DeviceID,
		UserID:      d.UserID,
		RefreshUnix: d.RefreshTime.Unix(),
	})
	if err != nil {
		slog.Warn("encode device identity", "err", err)
		return
	}
	if err := m.store.Set(ctx, kv.Key{"device", key}, raw); err != nil {
		slog.Warn("persist device identity", "err", err)
	}
}

// register issues the device registration call with a fresh UUID.
func (m *DeviceManager) register(ctx context.Context, credential string) (*DeviceIdentity, error) {
	userUUID := uuid.NewString()

	var data struct {
		DeviceIDStr string `json:"deviceIDStr"`
		UserID      string `json:"userID"`
	}
	err := m.http.request(ctx, credential, "", userUUID, http.MethodPost, "/v1/api/user/device/register", struct{}{}, &data)
	if err != nil {
		if e, ok := AsError(err); ok && e.Kind == KindUpstream {
			// Registration rejection means the credential itself is bad.
			e.Kind = KindAuth
		}
		return nil, err
	}
	if data.DeviceIDStr == "" {
		return nil, &Error{Kind: KindAuth, StatusMsg: "device registration returned no device id"}
	}

	now := m.now()
	d := &DeviceIdentity{
		DeviceID:    data.DeviceIDStr,
		UserID:      data.UserID,
		RefreshTime: now.Add(DeviceTTL),
	}
	slog.Debug("registered device", "device_id", d.DeviceID, "user_id", d.UserID, "refresh", d.RefreshTime.Unix())
	return d, nil
}

// credentialDigest keys cache and store entries without holding the raw
// credential in either.
func credentialDigest(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:8])
}
