package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"finwatch/internal/storage"
	kit "finwatch/internal/transport"
)

// Capability names.
//
// This is an *operational* guardrail only (agents are in-process).
// Capabilities are enforced by wrapping selected ports passed via AgentDeps.
const (
	CapNotifySend     = "notify.send"
	CapSchedulerRead  = "scheduler.read"
	CapSchedulerWrite = "scheduler.write"
	CapStorageRead    = "storage.read"
	CapStorageWrite   = "storage.write"
	CapStorageAudit   = "storage.audit"
)

var (
	ErrCapabilityDenied = errors.New("capability denied")
	ErrChannelDenied    = errors.New("notification channel denied")
)

// capRef is a mutable allowlist shared by wrappers. An empty list allows
// everything. It enables hot-reload of allowlists without re-initializing
// agents. The same type backs both capability sets and channel sets.
type capRef struct {
	mu       sync.RWMutex
	allowAll bool
	set      map[string]struct{}
}

func newCapRef(allow []string) *capRef {
	r := &capRef{}
	r.Update(allow)
	return r
}

func (r *capRef) Update(allow []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(allow) == 0 {
		r.allowAll = true
		r.set = nil
		return
	}
	r.allowAll = false
	m := make(map[string]struct{}, len(allow))
	for _, s := range allow {
		if s == "" {
			continue
		}
		m[s] = struct{}{}
	}
	r.set = m
}

func (r *capRef) Allows(name string) bool {
	if r == nil {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.allowAll {
		return true
	}
	_, ok := r.set[name]
	return ok
}

func (r *capRef) AllowsAny(names ...string) bool {
	for _, n := range names {
		if r.Allows(n) {
			return true
		}
	}
	return false
}

func deny(name string) error {
	return fmt.Errorf("%w: %s", ErrCapabilityDenied, name)
}

// --- Wrapped ports ---

type capNotifier struct {
	inner NotifierPort
	caps  *capRef
	chans *capRef
}

func (n *capNotifier) Notify(ctx context.Context, nn kit.Notification) error {
	if n == nil || n.inner == nil {
		return errors.New("notifier not available")
	}
	if !n.caps.Allows(CapNotifySend) {
		return deny(CapNotifySend)
	}
	// The channel allowlist applies to the resolved channel, so an agent
	// restricted to "email" can't sneak through the default channel.
	ch := nn.Channel
	if ch == "" {
		ch = n.inner.DefaultChannel()
	}
	if !n.chans.Allows(ch) {
		return fmt.Errorf("%w: %s", ErrChannelDenied, ch)
	}
	return n.inner.Notify(ctx, nn)
}

func (n *capNotifier) HasChannel(channel string) bool {
	if n == nil || n.inner == nil {
		return false
	}
	if !n.chans.Allows(channel) {
		return false
	}
	return n.inner.HasChannel(channel)
}

func (n *capNotifier) DefaultChannel() string {
	if n == nil || n.inner == nil {
		return ""
	}
	return n.inner.DefaultChannel()
}

func (n *capNotifier) Channels() []string {
	if n == nil || n.inner == nil {
		return nil
	}
	all := n.inner.Channels()
	out := make([]string, 0, len(all))
	for _, ch := range all {
		if n.chans.Allows(ch) {
			out = append(out, ch)
		}
	}
	return out
}

type capScheduler struct {
	inner SchedulerPort
	caps  *capRef
}

func (s *capScheduler) Enabled() bool {
	if s == nil || s.inner == nil {
		return false
	}
	// Allow read operations if agent has read or write.
	if !s.caps.AllowsAny(CapSchedulerRead, CapSchedulerWrite) {
		return false
	}
	return s.inner.Enabled()
}

func (s *capScheduler) Snapshot() Snapshot {
	if s == nil || s.inner == nil {
		return Snapshot{}
	}
	if !s.caps.AllowsAny(CapSchedulerRead, CapSchedulerWrite) {
		return Snapshot{}
	}
	return s.inner.Snapshot()
}

func (s *capScheduler) AddCron(name, spec string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	if !s.caps.Allows(CapSchedulerWrite) {
		return "", deny(CapSchedulerWrite)
	}
	return s.inner.AddCron(name, spec, timeout, job)
}

func (s *capScheduler) AddCronOpt(name, spec string, timeout time.Duration, opt TaskOptions, job func(ctx context.Context) error) (string, error) {
	if !s.caps.Allows(CapSchedulerWrite) {
		return "", deny(CapSchedulerWrite)
	}
	return s.inner.AddCronOpt(name, spec, timeout, opt, job)
}

func (s *capScheduler) AddInterval(name string, every time.Duration, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	if !s.caps.Allows(CapSchedulerWrite) {
		return "", deny(CapSchedulerWrite)
	}
	return s.inner.AddInterval(name, every, timeout, job)
}

func (s *capScheduler) AddIntervalOpt(name string, every time.Duration, timeout time.Duration, opt TaskOptions, job func(ctx context.Context) error) (string, error) {
	if !s.caps.Allows(CapSchedulerWrite) {
		return "", deny(CapSchedulerWrite)
	}
	return s.inner.AddIntervalOpt(name, every, timeout, opt, job)
}

func (s *capScheduler) AddDaily(name string, atHHMM string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	if !s.caps.Allows(CapSchedulerWrite) {
		return "", deny(CapSchedulerWrite)
	}
	return s.inner.AddDaily(name, atHHMM, timeout, job)
}

func (s *capScheduler) AddWeekly(name string, weekday time.Weekday, atHHMM string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	if !s.caps.Allows(CapSchedulerWrite) {
		return "", deny(CapSchedulerWrite)
	}
	return s.inner.AddWeekly(name, weekday, atHHMM, timeout, job)
}

func (s *capScheduler) Remove(name string) bool {
	if !s.caps.Allows(CapSchedulerWrite) {
		return false
	}
	return s.inner.Remove(name)
}

type capStore struct {
	inner storage.Store
	caps  *capRef
}

func (st *capStore) AppendAudit(ctx context.Context, e storage.AuditEntry) error {
	if st == nil || st.inner == nil {
		return storage.ErrDisabled
	}
	if !st.caps.AllowsAny(CapStorageAudit, CapStorageWrite) {
		return deny(CapStorageAudit)
	}
	return st.inner.AppendAudit(ctx, e)
}

func (st *capStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if st == nil || st.inner == nil {
		return storage.ErrDisabled
	}
	if !st.caps.Allows(CapStorageWrite) {
		return deny(CapStorageWrite)
	}
	return st.inner.PutDedup(ctx, key, until)
}

func (st *capStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if st == nil || st.inner == nil {
		return time.Time{}, false, storage.ErrDisabled
	}
	if !st.caps.AllowsAny(CapStorageRead, CapStorageWrite) {
		return time.Time{}, false, deny(CapStorageRead)
	}
	return st.inner.GetDedup(ctx, key)
}

func (st *capStore) InsertPrice(ctx context.Context, p storage.PriceSample) error {
	if st == nil || st.inner == nil {
		return storage.ErrDisabled
	}
	if !st.caps.Allows(CapStorageWrite) {
		return deny(CapStorageWrite)
	}
	return st.inner.InsertPrice(ctx, p)
}

func (st *capStore) LatestPrice(ctx context.Context, pair string) (storage.PriceSample, bool, error) {
	if st == nil || st.inner == nil {
		return storage.PriceSample{}, false, storage.ErrDisabled
	}
	if !st.caps.AllowsAny(CapStorageRead, CapStorageWrite) {
		return storage.PriceSample{}, false, deny(CapStorageRead)
	}
	return st.inner.LatestPrice(ctx, pair)
}

func (st *capStore) PriceAsOf(ctx context.Context, pair string, cutoff time.Time) (storage.PriceSample, bool, error) {
	if st == nil || st.inner == nil {
		return storage.PriceSample{}, false, storage.ErrDisabled
	}
	if !st.caps.AllowsAny(CapStorageRead, CapStorageWrite) {
		return storage.PriceSample{}, false, deny(CapStorageRead)
	}
	return st.inner.PriceAsOf(ctx, pair, cutoff)
}

func (st *capStore) PrunePrices(ctx context.Context, keep time.Duration) (int64, error) {
	if st == nil || st.inner == nil {
		return 0, storage.ErrDisabled
	}
	if !st.caps.Allows(CapStorageWrite) {
		return 0, deny(CapStorageWrite)
	}
	return st.inner.PrunePrices(ctx, keep)
}

func (st *capStore) InsertNews(ctx context.Context, item storage.NewsItem) error {
	if st == nil || st.inner == nil {
		return storage.ErrDisabled
	}
	if !st.caps.Allows(CapStorageWrite) {
		return deny(CapStorageWrite)
	}
	return st.inner.InsertNews(ctx, item)
}

func (st *capStore) RecentNews(ctx context.Context, since time.Time, limit int) ([]storage.NewsItem, error) {
	if st == nil || st.inner == nil {
		return nil, storage.ErrDisabled
	}
	if !st.caps.AllowsAny(CapStorageRead, CapStorageWrite) {
		return nil, deny(CapStorageRead)
	}
	return st.inner.RecentNews(ctx, since, limit)
}

func (st *capStore) PruneNews(ctx context.Context, keep time.Duration) (int64, error) {
	if st == nil || st.inner == nil {
		return 0, storage.ErrDisabled
	}
	if !st.caps.Allows(CapStorageWrite) {
		return 0, deny(CapStorageWrite)
	}
	return st.inner.PruneNews(ctx, keep)
}

func (st *capStore) LastDigestAt(ctx context.Context) (time.Time, bool, error) {
	if st == nil || st.inner == nil {
		return time.Time{}, false, storage.ErrDisabled
	}
	if !st.caps.AllowsAny(CapStorageRead, CapStorageWrite) {
		return time.Time{}, false, deny(CapStorageRead)
	}
	return st.inner.LastDigestAt(ctx)
}

func (st *capStore) MarkDigest(ctx context.Context, at time.Time, key string) error {
	if st == nil || st.inner == nil {
		return storage.ErrDisabled
	}
	if !st.caps.Allows(CapStorageWrite) {
		return deny(CapStorageWrite)
	}
	return st.inner.MarkDigest(ctx, at, key)
}

func (st *capStore) Close() error {
	// agents should not close the shared store; treat as no-op.
	return nil
}

func wrapServicesForAgent(s *Services, caps, chans *capRef) *Services {
	if s == nil {
		return nil
	}
	out := &Services{}
	// AgentsPort is read-only and is not capability-gated (operational surface).
	out.Agents = s.Agents
	// AppSupervisor is also operational/read-only.
	out.AppSupervisor = s.AppSupervisor
	if s.Scheduler != nil {
		out.Scheduler = &capScheduler{inner: s.Scheduler, caps: caps}
	}
	if s.Notifier != nil {
		out.Notifier = &capNotifier{inner: s.Notifier, caps: caps, chans: chans}
	}
	return out
}

func wrapStoreForAgent(st storage.Store, caps *capRef) storage.Store {
	if st == nil {
		return nil
	}
	return &capStore{inner: st, caps: caps}
}
