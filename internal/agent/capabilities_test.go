package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"finwatch/internal/storage"
	kit "finwatch/internal/transport"
)

type fakeNotifierPort struct {
	mu  sync.Mutex
	got []kit.Notification
	def string
	all []string
}

func (f *fakeNotifierPort) Notify(_ context.Context, n kit.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, n)
	return nil
}

func (f *fakeNotifierPort) HasChannel(ch string) bool {
	for _, c := range f.all {
		if c == ch {
			return true
		}
	}
	return false
}

func (f *fakeNotifierPort) DefaultChannel() string { return f.def }

func (f *fakeNotifierPort) Channels() []string { return append([]string(nil), f.all...) }

type fakeSchedulerPort struct {
	added   []string
	removed []string
}

func (f *fakeSchedulerPort) Enabled() bool      { return true }
func (f *fakeSchedulerPort) Snapshot() Snapshot { return Snapshot{Enabled: true} }

func (f *fakeSchedulerPort) AddCron(name, _ string, _ time.Duration, _ func(ctx context.Context) error) (string, error) {
	f.added = append(f.added, name)
	return name, nil
}

func (f *fakeSchedulerPort) AddCronOpt(name, _ string, _ time.Duration, _ TaskOptions, _ func(ctx context.Context) error) (string, error) {
	f.added = append(f.added, name)
	return name, nil
}

func (f *fakeSchedulerPort) AddInterval(name string, _, _ time.Duration, _ func(ctx context.Context) error) (string, error) {
	f.added = append(f.added, name)
	return name, nil
}

func (f *fakeSchedulerPort) AddIntervalOpt(name string, _, _ time.Duration, _ TaskOptions, _ func(ctx context.Context) error) (string, error) {
	f.added = append(f.added, name)
	return name, nil
}

func (f *fakeSchedulerPort) AddDaily(name, _ string, _ time.Duration, _ func(ctx context.Context) error) (string, error) {
	f.added = append(f.added, name)
	return name, nil
}

func (f *fakeSchedulerPort) AddWeekly(name string, _ time.Weekday, _ string, _ time.Duration, _ func(ctx context.Context) error) (string, error) {
	f.added = append(f.added, name)
	return name, nil
}

func (f *fakeSchedulerPort) Remove(name string) bool {
	f.removed = append(f.removed, name)
	return true
}

type fakeStore struct {
	audits int
	writes int
}

func (f *fakeStore) AppendAudit(context.Context, storage.AuditEntry) error { f.audits++; return nil }
func (f *fakeStore) PutDedup(context.Context, string, time.Time) error     { f.writes++; return nil }
func (f *fakeStore) GetDedup(context.Context, string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}
func (f *fakeStore) InsertPrice(context.Context, storage.PriceSample) error { f.writes++; return nil }
func (f *fakeStore) LatestPrice(context.Context, string) (storage.PriceSample, bool, error) {
	return storage.PriceSample{Pair: "BTC-USD", Price: 100000, Currency: "USD"}, true, nil
}
func (f *fakeStore) PriceAsOf(context.Context, string, time.Time) (storage.PriceSample, bool, error) {
	return storage.PriceSample{}, false, nil
}
func (f *fakeStore) PrunePrices(context.Context, time.Duration) (int64, error) { return 0, nil }
func (f *fakeStore) InsertNews(context.Context, storage.NewsItem) error        { f.writes++; return nil }
func (f *fakeStore) RecentNews(context.Context, time.Time, int) ([]storage.NewsItem, error) {
	return nil, nil
}
func (f *fakeStore) PruneNews(context.Context, time.Duration) (int64, error) { return 0, nil }
func (f *fakeStore) LastDigestAt(context.Context) (time.Time, bool, error) {
	return time.Time{}, false, nil
}
func (f *fakeStore) MarkDigest(context.Context, time.Time, string) error { f.writes++; return nil }
func (f *fakeStore) Close() error                                        { return errors.New("closed") }

func noopJob(context.Context) error { return nil }

func TestCapRef(t *testing.T) {
	t.Parallel()

	r := newCapRef(nil)
	if !r.Allows("anything") {
		t.Fatalf("empty allowlist should allow everything")
	}

	r.Update([]string{CapNotifySend, CapStorageRead})
	if !r.Allows(CapNotifySend) || !r.Allows(CapStorageRead) {
		t.Fatalf("listed capabilities should be allowed")
	}
	if r.Allows(CapSchedulerWrite) {
		t.Fatalf("unlisted capability should be denied")
	}
	if !r.AllowsAny(CapSchedulerWrite, CapStorageRead) {
		t.Fatalf("AllowsAny should pass when one name matches")
	}

	r.Update(nil)
	if !r.Allows(CapSchedulerWrite) {
		t.Fatalf("Update(nil) should reset to allow-all")
	}

	var nilRef *capRef
	if !nilRef.Allows("x") {
		t.Fatalf("nil capRef should allow (ungated)")
	}
}

func TestCapNotifierChannelGate(t *testing.T) {
	t.Parallel()

	inner := &fakeNotifierPort{def: "telegram", all: []string{"telegram", "email"}}
	n := &capNotifier{
		inner: inner,
		caps:  newCapRef([]string{CapNotifySend}),
		chans: newCapRef([]string{"email"}),
	}

	// An empty channel resolves to the default before the allowlist check.
	err := n.Notify(context.Background(), kit.Notification{Text: "hi"})
	if !errors.Is(err, ErrChannelDenied) {
		t.Fatalf("Notify(default) err = %v, want ErrChannelDenied", err)
	}

	if err := n.Notify(context.Background(), kit.Notification{Channel: "email", Text: "hi"}); err != nil {
		t.Fatalf("Notify(email) err = %v", err)
	}
	if len(inner.got) != 1 || inner.got[0].Channel != "email" {
		t.Fatalf("inner got %+v, want one email notification", inner.got)
	}

	if n.HasChannel("telegram") {
		t.Fatalf("HasChannel(telegram) = true, want false")
	}
	if !n.HasChannel("email") {
		t.Fatalf("HasChannel(email) = false, want true")
	}
	if got := n.Channels(); len(got) != 1 || got[0] != "email" {
		t.Fatalf("Channels() = %v, want [email]", got)
	}
}

func TestCapNotifierCapabilityGate(t *testing.T) {
	t.Parallel()

	inner := &fakeNotifierPort{def: "telegram", all: []string{"telegram"}}
	n := &capNotifier{
		inner: inner,
		caps:  newCapRef([]string{CapStorageRead}),
		chans: newCapRef(nil),
	}

	err := n.Notify(context.Background(), kit.Notification{Text: "hi"})
	if !errors.Is(err, ErrCapabilityDenied) {
		t.Fatalf("Notify err = %v, want ErrCapabilityDenied", err)
	}
	if len(inner.got) != 0 {
		t.Fatalf("inner notifier should not have been called")
	}
}

func TestCapSchedulerGate(t *testing.T) {
	t.Parallel()

	inner := &fakeSchedulerPort{}
	ro := &capScheduler{inner: inner, caps: newCapRef([]string{CapSchedulerRead})}

	if !ro.Enabled() {
		t.Fatalf("read capability should permit Enabled()")
	}
	if snap := ro.Snapshot(); !snap.Enabled {
		t.Fatalf("read capability should permit Snapshot()")
	}
	if _, err := ro.AddInterval("job", time.Minute, time.Second, noopJob); !errors.Is(err, ErrCapabilityDenied) {
		t.Fatalf("AddInterval err = %v, want ErrCapabilityDenied", err)
	}
	if ro.Remove("job") {
		t.Fatalf("Remove should report false without scheduler.write")
	}
	if len(inner.added) != 0 || len(inner.removed) != 0 {
		t.Fatalf("inner scheduler should be untouched, got added=%v removed=%v", inner.added, inner.removed)
	}

	rw := &capScheduler{inner: inner, caps: newCapRef([]string{CapSchedulerWrite})}
	if _, err := rw.AddDaily("digest", "07:30", time.Minute, noopJob); err != nil {
		t.Fatalf("AddDaily err = %v", err)
	}
	if !rw.Enabled() {
		t.Fatalf("write capability should also permit reads")
	}
	if len(inner.added) != 1 || inner.added[0] != "digest" {
		t.Fatalf("added = %v, want [digest]", inner.added)
	}
}

func TestCapStoreGate(t *testing.T) {
	t.Parallel()

	inner := &fakeStore{}
	ctx := context.Background()

	ro := wrapStoreForAgent(inner, newCapRef([]string{CapStorageRead}))
	if _, ok, err := ro.LatestPrice(ctx, "BTC-USD"); err != nil || !ok {
		t.Fatalf("LatestPrice = (ok=%v, err=%v), want sample via read capability", ok, err)
	}
	if err := ro.InsertPrice(ctx, storage.PriceSample{}); !errors.Is(err, ErrCapabilityDenied) {
		t.Fatalf("InsertPrice err = %v, want ErrCapabilityDenied", err)
	}
	if err := ro.AppendAudit(ctx, storage.AuditEntry{}); !errors.Is(err, ErrCapabilityDenied) {
		t.Fatalf("AppendAudit err = %v, want ErrCapabilityDenied", err)
	}

	audit := wrapStoreForAgent(inner, newCapRef([]string{CapStorageAudit}))
	if err := audit.AppendAudit(ctx, storage.AuditEntry{}); err != nil {
		t.Fatalf("AppendAudit err = %v", err)
	}
	if err := audit.PutDedup(ctx, "k", time.Now()); !errors.Is(err, ErrCapabilityDenied) {
		t.Fatalf("PutDedup err = %v, want ErrCapabilityDenied", err)
	}

	// Close never reaches the shared store.
	if err := ro.Close(); err != nil {
		t.Fatalf("Close err = %v, want nil", err)
	}

	if inner.writes != 0 {
		t.Fatalf("inner.writes = %d, want 0", inner.writes)
	}
	if inner.audits != 1 {
		t.Fatalf("inner.audits = %d, want 1", inner.audits)
	}
}
