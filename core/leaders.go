package core

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LeaderSource produces an ordered snapshot of candidate destinations per
// spec.md §4.2. The send/retry engine treats it as opaque beyond length and
// per-entry IP; the caller must not assume stability across calls.
type LeaderSource interface {
	CurrentLeaders(ctx context.Context) []LeaderEntry
}

// StaticLeaderSource always yields exactly one entry with a configured IP.
// Per Open Question 4, it carries no port: the teacher's static-leader
// variant stored a sentinel port that the engine always overrode, so the
// type here simply has nowhere to put a misleading one.
type StaticLeaderSource struct {
	ip string
}

// NewStaticLeaderSource returns a LeaderSource fixed to ip.
func NewStaticLeaderSource(ip string) *StaticLeaderSource {
	return &StaticLeaderSource{ip: ip}
}

// CurrentLeaders implements LeaderSource.
func (s *StaticLeaderSource) CurrentLeaders(_ context.Context) []LeaderEntry {
	return []LeaderEntry{{IP: s.ip}}
}

// scheduleEntry is the wire shape of the external leader-schedule feed.
type scheduleEntry struct {
	IP string `json:"ip"`
}

// DynamicLeaderSource tracks a current schedule fetched from an external
// HTTP feed, refreshed on a background interval. Grounded on the teacher's
// periodic-refresh idiom (core/peer_management.go's interval-driven
// view-changer), generalized from peer latency tracking to leader-schedule
// polling.
type DynamicLeaderSource struct {
	url    string
	client *http.Client
	log    *logrus.Logger

	preferred *PreferredValidatorList

	mu       sync.RWMutex
	snapshot []LeaderEntry

	closing   chan struct{}
	closeOnce sync.Once
}

// NewDynamicLeaderSource starts polling url every refreshPeriod. preferred
// may be nil if no side lookup is configured.
func NewDynamicLeaderSource(url string, refreshPeriod time.Duration, preferred *PreferredValidatorList, log *logrus.Logger) *DynamicLeaderSource {
	d := &DynamicLeaderSource{
		url:       url,
		client:    &http.Client{Timeout: 5 * time.Second},
		log:       log,
		preferred: preferred,
		closing:   make(chan struct{}),
	}
	d.refresh()
	go d.loop(refreshPeriod)
	return d
}

// CurrentLeaders implements LeaderSource, returning the last good snapshot.
func (d *DynamicLeaderSource) CurrentLeaders(_ context.Context) []LeaderEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]LeaderEntry, len(d.snapshot))
	copy(out, d.snapshot)
	return out
}

// Close stops the background refresh loop.
func (d *DynamicLeaderSource) Close() {
	d.closeOnce.Do(func() { close(d.closing) })
}

func (d *DynamicLeaderSource) loop(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.refresh()
		case <-d.closing:
			return
		}
	}
}

func (d *DynamicLeaderSource) refresh() {
	req, err := http.NewRequest(http.MethodGet, d.url, nil)
	if err != nil {
		d.logErr(err)
		return
	}
	resp, err := d.client.Do(req)
	if err != nil {
		d.logErr(err)
		return
	}
	defer resp.Body.Close()

	var entries []scheduleEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		d.logErr(err)
		return
	}

	var trusted map[string]bool
	if d.preferred != nil {
		trusted = d.preferred.Snapshot()
	}

	next := make([]LeaderEntry, 0, len(entries))
	for _, e := range entries {
		if e.IP == "" {
			continue
		}
		next = append(next, LeaderEntry{IP: e.IP, Trusted: trusted[e.IP]})
	}

	// Keep the prior snapshot on an empty fetch rather than flapping the
	// retry loop to zero destinations on a transient upstream hiccup.
	if len(next) == 0 {
		return
	}

	d.mu.Lock()
	d.snapshot = next
	d.mu.Unlock()
}

func (d *DynamicLeaderSource) logErr(err error) {
	if d.log != nil {
		d.log.WithError(err).Warn("leader schedule refresh failed")
	}
}

// PreferredValidatorList is the external, out-of-scope side lookup of
// "preferred" validator identities from spec.md §1. It is consumed only by
// DynamicLeaderSource, which uses it only to set LeaderEntry.Trusted — it
// never filters or reorders the send fan-out, and no metric reads the tag.
type PreferredValidatorList struct {
	url    string
	client *http.Client
	log    *logrus.Logger

	mu   sync.RWMutex
	seen map[string]bool

	closing   chan struct{}
	closeOnce sync.Once
}

// NewPreferredValidatorList starts polling url every refreshPeriod for a
// JSON array of preferred IP strings.
func NewPreferredValidatorList(url string, refreshPeriod time.Duration, log *logrus.Logger) *PreferredValidatorList {
	p := &PreferredValidatorList{
		url:     url,
		client:  &http.Client{Timeout: 5 * time.Second},
		log:     log,
		seen:    make(map[string]bool),
		closing: make(chan struct{}),
	}
	p.refresh()
	go p.loop(refreshPeriod)
	return p
}

// Snapshot returns a copy of the current preferred-IP set.
func (p *PreferredValidatorList) Snapshot() map[string]bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]bool, len(p.seen))
	for k, v := range p.seen {
		out[k] = v
	}
	return out
}

// Close stops the background refresh loop.
func (p *PreferredValidatorList) Close() {
	p.closeOnce.Do(func() { close(p.closing) })
}

func (p *PreferredValidatorList) loop(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.refresh()
		case <-p.closing:
			return
		}
	}
}

func (p *PreferredValidatorList) refresh() {
	resp, err := p.client.Get(p.url)
	if err != nil {
		if p.log != nil {
			p.log.WithError(err).Warn("preferred validator list refresh failed")
		}
		return
	}
	defer resp.Body.Close()

	var ips []string
	if err := json.NewDecoder(resp.Body).Decode(&ips); err != nil {
		if p.log != nil {
			p.log.WithError(err).Warn("preferred validator list decode failed")
		}
		return
	}

	next := make(map[string]bool, len(ips))
	for _, ip := range ips {
		next[ip] = true
	}

	p.mu.Lock()
	p.seen = next
	p.mu.Unlock()
}
