package profile

import (
	"context"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// snapshot is one immutable view of all loaded profiles. Resolve reads the
// whole snapshot atomically, so a reload never tears an in-flight lookup.
type snapshot struct {
	profiles map[string]*Profile
	fallback *Profile
	loadedAt time.Time
}

// Registry resolves domains to crawl profiles. Reads are lock-free via an
// atomic snapshot pointer; Reload swaps the snapshot wholesale.
type Registry struct {
	path string
	snap atomic.Pointer[snapshot]
}

// NewRegistry loads sites.yml from path. A missing or invalid file is not an
// error: the registry starts with the built-in default profile only.
func NewRegistry(path string) *Registry {
	r := &Registry{path: path}
	if err := r.Reload(); err != nil {
		zap.L().Warn("site profiles unavailable, using defaults",
			zap.String("path", path),
			zap.Error(err),
		)
		r.snap.Store(&snapshot{
			profiles: map[string]*Profile{},
			fallback: DefaultProfile(),
			loadedAt: time.Now(),
		})
	}
	return r
}

// Resolve returns the most specific profile for a domain: exact match, then
// registered-suffix match (a gov.uk profile covers grants.gov.uk), then the
// default. The returned profile must not be mutated.
func (r *Registry) Resolve(domain string) *Profile {
	snap := r.snap.Load()

	domain = strings.ToLower(strings.TrimPrefix(domain, "www."))
	if p, ok := snap.profiles[domain]; ok {
		return p
	}
	// Longest registered suffix wins, so service.gov.uk beats gov.uk for a
	// host under both.
	var best *Profile
	var bestLen int
	for registered, p := range snap.profiles {
		if strings.HasSuffix(domain, "."+registered) && len(registered) > bestLen {
			best = p
			bestLen = len(registered)
		}
	}
	if best != nil {
		return best
	}
	return snap.fallback
}

// Domains lists the registered domains in the current snapshot.
func (r *Registry) Domains() []string {
	snap := r.snap.Load()
	out := make([]string, 0, len(snap.profiles))
	for d := range snap.profiles {
		out = append(out, d)
	}
	return out
}

// LoadedAt reports when the current snapshot was built.
func (r *Registry) LoadedAt() time.Time {
	return r.snap.Load().loadedAt
}

// Reload re-reads sites.yml and swaps the snapshot. On any error the previous
// snapshot stays in place; in-flight Resolve calls are never interrupted.
func (r *Registry) Reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return eris.Wrapf(err, "profile: read %s", r.path)
	}

	var raw map[string]*Profile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return eris.Wrapf(err, "profile: parse %s", r.path)
	}

	snap := &snapshot{
		profiles: make(map[string]*Profile, len(raw)),
		fallback: DefaultProfile(),
		loadedAt: time.Now(),
	}
	for domain, p := range raw {
		if p == nil {
			continue
		}
		domain = strings.ToLower(strings.TrimPrefix(domain, "www."))
		p.Domain = domain
		if domain == "default" {
			snap.fallback = p
			continue
		}
		snap.profiles[domain] = p
	}

	r.snap.Store(snap)
	zap.L().Info("site profiles loaded",
		zap.String("path", r.path),
		zap.Int("profiles", len(snap.profiles)),
	)
	return nil
}

// Watch hot-reloads the registry until ctx is canceled: fsnotify events on
// the profile file trigger an immediate reload, and a timer reload runs as a
// fallback for filesystems where watches are unreliable. Reload failures are
// logged and the previous snapshot stays active.
func (r *Registry) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err := watcher.Add(r.path); err != nil {
			zap.L().Debug("profile watch unavailable", zap.Error(err))
			watcher.Close()
			watcher = nil
		}
	} else {
		watcher = nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	if watcher != nil {
		defer watcher.Close()
	}

	var events chan fsnotify.Event
	if watcher != nil {
		events = watcher.Events
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				r.reloadLogged()
			}
		case <-ticker.C:
			r.reloadLogged()
		}
	}
}

func (r *Registry) reloadLogged() {
	if err := r.Reload(); err != nil {
		zap.L().Warn("site profile reload failed, keeping previous snapshot", zap.Error(err))
	}
}
