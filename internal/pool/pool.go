//go:build linux

// Package pool implements the per-language sandbox pool described in
// SPEC_FULL.md §4.4: pre-warmed REPL sandboxes for fast acquisition,
// O(1) non-blocking pops, parallel batch warmup, and exhaustion-triggered
// replenishment. The pool itself is stateless with respect to sessions —
// callers own the descriptor once acquired and are responsible for
// destroying it after use.
//
// Grounded on original_source/src/services/sandbox/pool.py's SandboxPool
// method-for-method (start/stop/acquire/destroy_sandbox/_warmup_loop/
// _warmup_language/_create_pooled_sandbox/_record_stats), restructured
// around Go channels in place of asyncio.Queue, and on the per-language
// channel-queue shape in the pack's haasonsaas-nexus sandbox pool
// (other_examples/1402269d_haasonsaas-nexus__internal-tools-sandbox-pool.go.go).
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/usnavy13/codebox/internal/config"
	"github.com/usnavy13/codebox/internal/domain"
	"github.com/usnavy13/codebox/internal/events"
	"github.com/usnavy13/codebox/internal/langregistry"
	"github.com/usnavy13/codebox/internal/replexec"
	"github.com/usnavy13/codebox/internal/sandbox"
)

// pooledEntry is one warm sandbox sitting in a language's queue.
type pooledEntry struct {
	desc *domain.SandboxDescriptor
	repl *replexec.Process
}

type languageQueue struct {
	language string
	queue    chan pooledEntry
	target   int
}

// Pool manages pre-warmed sandboxes per language.
type Pool struct {
	cfg *config.Config
	mgr *sandbox.Manager
	bus *events.Bus
	log zerolog.Logger

	queues map[string]*languageQueue

	mu          sync.Mutex
	stats       map[string]*domain.PoolStats
	replByBox   map[string]*replexec.Process
	warmupLangs []string

	running        bool
	stopCh         chan struct{}
	doneCh         chan struct{}
	exhaustionSig  chan struct{}
	exhaustionSubs <-chan events.Event
}

// New builds a Pool around an already-initialized sandbox.Manager.
func New(cfg *config.Config, mgr *sandbox.Manager, bus *events.Bus, log zerolog.Logger) *Pool {
	return &Pool{
		cfg:       cfg,
		mgr:       mgr,
		bus:       bus,
		log:       log.With().Str("component", "pool").Logger(),
		queues:    make(map[string]*languageQueue),
		stats:     make(map[string]*domain.PoolStats),
		replByBox: make(map[string]*replexec.Process),
	}
}

// targetSize returns the warmup queue size configured for a language. Only
// Python has a tunable knob today (SPEC_FULL.md §8); every other language
// runs one-shot and is never pre-warmed.
func (p *Pool) targetSize(language string) int {
	if language == "py" {
		return p.cfg.PythonPoolTargetSize
	}
	return 0
}

// Start initializes per-language queues and begins the background warmup
// loop. Calling Start twice is a no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.exhaustionSig = make(chan struct{}, 1)

	for _, code := range langregistry.Codes() {
		target := p.targetSize(code)
		queueCap := target
		if queueCap < 1 {
			queueCap = 1
		}
		p.queues[code] = &languageQueue{language: code, queue: make(chan pooledEntry, queueCap), target: target}
		if target > 0 {
			p.warmupLangs = append(p.warmupLangs, code)
		}
	}

	if p.cfg.ExhaustionTrigger && p.bus != nil {
		p.exhaustionSubs = p.bus.Subscribe()
		go p.watchExhaustion()
	}
	p.mu.Unlock()

	p.log.Info().Strs("warmup_languages", p.warmupLangs).
		Int("parallel_batch", p.cfg.ParallelBatch).
		Dur("replenish_interval", p.cfg.ReplenishInterval()).
		Bool("exhaustion_trigger", p.cfg.ExhaustionTrigger).
		Msg("sandbox pool started")

	go p.warmupLoop(ctx)
}

// Stop cancels the warmup loop, destroys every pooled sandbox, and kills
// the REPL process of every sandbox still checked out (their directories
// are left in place).
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	<-p.doneCh

	for lang, lq := range p.queues {
		count := p.drainQueue(lq)
		if count > 0 {
			p.log.Info().Str("language", lang).Int("count", count).Msg("destroyed pooled sandboxes")
		}
	}

	p.mu.Lock()
	for id, repl := range p.replByBox {
		killAndWait(repl)
		delete(p.replByBox, id)
	}
	p.mu.Unlock()

	p.log.Info().Msg("sandbox pool stopped")
}

// Acquire returns a sandbox for language, preferring a pre-warmed entry
// from the queue and falling back to fresh creation. sessionID is used
// only for event attribution and logging, never tracked internally.
func (p *Pool) Acquire(ctx context.Context, language, sessionID string) (*domain.SandboxDescriptor, *replexec.Process, error) {
	start := time.Now()
	lq := p.queues[language]

	if lq != nil {
		select {
		case entry := <-lq.queue:
			if entry.repl == nil || entry.repl.Alive() {
				acquireMs := float64(time.Since(start).Microseconds()) / 1000.0
				p.trackRepl(entry.desc.ID, entry.repl)
				p.recordHit(language, acquireMs)
				p.publish(events.Event{
					Kind:      events.KindContainerAcquiredFromPool,
					At:        time.Now().UTC(),
					SandboxID: entry.desc.ID,
					SessionID: sessionID,
					Language:  language,
					AcquireMs: acquireMs,
				})
				p.log.Info().Str("sandbox_id", short(entry.desc.ID)).Str("language", language).
					Float64("acquire_ms", acquireMs).Msg("acquired sandbox from pool")
				return entry.desc, entry.repl, nil
			}
			// REPL is dead; discard and fall through to fresh creation.
			p.destroyEntry(entry)
		default:
		}

		p.publish(events.Event{Kind: events.KindPoolExhausted, At: time.Now().UTC(), Language: language, SessionID: sessionID})
		p.signalExhaustion()
	}

	desc, repl, err := p.createFresh(ctx, sessionID, language)
	if err != nil {
		return nil, nil, err
	}
	p.recordMiss(language)
	p.trackRepl(desc.ID, repl)

	reason := "pool_empty"
	if lq == nil {
		reason = "pool_disabled"
	}
	p.publish(events.Event{
		Kind: events.KindContainerCreatedFresh, At: time.Now().UTC(),
		SandboxID: desc.ID, SessionID: sessionID, Language: language, Reason: reason,
	})
	p.log.Info().Str("sandbox_id", short(desc.ID)).Str("language", language).
		Bool("repl_mode", repl != nil).Msg("created fresh sandbox")
	return desc, repl, nil
}

// Destroy kills a sandbox's tracked REPL process (if any) and removes its
// directory tree.
func (p *Pool) Destroy(desc *domain.SandboxDescriptor) error {
	if desc == nil {
		return nil
	}
	p.mu.Lock()
	repl := p.replByBox[desc.ID]
	delete(p.replByBox, desc.ID)
	p.mu.Unlock()

	if repl != nil {
		killAndWait(repl)
	}
	return p.mgr.Destroy(desc)
}

// Stats returns a snapshot of every language's pool statistics, including
// languages that have never been acquired.
func (p *Pool) Stats() map[string]domain.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]domain.PoolStats, len(p.queues))
	for lang, lq := range p.queues {
		st := domain.PoolStats{Language: lang, Available: len(lq.queue)}
		if existing, ok := p.stats[lang]; ok {
			st = *existing
			st.Available = len(lq.queue)
		}
		out[lang] = st
	}
	return out
}

func (p *Pool) createFresh(ctx context.Context, sessionID, language string) (*domain.SandboxDescriptor, *replexec.Process, error) {
	useRepl := language == "py" && p.cfg.StatePersistenceEnabled

	desc, err := p.mgr.Create(sessionID, language, useRepl)
	if err != nil {
		return nil, nil, err
	}

	if !useRepl {
		return desc, nil, nil
	}

	repl, err := p.startRepl(ctx, desc)
	if err != nil {
		p.log.Warn().Str("sandbox_id", short(desc.ID)).Err(err).Msg("repl not ready in fresh sandbox")
		return desc, nil, nil
	}
	return desc, repl, nil
}

func (p *Pool) startRepl(ctx context.Context, desc *domain.SandboxDescriptor) (*replexec.Process, error) {
	proc, err := replexec.Start(ctx, p.cfg.SandboxRunner, p.cfg.ReplServerPath, p.cfg.SandboxBaseDir, desc)
	if err != nil {
		return nil, err
	}
	ready, err := proc.WaitForReady(p.cfg.ReplWarmupTimeout())
	if err != nil {
		_ = proc.Kill()
		_ = proc.Wait()
		return nil, err
	}
	if !ready {
		_ = proc.Kill()
		_ = proc.Wait()
		return nil, fmt.Errorf("pool: repl did not become ready within %s", p.cfg.ReplWarmupTimeout())
	}
	return proc, nil
}

func (p *Pool) warmupLoop(ctx context.Context) {
	defer close(p.doneCh)

	select {
	case <-time.After(2 * time.Second):
	case <-p.stopCh:
		return
	case <-ctx.Done():
		return
	}

	interval := p.cfg.ReplenishInterval()
	for {
		for _, lang := range p.warmupLangs {
			p.warmupLanguage(ctx, lang)
		}

		if p.cfg.ExhaustionTrigger {
			select {
			case <-p.exhaustionSig:
			case <-time.After(interval):
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			}
		} else {
			select {
			case <-time.After(interval):
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

func (p *Pool) watchExhaustion() {
	for ev := range p.exhaustionSubs {
		if ev.Kind == events.KindPoolExhausted {
			p.signalExhaustion()
		}
	}
}

func (p *Pool) signalExhaustion() {
	select {
	case p.exhaustionSig <- struct{}{}:
	default:
	}
}

func (p *Pool) warmupLanguage(ctx context.Context, language string) {
	lq := p.queues[language]
	if lq == nil {
		return
	}
	current := len(lq.queue)
	if current >= lq.target {
		return
	}
	needed := lq.target - current
	batch := p.cfg.ParallelBatch

	created := 0
	for start := 0; start < needed; start += batch {
		end := start + batch
		if end > needed {
			end = needed
		}
		count := end - start

		var wg sync.WaitGroup
		results := make([]*pooledEntry, count)
		for i := 0; i < count; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				entry, err := p.createPooledEntry(ctx, language)
				if err != nil {
					p.log.Warn().Str("language", language).Err(err).Msg("failed to create pooled sandbox")
					return
				}
				results[i] = entry
			}(i)
		}
		wg.Wait()

		for _, entry := range results {
			if entry == nil {
				continue
			}
			select {
			case lq.queue <- *entry:
				created++
			default:
				p.destroyEntry(*entry)
			}
		}
	}

	if created > 0 {
		p.publish(events.Event{Kind: events.KindPoolWarmedUp, At: time.Now().UTC(), Language: language, Count: created})
		p.log.Info().Str("language", language).Int("created", created).Int("total", len(lq.queue)).Msg("warmed up sandboxes")
	}
}

func (p *Pool) createPooledEntry(ctx context.Context, language string) (*pooledEntry, error) {
	poolSessionID := fmt.Sprintf("pool-%s-%s", language, uuid.New().String()[:12])
	useRepl := language == "py" && p.cfg.StatePersistenceEnabled

	desc, err := p.mgr.Create(poolSessionID, language, useRepl)
	if err != nil {
		return nil, err
	}

	if !useRepl {
		return &pooledEntry{desc: desc}, nil
	}

	repl, err := p.startRepl(ctx, desc)
	if err != nil {
		_ = p.mgr.Destroy(desc)
		return nil, err
	}
	return &pooledEntry{desc: desc, repl: repl}, nil
}

func (p *Pool) drainQueue(lq *languageQueue) int {
	count := 0
	for {
		select {
		case entry := <-lq.queue:
			p.destroyEntry(entry)
			count++
		default:
			return count
		}
	}
}

func (p *Pool) destroyEntry(entry pooledEntry) {
	if entry.repl != nil {
		killAndWait(entry.repl)
	}
	_ = p.mgr.Destroy(entry.desc)
}

func (p *Pool) trackRepl(sandboxID string, repl *replexec.Process) {
	if repl == nil {
		return
	}
	p.mu.Lock()
	p.replByBox[sandboxID] = repl
	p.mu.Unlock()
}

func (p *Pool) recordHit(language string, acquireMs float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.statsFor(language)
	st.RecordHit(acquireMs)
}

func (p *Pool) recordMiss(language string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.statsFor(language)
	st.RecordMiss()
}

func (p *Pool) statsFor(language string) *domain.PoolStats {
	st, ok := p.stats[language]
	if !ok {
		st = &domain.PoolStats{Language: language}
		p.stats[language] = st
	}
	return st
}

func (p *Pool) publish(ev events.Event) {
	if p.bus != nil {
		p.bus.Publish(ev)
	}
}

func killAndWait(repl *replexec.Process) {
	if repl == nil || !repl.Alive() {
		return
	}
	_ = repl.Kill()
	_ = repl.Wait()
}

func short(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
