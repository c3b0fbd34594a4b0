package parser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/docker/agent-substrate/pkg/errkind"
)

// InstanceState is a parser instance's position in its lifecycle.
type InstanceState int

const (
	StateIdle InstanceState = iota
	StateInUse
	StatePoisoned
)

// DefaultMaxInstancesPerLanguage bounds how many parser instances the
// pool will create for a single language before callers block waiting
// for one to be checked in.
const DefaultMaxInstancesPerLanguage = 8

type instance struct {
	parser *sitter.Parser
	state  InstanceState
}

// languagePool owns every live parser instance for one Language.
type languagePool struct {
	mu        sync.Mutex
	cond      *sync.Cond
	lang      Language
	sitterLng *sitter.Language
	instances []*instance
	maxSize   int
}

func newLanguagePool(lang Language, sitterLng *sitter.Language, maxSize int) *languagePool {
	lp := &languagePool{
		lang:      lang,
		sitterLng: sitterLng,
		maxSize:   maxSize,
	}
	lp.cond = sync.NewCond(&lp.mu)
	return lp
}

// checkout returns an Idle instance, creating one if under maxSize, or
// blocks (respecting ctx cancellation) until one is checked in.
func (lp *languagePool) checkout(ctx context.Context) (*instance, error) {
	lp.mu.Lock()
	defer lp.mu.Unlock()

	for {
		for _, inst := range lp.instances {
			if inst.state == StateIdle {
				inst.state = StateInUse
				return inst, nil
			}
		}

		if len(lp.instances) < lp.maxSize {
			p := sitter.NewParser()
			p.SetLanguage(lp.sitterLng)
			inst := &instance{parser: p, state: StateInUse}
			lp.instances = append(lp.instances, inst)
			return inst, nil
		}

		if err := ctx.Err(); err != nil {
			return nil, errkind.New(errkind.Cancelled, err)
		}

		// The helper waits on the lock held here: cond.Wait releases it
		// once registered and reacquires it on wake-up, and the helper
		// then releases it before signalling.
		waitCh := make(chan struct{})
		go func() {
			lp.cond.Wait()
			lp.mu.Unlock()
			close(waitCh)
		}()
		select {
		case <-ctx.Done():
			lp.mu.Lock()
			lp.cond.Broadcast()
			return nil, errkind.New(errkind.Cancelled, ctx.Err())
		case <-waitCh:
			lp.mu.Lock()
		}
	}
}

// checkin returns inst to Idle (a poisoned instance stays poisoned) and
// wakes every waiter.
func (lp *languagePool) checkin(inst *instance) {
	lp.mu.Lock()
	defer lp.mu.Unlock()

	if inst.state != StatePoisoned {
		inst.state = StateIdle
	}
	lp.cond.Broadcast()
}

// Pool is the process-wide collection of languagePools, one per
// Language actually requested.
type Pool struct {
	mu         sync.Mutex
	pools      map[Language]*languagePool
	maxPerLang int
}

// NewPool returns a Pool bounding each language to maxPerLang concurrent
// parser instances. A value <= 0 uses DefaultMaxInstancesPerLanguage.
func NewPool(maxPerLang int) *Pool {
	if maxPerLang <= 0 {
		maxPerLang = DefaultMaxInstancesPerLanguage
	}
	return &Pool{
		pools:      make(map[Language]*languagePool),
		maxPerLang: maxPerLang,
	}
}

func (p *Pool) poolFor(lang Language) (*languagePool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if lp, ok := p.pools[lang]; ok {
		return lp, nil
	}

	sitterLng, ok := Get(lang)
	if !ok {
		return nil, errkind.New(errkind.Input, fmt.Errorf("unsupported language %q", lang))
	}

	lp := newLanguagePool(lang, sitterLng, p.maxPerLang)
	p.pools[lang] = lp
	return lp, nil
}

// Checkout obtains a parser for lang, blocking under contention until
// one becomes available or ctx is done.
func (p *Pool) Checkout(ctx context.Context, lang Language) (*sitter.Parser, func(), error) {
	lp, err := p.poolFor(lang)
	if err != nil {
		return nil, nil, err
	}

	inst, err := lp.checkout(ctx)
	if err != nil {
		return nil, nil, err
	}

	checkin := func() { lp.checkin(inst) }
	return inst.parser, checkin, nil
}

// ParseWithPool checks out a parser for lang, parses src, and checks the
// parser back in before returning. Parse errors from tree-sitter itself
// (grammar load failure) are reported as errkind.Internal; a tree
// containing error nodes is still returned, with Tree.HasErrors() true.
func (p *Pool) ParseWithPool(ctx context.Context, lang Language, src []byte, previous *sitter.Tree) (*sitter.Tree, error) {
	parser, checkin, err := p.Checkout(ctx, lang)
	if err != nil {
		return nil, err
	}
	defer checkin()

	tree, err := parser.ParseCtx(ctx, previous, src)
	if err != nil {
		slog.Debug("parser pool: parse failed", "language", lang, "error", err)
		return nil, errkind.New(errkind.Internal, fmt.Errorf("parse %s: %w", lang, err))
	}
	return tree, nil
}
