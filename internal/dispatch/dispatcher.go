package dispatch

import (
	"context"
	"sync/atomic"

	"zideebot/internal/domain"
	"zideebot/internal/metrics"
)

// snapshot is one consistent catalog, rule list and executor. It is replaced
// as a whole on reload, never edited.
type snapshot struct {
	catalog    *Catalog
	classifier *Classifier
	executor   *Executor
}

// Dispatcher classifies and executes messages against the current catalog.
type Dispatcher struct {
	cur atomic.Pointer[snapshot]
}

// NewDispatcher builds a dispatcher. cfg.Catalog is ignored in favour of cat.
func NewDispatcher(cat *Catalog, cfg ExecutorConfig) *Dispatcher {
	if cat == nil {
		cat = DefaultCatalog()
	}
	cfg.Catalog = cat
	d := &Dispatcher{}
	d.cur.Store(&snapshot{
		catalog:    cat,
		classifier: NewClassifier(DefaultRules(cat)),
		executor:   NewExecutor(cfg),
	})
	return d
}

// Swap installs a new catalog. Messages already being handled finish with the
// previous one.
func (d *Dispatcher) Swap(cat *Catalog) {
	old := d.cur.Load()
	d.cur.Store(&snapshot{
		catalog:    cat,
		classifier: NewClassifier(DefaultRules(cat)),
		executor:   old.executor.WithCatalog(cat),
	})
}

func (d *Dispatcher) Catalog() *Catalog {
	return d.cur.Load().catalog
}

func (d *Dispatcher) Classify(text string) Classification {
	return d.cur.Load().classifier.Classify(text)
}

// Handle classifies msg and runs the command. Unrecognized messages yield a
// zero Result.
func (d *Dispatcher) Handle(ctx context.Context, msg domain.InboundMessage) (Classification, Result) {
	s := d.cur.Load()
	cls := s.classifier.Classify(msg.Content)
	if !cls.Recognized() {
		return cls, Result{}
	}
	metrics.CommandCounter(cls.Command).Inc()
	return cls, s.executor.Execute(ctx, cls, msg)
}
