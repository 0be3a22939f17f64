package descriptors

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/temcen/optirex/internal/space"
	"github.com/temcen/optirex/pkg/models"
)

type Config struct {
	AutoDescGen bool
	Learned     LearnedConfig
}

// Record is one usable observation: the option index chosen for every
// parameter (-1 for continuous ones) and its outcome quality.
type Record struct {
	Options []int
	Target  float64
}

// Embedder keeps the descriptor table of a run. Strategies are picked per
// parameter at construction:
//
//	categorical, auto_desc_gen    learned, seeded by user descriptors or one-hot
//	categorical, no auto_desc_gen static user descriptors or one-hot
//	discrete                      static override or [level]
type Embedder struct {
	space      *space.Space
	strategies []Strategy
	logger     *logrus.Logger

	mu      sync.RWMutex
	table   space.Table
	version uint64
}

func New(s *space.Space, cfg Config, logger *logrus.Logger) *Embedder {
	e := &Embedder{
		space:      s,
		strategies: make([]Strategy, s.NumParameters()),
		logger:     logger,
		version:    1,
	}

	for i, p := range s.Parameters() {
		switch p.Type {
		case models.ParameterCategorical:
			features := s.UserDescriptors(i)
			if features == nil {
				features = OneHot(len(s.Options(i)))
			}
			if cfg.AutoDescGen {
				lc := cfg.Learned
				lc.Seed = cfg.Learned.Seed + int64(i)
				e.strategies[i] = NewLearned(p.Name, features, lc)
			} else {
				e.strategies[i] = NewStatic(p.Name, features)
			}
		case models.ParameterDiscrete:
			features := s.UserDescriptors(i)
			if features == nil {
				levels := s.Levels(i)
				features = make([][]float64, len(levels))
				for j, l := range levels {
					features[j] = []float64{l}
				}
			}
			e.strategies[i] = NewStatic(p.Name, features)
		}
	}

	e.table = e.buildTable()
	return e
}

func (e *Embedder) buildTable() space.Table {
	table := make(space.Table)
	for _, st := range e.strategies {
		if st == nil {
			continue
		}
		table[st.Parameter()] = cloneVectors(st.Current())
	}
	return table
}

// Table returns a snapshot of the current descriptors.
func (e *Embedder) Table() space.Table {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.table.Clone()
}

// Version increases every time the table changes.
func (e *Embedder) Version() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.version
}

// Strategy returns the strategy serving a parameter.
func (e *Embedder) Strategy(name string) (Strategy, bool) {
	i, ok := e.space.Index(name)
	if !ok || e.strategies[i] == nil {
		return nil, false
	}
	return e.strategies[i], true
}

// Refresh brings every strategy in line with the records. The resulting
// table depends only on records, not on earlier calls. Training failures
// fall back to the embedding of a shorter history; they are logged and
// returned joined as warnings.
func (e *Embedder) Refresh(ctx context.Context, records []Record, force bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		errs    []error
		changed bool
	)
	for i, st := range e.strategies {
		if st == nil {
			continue
		}
		samples := make([]Sample, 0, len(records))
		for _, r := range records {
			if i < len(r.Options) && r.Options[i] >= 0 {
				samples = append(samples, Sample{Option: r.Options[i], Target: r.Target})
			}
		}

		updated, err := st.Update(ctx, samples, force)
		if err != nil {
			e.logger.WithError(err).WithFields(logrus.Fields{
				"parameter": st.Parameter(),
				"samples":   len(samples),
			}).Warn("Descriptor training failed, falling back to an earlier embedding")
			errs = append(errs, err)
		}
		if updated {
			changed = true
			e.logger.WithFields(logrus.Fields{
				"parameter": st.Parameter(),
				"samples":   len(samples),
				"strategy":  st.Kind(),
			}).Debug("Descriptors retrained")
		}
	}

	if changed {
		e.table = e.buildTable()
		e.version++
	}
	return errors.Join(errs...)
}
