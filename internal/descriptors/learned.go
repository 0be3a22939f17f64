package descriptors

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/temcen/optirex/pkg/models"
)

// LearnedConfig controls when and how a Learned strategy trains.
type LearnedConfig struct {
	MinObservationsPerOption int
	RetrainInterval          int
	Epochs                   int
	LearningRate             float64
	L2                       float64
	Seed                     int64
}

func (c LearnedConfig) withDefaults() LearnedConfig {
	if c.MinObservationsPerOption <= 0 {
		c.MinObservationsPerOption = 1
	}
	if c.RetrainInterval <= 0 {
		c.RetrainInterval = 1
	}
	if c.Epochs <= 0 {
		c.Epochs = 300
	}
	if c.LearningRate <= 0 {
		c.LearningRate = 0.05
	}
	if c.L2 < 0 {
		c.L2 = 0
	}
	return c
}

// Learned embeds options through the hidden layer of a one-layer regressor
// y = w·tanh(W x + b) + c trained to predict outcome quality from option
// features. The hidden width equals the feature width so the dimensionality
// never changes between placeholder and trained embeddings.
//
// The embedding is a function of the samples alone: training always uses a
// prefix whose length is a multiple of RetrainInterval, and results are
// memoized by prefix content.
type Learned struct {
	name     string
	cfg      LearnedConfig
	features [][]float64

	mu         sync.RWMutex
	current    [][]float64
	currentKey string // empty while the placeholder is in use
	results    map[string]trainResult
	order      []string
}

type trainResult struct {
	emb [][]float64
	err error
}

const (
	// maxFallbacks bounds how many shorter prefixes are tried after a failed
	// training run before the placeholder is used.
	maxFallbacks = 8
	// memoSize is the number of training results kept per parameter.
	memoSize = 16
)

func NewLearned(name string, features [][]float64, cfg LearnedConfig) *Learned {
	return &Learned{
		name:     name,
		cfg:      cfg.withDefaults(),
		features: cloneVectors(features),
		current:  cloneVectors(features),
		results:  make(map[string]trainResult),
	}
}

func (l *Learned) Parameter() string        { return l.name }
func (l *Learned) Placeholder() [][]float64 { return l.features }
func (l *Learned) Kind() string             { return "learned" }

func (l *Learned) Current() [][]float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Trained reports whether Current comes from a successful training run.
func (l *Learned) Trained() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.currentKey != ""
}

// Update selects the embedding for samples. It trains on the longest prefix
// whose length is a multiple of RetrainInterval (every sample when force is
// set) in which each option has at least MinObservationsPerOption samples.
// When that run fails the previous prefix, RetrainInterval samples shorter,
// is used instead; the placeholder serves when no prefix qualifies. Only
// failures of runs made during this call are returned.
func (l *Learned) Update(ctx context.Context, samples []Sample, force bool) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	step := l.cfg.RetrainInterval
	n := len(samples)
	if !force {
		n -= n % step
	}

	var firstErr error
	emb, key := l.features, ""
	for attempt := 0; n > 0 && attempt < maxFallbacks; attempt++ {
		prefix := samples[:n]
		if !l.covered(prefix) {
			break
		}
		k := prefixKey(prefix)
		res, ok := l.results[k]
		if !ok {
			trained, err := l.train(ctx, prefix)
			if err != nil && ctx.Err() != nil {
				return false, err
			}
			res = trainResult{emb: trained, err: err}
			l.remember(k, res)
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if res.err == nil {
			emb, key = res.emb, k
			break
		}
		next := n - n%step
		if next == n {
			next -= step
		}
		n = next
	}

	changed := key != l.currentKey
	l.current, l.currentKey = emb, key
	return changed, firstErr
}

// covered reports whether every option has enough samples to be learned.
func (l *Learned) covered(samples []Sample) bool {
	counts := make([]int, len(l.features))
	for _, s := range samples {
		if s.Option >= 0 && s.Option < len(counts) {
			counts[s.Option]++
		}
	}
	for _, c := range counts {
		if c < l.cfg.MinObservationsPerOption {
			return false
		}
	}
	return true
}

func (l *Learned) remember(key string, res trainResult) {
	if len(l.order) >= memoSize {
		delete(l.results, l.order[0])
		l.order = l.order[1:]
	}
	l.results[key] = res
	l.order = append(l.order, key)
}

func prefixKey(samples []Sample) string {
	h := sha256.New()
	var buf [16]byte
	for _, s := range samples {
		binary.LittleEndian.PutUint64(buf[:8], uint64(int64(s.Option)))
		binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(s.Target))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (l *Learned) fail(format string, args ...interface{}) error {
	return &models.EmbedderTrainingError{Parameter: l.name, Reason: fmt.Sprintf(format, args...)}
}

func (l *Learned) train(ctx context.Context, samples []Sample) ([][]float64, error) {
	n := len(samples)
	in := len(l.features[0])
	hidden := in

	targets := make([]float64, n)
	x := mat.NewDense(n, in, nil)
	for i, s := range samples {
		if s.Option < 0 || s.Option >= len(l.features) {
			return nil, l.fail("sample %d references option %d of %d", i, s.Option, len(l.features))
		}
		x.SetRow(i, l.features[s.Option])
		targets[i] = s.Target
	}
	if n < 2 || !(stat.Variance(targets, nil) >= 1e-12) {
		return nil, l.fail("targets have zero variance")
	}
	mean := stat.Mean(targets, nil)

	rng := rand.New(rand.NewSource(l.cfg.Seed))
	w1 := mat.NewDense(hidden, in, nil)
	for r := 0; r < hidden; r++ {
		for c := 0; c < in; c++ {
			v := 0.1 * rng.NormFloat64()
			if r == c {
				v += 1
			}
			w1.Set(r, c, v)
		}
	}
	b1 := make([]float64, hidden)
	w2 := make([]float64, hidden)
	for i := range w2 {
		w2[i] = 0.1 * rng.NormFloat64()
	}
	c2 := mean

	opt := newAdam(hidden*in+2*hidden+1, l.cfg.LearningRate)
	params := make([]float64, hidden*in+2*hidden+1)
	grads := make([]float64, len(params))

	var h, dz mat.Dense
	for epoch := 0; epoch < l.cfg.Epochs; epoch++ {
		if epoch%25 == 0 && ctx.Err() != nil {
			return nil, l.fail("training interrupted: %v", ctx.Err())
		}

		// Forward pass.
		h.Mul(x, w1.T())
		h.Apply(func(_, j int, v float64) float64 { return math.Tanh(v + b1[j]) }, &h)
		pred := mat.NewVecDense(n, nil)
		pred.MulVec(&h, mat.NewVecDense(hidden, w2))

		residual := make([]float64, n)
		var loss float64
		for i := 0; i < n; i++ {
			residual[i] = pred.AtVec(i) + c2 - targets[i]
			loss += residual[i] * residual[i]
		}
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return nil, l.fail("loss diverged at epoch %d", epoch)
		}
		floats.Scale(2/float64(n), residual)
		res := mat.NewVecDense(n, residual)

		// Backward pass.
		gw2 := mat.NewVecDense(hidden, nil)
		gw2.MulVec(h.T(), res)
		gc2 := floats.Sum(residual)

		dz.Apply(func(i, j int, v float64) float64 {
			return residual[i] * w2[j] * (1 - v*v)
		}, &h)
		var gw1 mat.Dense
		gw1.Mul(dz.T(), x)
		if l.cfg.L2 > 0 {
			gw1.Add(&gw1, scaled(l.cfg.L2, w1))
		}
		gb1 := make([]float64, hidden)
		for j := 0; j < hidden; j++ {
			gb1[j] = floats.Sum(mat.Col(nil, j, &dz))
		}

		pack(params, w1, b1, w2, c2)
		pack(grads, &gw1, gb1, gw2.RawVector().Data, gc2)
		opt.step(params, grads)
		c2 = unpack(params, w1, b1, w2)
	}

	emb := make([][]float64, len(l.features))
	z := make([]float64, hidden)
	for j, f := range l.features {
		zv := mat.NewVecDense(hidden, z)
		zv.MulVec(w1, mat.NewVecDense(in, append([]float64(nil), f...)))
		out := make([]float64, hidden)
		for k := range out {
			out[k] = math.Tanh(zv.AtVec(k) + b1[k])
			if math.IsNaN(out[k]) || math.IsInf(out[k], 0) {
				return nil, l.fail("embedding of option %d is not finite", j)
			}
		}
		emb[j] = out
	}
	for a := 0; a < len(emb); a++ {
		for b := a + 1; b < len(emb); b++ {
			if floats.Distance(emb[a], emb[b], 2) < 1e-6 {
				return nil, l.fail("options %d and %d collapsed to the same embedding", a, b)
			}
		}
	}
	return emb, nil
}

func scaled(alpha float64, m *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Scale(alpha, m)
	return &out
}

func pack(dst []float64, w1 *mat.Dense, b1, w2 []float64, c2 float64) {
	r, c := w1.Dims()
	k := 0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			dst[k] = w1.At(i, j)
			k++
		}
	}
	k += copy(dst[k:], b1)
	k += copy(dst[k:], w2)
	dst[k] = c2
}

func unpack(src []float64, w1 *mat.Dense, b1, w2 []float64) float64 {
	r, c := w1.Dims()
	k := 0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			w1.Set(i, j, src[k])
			k++
		}
	}
	k += copy(b1, src[k:k+len(b1)])
	k += copy(w2, src[k:k+len(w2)])
	return src[k]
}

// adam is a plain first-order Adam optimizer over a flat parameter vector.
type adam struct {
	lr, beta1, beta2, eps float64
	m, v                  []float64
	t                     int
}

func newAdam(size int, lr float64) *adam {
	return &adam{
		lr:    lr,
		beta1: 0.9,
		beta2: 0.999,
		eps:   1e-8,
		m:     make([]float64, size),
		v:     make([]float64, size),
	}
}

func (a *adam) step(params, grads []float64) {
	a.t++
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))
	for i, g := range grads {
		a.m[i] = a.beta1*a.m[i] + (1-a.beta1)*g
		a.v[i] = a.beta2*a.v[i] + (1-a.beta2)*g*g
		params[i] -= a.lr * (a.m[i] / c1) / (math.Sqrt(a.v[i]/c2) + a.eps)
	}
}
