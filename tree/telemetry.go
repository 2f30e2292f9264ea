package tree

import (
	"context"

	"github.com/dogmatiq/treekit/internal/telemetry"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// WithTelemetry returns a [Store] that adds telemetry to s.
func WithTelemetry(
	s Store,
	p trace.TracerProvider,
	m metric.MeterProvider,
	l log.LoggerProvider,
) Store {
	return &instrumentedStore{
		Next: s,
		Telemetry: telemetry.Provider{
			TracerProvider: p,
			MeterProvider:  m,
			LoggerProvider: l,
		},
	}
}

// instrumentedStore is a decorator that adds instrumentation to a [Store].
type instrumentedStore struct {
	Next      Store
	Telemetry telemetry.Provider
}

// Open returns the tree with the given name.
func (s *instrumentedStore) Open(ctx context.Context, name string) (Tree, error) {
	telem := s.Telemetry.Recorder(
		"github.com/dogmatiq/treekit/tree",
		telemetry.Type("tree.store", s.Next),
		telemetry.String("tree.name", name),
	)

	t := &instrumentedTree{
		Telemetry: telem,
		OpenTrees: telem.UpDownCounter("open_trees", "{tree}", "The number of trees that are currently open."),
		Conflicts: telem.Counter("conflicts", "{operation}", "The number of times a compare-and-swap has been refused because the caller's expectation was stale."),
		Misses:    telem.Counter("misses", "{operation}", "The number of times a requested key was not present in the tree."),
		KeyIO:     telem.Counter("key.io", "By", "The cumulative size of the keys that have been operated upon."),
		ValueIO:   telem.Counter("value.io", "By", "The cumulative size of the values that have been operated upon."),
		Entries:   telem.Counter("range.entries", "{entry}", "The number of entries produced by range operations."),
	}

	ctx, span := telem.StartSpan(ctx, "tree.open")
	defer span.End()

	next, err := s.Next.Open(ctx, name)
	if err != nil {
		telem.Error(ctx, "tree.open.error", "unable to open tree", err)
		return nil, err
	}

	t.Next = next

	t.OpenTrees(ctx, 1)
	telem.Info(ctx, "tree.open.ok", "opened tree")

	return t, nil
}

type instrumentedTree struct {
	Next      Tree
	Telemetry *telemetry.Recorder

	OpenTrees telemetry.Instrument[int64]
	Conflicts telemetry.Instrument[int64]
	Misses    telemetry.Instrument[int64]
	KeyIO     telemetry.Instrument[int64]
	ValueIO   telemetry.Instrument[int64]
	Entries   telemetry.Instrument[int64]
}

func (t *instrumentedTree) Name() string {
	return t.Next.Name()
}

func (t *instrumentedTree) Get(ctx context.Context, k []byte) ([]byte, bool, error) {
	ctx, span := t.Telemetry.StartSpan(
		ctx,
		"tree.get",
		telemetry.Binary("key", k),
	)
	defer span.End()

	t.KeyIO(ctx, int64(len(k)))

	v, ok, err := t.Next.Get(ctx, k)
	if err != nil {
		t.Telemetry.Error(ctx, "tree.get.error", "unable to fetch value associated with key", err)
		return nil, false, err
	}

	if ok {
		t.ValueIO(ctx, int64(len(v)))
	} else {
		t.Misses(ctx, 1)
	}

	span.SetAttributes(telemetry.AsAttrKeyValues(
		telemetry.Bool("key_present", ok),
	)...)

	return v, ok, nil
}

func (t *instrumentedTree) Set(ctx context.Context, k, v []byte) ([]byte, bool, error) {
	ctx, span := t.Telemetry.StartSpan(
		ctx,
		"tree.set",
		telemetry.Binary("key", k),
		telemetry.Int("value_size", len(v)),
	)
	defer span.End()

	t.KeyIO(ctx, int64(len(k)))
	t.ValueIO(ctx, int64(len(v)))

	prev, ok, err := t.Next.Set(ctx, k, v)
	if err != nil {
		t.Telemetry.Error(ctx, "tree.set.error", "unable to associate value with key", err)
		return nil, false, err
	}

	t.Telemetry.Info(
		ctx,
		"tree.set.ok",
		"associated value with key",
		telemetry.Bool("replaced", ok),
	)

	return prev, ok, nil
}

func (t *instrumentedTree) Delete(ctx context.Context, k []byte) ([]byte, bool, error) {
	ctx, span := t.Telemetry.StartSpan(
		ctx,
		"tree.delete",
		telemetry.Binary("key", k),
	)
	defer span.End()

	t.KeyIO(ctx, int64(len(k)))

	prev, ok, err := t.Next.Delete(ctx, k)
	if err != nil {
		t.Telemetry.Error(ctx, "tree.delete.error", "unable to delete key", err)
		return nil, false, err
	}

	if !ok {
		t.Misses(ctx, 1)
	}

	t.Telemetry.Info(
		ctx,
		"tree.delete.ok",
		"deleted key",
		telemetry.Bool("key_present", ok),
	)

	return prev, ok, nil
}

func (t *instrumentedTree) CompareAndSwap(ctx context.Context, k []byte, expected, proposed Value) error {
	ctx, span := t.Telemetry.StartSpan(
		ctx,
		"tree.cas",
		telemetry.Binary("key", k),
		telemetry.Bool("expected_present", expected.IsPresent()),
		telemetry.Bool("proposed_present", proposed.IsPresent()),
	)
	defer span.End()

	t.KeyIO(ctx, int64(len(k)))
	t.ValueIO(ctx, int64(len(proposed.Bytes())))

	if err := t.Next.CompareAndSwap(ctx, k, expected, proposed); err != nil {
		if IsConflict(err) {
			// A refused swap is an expected outcome, not a failure of the
			// store.
			t.Conflicts(ctx, 1)
			t.Telemetry.Info(ctx, "tree.cas.conflict", "compare-and-swap refused due to stale expectation")
			return err
		}

		t.Telemetry.Error(ctx, "tree.cas.error", "unable to compare-and-swap value", err)
		return err
	}

	t.Telemetry.Info(ctx, "tree.cas.ok", "compared-and-swapped value")

	return nil
}

func (t *instrumentedTree) Merge(ctx context.Context, k, operand []byte) ([]byte, bool, error) {
	ctx, span := t.Telemetry.StartSpan(
		ctx,
		"tree.merge",
		telemetry.Binary("key", k),
		telemetry.Int("operand_size", len(operand)),
	)
	defer span.End()

	t.KeyIO(ctx, int64(len(k)))
	t.ValueIO(ctx, int64(len(operand)))

	v, ok, err := t.Next.Merge(ctx, k, operand)
	if err != nil {
		t.Telemetry.Error(ctx, "tree.merge.error", "unable to merge operand into value", err)
		return nil, false, err
	}

	t.Telemetry.Info(
		ctx,
		"tree.merge.ok",
		"merged operand into value",
		telemetry.Bool("deleted", !ok),
	)

	return v, ok, nil
}

func (t *instrumentedTree) Flush(ctx context.Context) error {
	ctx, span := t.Telemetry.StartSpan(ctx, "tree.flush")
	defer span.End()

	if err := t.Next.Flush(ctx); err != nil {
		t.Telemetry.Error(ctx, "tree.flush.error", "unable to flush buffered writes", err)
		return err
	}

	t.Telemetry.Info(ctx, "tree.flush.ok", "flushed buffered writes")

	return nil
}

func (t *instrumentedTree) Max(ctx context.Context) (Entry, bool, error) {
	return t.lookup(ctx, "tree.max", nil, t.Next.Max)
}

func (t *instrumentedTree) Pred(ctx context.Context, k []byte) (Entry, bool, error) {
	return t.lookup(ctx, "tree.pred", k, func(ctx context.Context) (Entry, bool, error) {
		return t.Next.Pred(ctx, k)
	})
}

func (t *instrumentedTree) PredInclusive(ctx context.Context, k []byte) (Entry, bool, error) {
	return t.lookup(ctx, "tree.pred_incl", k, func(ctx context.Context) (Entry, bool, error) {
		return t.Next.PredInclusive(ctx, k)
	})
}

func (t *instrumentedTree) Succ(ctx context.Context, k []byte) (Entry, bool, error) {
	return t.lookup(ctx, "tree.succ", k, func(ctx context.Context) (Entry, bool, error) {
		return t.Next.Succ(ctx, k)
	})
}

func (t *instrumentedTree) SuccInclusive(ctx context.Context, k []byte) (Entry, bool, error) {
	return t.lookup(ctx, "tree.succ_incl", k, func(ctx context.Context) (Entry, bool, error) {
		return t.Next.SuccInclusive(ctx, k)
	})
}

func (t *instrumentedTree) lookup(
	ctx context.Context,
	op string,
	k []byte,
	fn func(context.Context) (Entry, bool, error),
) (Entry, bool, error) {
	ctx, span := t.Telemetry.StartSpan(
		ctx,
		op,
		telemetry.If(k != nil, telemetry.Binary("key", k)),
	)
	defer span.End()

	t.KeyIO(ctx, int64(len(k)))

	e, ok, err := fn(ctx)
	if err != nil {
		t.Telemetry.Error(ctx, op+".error", "unable to perform directional lookup", err)
		return Entry{}, false, err
	}

	if ok {
		t.KeyIO(ctx, int64(len(e.Key)))
		t.ValueIO(ctx, int64(len(e.Value)))
	} else {
		t.Misses(ctx, 1)
	}

	return e, ok, nil
}

func (t *instrumentedTree) Range(ctx context.Context, fn RangeFunc) error {
	return t.instrumentedRange(ctx, "tree.range", fn, t.Next.Range)
}

func (t *instrumentedTree) RangeFrom(ctx context.Context, k []byte, fn RangeFunc) error {
	return t.instrumentedRange(ctx, "tree.range_from", fn, func(ctx context.Context, fn RangeFunc) error {
		return t.Next.RangeFrom(ctx, k, fn)
	})
}

func (t *instrumentedTree) RangeBetween(ctx context.Context, start, end []byte, fn RangeFunc) error {
	return t.instrumentedRange(ctx, "tree.range_between", fn, func(ctx context.Context, fn RangeFunc) error {
		return t.Next.RangeBetween(ctx, start, end, fn)
	})
}

func (t *instrumentedTree) instrumentedRange(
	ctx context.Context,
	op string,
	fn RangeFunc,
	rng func(context.Context, RangeFunc) error,
) error {
	ctx, span := t.Telemetry.StartSpan(ctx, op)
	defer span.End()

	var count int64

	err := rng(
		ctx,
		func(ctx context.Context, k, v []byte) (bool, error) {
			count++
			t.KeyIO(ctx, int64(len(k)))
			t.ValueIO(ctx, int64(len(v)))
			return fn(ctx, k, v)
		},
	)

	t.Entries(ctx, count)

	if err != nil {
		t.Telemetry.Error(ctx, op+".error", "unable to range over entries", err)
		return err
	}

	return nil
}

func (t *instrumentedTree) Close() error {
	if err := t.Next.Close(); err != nil {
		return err
	}

	ctx := context.Background()
	t.OpenTrees(ctx, -1)

	return nil
}
