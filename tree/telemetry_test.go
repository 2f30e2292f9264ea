package tree_test

import (
	"testing"

	"github.com/dogmatiq/treekit/driver/memory/memorytree"
	. "github.com/dogmatiq/treekit/tree"
	nooplog "go.opentelemetry.io/otel/log/noop"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

func TestWithTelemetry(t *testing.T) {
	RunTests(
		t,
		func(t *testing.T) Store {
			return WithTelemetry(
				&memorytree.Store{
					Merge: ConcatMerge,
				},
				nooptrace.NewTracerProvider(),
				noopmetric.NewMeterProvider(),
				nooplog.NewLoggerProvider(),
			)
		},
	)
}
