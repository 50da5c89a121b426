package tracing

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetup_Exporters(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	shutdown, err := Setup(context.Background(), Config{Exporter: ExporterNone})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	_, err = Setup(context.Background(), Config{Exporter: "zipkin"})
	assert.Error(t, err)

	var buf bytes.Buffer
	shutdown, err = Setup(context.Background(), Config{Exporter: ExporterStdout, Writer: &buf, ServiceName: "test"})
	require.NoError(t, err)

	_, span := Start(context.Background(), nil, "unit")
	End(span, nil)
	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), `"Name":"unit"`)
}

func TestStartEnd_RecordsError(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	tracer := tp.Tracer("test")

	_, span := Start(context.Background(), tracer, "classify", attribute.String("intent", "emergency"))
	End(span, errors.New("boom"))

	_, ok := Start(context.Background(), tracer, "responseSynthesizer")
	End(ok, nil)

	ended := rec.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "classify", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Contains(t, ended[0].Attributes(), attribute.String("intent", "emergency"))
	assert.Equal(t, codes.Unset, ended[1].Status().Code)
}
