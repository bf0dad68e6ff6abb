package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/RealBhupesh/fictional-carnival/internal/adapter/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestQueryName(t *testing.T) {
	tests := map[string]string{
		"SELECT id FROM activity_log":        "SELECT",
		"\n\tinsert into activity_log VALUES": "INSERT",
		"":                                   "unknown",
		"   ":                                "unknown",
	}
	for sql, want := range tests {
		assert.Equal(t, want, queryName(sql), "%q", sql)
	}
}

func TestQueryTracer_RecordsErrors(t *testing.T) {
	m := metrics.NewDBMetrics(prometheus.NewRegistry())
	tracer := &queryTracer{metrics: m}

	ctx := tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "INSERT INTO activity_log"})
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: errors.New("duplicate key")})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueryErrors.WithLabelValues("INSERT")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.QueryDuration))
}

func TestQueryTracer_IgnoresForeignContext(t *testing.T) {
	m := metrics.NewDBMetrics(prometheus.NewRegistry())
	tracer := &queryTracer{metrics: m}

	tracer.TraceQueryEnd(context.Background(), nil, pgx.TraceQueryEndData{})

	assert.Equal(t, 0, testutil.CollectAndCount(m.QueryDuration))
}
