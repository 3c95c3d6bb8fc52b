package ctxutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTraceDataRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, GetTraceData(ctx))
	ctx = WithTraceData(ctx, &TraceData{TraceID: "t1", RequestID: "r1"})
	assert.Equal(t, "t1", GetTraceData(ctx).TraceID)
	assert.Equal(t, "r1", GetTraceData(ctx).RequestID)
}

func TestRequestDataRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, GetRequestData(ctx))
	ctx = WithRequestData(ctx, &RequestData{Subject: "educator-7"})
	assert.Equal(t, "educator-7", GetRequestData(ctx).Subject)
}
