package llm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/llm"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/llm/llmtest"
)

type flaky struct {
	llmtest.Fake
	failures int
	calls    int
}

func (f *flaky) Generate(ctx context.Context, system, user string) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", errors.New("503 overloaded")
	}
	return "ok", nil
}

func TestWrap_Order(t *testing.T) {
	var trace []string
	mark := func(name string) llm.Middleware {
		return func(next llm.Client) llm.Client {
			trace = append(trace, name)
			return next
		}
	}
	llm.Wrap(&llmtest.Fake{}, mark("outer"), mark("inner"))
	assert.Equal(t, []string{"inner", "outer"}, trace)
}

func TestWithLogging_PassesThrough(t *testing.T) {
	c := llm.Wrap(&llmtest.Fake{Text: "olá"}, llm.WithLogging(nil))
	out, err := c.Generate(context.Background(), "", "x")
	require.NoError(t, err)
	assert.Equal(t, "olá", out)
	assert.Equal(t, "fake", c.Name())
}

func TestTimeout_ReportsUnavailable(t *testing.T) {
	c := llm.Wrap(&llmtest.Fake{Delay: time.Second, Text: "late"}, llm.Timeout(20*time.Millisecond))

	_, err := c.Generate(context.Background(), "sys", "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrUnavailable)

	_, err = c.Extract(context.Background(), "sys", "hi", llm.Schema{})
	assert.ErrorIs(t, err, llm.ErrUnavailable)
}

func TestTimeout_CallerCancellationIsNotUnavailable(t *testing.T) {
	c := llm.Wrap(&llmtest.Fake{Delay: time.Second}, llm.Timeout(time.Minute))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Generate(ctx, "sys", "hi")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, llm.ErrUnavailable)
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	inner := &flaky{failures: 2}
	c := llm.Wrap(inner, llm.Retry(3, time.Millisecond))

	out, err := c.Generate(context.Background(), "", "x")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, inner.calls)
}

func TestRetry_GivesUp(t *testing.T) {
	inner := &flaky{failures: 5}
	c := llm.Wrap(inner, llm.Retry(2, time.Millisecond))

	_, err := c.Generate(context.Background(), "", "x")
	require.Error(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestRetry_DoesNotRetryUnavailable(t *testing.T) {
	fake := &llmtest.Fake{Err: llm.ErrUnavailable}
	c := llm.Wrap(fake, llm.Retry(4, time.Millisecond))

	_, err := c.Extract(context.Background(), "", "x", llm.Schema{})
	assert.ErrorIs(t, err, llm.ErrUnavailable)
	_, extracts := fake.Calls()
	assert.Equal(t, 1, extracts)
}

func TestRateLimit_Spaces(t *testing.T) {
	fake := &llmtest.Fake{Text: "ok"}
	c := llm.Wrap(fake, llm.RateLimit(50, 1))

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.Generate(context.Background(), "", "x")
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestDisabled(t *testing.T) {
	_, err := llm.Disabled{}.Generate(context.Background(), "", "")
	assert.ErrorIs(t, err, llm.ErrUnavailable)
	_, err = llm.Disabled{}.Extract(context.Background(), "", "", llm.Schema{})
	assert.ErrorIs(t, err, llm.ErrUnavailable)
}

func TestDecodeObject(t *testing.T) {
	schema := llm.Schema{Fields: []llm.SchemaField{{Name: "name"}, {Name: "email"}, {Name: "cep"}}}

	got, err := llm.DecodeObject([]byte("```json\n{\"name\":\"João\",\"email\":null,\"cep\":1310100,\"extra\":\"x\"}\n```"), schema)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "João", "cep": "1310100"}, got)

	_, err = llm.DecodeObject([]byte("not json"), schema)
	assert.ErrorIs(t, err, llm.ErrInvalidJSON)

	_, err = llm.DecodeObject([]byte(`{"name":{"first":"a"}}`), schema)
	assert.ErrorIs(t, err, llm.ErrInvalidJSON)

	_, err = llm.DecodeObject([]byte(`null`), schema)
	assert.ErrorIs(t, err, llm.ErrInvalidJSON)
}
