package capture

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatreply/internal/llm"
)

type stubBackend struct {
	out string
	err error
}

func (s stubBackend) Name() string { return "stub" }

func (s stubBackend) Complete(context.Context, llm.Completion) (string, error) {
	return s.out, s.err
}

func readExchanges(t *testing.T, dir string) map[string]Exchange {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	got := map[string]Exchange{}
	for _, e := range entries {
		body, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		var ex Exchange
		require.NoError(t, json.Unmarshal(body, &ex))
		got[e.Name()] = ex
	}
	return got
}

func TestBackendRecordsExchanges(t *testing.T) {
	rec, err := NewRecorder(t.TempDir())
	require.NoError(t, err)

	backend := WrapBackend(stubBackend{out: `{"troubled":10}`}, rec)
	out, err := backend.Complete(context.Background(), llm.Completion{System: "sys", User: "hello", JSONMode: true})
	require.NoError(t, err)
	assert.Equal(t, `{"troubled":10}`, out)

	failing := WrapBackend(stubBackend{err: errors.New("quota exceeded")}, rec)
	_, err = failing.Complete(context.Background(), llm.Completion{User: "write a reply"})
	require.Error(t, err)

	got := readExchanges(t, rec.Dir())
	require.Len(t, got, 2)

	first := got["json-0001.json"]
	assert.Equal(t, "stub", first.Backend)
	assert.Equal(t, "hello", first.User)
	assert.True(t, first.JSONMode)
	assert.Equal(t, `{"troubled":10}`, first.Response)

	second := got["text-0002.json"]
	assert.Equal(t, "quota exceeded", second.Error)
}

func TestWrapBackendWithoutRecorder(t *testing.T) {
	inner := stubBackend{out: "x"}
	assert.Equal(t, llm.Backend(inner), WrapBackend(inner, nil))
}
