package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chative-core/workflow/internal/testutil"
)

func call(name, args string) schema.ToolCall {
	return schema.ToolCall{ID: "c1", Function: schema.FunctionCall{Name: name, Arguments: args}}
}

func TestBuiltinSearchDocumentsClampsArguments(t *testing.T) {
	r := &testutil.FakeRetriever{Docs: []*schema.Document{
		{ID: "d1", Content: "Refunds take 5 days."},
		{ID: "d2", Content: "Shipping is free."},
	}}
	ts, err := Builtin(context.Background(), r, nil)
	require.NoError(t, err)
	require.Equal(t, 2, ts.Len())
	assert.Equal(t, CurrentTimeName, ts.Infos()[0].Name)
	assert.Equal(t, SearchDocumentsName, ts.Infos()[1].Name)

	out, err := ts.Invoke(context.Background(), call(SearchDocumentsName, `{"query":"  refunds ","max_results":500}`))
	require.NoError(t, err)
	assert.Equal(t, "refunds", r.LastQuery)
	assert.Equal(t, 10, r.LastK)

	var res SearchDocumentsOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, "d1", res.Documents[0].ID)
}

func TestBuiltinWithoutRetrieverOnlyHasClock(t *testing.T) {
	ts, err := Builtin(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, ts.Len())

	_, err = ts.Invoke(context.Background(), call(SearchDocumentsName, `{"query":"x"}`))
	assert.ErrorContains(t, err, "unknown tool")
}

func TestCurrentTime(t *testing.T) {
	fixed := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	ts, err := Builtin(context.Background(), nil, func() time.Time { return fixed })
	require.NoError(t, err)

	out, err := ts.Invoke(context.Background(), call(CurrentTimeName, `{"timezone":" UTC "}`))
	require.NoError(t, err)
	var res CurrentTimeOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "2025-03-14T12:00:00Z", res.Time)
	assert.Equal(t, "Friday", res.Weekday)

	_, err = ts.Invoke(context.Background(), call(CurrentTimeName, `{"timezone":"Mars/Olympus"}`))
	assert.Error(t, err)
}

func TestNewToolSetRejectsDuplicates(t *testing.T) {
	_, err := NewToolSet(context.Background(), testutil.NewFakeTool("a", "1"), testutil.NewFakeTool("a", "2"))
	assert.Error(t, err)
}
