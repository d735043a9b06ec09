package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"chat-agent/internal/domain"
	"chat-agent/internal/integrations/todoist"
)

type fakeList struct {
	added   []todoist.NewTask
	tasks   []todoist.Task
	addErr  error
	listErr error
	lists   int
}

func (f *fakeList) AddTask(_ context.Context, t todoist.NewTask) (todoist.Task, error) {
	if f.addErr != nil {
		return todoist.Task{}, f.addErr
	}
	f.added = append(f.added, t)
	out := todoist.Task{ID: "t1", Content: t.Content}
	if t.DueString != "" {
		out.Due = &todoist.Due{String: t.DueString}
	}
	return out, nil
}

func (f *fakeList) ListTasks(context.Context) ([]todoist.Task, error) {
	f.lists++
	return f.tasks, f.listErr
}

func call(id, name, args string) domain.ToolCall {
	return domain.ToolCall{ID: id, Type: "function", Function: domain.FunctionCall{Name: name, Arguments: args}}
}

func newDispatcher(t *testing.T, list *fakeList) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(list)
	require.NoError(t, err)
	return d
}

func TestNewDispatcher_NilList(t *testing.T) {
	_, err := NewDispatcher(nil)
	require.Error(t, err)
}

func TestDispatch_UnknownToolHasNoSideEffect(t *testing.T) {
	list := &fakeList{}
	d := newDispatcher(t, list)

	_, err := d.Dispatch(context.Background(), call("c1", "delete_everything", `{}`))
	require.Error(t, err)
	require.True(t, IsValidation(err))
	require.Contains(t, err.Error(), "unknown tool")
	require.Empty(t, list.added)
	require.Zero(t, list.lists)
}

func TestDispatch_AddToList(t *testing.T) {
	list := &fakeList{}
	d := newDispatcher(t, list)

	out, err := d.Dispatch(context.Background(), call("c1", AddToListName, `{"item":" milk ","due":"tomorrow"}`))
	require.NoError(t, err)
	require.Equal(t, `Added "milk" to the list (due tomorrow).`, out)
	require.Len(t, list.added, 1)
	require.Equal(t, "milk", list.added[0].Content)
	require.Equal(t, "tomorrow", list.added[0].DueString)
	require.NotEmpty(t, list.added[0].RequestID)

	out, err = d.Dispatch(context.Background(), call("c1", AddToListName, `{"item":"milk"}`))
	require.NoError(t, err)
	require.Equal(t, `Added "milk" to the list.`, out)
	require.Equal(t, list.added[0].RequestID, list.added[1].RequestID, "same call id must reuse the request id")
}

func TestDispatch_AddToListValidation(t *testing.T) {
	cases := map[string]string{
		`{}`:            "item is required",
		`{"item":"  "}`: "item is required",
		`not json`:      "not a JSON object",
		`{"item":12}`:   "not a JSON object",
	}
	for args, want := range cases {
		list := &fakeList{}
		d := newDispatcher(t, list)
		_, err := d.Dispatch(context.Background(), call("c1", AddToListName, args))
		require.True(t, IsValidation(err), "args=%s", args)
		require.Contains(t, err.Error(), want, "args=%s", args)
		require.Empty(t, list.added)
	}
}

func TestDispatch_AddToListBackendError(t *testing.T) {
	boom := errors.New("todoist down")
	d := newDispatcher(t, &fakeList{addErr: boom})
	_, err := d.Dispatch(context.Background(), call("c1", AddToListName, `{"item":"milk"}`))
	require.ErrorIs(t, err, boom)
	require.False(t, IsValidation(err))
}

func TestDispatch_ListItems(t *testing.T) {
	list := &fakeList{tasks: []todoist.Task{
		{Content: "milk"},
		{Content: "bread", Due: &todoist.Due{String: "fri"}},
	}}
	d := newDispatcher(t, list)

	out, err := d.Dispatch(context.Background(), call("c2", ListItemsName, ""))
	require.NoError(t, err)
	require.Equal(t, "Open items:\n- milk\n- bread (due fri)", out)

	list.tasks = nil
	out, err = d.Dispatch(context.Background(), call("c3", ListItemsName, `{}`))
	require.NoError(t, err)
	require.Equal(t, "The list is empty.", out)
}

func TestRequestID_Deterministic(t *testing.T) {
	require.Equal(t, requestID("call_1"), requestID("call_1"))
	require.NotEqual(t, requestID("call_1"), requestID("call_2"))
	require.Empty(t, requestID(""))
}

func TestSpecs_SchemasAreInlineObjects(t *testing.T) {
	d := newDispatcher(t, &fakeList{})
	specs := d.Specs()
	require.Len(t, specs, 2)
	require.Equal(t, AddToListName, specs[0].Name)
	require.Equal(t, ListItemsName, specs[1].Name)

	var schema struct {
		Schema               string                     `json:"$schema"`
		Ref                  string                     `json:"$ref"`
		Type                 string                     `json:"type"`
		Properties           map[string]json.RawMessage `json:"properties"`
		Required             []string                   `json:"required"`
		AdditionalProperties *bool                      `json:"additionalProperties"`
	}
	require.NoError(t, json.Unmarshal(specs[0].Parameters, &schema))
	require.Empty(t, schema.Schema)
	require.Empty(t, schema.Ref)
	require.Equal(t, "object", schema.Type)
	require.Contains(t, schema.Properties, "item")
	require.Contains(t, schema.Properties, "due")
	require.Equal(t, []string{"item"}, schema.Required)
	require.NotNil(t, schema.AdditionalProperties)
	require.False(t, *schema.AdditionalProperties)
}

func TestValidate_ChecksArgumentsWithoutSideEffects(t *testing.T) {
	list := &fakeList{}
	d := newDispatcher(t, list)

	require.NoError(t, d.Validate(call("c1", AddToListName, `{"item":"milk"}`)))
	require.NoError(t, d.Validate(call("c2", ListItemsName, ``)))

	for _, c := range []domain.ToolCall{
		call("c3", AddToListName, `{}`),
		call("c4", AddToListName, `{"item":"  "}`),
		call("c5", AddToListName, `not json`),
		call("c6", ListItemsName, `[1]`),
		call("c7", "drop_database", `{}`),
	} {
		err := d.Validate(c)
		require.Error(t, err, c.ID)
		require.True(t, IsValidation(err), c.ID)
	}
	require.Empty(t, list.added)
	require.Zero(t, list.lists)
}
