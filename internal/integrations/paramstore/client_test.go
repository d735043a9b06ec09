package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

// fakeAPI is a simple fake implementing ssmAPI for tests.
type fakeAPI struct {
	getOut *ssm.GetParameterOutput
	getErr error
}

func (f *fakeAPI) GetParameter(_ context.Context, _ *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	return f.getOut, f.getErr
}

func strPtr(s string) *string { return &s }

func TestGetParameter_HappyPath(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: strPtr("p"), Value: strPtr(`{"k":"v"}`),
	}}}
	client, err := New(api)
	require.NoError(t, err)
	v, err := client.GetParameter(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, `{"k":"v"}`, v)
}

func TestGetParameter_HappyPath_SecureString(t *testing.T) {
	typeStr := "SecureString"
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: strPtr("p"), Value: strPtr(`{"k":"v"}`), Type: types.ParameterType(typeStr),
	}}}
	client, err := New(api)
	require.NoError(t, err)
	v, err := client.GetParameter(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, `{"k":"v"}`, v)
}

func TestGetParameter_MissingValue(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p"), Value: nil}}}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing value")
}

func TestGetParameter_ApiError(t *testing.T) {
	api := &fakeAPI{getErr: errors.New("boom")}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.ErrorContains(t, err, "boom")
}

func TestGetParameter_ClientNotInitialized(t *testing.T) {
	_, err := (&Client{}).GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not initialized")
}

func TestGetParameter_EmptyName(t *testing.T) {
	api := &fakeAPI{}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "  ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

// fakeGetter serves canned values and counts calls.
type fakeGetter struct {
	vals  map[string]string
	err   error
	calls int
}

func (f *fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	v, ok := f.vals[name]
	if !ok {
		return "", errors.New("parameter not found")
	}
	return v, nil
}

func TestGetStringList_Formats(t *testing.T) {
	cases := []struct {
		raw  string
		want []string
	}{
		{`["111","222"]`, []string{"111", "222"}},
		{`[111, 222]`, []string{"111", "222"}},
		{`["111", 222, " "]`, []string{"111", "222"}},
		{`111, 222,,333 `, []string{"111", "222", "333"}},
		{`  `, nil},
	}
	for _, tc := range cases {
		g := &fakeGetter{vals: map[string]string{"/bot/allowed_senders": tc.raw}}
		got, err := GetStringList(context.Background(), g, "/bot/allowed_senders")
		require.NoError(t, err, "raw=%q", tc.raw)
		if tc.want == nil {
			require.Empty(t, got)
			continue
		}
		require.Equal(t, tc.want, got, "raw=%q", tc.raw)
	}
}

func TestGetStringList_Errors(t *testing.T) {
	_, err := GetStringList(context.Background(), nil, "p")
	require.ErrorContains(t, err, "must not be nil")

	g := &fakeGetter{vals: map[string]string{"p": `[true]`}}
	_, err = GetStringList(context.Background(), g, "p")
	require.ErrorContains(t, err, "neither string nor number")

	g = &fakeGetter{vals: map[string]string{"p": `["unterminated`}}
	_, err = GetStringList(context.Background(), g, "p")
	require.ErrorContains(t, err, "decode list")

	g = &fakeGetter{err: errors.New("throttled")}
	_, err = GetStringList(context.Background(), g, "p")
	require.ErrorContains(t, err, "throttled")
}

func TestTokenSource_CachesAfterFirstLoad(t *testing.T) {
	g := &fakeGetter{vals: map[string]string{"/bot/telegram-token": `{"token":" 123:abc "}`}}
	src, err := NewTokenSource(g, "/bot/telegram-token")
	require.NoError(t, err)
	require.Equal(t, "/bot/telegram-token", src.Name())

	for range 3 {
		tok, err := src.Token(context.Background())
		require.NoError(t, err)
		require.Equal(t, "123:abc", tok)
	}
	require.Equal(t, 1, g.calls)
}

func TestTokenSource_FailureIsNotCached(t *testing.T) {
	g := &fakeGetter{err: errors.New("throttled")}
	src, err := NewTokenSource(g, "t")
	require.NoError(t, err)

	_, err = src.Token(context.Background())
	require.ErrorContains(t, err, "throttled")

	g.err = nil
	g.vals = map[string]string{"t": `{"token":"sk-1"}`}
	tok, err := src.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-1", tok)
	require.Equal(t, 2, g.calls)
}

func TestTokenSource_BadPayloads(t *testing.T) {
	cases := map[string]string{
		`not json`:      "unmarshal",
		`{"token":""}`:  "empty",
		`{"other":"x"}`: "empty",
	}
	for raw, want := range cases {
		src, err := NewTokenSource(&fakeGetter{vals: map[string]string{"t": raw}}, "t")
		require.NoError(t, err)
		_, err = src.Token(context.Background())
		require.ErrorContains(t, err, want, "raw=%q", raw)
	}
}

func TestNewTokenSource_Validation(t *testing.T) {
	_, err := NewTokenSource(nil, "t")
	require.Error(t, err)
	_, err = NewTokenSource(&fakeGetter{}, " ")
	require.ErrorContains(t, err, "empty")
}
