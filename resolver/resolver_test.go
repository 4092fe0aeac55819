package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/rs/zerolog"
	"go.uber.org/mock/gomock"

	"github.com/st-keller/dust-client/logger"
	"github.com/st-keller/dust-client/standard"
)

func providers(t *testing.T) (*MockProvider, *MockProvider) {
	t.Helper()

	ctrl := gomock.NewController(t)
	a := NewMockProvider(ctrl)
	b := NewMockProvider(ctrl)
	a.EXPECT().Name().Return("ipfy").AnyTimes()
	b.EXPECT().Name().Return("ipme").AnyTimes()

	return a, b
}

func TestResolveBothSucceed(t *testing.T) {
	a, b := providers(t)
	a.EXPECT().Lookup(gomock.Any()).Return(json.RawMessage(`{"ip":"1.2.3.4"}`), nil)
	b.EXPECT().Lookup(gomock.Any()).Return(json.RawMessage(`{"remote_addr":"1.2.3.4"}`), nil)

	rec := New(a, b, time.Second, logger.NewTestLogger()).Resolve(context.Background())
	require.NotNil(t, rec)

	out, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ipfy":{"ip":"1.2.3.4"},"ipme":{"remote_addr":"1.2.3.4"}}`, string(out))
}

func TestResolveOneProviderFails(t *testing.T) {
	a, b := providers(t)
	a.EXPECT().Lookup(gomock.Any()).Return(nil, errors.New("dns failure"))
	b.EXPECT().Lookup(gomock.Any()).Return(json.RawMessage(`{"remote_addr":"9.9.9.9"}`), nil)

	rec := New(a, b, time.Second, logger.NewTestLogger()).Resolve(context.Background())
	require.NotNil(t, rec)

	assert.Nil(t, rec.ProviderA)
	assert.JSONEq(t, `{"remote_addr":"9.9.9.9"}`, string(rec.ProviderB))

	out, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ipfy":null,"ipme":{"remote_addr":"9.9.9.9"}}`, string(out))
}

func TestResolveFailureVisibleAtInfoLevel(t *testing.T) {
	logs := standard.NewRecentLogs(10, zerolog.WarnLevel)
	log, err := logger.New(logger.Config{Level: "info", Output: "discard"}, logs)
	require.NoError(t, err)

	a, b := providers(t)
	a.EXPECT().Lookup(gomock.Any()).Return(nil, errors.New("connection refused"))
	b.EXPECT().Lookup(gomock.Any()).Return(json.RawMessage(`{"remote_addr":"9.9.9.9"}`), nil)

	require.NotNil(t, New(a, b, time.Second, log).Resolve(context.Background()))
	assert.True(t, logs.Has("Address lookup failed"))
}

func TestResolveBothFail(t *testing.T) {
	a, b := providers(t)
	a.EXPECT().Lookup(gomock.Any()).Return(nil, errors.New("timeout"))
	b.EXPECT().Lookup(gomock.Any()).Return(nil, errors.New("HTTP 500"))

	assert.Nil(t, New(a, b, time.Second, logger.NewTestLogger()).Resolve(context.Background()))
}

func TestResolveRunsConcurrently(t *testing.T) {
	a, b := providers(t)

	release := make(chan struct{})
	a.EXPECT().Lookup(gomock.Any()).DoAndReturn(func(context.Context) (json.RawMessage, error) {
		<-release
		return json.RawMessage(`{"ip":"a"}`), nil
	})
	// B unblocks A; sequential calls would deadlock
	b.EXPECT().Lookup(gomock.Any()).DoAndReturn(func(context.Context) (json.RawMessage, error) {
		close(release)
		return json.RawMessage(`{"ip":"b"}`), nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		rec := New(a, b, 0, logger.NewTestLogger()).Resolve(context.Background())
		assert.True(t, rec.Usable())
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("resolve did not finish")
	}
}

func TestResolveTimeoutBoundsSlowProvider(t *testing.T) {
	a, b := providers(t)
	a.EXPECT().Lookup(gomock.Any()).DoAndReturn(func(ctx context.Context) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	b.EXPECT().Lookup(gomock.Any()).Return(json.RawMessage(`{"ip":"b"}`), nil)

	rec := New(a, b, 50*time.Millisecond, logger.NewTestLogger()).Resolve(context.Background())
	require.NotNil(t, rec)
	assert.Nil(t, rec.ProviderA)
	assert.NotNil(t, rec.ProviderB)
}
