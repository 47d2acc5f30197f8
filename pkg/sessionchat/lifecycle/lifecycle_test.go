package lifecycle

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	closeCalls      atomic.Int64
	reflectionCalls atomic.Int64
	failNext        atomic.Bool
	lastAuth        atomic.Value
}

func (f *fakeAPI) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.lastAuth.Store(r.Header.Get("Authorization"))
		switch {
		case strings.HasSuffix(r.URL.Path, "/close"):
			f.closeCalls.Add(1)
		case strings.HasSuffix(r.URL.Path, "/reflection"):
			f.reflectionCalls.Add(1)
		default:
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if f.failNext.Swap(false) {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}

func newTestController(t *testing.T, api *fakeAPI, mock *clock.Mock, hasReflection bool) *Controller {
	t.Helper()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)
	c, err := NewController(Config{
		BaseURL:       srv.URL,
		Token:         "tok-123",
		SessionID:     "s1",
		HasReflection: hasReflection,
		Clock:         mock,
	})
	require.NoError(t, err)
	return c
}

func TestNewController_ValidatesConfig(t *testing.T) {
	_, err := NewController(Config{})
	require.ErrorContains(t, err, "base URL")

	_, err = NewController(Config{BaseURL: "http://x"})
	require.ErrorContains(t, err, "session id")
}

func TestController_StartsOpen(t *testing.T) {
	c := newTestController(t, &fakeAPI{}, clock.NewMock(), false)
	snap := c.Snapshot()
	require.Equal(t, StateOpen, snap.State)
	require.True(t, c.CanSend())
	require.False(t, snap.NeedsReflection)
}

func TestController_RemoteCloseGatesComposer(t *testing.T) {
	c := newTestController(t, &fakeAPI{}, clock.NewMock(), false)
	at := time.Now()
	c.ApplySessionClosed(&at, "time is up")

	snap := c.Snapshot()
	require.Equal(t, StateReflectionPending, snap.State)
	require.True(t, snap.NeedsReflection)
	require.Equal(t, "time is up", snap.CloseMessage)
	require.False(t, c.CanSend())
}

func TestController_CloseWithPriorReflectionSkipsPrompt(t *testing.T) {
	c := newTestController(t, &fakeAPI{}, clock.NewMock(), true)
	c.ApplySessionClosed(nil, "")
	snap := c.Snapshot()
	require.Equal(t, StateClosed, snap.State)
	require.False(t, snap.NeedsReflection)
}

func TestController_ReopenReturnsToOpen(t *testing.T) {
	c := newTestController(t, &fakeAPI{}, clock.NewMock(), false)
	c.ApplySessionClosed(nil, "closed")
	require.False(t, c.CanSend())

	c.ApplySessionReopened()
	snap := c.Snapshot()
	require.Equal(t, StateOpen, snap.State)
	require.True(t, c.CanSend())
	require.Nil(t, snap.ClosedAt)
	require.Empty(t, snap.CloseMessage)
}

func TestRequestClose_OptimisticUntilConfirmed(t *testing.T) {
	api := &fakeAPI{}
	c := newTestController(t, api, clock.NewMock(), false)

	require.NoError(t, c.RequestClose())
	require.Equal(t, int64(1), api.closeCalls.Load())
	require.Equal(t, "Bearer tok-123", api.lastAuth.Load())
	// still Closing: the server's session_closed event confirms
	require.Equal(t, StateClosing, c.Snapshot().State)
	require.False(t, c.CanSend())

	c.ApplySessionClosed(nil, "")
	require.Equal(t, StateReflectionPending, c.Snapshot().State)
}

func TestRequestClose_FailureRollsBackAndExpires(t *testing.T) {
	api := &fakeAPI{}
	api.failNext.Store(true)
	mock := clock.NewMock()
	c := newTestController(t, api, mock, false)

	err := c.RequestClose()
	var rerr *RequestError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, http.StatusInternalServerError, rerr.Status)

	snap := c.Snapshot()
	require.Equal(t, StateOpen, snap.State)
	require.NotEmpty(t, snap.TransientError)

	mock.Add(DefaultErrorWindow)
	require.Empty(t, c.Snapshot().TransientError)
}

func TestRequestClose_RejectedWhenNotOpen(t *testing.T) {
	api := &fakeAPI{}
	c := newTestController(t, api, clock.NewMock(), false)
	c.ApplySessionClosed(nil, "")

	err := c.RequestClose()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Zero(t, api.closeCalls.Load())
}

func TestSubmitReflection_LengthGate(t *testing.T) {
	api := &fakeAPI{}
	c := newTestController(t, api, clock.NewMock(), false)
	c.ApplySessionClosed(nil, "")

	// 49 characters: rejected locally, no request
	err := c.SubmitReflection(strings.Repeat("x", MinReflectionLength-1))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Zero(t, api.reflectionCalls.Load())

	// 50 characters: exactly one request
	require.NoError(t, c.SubmitReflection(strings.Repeat("x", MinReflectionLength)))
	require.Equal(t, int64(1), api.reflectionCalls.Load())

	snap := c.Snapshot()
	require.Equal(t, StateReflectionSubmitted, snap.State)
	require.True(t, snap.HasReflection)
	require.False(t, snap.NeedsReflection)
}

func TestSubmitReflection_TerminalAfterSuccess(t *testing.T) {
	api := &fakeAPI{}
	c := newTestController(t, api, clock.NewMock(), false)
	c.ApplySessionClosed(nil, "")
	require.NoError(t, c.SubmitReflection(strings.Repeat("y", MinReflectionLength)))

	err := c.SubmitReflection(strings.Repeat("y", MinReflectionLength))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, int64(1), api.reflectionCalls.Load())
}

func TestSubmitReflection_RejectedWhileOpen(t *testing.T) {
	api := &fakeAPI{}
	c := newTestController(t, api, clock.NewMock(), false)

	err := c.SubmitReflection(strings.Repeat("z", MinReflectionLength))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Zero(t, api.reflectionCalls.Load())
}

func TestSubmitReflection_FailureRollsBack(t *testing.T) {
	api := &fakeAPI{}
	api.failNext.Store(true)
	mock := clock.NewMock()
	c := newTestController(t, api, mock, false)
	c.ApplySessionClosed(nil, "")

	err := c.SubmitReflection(strings.Repeat("w", MinReflectionLength))
	var rerr *RequestError
	require.ErrorAs(t, err, &rerr)

	snap := c.Snapshot()
	require.Equal(t, StateReflectionPending, snap.State)
	require.False(t, snap.HasReflection)
	require.NotEmpty(t, snap.TransientError)

	// a retry can still succeed
	require.NoError(t, c.SubmitReflection(strings.Repeat("w", MinReflectionLength)))
	require.Equal(t, StateReflectionSubmitted, c.Snapshot().State)
}

func TestSubmitReflection_WhitespaceDoesNotCount(t *testing.T) {
	api := &fakeAPI{}
	c := newTestController(t, api, clock.NewMock(), false)
	c.ApplySessionClosed(nil, "")

	padded := strings.Repeat("x", 30) + strings.Repeat(" ", 40)
	err := c.SubmitReflection(padded)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Zero(t, api.reflectionCalls.Load())
}
