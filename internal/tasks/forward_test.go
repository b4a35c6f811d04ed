package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	appErrors "telxfwd/internal/errors"
	"telxfwd/internal/models"
	"telxfwd/internal/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testPair(pairType models.PairType) *models.ForwardingPair {
	return &models.ForwardingPair{
		ID:                   10,
		UserID:               1,
		SourceAccountID:      int64Ptr(100),
		DestinationAccountID: int64Ptr(200),
		SourceChannel:        "@source",
		DestinationChannel:   "@dest",
		PairType:             pairType,
		Status:               models.PairStatusActive,
	}
}

func forwardJob(t *testing.T, text string) *models.Job {
	return newJob(t, models.TaskForwardMessage, 1, ForwardPayload{
		PairID:  10,
		Message: MessageData{MessageID: "42", Text: text},
	})
}

func logWith(status models.MessageLogStatus) interface{} {
	return mock.MatchedBy(func(entry *models.MessageLog) bool {
		return entry.Status == status
	})
}

func TestForward_NativeForward(t *testing.T) {
	f := newTaskFixture()
	fw := newForwarder(f.deps)
	ctx := context.Background()

	f.store.On("GetPair", ctx, int64(10)).Return(testPair(models.PairTelegramToTelegram), nil)
	f.store.On("GetUser", ctx, int64(1)).Return(activeUser(1, "free"), nil)
	f.dispatcher.On("Forward", ctx, int64(100), "@source", "@dest", "42").Return("900", nil)
	f.store.On("InsertMessageLog", ctx, mock.MatchedBy(func(entry *models.MessageLog) bool {
		return entry.Status == models.MessageLogSuccess &&
			entry.DestinationMessageID == "900" &&
			entry.SourceMessageID == "42" &&
			entry.MessageType == "text" &&
			entry.MessageSize == len("hello")
	})).Return(nil)

	result, err := fw.Execute(ctx, forwardJob(t, "hello"))
	require.NoError(t, err)
	assert.Equal(t, true, result["success"])
	assert.Equal(t, "900", result["destination_message_id"])
	assert.Equal(t, "telegram", result["platform"])
	f.assertExpectations(t)
}

func TestForward_CopyModeSendsDecoratedText(t *testing.T) {
	f := newTaskFixture()
	fw := newForwarder(f.deps)
	ctx := context.Background()

	pair := testPair(models.PairTelegramToTelegram)
	pair.CopyMode = true
	pair.CustomPrefix = "[fwd]"
	pair.CustomSuffix = "via bot"

	f.store.On("GetPair", ctx, int64(10)).Return(pair, nil)
	f.store.On("GetUser", ctx, int64(1)).Return(activeUser(1, "pro"), nil)
	f.dispatcher.On("Send", ctx, int64(200), "@dest", "[fwd] hello via bot").Return("901", nil)
	f.store.On("InsertMessageLog", ctx, logWith(models.MessageLogSuccess)).Return(nil)

	_, err := fw.Execute(ctx, forwardJob(t, "hello"))
	require.NoError(t, err)
	f.assertExpectations(t)
}

func TestForward_CrossPlatformSendsThroughDestination(t *testing.T) {
	f := newTaskFixture()
	fw := newForwarder(f.deps)
	ctx := context.Background()

	pair := testPair(models.PairTelegramToDiscord)
	pair.DestinationChannel = "123456789"

	f.store.On("GetPair", ctx, int64(10)).Return(pair, nil)
	f.store.On("GetUser", ctx, int64(1)).Return(activeUser(1, "pro"), nil)
	f.dispatcher.On("Send", ctx, int64(200), "123456789", "hello").Return("d-1", nil)
	f.store.On("InsertMessageLog", ctx, logWith(models.MessageLogSuccess)).Return(nil)

	result, err := fw.Execute(ctx, forwardJob(t, "hello"))
	require.NoError(t, err)
	assert.Equal(t, "discord", result["platform"])
	f.assertExpectations(t)
}

func TestForward_FilteredMessageIsSkipped(t *testing.T) {
	f := newTaskFixture()
	fw := newForwarder(f.deps)
	ctx := context.Background()

	pair := testPair(models.PairTelegramToTelegram)
	pair.FilterKeywords = []string{"alpha"}

	f.store.On("GetPair", ctx, int64(10)).Return(pair, nil)
	f.store.On("GetUser", ctx, int64(1)).Return(activeUser(1, "free"), nil)
	f.store.On("InsertMessageLog", ctx, mock.MatchedBy(func(entry *models.MessageLog) bool {
		return entry.Status == models.MessageLogSkipped && entry.SkipReason == SkipFiltered
	})).Return(nil).Once()

	result, err := fw.Execute(ctx, forwardJob(t, "beta"))
	require.NoError(t, err)
	assert.Equal(t, true, result["skipped"])
	assert.Equal(t, SkipFiltered, result["reason"])

	f.dispatcher.AssertNotCalled(t, "Forward", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.dispatcher.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.store.AssertNotCalled(t, "InsertMessageLog", ctx, logWith(models.MessageLogSuccess))
	f.assertExpectations(t)
}

func TestForward_Rejections(t *testing.T) {
	expired := time.Now().Add(-time.Hour)

	tests := []struct {
		name     string
		mutate   func(p *models.ForwardingPair)
		user     *models.User
		wantCode appErrors.ErrorCode
	}{
		{
			name:     "someone else's pair",
			mutate:   func(p *models.ForwardingPair) { p.UserID = 2 },
			wantCode: appErrors.ErrCodeNotFound,
		},
		{
			name:     "paused pair",
			mutate:   func(p *models.ForwardingPair) { p.Status = models.PairStatusPaused },
			wantCode: appErrors.ErrCodeValidationFailed,
		},
		{
			name:     "expired plan",
			user:     &models.User{ID: 1, Plan: "pro", Status: models.UserStatusActive, PlanExpiresAt: &expired},
			wantCode: appErrors.ErrCodePlanLimit,
		},
		{
			name:     "copy mode on free",
			mutate:   func(p *models.ForwardingPair) { p.CopyMode = true },
			wantCode: appErrors.ErrCodeFeatureDisabled,
		},
		{
			name:     "discord pair on free",
			mutate:   func(p *models.ForwardingPair) { p.PairType = models.PairTelegramToDiscord },
			wantCode: appErrors.ErrCodePlatformPair,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTaskFixture()
			fw := newForwarder(f.deps)
			ctx := context.Background()

			pair := testPair(models.PairTelegramToTelegram)
			if tt.mutate != nil {
				tt.mutate(pair)
			}
			user := tt.user
			if user == nil {
				user = activeUser(1, "free")
			}
			f.store.On("GetPair", ctx, int64(10)).Return(pair, nil)
			f.store.On("GetUser", ctx, int64(1)).Return(user, nil).Maybe()

			_, err := fw.Execute(ctx, forwardJob(t, "hello"))
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, appErrors.GetCode(err))
			assert.False(t, appErrors.IsRetryable(err))
			f.dispatcher.AssertNotCalled(t, "Forward", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestForward_Delay(t *testing.T) {
	queuedAt := time.Now().Add(-time.Minute)

	tests := []struct {
		name      string
		tier      string
		delay     int
		wantDefer bool
	}{
		{"pro delay pending", "pro", 600, true},
		{"pro delay elapsed", "pro", 30, false},
		{"free delay ignored", "free", 600, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTaskFixture()
			fw := newForwarder(f.deps)
			ctx := context.Background()

			pair := testPair(models.PairTelegramToTelegram)
			pair.DelaySeconds = tt.delay
			f.store.On("GetPair", ctx, int64(10)).Return(pair, nil)
			f.store.On("GetUser", ctx, int64(1)).Return(activeUser(1, tt.tier), nil)
			f.dispatcher.On("Forward", ctx, int64(100), "@source", "@dest", "42").Return("900", nil).Maybe()
			f.store.On("InsertMessageLog", ctx, logWith(models.MessageLogSuccess)).Return(nil).Maybe()

			job := forwardJob(t, "hello")
			job.CreatedAt = queuedAt
			_, err := fw.Execute(ctx, job)

			if !tt.wantDefer {
				require.NoError(t, err)
				f.dispatcher.AssertNumberOfCalls(t, "Forward", 1)
				return
			}
			d, ok := queue.AsDeferral(err)
			require.True(t, ok, "got %v", err)
			assert.WithinDuration(t, queuedAt.Add(600*time.Second), d.Until, time.Millisecond)
			f.dispatcher.AssertNotCalled(t, "Forward", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestForward_DispatchFailureIsLogged(t *testing.T) {
	f := newTaskFixture()
	fw := newForwarder(f.deps)
	ctx := context.Background()

	dropped := appErrors.NewTransientError(appErrors.ErrCodeDisconnected, "session dropped", errors.New("eof"))
	f.store.On("GetPair", ctx, int64(10)).Return(testPair(models.PairTelegramToTelegram), nil)
	f.store.On("GetUser", ctx, int64(1)).Return(activeUser(1, "free"), nil)
	f.dispatcher.On("Forward", ctx, int64(100), "@source", "@dest", "42").Return("", dropped)
	f.store.On("InsertMessageLog", ctx, mock.MatchedBy(func(entry *models.MessageLog) bool {
		return entry.Status == models.MessageLogFailed && entry.ErrorMessage != ""
	})).Return(nil)

	_, err := fw.Execute(ctx, forwardJob(t, "hello"))
	require.Error(t, err)
	assert.True(t, appErrors.IsRetryable(err))
	f.assertExpectations(t)
}

func TestForward_PlanRateLimit(t *testing.T) {
	f := newTaskFixture()
	fw := newForwarder(f.deps)
	now := time.Now()
	fw.now = func() time.Time { return now }
	ctx := context.Background()

	f.store.On("GetPair", ctx, int64(10)).Return(testPair(models.PairTelegramToTelegram), nil)
	f.store.On("GetUser", ctx, int64(1)).Return(activeUser(1, "free"), nil)
	f.dispatcher.On("Forward", ctx, int64(100), "@source", "@dest", "42").Return("900", nil).Once()
	f.store.On("InsertMessageLog", ctx, logWith(models.MessageLogSuccess)).Return(nil).Once()

	_, err := fw.Execute(ctx, forwardJob(t, "hello"))
	require.NoError(t, err)

	_, err = fw.Execute(ctx, forwardJob(t, "hello"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrCodeRateLimit, appErrors.GetCode(err))
	assert.Greater(t, appErrors.GetRetryAfter(err), time.Duration(0))
	f.assertExpectations(t)
}

func TestForward_BadPayload(t *testing.T) {
	f := newTaskFixture()
	fw := newForwarder(f.deps)

	job := &models.Job{ID: "job-1", UserID: 1, TaskType: models.TaskForwardMessage, Payload: json.RawMessage(`{"pair_id": "x"}`)}
	_, err := fw.Execute(context.Background(), job)
	assert.Equal(t, appErrors.ErrCodeValidationFailed, appErrors.GetCode(err))

	_, err = fw.Execute(context.Background(), newJob(t, models.TaskForwardMessage, 1, map[string]interface{}{}))
	assert.Equal(t, appErrors.ErrCodeValidationFailed, appErrors.GetCode(err))
}

func TestMessageID_AcceptsNumbers(t *testing.T) {
	var p ForwardPayload
	require.NoError(t, json.Unmarshal([]byte(`{"pair_id": 3, "message": {"message_id": 12345, "text": "hi"}}`), &p))
	assert.Equal(t, MessageID("12345"), p.Message.MessageID)

	require.NoError(t, json.Unmarshal([]byte(`{"message": {"message_id": "abc"}}`), &p))
	assert.Equal(t, MessageID("abc"), p.Message.MessageID)
}
