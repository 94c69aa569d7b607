package eventing

import (
	"context"
	"testing"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/midnightos/treasury/models"
	"github.com/midnightos/treasury/sweeper"
)

type fakeRunner struct {
	jobs []string
	err  error
}

func (f *fakeRunner) Run(ctx context.Context, job string) error {
	f.jobs = append(f.jobs, job)
	return f.err
}

type fakeRoster struct {
	voters []models.Voter
	unseat []string
}

func (f *fakeRoster) SyncVoters(ctx context.Context, voters []models.Voter, unseat []string) error {
	f.voters = voters
	f.unseat = unseat
	return nil
}

func newEvent(t *testing.T, eventType string, data interface{}) cloudevents.Event {
	t.Helper()
	event := cloudevents.NewEvent()
	event.SetID("evt-1")
	event.SetSource("test")
	event.SetType(eventType)
	if data != nil {
		require.NoError(t, event.SetData(cloudevents.ApplicationJSON, data))
	}
	return event
}

func TestNewKnClientWithoutEndpoints(t *testing.T) {
	cfg := models.DefaultConfig()
	k, err := NewKnClient(&cfg)
	require.NoError(t, err)
	assert.Nil(t, k.sender)
	assert.Nil(t, k.receiver)

	// Without a sink publishing is a no-op and listening returns at once.
	k.Publish(context.Background(), models.EventProposalCreated, models.ProposalEventData{ProposalID: "p1"})
	assert.NoError(t, k.Listen(context.Background(), &fakeRunner{}, &fakeRoster{}))
}

func TestNewKnClientWithSink(t *testing.T) {
	cfg := models.DefaultConfig()
	cfg.EventSinkURL = "http://127.0.0.1:1"
	k, err := NewKnClient(&cfg)
	require.NoError(t, err)
	assert.NotNil(t, k.sender)
	assert.Nil(t, k.receiver)
}

func TestProcessSweepEvents(t *testing.T) {
	cfg := models.DefaultConfig()
	k, err := NewKnClient(&cfg)
	require.NoError(t, err)

	tests := []struct {
		eventType string
		job       string
	}{
		{models.EventSweepTally, sweeper.JobTally},
		{models.EventSweepReconcile, sweeper.JobReconcile},
		{models.EventSweepPayout, sweeper.JobPayout},
	}
	for _, tt := range tests {
		t.Run(tt.job, func(t *testing.T) {
			runner := &fakeRunner{}
			require.NoError(t, k.ProcessEvent(context.Background(), newEvent(t, tt.eventType, nil), runner, &fakeRoster{}))
			assert.Equal(t, []string{tt.job}, runner.jobs)
		})
	}

	runner := &fakeRunner{err: errors.New("boom")}
	err = k.ProcessEvent(context.Background(), newEvent(t, models.EventSweepPayout, nil), runner, &fakeRoster{})
	assert.EqualError(t, err, "boom")
}

func TestProcessRosterEvent(t *testing.T) {
	cfg := models.DefaultConfig()
	k, err := NewKnClient(&cfg)
	require.NoError(t, err)

	roster := &fakeRoster{}
	event := newEvent(t, models.EventVotersSync, map[string]interface{}{
		"voters": []map[string]interface{}{{"voterId": "alice", "weight": 1}},
		"unseat": []string{"bob"},
	})
	require.NoError(t, k.ProcessEvent(context.Background(), event, &fakeRunner{}, roster))
	require.Len(t, roster.voters, 1)
	assert.Equal(t, "alice", roster.voters[0].VoterID)
	assert.Equal(t, []string{"bob"}, roster.unseat)

	bad := newEvent(t, models.EventVotersSync, nil)
	require.NoError(t, bad.SetData(cloudevents.ApplicationJSON, []byte(`{"voters": "everyone"}`)))
	err = k.ProcessEvent(context.Background(), bad, &fakeRunner{}, roster)
	assert.Equal(t, models.KindValidation, models.KindOf(err))
}

func TestProcessUnknownEvent(t *testing.T) {
	cfg := models.DefaultConfig()
	k, err := NewKnClient(&cfg)
	require.NoError(t, err)

	runner := &fakeRunner{}
	assert.NoError(t, k.ProcessEvent(context.Background(), newEvent(t, "io.example.unrelated", nil), runner, &fakeRoster{}))
	assert.Empty(t, runner.jobs)
}
