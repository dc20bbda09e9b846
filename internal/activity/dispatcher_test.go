package activity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/abhisek/dojo/internal/store/memstore"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordSink struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
	err    error
}

func (s *recordSink) Name() string { return "record" }

func (s *recordSink) Deliver(ctx context.Context, ev Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatcherDeliversAndDrains(t *testing.T) {
	sink := &recordSink{}
	d := NewDispatcher(Config{Sinks: []Sink{sink}})

	d.Emit(SkillStarted("u1", "go", "Go"))
	d.Emit(BeltPromotion("u1", "go", "Go", "white", "yellow"))

	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, 2, sink.len())
}

func TestDispatcherEmitNeverBlocks(t *testing.T) {
	sink := &recordSink{block: make(chan struct{})}
	d := NewDispatcher(Config{Buffer: 1, Sinks: []Sink{sink}})

	done := make(chan struct{})
	go func() {
		for range 50 {
			d.Emit(SkillStarted("u1", "go", "Go"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked with a stalled sink")
	}

	close(sink.block)
	require.NoError(t, d.Close(context.Background()))
	assert.LessOrEqual(t, sink.len(), 2)
}

func TestDispatcherSinkErrorsAreSwallowed(t *testing.T) {
	failing := &recordSink{err: errors.New("boom")}
	ok := &recordSink{}
	d := NewDispatcher(Config{Sinks: []Sink{failing, ok}})

	d.Emit(AssessmentPassed("u1", "go", "Go", "yellow"))
	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, 1, ok.len())
}

func TestDispatcherEmitAfterClose(t *testing.T) {
	sink := &recordSink{}
	d := NewDispatcher(Config{Sinks: []Sink{sink}})
	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()))

	d.Emit(SkillStarted("u1", "go", "Go"))
	assert.Zero(t, sink.len())
}

func TestDispatcherPracticeProducesMilestone(t *testing.T) {
	repos := memstore.New().Repos()
	sink := &recordSink{}
	d := NewDispatcher(Config{
		Sinks:  []Sink{NewStoreSink(repos.Activities), sink},
		Streak: NewStreakTracker(repos.Activities),
	})

	for i := range 7 {
		d.Emit(Practice("u1", day0.Add(time.Duration(i)*24*time.Hour)))
	}
	require.NoError(t, d.Close(context.Background()))

	require.Equal(t, 1, sink.len())
	assert.Equal(t, TypeStreakMilestone, sink.events[0].Type)

	acts, err := repos.Activities.ListActivities(context.Background(), "u1", storeQuery())
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, "streak_milestone", acts[0].Type)
}

func TestStoreSinkDedup(t *testing.T) {
	repos := memstore.New().Repos()
	s := NewStoreSink(repos.Activities)
	ev := Event{Type: TypeStreakMilestone, UserID: "u1", DedupKey: "7", At: day0}

	require.NoError(t, s.Deliver(context.Background(), ev))
	require.NoError(t, s.Deliver(context.Background(), ev))

	acts, _ := repos.Activities.ListActivities(context.Background(), "u1", storeQuery())
	assert.Len(t, acts, 1)
}

type fakePublisher struct {
	channel string
	payload []byte
}

func (f *fakePublisher) Publish(_ context.Context, channel string, message any) *goredis.IntCmd {
	f.channel = channel
	f.payload, _ = message.([]byte)
	return goredis.NewIntResult(1, nil)
}

func TestRedisSinkPublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	s := NewRedisSink(pub, "")
	require.NoError(t, s.Deliver(context.Background(), BeltPromotion("u1", "go", "Go", "white", "yellow")))

	assert.Equal(t, "dojo.activity", pub.channel)
	assert.Contains(t, string(pub.payload), `"type":"belt_promotion"`)
	assert.Contains(t, string(pub.payload), `"to_belt":"yellow"`)
}
