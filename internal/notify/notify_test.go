package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/gofrs/uuid/v5"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/DongNguyen06/lib-v2/internal/model"
)

func sample() model.Notification {
	return model.Notification{
		UserID:  uuid.Must(uuid.NewV4()),
		Type:    model.NotifySuccess,
		Title:   "Reserved Book Available",
		Message: "Your reserved book is now available!",
	}
}

var fixed = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeSNS struct {
	in  *sns.PublishInput
	err error
}

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.in = in
	return &sns.PublishOutput{}, f.err
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func (f *fakeWriter) Close() error { f.closed = true; return nil }

type fakeInserter struct {
	got []model.Notification
	err error
}

func (f *fakeInserter) InsertNotification(_ context.Context, n model.Notification) error {
	f.got = append(f.got, n)
	return f.err
}

func TestSNS_Publishes(t *testing.T) {
	client := &fakeSNS{}
	s := NewSNS(client, "arn:aws:sns:ap-southeast-1:000000000000:lending")
	s.now = func() time.Time { return fixed }
	n := sample()

	require.NoError(t, s.Notify(context.Background(), n))
	require.NotNil(t, client.in)
	assert.Equal(t, "arn:aws:sns:ap-southeast-1:000000000000:lending", *client.in.TopicArn)
	assert.Equal(t, n.Title, *client.in.Subject)
	assert.Equal(t, "success", *client.in.MessageAttributes["type"].StringValue)

	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(*client.in.Message), &env))
	assert.Equal(t, "lending", env.Source)
	assert.Equal(t, n, env.Notification)
	assert.True(t, fixed.Equal(env.SentAt))
}

func TestSNS_Errors(t *testing.T) {
	require.Error(t, NewSNS(&fakeSNS{}, "").Notify(context.Background(), sample()))

	boom := errors.New("throttled")
	err := NewSNS(&fakeSNS{err: boom}, "arn").Notify(context.Background(), sample())
	require.ErrorIs(t, err, boom)
}

func TestKafka_KeysByUser(t *testing.T) {
	w := &fakeWriter{}
	k := NewKafka(w)
	n := sample()

	require.NoError(t, k.Notify(context.Background(), n))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, n.UserID.String(), string(w.msgs[0].Key))
	assert.Equal(t, "type", w.msgs[0].Headers[0].Key)

	var env Envelope
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &env))
	assert.Equal(t, n.Message, env.Message)

	require.NoError(t, k.Close())
	assert.True(t, w.closed)

	boom := errors.New("leader not available")
	require.ErrorIs(t, NewKafka(&fakeWriter{err: boom}).Notify(context.Background(), n), boom)
}

func TestStoreAndLog(t *testing.T) {
	ins := &fakeInserter{}
	n := sample()
	require.NoError(t, NewStore(ins).Notify(context.Background(), n))
	assert.Equal(t, []model.Notification{n}, ins.got)

	core, logs := observer.New(zap.InfoLevel)
	require.NoError(t, NewLog(zap.New(core)).Notify(context.Background(), n))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, n.Title, logs.All()[0].ContextMap()["title"])
}

func TestMulti_TriesEverySender(t *testing.T) {
	boom := errors.New("db down")
	failing := &fakeInserter{err: boom}
	w := &fakeWriter{}

	err := Multi{NewStore(failing), NewKafka(w)}.Notify(context.Background(), sample())
	require.ErrorIs(t, err, boom)
	assert.Len(t, failing.got, 1)
	assert.Len(t, w.msgs, 1)
}
