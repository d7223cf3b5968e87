package events

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSQS struct {
	input *sqs.SendMessageInput
	err   error
}

func (r *recordingSQS) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	r.input = params
	if r.err != nil {
		return nil, r.err
	}
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func TestSQSPublisherSendsEnvelope(t *testing.T) {
	client := &recordingSQS{}
	pub := NewSQSPublisher(client, "http://localhost:4566/000000000000/scheduling-events")

	entry := OutboxEntry{ID: uuid.New(), Aggregate: "appt-1", Type: "appointment.booked.v1", Payload: []byte(`{"event_type":"appointment.booked.v1"}`)}
	require.NoError(t, pub.Handle(context.Background(), entry))

	assert.Equal(t, "http://localhost:4566/000000000000/scheduling-events", aws.ToString(client.input.QueueUrl))
	assert.JSONEq(t, `{"event_type":"appointment.booked.v1"}`, aws.ToString(client.input.MessageBody))
	assert.Equal(t, "appointment.booked.v1", aws.ToString(client.input.MessageAttributes["event_type"].StringValue))
}

func TestSQSPublisherWrapsErrors(t *testing.T) {
	client := &recordingSQS{err: errors.New("throttled")}
	pub := NewSQSPublisher(client, "queue")
	err := pub.Handle(context.Background(), OutboxEntry{})
	assert.ErrorContains(t, err, "throttled")
}

func TestNewSQSPublisherPanicsWithoutQueue(t *testing.T) {
	assert.Panics(t, func() { NewSQSPublisher(&recordingSQS{}, "") })
}
