package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExec struct {
	args []any
}

func (s *stubExec) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	s.args = args
	return pgconn.CommandTag{}, nil
}

func TestNewEnvelope(t *testing.T) {
	fixedNow := time.Unix(0, 123456000).UTC()
	prevNow := nowFunc
	nowFunc = func() time.Time { return fixedNow }
	defer func() { nowFunc = prevNow }()

	id := uuid.MustParse("9a20d7d1-bf6a-4d33-bd55-5d25a816f1a8")
	env, err := newEnvelope("appt-1", "appointment.booked.v1", map[string]string{"case_id": "case-1"}, WithEventID(id))
	require.NoError(t, err)
	assert.Equal(t, id, env.EventID)
	assert.Equal(t, fixedNow.UnixMicro(), env.TimestampMicros)
	assert.Equal(t, fixedNow, env.OccurredAt())
	assert.JSONEq(t, `{"case_id":"case-1"}`, string(env.Payload))
}

func TestNewEnvelopeValidation(t *testing.T) {
	_, err := newEnvelope(" ", "appointment.booked.v1", nil)
	assert.ErrorIs(t, err, errMissingAggregate)

	_, err = newEnvelope("appt-1", "", nil)
	assert.ErrorIs(t, err, errMissingType)
}

func TestAppendWritesEnvelope(t *testing.T) {
	exec := &stubExec{}
	env, err := Append(context.Background(), exec, "appt-1", "reschedule.proposed.v1", map[string]int{"chosen_option": 2})
	require.NoError(t, err)
	require.Len(t, exec.args, 4)
	assert.Equal(t, env.EventID, exec.args[0])
	assert.Equal(t, "appt-1", exec.args[1])
	assert.Equal(t, "reschedule.proposed.v1", exec.args[2])

	var stored Envelope
	require.NoError(t, json.Unmarshal(exec.args[3].([]byte), &stored))
	assert.Equal(t, env.EventID, stored.EventID)
}

func TestAppendRequiresExec(t *testing.T) {
	_, err := Append(context.Background(), nil, "appt-1", "x", nil)
	assert.Error(t, err)
}
