package services

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queue-system/config"
	"queue-system/internal/status"
	"queue-system/models"
)

func setupTestTransferService() (*TransferService, redismock.ClientMock) {
	db, mock := redismock.NewClientMock()
	cfg := &config.Config{CounterLivenessTimeout: 90 * time.Second}

	tickets := &TicketStore{Redis: db, config: cfg, events: NewPublisher(nil)}
	counters := &CounterService{Redis: db, config: cfg, events: NewPublisher(nil), stopChan: make(chan struct{})}

	return &TransferService{tickets: tickets, counters: counters}, mock
}

func TestTransfer_ServingTicketGoesBackToWaiting(t *testing.T) {
	service, mock := setupTestTransferService()
	defer mock.ClearExpect()

	created := time.Now().UTC().Add(-15 * time.Minute)
	serving := ticketHash("t1", "branch-1", models.StatusServing, models.PrioritySenior, created,
		map[string]string{"counter_id": "c1"})
	requeued := ticketHash("t1", "branch-1", models.StatusWaiting, models.PrioritySenior, created,
		map[string]string{
			"preferred_counter_id": "c2",
			"transferred_at":       time.Now().UTC().Format(time.RFC3339Nano),
			"transfer_reason":      "wrong desk",
		})

	mock.ExpectHGetAll("counter:branch-1:c2").SetVal(counterHash("c2", "branch-1", "Counter 2", nil))
	mock.ExpectHGetAll("ticket:branch-1:t1").SetVal(serving)
	mock.CustomMatch(anyArgs).ExpectEval(transitionTicketScript, []string{
		"ticket:branch-1:t1",
	}, models.StatusWaiting+","+models.StatusServing, models.StatusWaiting,
		created.Format(time.RFC3339Nano),
		"counter_id", "",
		"preferred_counter_id", "c2",
		"transferred_at", created.Format(time.RFC3339Nano),
		"transfer_reason", "wrong desk",
	).SetVal([]interface{}{int64(1), models.StatusServing})
	mock.ExpectHGetAll("ticket:branch-1:t1").SetVal(requeued)
	mock.ExpectHGetAll("counter:branch-1:c1").SetVal(map[string]string{})

	ticket, err := service.Transfer(context.Background(), "branch-1", "t1", "c2", "wrong desk")

	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, ticket.Status)
	require.NotNil(t, ticket.PreferredCounterID)
	assert.Equal(t, "c2", *ticket.PreferredCounterID)
	assert.True(t, ticket.CreatedAt.Equal(created))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransfer_TargetCounterMustExist(t *testing.T) {
	service, mock := setupTestTransferService()
	defer mock.ClearExpect()

	mock.ExpectHGetAll("counter:branch-1:ghost").SetVal(map[string]string{})

	_, err := service.Transfer(context.Background(), "branch-1", "t1", "ghost", "")
	assert.ErrorIs(t, err, status.ErrCounterNotFound)
}

func TestTransfer_Validation(t *testing.T) {
	service, _ := setupTestTransferService()

	_, err := service.Transfer(context.Background(), "branch-1", "t1", "", "")
	assert.True(t, status.IsValidation(err))
}

func TestTransfer_TerminalTicketRejected(t *testing.T) {
	service, mock := setupTestTransferService()
	defer mock.ClearExpect()

	created := time.Now().UTC()
	done := ticketHash("t1", "branch-1", models.StatusDone, models.PriorityNormal, created, nil)

	mock.ExpectHGetAll("counter:branch-1:c2").SetVal(counterHash("c2", "branch-1", "Counter 2", nil))
	mock.ExpectHGetAll("ticket:branch-1:t1").SetVal(done)
	mock.CustomMatch(anyArgs).ExpectEval(transitionTicketScript, []string{
		"ticket:branch-1:t1",
	}, models.StatusWaiting+","+models.StatusServing, models.StatusWaiting,
		created.Format(time.RFC3339Nano),
		"counter_id", "",
		"preferred_counter_id", "c2",
		"transferred_at", created.Format(time.RFC3339Nano),
		"transfer_reason", "",
	).SetVal([]interface{}{int64(0), models.StatusDone})

	_, err := service.Transfer(context.Background(), "branch-1", "t1", "c2", "")
	assert.ErrorIs(t, err, status.ErrInvalidState)
}
