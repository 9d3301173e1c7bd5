package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queue-system/config"
	"queue-system/internal/status"
	"queue-system/models"
)

// anyArgs skips argument value matching for commands whose arguments carry
// timestamps or generated ids. The expectation still has to list the full
// argument set so the lengths line up.
func anyArgs(expected, actual []interface{}) error {
	return nil
}

// fieldPairs expands field names into name/value pairs shaped like the real
// HSET call; anyArgs skips the values.
func fieldPairs(names ...string) []interface{} {
	pairs := make([]interface{}, 0, 2*len(names))
	for _, name := range names {
		pairs = append(pairs, name, "*")
	}
	return pairs
}

func setupTestTicketStore() (*TicketStore, redismock.ClientMock) {
	db, mock := redismock.NewClientMock()
	cfg := &config.Config{
		DefaultTicketPrefix:   "T",
		DefaultAvgServiceTime: 5 * time.Minute,
	}

	store := &TicketStore{
		Redis:  db,
		config: cfg,
		events: NewPublisher(nil),
	}
	return store, mock
}

func ticketHash(id, branchID, status string, priority int, createdAt time.Time, extra map[string]string) map[string]string {
	fields := map[string]string{
		"id":             id,
		"ticket_number":  "A-001",
		"service_id":     "svc-1",
		"branch_id":      branchID,
		"status":         status,
		"priority_level": fmt.Sprintf("%d", priority),
		"created_at":     createdAt.Format(time.RFC3339Nano),
		"updated_at":     createdAt.Format(time.RFC3339Nano),
	}
	for k, v := range extra {
		fields[k] = v
	}
	return fields
}

func TestTicketStore_CreateTicket_Validation(t *testing.T) {
	store, _ := setupTestTicketStore()
	ctx := context.Background()

	_, err := store.CreateTicket(ctx, CreateTicketParams{BranchID: "branch-1"})
	assert.True(t, status.IsValidation(err))

	_, err = store.CreateTicket(ctx, CreateTicketParams{ServiceID: "svc-1"})
	assert.True(t, status.IsValidation(err))

	_, err = store.CreateTicket(ctx, CreateTicketParams{
		ServiceID: "svc-1", BranchID: "branch-1", PriorityLevel: 3,
	})
	assert.True(t, status.IsValidation(err))
}

func TestTicketStore_CreateTicket_Success(t *testing.T) {
	store, mock := setupTestTicketStore()
	defer mock.ClearExpect()

	ctx := context.Background()
	day := time.Now().UTC().Format("20060102")
	seqKey := "seq:branch-1:svc-1:" + day

	mock.ExpectIncr(seqKey).SetVal(1)
	mock.ExpectExpire(seqKey, 48*time.Hour).SetVal(true)
	mock.ExpectGet("service:prefix:svc-1").SetVal("A")
	mock.CustomMatch(anyArgs).ExpectHSet("ticket", fieldPairs(
		"id", "ticket_number", "service_id", "branch_id",
		"status", "priority_level", "created_at", "updated_at",
		"customer_name")...).SetVal(9)
	mock.CustomMatch(anyArgs).ExpectSAdd("tickets:branch:branch-1", "*").SetVal(1)

	ticket, err := store.CreateTicket(ctx, CreateTicketParams{
		ServiceID:     "svc-1",
		BranchID:      "branch-1",
		PriorityLevel: models.PrioritySenior,
		CustomerName:  "Somchai",
	})

	require.NoError(t, err)
	assert.Equal(t, "A-001", ticket.TicketNumber)
	assert.Equal(t, models.StatusWaiting, ticket.Status)
	assert.Equal(t, models.PrioritySenior, ticket.PriorityLevel)
	assert.NotEmpty(t, ticket.ID)
	assert.Nil(t, ticket.CounterID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketStore_CreateTicket_DefaultPrefix(t *testing.T) {
	store, mock := setupTestTicketStore()
	defer mock.ClearExpect()

	ctx := context.Background()
	day := time.Now().UTC().Format("20060102")
	seqKey := "seq:branch-1:svc-9:" + day

	mock.ExpectIncr(seqKey).SetVal(42)
	mock.ExpectGet("service:prefix:svc-9").RedisNil()
	mock.CustomMatch(anyArgs).ExpectHSet("ticket", fieldPairs(
		"id", "ticket_number", "service_id", "branch_id",
		"status", "priority_level", "created_at", "updated_at")...).SetVal(8)
	mock.CustomMatch(anyArgs).ExpectSAdd("tickets:branch:branch-1", "*").SetVal(1)

	ticket, err := store.CreateTicket(ctx, CreateTicketParams{
		ServiceID: "svc-9",
		BranchID:  "branch-1",
	})

	require.NoError(t, err)
	assert.Equal(t, "T-042", ticket.TicketNumber)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketStore_GetTicket_NotFound(t *testing.T) {
	store, mock := setupTestTicketStore()
	defer mock.ClearExpect()

	mock.ExpectHGetAll("ticket:branch-1:missing").SetVal(map[string]string{})

	_, err := store.GetTicket(context.Background(), "branch-1", "missing")
	assert.ErrorIs(t, err, status.ErrTicketNotFound)
}

func TestTicketStore_MarkServing_Success(t *testing.T) {
	store, mock := setupTestTicketStore()
	defer mock.ClearExpect()

	ctx := context.Background()
	created := time.Now().UTC().Add(-3 * time.Minute)
	called := time.Now().UTC()

	mock.CustomMatch(anyArgs).ExpectEval(claimTicketScript, []string{
		"ticket:branch-1:t1", "counter:branch-1:c1",
	}, "c1", called.Format(time.RFC3339Nano), called.Format(time.RFC3339Nano),
	).SetVal([]interface{}{int64(1), models.StatusWaiting})

	mock.ExpectHGetAll("ticket:branch-1:t1").SetVal(ticketHash(
		"t1", "branch-1", models.StatusServing, models.PriorityNormal, created,
		map[string]string{
			"counter_id": "c1",
			"called_at":  called.Format(time.RFC3339Nano),
		},
	))
	mock.ExpectHGetAll("counter:branch-1:c1").SetVal(map[string]string{})

	ticket, err := store.MarkServing(ctx, "branch-1", "t1", "c1")

	require.NoError(t, err)
	assert.Equal(t, models.StatusServing, ticket.Status)
	require.NotNil(t, ticket.CounterID)
	assert.Equal(t, "c1", *ticket.CounterID)
	require.NotNil(t, ticket.CalledAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketStore_MarkServing_AlreadyClaimed(t *testing.T) {
	store, mock := setupTestTicketStore()
	defer mock.ClearExpect()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	mock.CustomMatch(anyArgs).ExpectEval(claimTicketScript, []string{
		"ticket:branch-1:t1", "counter:branch-1:c2",
	}, "c2", now, now).SetVal([]interface{}{int64(0), models.StatusServing})

	_, err := store.MarkServing(context.Background(), "branch-1", "t1", "c2")
	assert.ErrorIs(t, err, status.ErrTicketClaimed)
	assert.True(t, status.IsConflict(err))
}

func TestTicketStore_MarkServing_BusyCounterRejected(t *testing.T) {
	store, mock := setupTestTicketStore()
	defer mock.ClearExpect()

	// c1 is still serving another ticket; the claim must not leave two
	// serving tickets bound to one counter.
	now := time.Now().UTC().Format(time.RFC3339Nano)
	mock.CustomMatch(anyArgs).ExpectEval(claimTicketScript, []string{
		"ticket:branch-1:t2", "counter:branch-1:c1",
	}, "c1", now, now).SetVal([]interface{}{int64(0), "counter_busy"})

	_, err := store.MarkServing(context.Background(), "branch-1", "t2", "c1")
	assert.ErrorIs(t, err, status.ErrCounterBusy)
	// Dispatch must stop on a busy counter instead of trying the next ticket.
	assert.False(t, status.IsConflict(err))
}

func TestTicketStore_MarkServing_NotFound(t *testing.T) {
	store, mock := setupTestTicketStore()
	defer mock.ClearExpect()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	mock.CustomMatch(anyArgs).ExpectEval(claimTicketScript, []string{
		"ticket:branch-1:ghost", "counter:branch-1:c1",
	}, "c1", now, now).SetVal([]interface{}{int64(0), "not_found"})

	_, err := store.MarkServing(context.Background(), "branch-1", "ghost", "c1")
	assert.ErrorIs(t, err, status.ErrTicketNotFound)
}

func TestTicketStore_MarkServing_CounterMissing(t *testing.T) {
	store, mock := setupTestTicketStore()
	defer mock.ClearExpect()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	mock.CustomMatch(anyArgs).ExpectEval(claimTicketScript, []string{
		"ticket:branch-1:t1", "counter:branch-1:ghost",
	}, "ghost", now, now).SetVal([]interface{}{int64(0), "counter_not_found"})

	_, err := store.MarkServing(context.Background(), "branch-1", "t1", "ghost")
	assert.ErrorIs(t, err, status.ErrCounterNotFound)
}

func TestTicketStore_Complete_Success(t *testing.T) {
	store, mock := setupTestTicketStore()
	defer mock.ClearExpect()

	ctx := context.Background()
	created := time.Now().UTC().Add(-10 * time.Minute)
	called := time.Now().UTC().Add(-4 * time.Minute)

	serving := ticketHash("t1", "branch-1", models.StatusServing, models.PriorityNormal, created,
		map[string]string{
			"counter_id": "c1",
			"called_at":  called.Format(time.RFC3339Nano),
		})
	done := ticketHash("t1", "branch-1", models.StatusDone, models.PriorityNormal, created,
		map[string]string{
			"called_at": called.Format(time.RFC3339Nano),
		})

	mock.ExpectHGetAll("ticket:branch-1:t1").SetVal(serving)
	mock.CustomMatch(anyArgs).ExpectEval(transitionTicketScript, []string{
		"ticket:branch-1:t1",
	}, models.StatusServing, models.StatusDone, called.Format(time.RFC3339Nano),
		"counter_id", "",
	).SetVal([]interface{}{int64(1), models.StatusServing})
	mock.ExpectHGetAll("ticket:branch-1:t1").SetVal(done)
	mock.ExpectHGetAll("counter:branch-1:c1").SetVal(map[string]string{})

	ticket, err := store.Complete(ctx, "branch-1", "t1", "")

	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, ticket.Status)
	assert.Nil(t, ticket.CounterID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketStore_Complete_WrongState(t *testing.T) {
	store, mock := setupTestTicketStore()
	defer mock.ClearExpect()

	created := time.Now().UTC()
	waiting := ticketHash("t1", "branch-1", models.StatusWaiting, models.PriorityNormal, created, nil)

	mock.ExpectHGetAll("ticket:branch-1:t1").SetVal(waiting)
	mock.CustomMatch(anyArgs).ExpectEval(transitionTicketScript, []string{
		"ticket:branch-1:t1",
	}, models.StatusServing, models.StatusDone, created.Format(time.RFC3339Nano),
		"counter_id", "",
	).SetVal([]interface{}{int64(0), models.StatusWaiting})

	_, err := store.Complete(context.Background(), "branch-1", "t1", "")
	assert.ErrorIs(t, err, status.ErrInvalidState)
	assert.True(t, status.IsConflict(err))
}

func TestTicketStore_Cancel_FromWaiting(t *testing.T) {
	store, mock := setupTestTicketStore()
	defer mock.ClearExpect()

	created := time.Now().UTC()
	waiting := ticketHash("t1", "branch-1", models.StatusWaiting, models.PriorityNormal, created, nil)
	cancelled := ticketHash("t1", "branch-1", models.StatusCancelled, models.PriorityNormal, created, nil)

	mock.ExpectHGetAll("ticket:branch-1:t1").SetVal(waiting)
	mock.CustomMatch(anyArgs).ExpectEval(transitionTicketScript, []string{
		"ticket:branch-1:t1",
	}, models.StatusWaiting+","+models.StatusServing, models.StatusCancelled,
		created.Format(time.RFC3339Nano), "counter_id", "",
	).SetVal([]interface{}{int64(1), models.StatusWaiting})
	mock.ExpectHGetAll("ticket:branch-1:t1").SetVal(cancelled)

	ticket, err := store.Cancel(context.Background(), "branch-1", "t1")

	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, ticket.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketStore_Requeue_SetsPreference(t *testing.T) {
	store, mock := setupTestTicketStore()
	defer mock.ClearExpect()

	created := time.Now().UTC().Add(-5 * time.Minute)
	serving := ticketHash("t1", "branch-1", models.StatusServing, models.PrioritySenior, created,
		map[string]string{"counter_id": "c1"})
	requeued := ticketHash("t1", "branch-1", models.StatusWaiting, models.PrioritySenior, created,
		map[string]string{
			"preferred_counter_id": "c2",
			"transferred_at":       time.Now().UTC().Format(time.RFC3339Nano),
			"transfer_reason":      "needs loan desk",
		})

	mock.ExpectHGetAll("ticket:branch-1:t1").SetVal(serving)
	mock.CustomMatch(anyArgs).ExpectEval(transitionTicketScript, []string{
		"ticket:branch-1:t1",
	}, models.StatusWaiting+","+models.StatusServing, models.StatusWaiting,
		created.Format(time.RFC3339Nano),
		"counter_id", "",
		"preferred_counter_id", "c2",
		"transferred_at", created.Format(time.RFC3339Nano),
		"transfer_reason", "needs loan desk",
	).SetVal([]interface{}{int64(1), models.StatusServing})
	mock.ExpectHGetAll("ticket:branch-1:t1").SetVal(requeued)
	mock.ExpectHGetAll("counter:branch-1:c1").SetVal(map[string]string{})

	ticket, err := store.Requeue(context.Background(), "branch-1", "t1", "c2", "needs loan desk")

	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, ticket.Status)
	require.NotNil(t, ticket.PreferredCounterID)
	assert.Equal(t, "c2", *ticket.PreferredCounterID)
	// Seniority survives the transfer.
	assert.True(t, ticket.CreatedAt.Equal(created))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketStore_ListTickets_FilterAndOrder(t *testing.T) {
	store, mock := setupTestTicketStore()
	defer mock.ClearExpect()

	base := time.Now().UTC()
	newer := ticketHash("t-new", "branch-1", models.StatusWaiting, models.PriorityNormal, base.Add(time.Minute), nil)
	older := ticketHash("t-old", "branch-1", models.StatusWaiting, models.PriorityNormal, base, nil)
	served := ticketHash("t-done", "branch-1", models.StatusDone, models.PriorityNormal, base, nil)

	mock.ExpectSMembers("tickets:branch:branch-1").SetVal([]string{"t-new", "t-old", "t-done"})
	mock.ExpectHGetAll("ticket:branch-1:t-new").SetVal(newer)
	mock.ExpectHGetAll("ticket:branch-1:t-old").SetVal(older)
	mock.ExpectHGetAll("ticket:branch-1:t-done").SetVal(served)

	tickets, err := store.ListTickets(context.Background(), models.TicketFilter{
		BranchID: "branch-1",
		Status:   models.StatusWaiting,
	})

	require.NoError(t, err)
	require.Len(t, tickets, 2)
	assert.Equal(t, "t-old", tickets[0].ID)
	assert.Equal(t, "t-new", tickets[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketStore_ListTickets_Validation(t *testing.T) {
	store, _ := setupTestTicketStore()

	_, err := store.ListTickets(context.Background(), models.TicketFilter{})
	assert.True(t, status.IsValidation(err))

	_, err = store.ListTickets(context.Background(), models.TicketFilter{
		BranchID: "branch-1",
		Status:   "sleeping",
	})
	assert.True(t, status.IsValidation(err))
}

func TestParseTicket_RoundTrip(t *testing.T) {
	created := time.Now().UTC().Truncate(time.Millisecond)
	called := created.Add(2 * time.Minute)

	fields := ticketHash("t1", "branch-1", models.StatusServing, models.PriorityEmergency, created,
		map[string]string{
			"counter_id":    "c1",
			"called_at":     called.Format(time.RFC3339Nano),
			"customer_name": "Noy",
		})

	ticket := parseTicket(fields)

	assert.Equal(t, "t1", ticket.ID)
	assert.Equal(t, models.PriorityEmergency, ticket.PriorityLevel)
	assert.True(t, ticket.CreatedAt.Equal(created))
	require.NotNil(t, ticket.CalledAt)
	assert.True(t, ticket.CalledAt.Equal(called))
	require.NotNil(t, ticket.CounterID)
	assert.Equal(t, "c1", *ticket.CounterID)
	assert.Equal(t, "Noy", ticket.CustomerName)
}
