package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"queue-system/config"
	"queue-system/internal/status"
	"queue-system/models"
	"queue-system/monitoring"
	"queue-system/utils"
)

// TicketStore owns the ticket lifecycle. Every transition runs as a Lua
// script so the precondition check and the writes commit atomically; a
// transition whose precondition no longer holds fails with a Conflict
// instead of overwriting concurrent work.
type TicketStore struct {
	Redis  *redis.Client
	config *config.Config
	events *Publisher
	stats  *StatsService
}

func NewTicketStore(redisClient *redis.Client, cfg *config.Config, events *Publisher, stats *StatsService) *TicketStore {
	return &TicketStore{
		Redis:  redisClient,
		config: cfg,
		events: events,
		stats:  stats,
	}
}

type CreateTicketParams struct {
	ServiceID     string `json:"service_id"`
	BranchID      string `json:"branch_id"`
	PriorityLevel int    `json:"priority_level"`
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone"`
	Notes         string `json:"notes"`
}

func ticketKey(branchID, ticketID string) string {
	return fmt.Sprintf("ticket:%s:%s", branchID, ticketID)
}

func branchTicketsKey(branchID string) string {
	return fmt.Sprintf("tickets:branch:%s", branchID)
}

func (s *TicketStore) CreateTicket(ctx context.Context, params CreateTicketParams) (*models.Ticket, error) {
	if params.ServiceID == "" {
		return nil, status.NewValidationError("service_id", "is required")
	}
	if params.BranchID == "" {
		return nil, status.NewValidationError("branch_id", "is required")
	}
	if params.PriorityLevel < models.PriorityNormal || params.PriorityLevel > models.PriorityEmergency {
		return nil, status.NewValidationError("priority_level", "must be 0, 1 or 2")
	}

	id, err := utils.GenerateTicketID()
	if err != nil {
		return nil, fmt.Errorf("generate ticket id: %w", err)
	}

	now := time.Now().UTC()
	number, err := s.nextTicketNumber(ctx, params.BranchID, params.ServiceID, now)
	if err != nil {
		return nil, err
	}

	ticket := &models.Ticket{
		ID:            id,
		TicketNumber:  number,
		ServiceID:     params.ServiceID,
		BranchID:      params.BranchID,
		Status:        models.StatusWaiting,
		PriorityLevel: params.PriorityLevel,
		CreatedAt:     now,
		UpdatedAt:     now,
		CustomerName:  params.CustomerName,
		CustomerPhone: params.CustomerPhone,
		Notes:         params.Notes,
	}

	key := ticketKey(ticket.BranchID, ticket.ID)
	if err := s.Redis.HSet(ctx, key, ticketFields(ticket)).Err(); err != nil {
		return nil, fmt.Errorf("store ticket: %w", err)
	}
	if err := s.Redis.SAdd(ctx, branchTicketsKey(ticket.BranchID), ticket.ID).Err(); err != nil {
		return nil, fmt.Errorf("index ticket: %w", err)
	}

	monitoring.TrackQueueOperation("create", ticket.BranchID, "success")
	s.events.TicketEvent(models.EventTicketCreated, ticket)

	return ticket, nil
}

// nextTicketNumber draws from the per-service daily sequence and formats it
// with the service's prefix, e.g. "A-042".
func (s *TicketStore) nextTicketNumber(ctx context.Context, branchID, serviceID string, now time.Time) (string, error) {
	seqKey := fmt.Sprintf("seq:%s:%s:%s", branchID, serviceID, now.Format("20060102"))
	seq, err := s.Redis.Incr(ctx, seqKey).Result()
	if err != nil {
		return "", fmt.Errorf("ticket sequence: %w", err)
	}
	if seq == 1 {
		// First ticket of the day sets the expiry for the whole sequence.
		s.Redis.Expire(ctx, seqKey, 48*time.Hour)
	}

	prefix, err := s.Redis.Get(ctx, fmt.Sprintf("service:prefix:%s", serviceID)).Result()
	if err == redis.Nil || prefix == "" {
		prefix = s.config.DefaultTicketPrefix
	} else if err != nil {
		return "", fmt.Errorf("service prefix: %w", err)
	}

	return fmt.Sprintf("%s-%03d", prefix, seq), nil
}

func (s *TicketStore) GetTicket(ctx context.Context, branchID, ticketID string) (*models.Ticket, error) {
	fields, err := s.Redis.HGetAll(ctx, ticketKey(branchID, ticketID)).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch ticket: %w", err)
	}
	if len(fields) == 0 {
		return nil, status.ErrTicketNotFound
	}
	ticket := parseTicket(fields)
	return &ticket, nil
}

// ListTickets returns the branch's tickets matching the filter, ordered by
// creation time.
func (s *TicketStore) ListTickets(ctx context.Context, filter models.TicketFilter) ([]models.Ticket, error) {
	if filter.BranchID == "" {
		return nil, status.NewValidationError("branch_id", "is required")
	}
	if filter.Status != "" && !models.ValidStatus(filter.Status) {
		return nil, status.NewValidationError("status", "is not a valid status")
	}

	ids, err := s.Redis.SMembers(ctx, branchTicketsKey(filter.BranchID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}

	tickets := make([]models.Ticket, 0, len(ids))
	for _, id := range ids {
		fields, err := s.Redis.HGetAll(ctx, ticketKey(filter.BranchID, id)).Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		ticket := parseTicket(fields)
		if !matchesFilter(&ticket, filter) {
			continue
		}
		tickets = append(tickets, ticket)
	}

	sort.Slice(tickets, func(i, j int) bool {
		if tickets[i].CreatedAt.Equal(tickets[j].CreatedAt) {
			return tickets[i].ID < tickets[j].ID
		}
		return tickets[i].CreatedAt.Before(tickets[j].CreatedAt)
	})

	return tickets, nil
}

func matchesFilter(ticket *models.Ticket, filter models.TicketFilter) bool {
	if filter.Status != "" && ticket.Status != filter.Status {
		return false
	}
	if filter.ServiceID != "" && ticket.ServiceID != filter.ServiceID {
		return false
	}
	if filter.CounterID != "" {
		if ticket.CounterID == nil || *ticket.CounterID != filter.CounterID {
			return false
		}
	}
	if filter.Date != "" && ticket.CreatedAt.Format("2006-01-02") != filter.Date {
		return false
	}
	return true
}

// MarkServing claims a waiting ticket for a counter. The claim script also
// binds the counter's current_ticket_id, so ticket and counter state move
// together.
func (s *TicketStore) MarkServing(ctx context.Context, branchID, ticketID, counterID string) (*models.Ticket, error) {
	now := time.Now().UTC()
	res, err := s.Redis.Eval(ctx, claimTicketScript,
		[]string{ticketKey(branchID, ticketID), counterKey(branchID, counterID)},
		counterID,
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("claim ticket: %w", err)
	}

	ok, detail := parseScriptResult(res)
	if !ok {
		switch detail {
		case "not_found":
			return nil, status.ErrTicketNotFound
		case "counter_not_found":
			return nil, status.ErrCounterNotFound
		case "counter_busy":
			monitoring.TrackQueueOperation("call_next", branchID, "conflict")
			return nil, status.ErrCounterBusy
		case models.StatusServing:
			return nil, status.ErrTicketClaimed
		default:
			return nil, status.ErrInvalidState
		}
	}

	ticket, err := s.GetTicket(ctx, branchID, ticketID)
	if err != nil {
		return nil, err
	}

	if s.stats != nil && ticket.CalledAt != nil {
		s.stats.RecordWait(ctx, branchID, ticket.CalledAt.Sub(ticket.CreatedAt))
	}

	monitoring.TrackQueueOperation("call_next", branchID, "success")
	s.events.TicketEvent(models.EventTicketUpdated, ticket)
	s.publishCounterState(ctx, branchID, counterID)

	return ticket, nil
}

// Complete finishes the serving ticket. The owning counter's binding is
// cleared in the same script step.
func (s *TicketStore) Complete(ctx context.Context, branchID, ticketID, notes string) (*models.Ticket, error) {
	return s.finishServing(ctx, branchID, ticketID, models.StatusDone, "complete", notes)
}

// Skip marks the serving ticket as skipped (customer did not show at the
// counter).
func (s *TicketStore) Skip(ctx context.Context, branchID, ticketID, notes string) (*models.Ticket, error) {
	return s.finishServing(ctx, branchID, ticketID, models.StatusSkipped, "skip", notes)
}

func (s *TicketStore) finishServing(ctx context.Context, branchID, ticketID, terminal, operation, notes string) (*models.Ticket, error) {
	before, err := s.GetTicket(ctx, branchID, ticketID)
	if err != nil {
		return nil, err
	}

	fields := []string{"counter_id", ""}
	if notes != "" {
		fields = append(fields, "notes", notes)
	}
	ticket, err := s.transition(ctx, branchID, ticketID,
		[]string{models.StatusServing}, terminal,
		fields...,
	)
	if err != nil {
		monitoring.TrackQueueOperation(operation, branchID, "conflict")
		return nil, err
	}

	if before.CalledAt != nil {
		duration := ticket.UpdatedAt.Sub(*before.CalledAt)
		monitoring.TrackServiceDuration(branchID, duration)
		if s.stats != nil {
			s.stats.RecordService(ctx, branchID, duration, terminal == models.StatusDone)
		}
	}

	monitoring.TrackQueueOperation(operation, branchID, "success")
	s.events.TicketEvent(models.EventTicketUpdated, ticket)
	if before.CounterID != nil {
		s.publishCounterState(ctx, branchID, *before.CounterID)
	}

	return ticket, nil
}

// Cancel removes a ticket from active consideration. Valid from waiting and
// serving; terminal states stay terminal.
func (s *TicketStore) Cancel(ctx context.Context, branchID, ticketID string) (*models.Ticket, error) {
	before, err := s.GetTicket(ctx, branchID, ticketID)
	if err != nil {
		return nil, err
	}

	ticket, err := s.transition(ctx, branchID, ticketID,
		[]string{models.StatusWaiting, models.StatusServing}, models.StatusCancelled,
		"counter_id", "",
	)
	if err != nil {
		monitoring.TrackQueueOperation("cancel", branchID, "conflict")
		return nil, err
	}

	monitoring.TrackQueueOperation("cancel", branchID, "success")
	s.events.TicketEvent(models.EventTicketUpdated, ticket)
	if before.Status == models.StatusServing && before.CounterID != nil {
		s.publishCounterState(ctx, branchID, *before.CounterID)
	}

	return ticket, nil
}

// Requeue sends a ticket back to waiting with a counter preference. The
// ticket keeps its number, priority and created_at, so it re-enters the
// order with its original seniority.
func (s *TicketStore) Requeue(ctx context.Context, branchID, ticketID, targetCounterID, reason string) (*models.Ticket, error) {
	before, err := s.GetTicket(ctx, branchID, ticketID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	ticket, err := s.transition(ctx, branchID, ticketID,
		[]string{models.StatusWaiting, models.StatusServing}, models.StatusWaiting,
		"counter_id", "",
		"preferred_counter_id", targetCounterID,
		"transferred_at", now.Format(time.RFC3339Nano),
		"transfer_reason", reason,
	)
	if err != nil {
		monitoring.TrackQueueOperation("transfer", branchID, "conflict")
		return nil, err
	}

	monitoring.TrackQueueOperation("transfer", branchID, "success")
	s.events.TicketEvent(models.EventTicketUpdated, ticket)
	if before.Status == models.StatusServing && before.CounterID != nil {
		s.publishCounterState(ctx, branchID, *before.CounterID)
	}

	return ticket, nil
}

// transition runs the conditional transition script and maps its outcome
// onto the error taxonomy.
func (s *TicketStore) transition(ctx context.Context, branchID, ticketID string, from []string, to string, fieldPairs ...string) (*models.Ticket, error) {
	args := make([]any, 0, 3+len(fieldPairs))
	args = append(args, strings.Join(from, ","), to, time.Now().UTC().Format(time.RFC3339Nano))
	for _, pair := range fieldPairs {
		args = append(args, pair)
	}

	res, err := s.Redis.Eval(ctx, transitionTicketScript,
		[]string{ticketKey(branchID, ticketID)}, args...,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("transition ticket: %w", err)
	}

	ok, detail := parseScriptResult(res)
	if !ok {
		if detail == "not_found" {
			return nil, status.ErrTicketNotFound
		}
		return nil, status.ErrInvalidState
	}

	return s.GetTicket(ctx, branchID, ticketID)
}

// CleanupTerminal drops terminal tickets older than the retention window
// from the branch index so listings stay bounded. Each removal is announced
// so projections forget the ticket too.
func (s *TicketStore) CleanupTerminal(ctx context.Context, branchID string, retention time.Duration) {
	ids, err := s.Redis.SMembers(ctx, branchTicketsKey(branchID)).Result()
	if err != nil {
		log.Printf("Error listing tickets for cleanup in branch %s: %v", branchID, err)
		return
	}

	cutoff := time.Now().UTC().Add(-retention)
	removed := 0
	for _, id := range ids {
		fields, err := s.Redis.HGetAll(ctx, ticketKey(branchID, id)).Result()
		if err != nil {
			continue
		}
		if len(fields) == 0 {
			// Hash expired out from under the index.
			s.Redis.SRem(ctx, branchTicketsKey(branchID), id)
			continue
		}
		ticket := parseTicket(fields)
		if !models.TerminalStatus(ticket.Status) || ticket.UpdatedAt.After(cutoff) {
			continue
		}

		s.Redis.Del(ctx, ticketKey(branchID, id))
		s.Redis.SRem(ctx, branchTicketsKey(branchID), id)
		s.events.TicketDeleted(branchID, id)
		removed++
	}

	if removed > 0 {
		log.Printf("Cleaned up %d terminal tickets in branch %s", removed, branchID)
	}
}

func (s *TicketStore) publishCounterState(ctx context.Context, branchID, counterID string) {
	fields, err := s.Redis.HGetAll(ctx, counterKey(branchID, counterID)).Result()
	if err != nil || len(fields) == 0 {
		return
	}
	counter := parseCounter(fields)
	s.events.CounterEvent(models.EventCounterUpdated, &counter)
}

func parseScriptResult(res any) (bool, string) {
	values, ok := res.([]any)
	if !ok || len(values) != 2 {
		return false, "bad_script_result"
	}
	code, _ := values[0].(int64)
	detail, _ := values[1].(string)
	return code == 1, detail
}

func ticketFields(t *models.Ticket) map[string]any {
	fields := map[string]any{
		"id":             t.ID,
		"ticket_number":  t.TicketNumber,
		"service_id":     t.ServiceID,
		"branch_id":      t.BranchID,
		"status":         t.Status,
		"priority_level": strconv.Itoa(t.PriorityLevel),
		"created_at":     t.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":     t.UpdatedAt.Format(time.RFC3339Nano),
	}
	if t.CustomerName != "" {
		fields["customer_name"] = t.CustomerName
	}
	if t.CustomerPhone != "" {
		fields["customer_phone"] = t.CustomerPhone
	}
	if t.Notes != "" {
		fields["notes"] = t.Notes
	}
	return fields
}

func parseTicket(fields map[string]string) models.Ticket {
	ticket := models.Ticket{
		ID:             fields["id"],
		TicketNumber:   fields["ticket_number"],
		ServiceID:      fields["service_id"],
		BranchID:       fields["branch_id"],
		Status:         fields["status"],
		TransferReason: fields["transfer_reason"],
		CustomerName:   fields["customer_name"],
		CustomerPhone:  fields["customer_phone"],
		Notes:          fields["notes"],
	}

	ticket.PriorityLevel, _ = strconv.Atoi(fields["priority_level"])
	ticket.CreatedAt = parseTime(fields["created_at"])
	ticket.UpdatedAt = parseTime(fields["updated_at"])

	if v := fields["counter_id"]; v != "" {
		ticket.CounterID = &v
	}
	if v := fields["preferred_counter_id"]; v != "" {
		ticket.PreferredCounterID = &v
	}
	if v := fields["called_at"]; v != "" {
		t := parseTime(v)
		ticket.CalledAt = &t
	}
	if v := fields["transferred_at"]; v != "" {
		t := parseTime(v)
		ticket.TransferredAt = &t
	}

	return ticket
}

func parseTime(value string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, value)
	return t
}
