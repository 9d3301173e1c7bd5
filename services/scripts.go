package services

// Redis key layout:
//
//	ticket:{branchID}:{ticketID}   hash of ticket fields
//	tickets:branch:{branchID}      set of ticket ids for the branch
//	counter:{branchID}:{counterID} hash of counter fields
//	counters:branch:{branchID}     set of counter ids for the branch
//	seq:{branchID}:{serviceID}:{yyyymmdd}  daily ticket number sequence
//	service:prefix:{serviceID}     cached ticket number prefix
//	stats:{branchID}:{yyyy-mm-dd}  hash of daily aggregates
//
// Every transition is an EVAL so the status check and the field writes
// commit as one step. Scripts return {1, previousStatus} on success and
// {0, reason} on failure, where reason is "not_found" or the current status
// that broke the precondition.

// transitionTicketScript applies a conditional status transition.
// KEYS[1] ticket hash. ARGV[1] comma-separated allowed statuses,
// ARGV[2] new status, ARGV[3] updated_at, then alternating field/value
// pairs; an empty value deletes the field. When the ticket leaves
// "serving" the owning counter's current_ticket_id is unbound in the same
// step.
const transitionTicketScript = `
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
  return {0, 'not_found'}
end
local allowed = false
for s in string.gmatch(ARGV[1], '([^,]+)') do
  if s == status then allowed = true end
end
if not allowed then
  return {0, status}
end
if status == 'serving' then
  local branch = redis.call('HGET', KEYS[1], 'branch_id')
  local counter = redis.call('HGET', KEYS[1], 'counter_id')
  if counter and counter ~= '' then
    local ckey = 'counter:' .. branch .. ':' .. counter
    if redis.call('HGET', ckey, 'current_ticket_id') == redis.call('HGET', KEYS[1], 'id') then
      redis.call('HDEL', ckey, 'current_ticket_id')
      redis.call('HSET', ckey, 'updated_at', ARGV[3])
    end
  end
end
redis.call('HSET', KEYS[1], 'status', ARGV[2], 'updated_at', ARGV[3])
for i = 4, #ARGV, 2 do
  if ARGV[i+1] == '' then
    redis.call('HDEL', KEYS[1], ARGV[i])
  else
    redis.call('HSET', KEYS[1], ARGV[i], ARGV[i+1])
  end
end
return {1, status}
`

// claimTicketScript moves a waiting ticket to serving and binds it to the
// claiming counter in one step. This is what makes concurrent call-next
// safe: the second claimer sees status "serving" and fails cleanly. A
// counter already serving a ticket is rejected with "counter_busy" so one
// counter never holds two serving tickets.
// KEYS[1] ticket hash, KEYS[2] counter hash. ARGV[1] counter id,
// ARGV[2] called_at, ARGV[3] updated_at.
const claimTicketScript = `
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
  return {0, 'not_found'}
end
if status ~= 'waiting' then
  return {0, status}
end
if redis.call('EXISTS', KEYS[2]) == 0 then
  return {0, 'counter_not_found'}
end
local current = redis.call('HGET', KEYS[2], 'current_ticket_id')
if current and current ~= '' then
  local branch = redis.call('HGET', KEYS[1], 'branch_id')
  if redis.call('HGET', 'ticket:' .. branch .. ':' .. current, 'status') == 'serving' then
    return {0, 'counter_busy'}
  end
end
redis.call('HSET', KEYS[1],
  'status', 'serving',
  'counter_id', ARGV[1],
  'called_at', ARGV[2],
  'updated_at', ARGV[3])
redis.call('HDEL', KEYS[1], 'preferred_counter_id')
redis.call('HSET', KEYS[2],
  'current_ticket_id', redis.call('HGET', KEYS[1], 'id'),
  'updated_at', ARGV[3])
return {1, status}
`

// assignCounterScript is the staff slot test-and-set. A live occupant wins;
// an occupant whose last ping is older than the liveness timeout is treated
// as abandoned and overwritten without an explicit release. A ticket the
// abandoned occupant was still serving goes back to waiting in the same
// step, and its id is returned so the caller can announce it.
// KEYS[1] counter hash. ARGV[1] staff id, ARGV[2] now (unix seconds),
// ARGV[3] liveness timeout (seconds), ARGV[4] updated_at,
// ARGV[5] ticket key prefix for the branch.
const assignCounterScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {0, 'not_found'}
end
local staff = redis.call('HGET', KEYS[1], 'staff_id')
if staff and staff ~= '' then
  local ping = tonumber(redis.call('HGET', KEYS[1], 'last_ping'))
  if ping and (tonumber(ARGV[2]) - ping) <= tonumber(ARGV[3]) then
    return {0, staff}
  end
end
local orphan = ''
local current = redis.call('HGET', KEYS[1], 'current_ticket_id')
if current and current ~= '' then
  local tkey = ARGV[5] .. current
  if redis.call('HGET', tkey, 'status') == 'serving' then
    redis.call('HSET', tkey, 'status', 'waiting', 'updated_at', ARGV[4])
    redis.call('HDEL', tkey, 'counter_id', 'called_at')
    orphan = current
  end
  redis.call('HDEL', KEYS[1], 'current_ticket_id')
end
redis.call('HSET', KEYS[1],
  'staff_id', ARGV[1],
  'is_active', '1',
  'last_ping', ARGV[2],
  'updated_at', ARGV[4])
return {1, orphan}
`
