package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/your-org/faceid/internal/config"
	"github.com/your-org/faceid/internal/identity"
)

const ledgerKeyPrefix = "faceid:batch:"

// RedisLedger is an identity.BatchLedger shared by all API replicas. Each
// batch uses a set of accepted digests and a hash holding the owner and
// the tally.
type RedisLedger struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func NewRedisLedger(client *redis.Client, ttl time.Duration) *RedisLedger {
	if ttl <= 0 {
		ttl = identity.DefaultBatchTTL
	}
	return &RedisLedger{client: client, ttl: ttl}
}

func digestsKey(batchID string) string { return ledgerKeyPrefix + batchID + ":digests" }
func statusKey(batchID string) string  { return ledgerKeyPrefix + batchID + ":status" }

func (l *RedisLedger) Seen(ctx context.Context, batchID, digest string) (bool, error) {
	ok, err := l.client.SIsMember(ctx, digestsKey(batchID), digest).Result()
	if err != nil {
		return false, fmt.Errorf("check batch digest: %w", err)
	}
	return ok, nil
}

// recordOutcome applies one outcome atomically. It returns 0 without
// writing when the batch already belongs to another owner.
// KEYS: status hash, digest set. ARGV: owner, result, updated_at, digest, ttl ms.
var recordOutcome = redis.NewScript(`
local owner = redis.call('HGET', KEYS[1], 'owner_id')
if owner and owner ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'owner_id', ARGV[1], 'updated_at', ARGV[3])
redis.call('HINCRBY', KEYS[1], ARGV[2], 1)
redis.call('PEXPIRE', KEYS[1], ARGV[5])
if ARGV[4] ~= '' then
	redis.call('SADD', KEYS[2], ARGV[4])
end
redis.call('PEXPIRE', KEYS[2], ARGV[5])
return 1
`)

func (l *RedisLedger) Record(ctx context.Context, batchID string, ownerID uuid.UUID, digest string, result identity.Result) error {
	if result != identity.ResultSuccess {
		digest = ""
	}
	ok, err := recordOutcome.Run(ctx, l.client,
		[]string{statusKey(batchID), digestsKey(batchID)},
		ownerID.String(),
		string(result),
		time.Now().UTC().Format(time.RFC3339Nano),
		digest,
		l.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("record batch outcome: %w", err)
	}
	if ok == 0 {
		return identity.ErrBatchOwnerMismatch
	}
	return nil
}

func (l *RedisLedger) Status(ctx context.Context, batchID string) (*identity.BatchStatus, error) {
	fields, err := l.client.HGetAll(ctx, statusKey(batchID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get batch status: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return parseStatus(batchID, fields)
}

func parseStatus(batchID string, fields map[string]string) (*identity.BatchStatus, error) {
	st := &identity.BatchStatus{BatchID: batchID}
	if v := fields["owner_id"]; v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("parse batch owner: %w", err)
		}
		st.OwnerID = id
	}
	if v := fields["updated_at"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			st.UpdatedAt = t
		}
	}

	counts := map[string]*int{
		string(identity.ResultSuccess):   &st.Tally.Success,
		string(identity.ResultDuplicate): &st.Tally.Duplicate,
		string(identity.ResultError):     &st.Tally.Error,
	}
	for name, dst := range counts {
		if v, ok := fields[name]; ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("parse batch tally %s: %w", name, err)
			}
			*dst = n
		}
	}
	return st, nil
}
