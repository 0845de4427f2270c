// Package redis implements the tracking store on Redis. Each record is a
// hash; sets index records by campaign and by contact so aggregation reads
// never need KEYS or SCAN over the whole keyspace.
//
// The key prefix always carries a hash tag ("{trk}:" by default), so a
// record and its index sets share one slot and the create script runs on
// Redis Cluster without CROSSSLOT errors. The whole dataset therefore lives
// on one cluster shard.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/service/tracking"
)

// DefaultKeyPrefix namespaces every key the store writes.
const DefaultKeyPrefix = "{trk}:"

// Lua script for atomic create: refuse existing ids, write the hash and all
// index memberships in one step.
// KEYS: record, all-index, campaign-index, contact-index
// ARGV: id, then field/value pairs
const createLuaScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
    return 0
end
local fields = {}
for i = 2, #ARGV do
    fields[#fields + 1] = ARGV[i]
end
redis.call("HSET", KEYS[1], unpack(fields))
redis.call("SADD", KEYS[2], ARGV[1])
redis.call("SADD", KEYS[3], ARGV[1])
redis.call("SADD", KEYS[4], ARGV[1])
return 1
`

// Lua script for atomic resolution. resolved_at is only written when absent
// so the first hit wins; every hit bumps hit_count and the requester fields.
// KEYS: record
// ARGV: kind, hit time, agent, address
const resolveLuaScript = `
local kind = redis.call("HGET", KEYS[1], "kind")
if not kind or kind ~= ARGV[1] then
    return false
end
redis.call("HSET", KEYS[1], "resolved", "1", "last_hit_at", ARGV[2],
    "requester_agent", ARGV[3], "requester_address", ARGV[4])
redis.call("HSETNX", KEYS[1], "resolved_at", ARGV[2])
redis.call("HINCRBY", KEYS[1], "hit_count", 1)
return redis.call("HGETALL", KEYS[1])
`

// TrackingStore implements tracking.Store on Redis.
type TrackingStore struct {
	client goredis.UniversalClient
	prefix string

	createScript  *goredis.Script
	resolveScript *goredis.Script
}

// NewTrackingStore wraps client. An empty prefix uses DefaultKeyPrefix; a
// prefix without a hash tag is wrapped in one ("tenant1:" becomes
// "{tenant1}:").
func NewTrackingStore(client goredis.UniversalClient, prefix string) *TrackingStore {
	return &TrackingStore{
		client:        client,
		prefix:        slotPrefix(prefix),
		createScript:  goredis.NewScript(createLuaScript),
		resolveScript: goredis.NewScript(resolveLuaScript),
	}
}

func slotPrefix(prefix string) string {
	if prefix == "" {
		return DefaultKeyPrefix
	}
	open := strings.Index(prefix, "{")
	if open >= 0 && strings.Index(prefix[open:], "}") > 1 {
		return prefix
	}
	return "{" + strings.TrimSuffix(prefix, ":") + "}:"
}

func (s *TrackingStore) recordKey(id string) string { return s.prefix + "rec:" + id }
func (s *TrackingStore) allKey() string             { return s.prefix + "idx:all" }
func (s *TrackingStore) campaignKey(id string) string {
	return s.prefix + "idx:campaign:" + id
}
func (s *TrackingStore) contactKey(id string) string {
	return s.prefix + "idx:contact:" + id
}

func (s *TrackingStore) Create(ctx context.Context, r *domain.TrackingRecord) error {
	keys := []string{s.recordKey(r.ID), s.allKey(), s.campaignKey(r.CampaignID), s.contactKey(r.ContactID)}
	args := []interface{}{r.ID,
		"id", r.ID,
		"kind", string(r.Kind),
		"email_id", r.EmailID,
		"contact_id", r.ContactID,
		"campaign_id", r.CampaignID,
		"created_at", formatTime(r.CreatedAt),
		"resolved", "0",
		"hit_count", "0",
		"destination_url", r.DestinationURL,
		"link_label", r.LinkLabel,
	}
	n, err := s.createScript.Run(ctx, s.client, keys, args...).Int64()
	if err != nil {
		return fmt.Errorf("redis create %s: %w", r.ID, err)
	}
	if n == 0 {
		return tracking.ErrDuplicateID
	}
	return nil
}

func (s *TrackingStore) Get(ctx context.Context, id string) (*domain.TrackingRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.recordKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, tracking.ErrNotFound
	}
	return decodeRecord(fields)
}

func (s *TrackingStore) Resolve(ctx context.Context, id string, kind domain.RecordKind, hit domain.Hit) (*domain.TrackingRecord, error) {
	res, err := s.resolveScript.Run(ctx, s.client, []string{s.recordKey(id)},
		string(kind), formatTime(hit.At), hit.Agent, hit.Address).StringSlice()
	if errors.Is(err, goredis.Nil) {
		return nil, tracking.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis resolve %s: %w", id, err)
	}
	fields := make(map[string]string, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		fields[res[i]] = res[i+1]
	}
	return decodeRecord(fields)
}

func (s *TrackingStore) Scan(ctx context.Context, f domain.RecordFilter) ([]domain.TrackingRecord, error) {
	idx := s.allKey()
	switch {
	case f.CampaignID != "":
		idx = s.campaignKey(f.CampaignID)
	case f.ContactID != "":
		idx = s.contactKey(f.ContactID)
	}

	ids, err := s.client.SMembers(ctx, idx).Result()
	if err != nil {
		return nil, fmt.Errorf("redis index %s: %w", idx, err)
	}

	out := []domain.TrackingRecord{}
	if len(ids) == 0 {
		return out, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.recordKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}

	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		rec, err := decodeRecord(fields)
		if err != nil {
			return nil, err
		}
		if f.Matches(rec) {
			out = append(out, *rec)
		}
	}
	tracking.SortRecords(out)
	return out, nil
}

// Count returns the size of the all-records index.
func (s *TrackingStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.SCard(ctx, s.allKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis count: %w", err)
	}
	return int(n), nil
}

func (s *TrackingStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *TrackingStore) Close() error { return s.client.Close() }

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(field, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", field, err)
	}
	t = t.UTC()
	return &t, nil
}

func decodeRecord(m map[string]string) (*domain.TrackingRecord, error) {
	rec := &domain.TrackingRecord{
		ID:               m["id"],
		Kind:             domain.RecordKind(m["kind"]),
		EmailID:          m["email_id"],
		ContactID:        m["contact_id"],
		CampaignID:       m["campaign_id"],
		Resolved:         m["resolved"] == "1",
		RequesterAgent:   m["requester_agent"],
		RequesterAddress: m["requester_address"],
		DestinationURL:   m["destination_url"],
		LinkLabel:        m["link_label"],
	}
	created, err := parseTime("created_at", m["created_at"])
	if err != nil {
		return nil, err
	}
	if created != nil {
		rec.CreatedAt = *created
	}
	if rec.ResolvedAt, err = parseTime("resolved_at", m["resolved_at"]); err != nil {
		return nil, err
	}
	if rec.LastHitAt, err = parseTime("last_hit_at", m["last_hit_at"]); err != nil {
		return nil, err
	}
	if v := m["hit_count"]; v != "" {
		if rec.HitCount, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("decode hit_count: %w", err)
		}
	}
	return rec, nil
}

var (
	_ tracking.Store   = (*TrackingStore)(nil)
	_ tracking.Counter = (*TrackingStore)(nil)
)
