// README: Notification log backed by Redis lists and sets.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"tiffin/internal/types"
)

const (
	logKeyPrefix  = "notif:log:%s:%s"
	seenKeyPrefix = "notif:seen:%s:%s"
	readKeyPrefix = "notif:read:%s:%s"

	// actorsKeyPrefix holds the ids of every actor of a role that has used notifications.
	actorsKeyPrefix = "notif:actors:%s"
)

// DefaultRetention is how long a notification id is remembered for deduplication.
const DefaultRetention = 30 * 24 * time.Hour

// appendScript adds a notification only if its id is not in the seen-set. The seen-set is a
// sorted set scored by the notification's time; it outlives the bounded log, so ids trimmed
// from the log cannot come back while they are inside the retention horizon.
var appendScript = redis.NewScript(`
if redis.call("ZADD", KEYS[1], "NX", ARGV[4], ARGV[1]) == 1 then
	redis.call("LPUSH", KEYS[2], ARGV[2])
	redis.call("LTRIM", KEYS[2], 0, tonumber(ARGV[3]) - 1)
	return 1
end
return 0
`)

type Store struct {
	redis     *redis.Client
	window    int
	retention time.Duration
}

// NewStore keeps the newest window notifications per actor and remembers ids for retention.
func NewStore(rdb *redis.Client, window int, retention time.Duration) *Store {
	if window <= 0 {
		window = 50
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Store{redis: rdb, window: window, retention: retention}
}

func (s *Store) Retention() time.Duration {
	return s.retention
}

// Prune forgets ids of notifications created before before.
func (s *Store) Prune(ctx context.Context, actor types.Actor, before time.Time) error {
	upper := "(" + strconv.FormatInt(before.UnixMilli(), 10)
	return s.redis.ZRemRangeByScore(ctx, seenKey(actor), "-inf", upper).Err()
}

// Seen returns every remembered id for actor.
func (s *Store) Seen(ctx context.Context, actor types.Actor) (map[string]bool, error) {
	ids, err := s.redis.ZRange(ctx, seenKey(actor), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

// Append stores ns for actor and returns the ones that were actually new.
func (s *Store) Append(ctx context.Context, actor types.Actor, ns []Notification) ([]Notification, error) {
	var added []Notification
	keys := []string{seenKey(actor), logKey(actor)}
	for _, n := range ns {
		payload, err := json.Marshal(n)
		if err != nil {
			return added, err
		}
		ok, err := appendScript.Run(ctx, s.redis, keys, n.ID, payload, s.window, n.CreatedAt.UnixMilli()).Int()
		if err != nil {
			return added, err
		}
		if ok == 1 {
			added = append(added, n)
		}
	}
	return added, nil
}

// List returns the retained log, newest first, with read flags applied.
func (s *Store) List(ctx context.Context, actor types.Actor) ([]Notification, error) {
	pipe := s.redis.Pipeline()
	logCmd := pipe.LRange(ctx, logKey(actor), 0, -1)
	readCmd := pipe.SMembers(ctx, readKey(actor))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}
	read := make(map[string]bool)
	for _, id := range readCmd.Val() {
		read[id] = true
	}
	raw := logCmd.Val()
	out := make([]Notification, 0, len(raw))
	for _, r := range raw {
		var n Notification
		if err := json.Unmarshal([]byte(r), &n); err != nil {
			return nil, err
		}
		n.Read = read[n.ID]
		out = append(out, n)
	}
	return out, nil
}

func (s *Store) MarkRead(ctx context.Context, actor types.Actor, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	return s.redis.SAdd(ctx, readKey(actor), members...).Err()
}

func (s *Store) Track(ctx context.Context, actor types.Actor) error {
	if actor.ID == "" {
		return nil
	}
	return s.redis.SAdd(ctx, fmt.Sprintf(actorsKeyPrefix, actor.Role), string(actor.ID)).Err()
}

func (s *Store) Actors(ctx context.Context, role types.Role) ([]types.ID, error) {
	ids, err := s.redis.SMembers(ctx, fmt.Sprintf(actorsKeyPrefix, role)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]types.ID, len(ids))
	for i, id := range ids {
		out[i] = types.ID(id)
	}
	return out, nil
}

func logKey(a types.Actor) string  { return fmt.Sprintf(logKeyPrefix, a.Role, a.ID) }
func seenKey(a types.Actor) string { return fmt.Sprintf(seenKeyPrefix, a.Role, a.ID) }
func readKey(a types.Actor) string { return fmt.Sprintf(readKeyPrefix, a.Role, a.ID) }
