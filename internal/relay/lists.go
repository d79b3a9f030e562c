package relay

import (
	"context"
	"log/slog"
	"time"

	"notepush/internal/listcache"
	"notepush/internal/metrics"
	"notepush/internal/nostr"
)

// MuteLists serves recipients' mute lists through the list cache. A
// fetch failure yields an empty list so delivery is not blocked by a
// flaky upstream relay.
type MuteLists struct {
	log   *slog.Logger
	cache *listcache.Cache[*nostr.MuteList]
}

// NewMuteLists builds a cached mute-list source over q.
func NewMuteLists(log *slog.Logger, q Querier, ttl time.Duration, capacity int) *MuteLists {
	fetch := func(ctx context.Context, pubkey string) (*nostr.MuteList, error) {
		metrics.ListCacheLookups.WithLabelValues("mute", "fetch").Inc()
		ev, err := q.FetchLatestByKind(ctx, pubkey, nostr.KindMuteList)
		if err != nil {
			return nil, err
		}
		return nostr.ParseMuteList(ev), nil
	}
	return &MuteLists{log: log, cache: listcache.New(fetch, ttl, capacity)}
}

// MuteListFor returns the recipient's mute list, or an empty list when
// it cannot be fetched.
func (m *MuteLists) MuteListFor(ctx context.Context, pubkey string) (*nostr.MuteList, error) {
	metrics.ListCacheLookups.WithLabelValues("mute", "lookup").Inc()
	list, err := m.cache.Get(ctx, pubkey)
	if err != nil {
		m.log.Warn("mute list fetch failed, treating as empty", "pubkey", pubkey, "error", err)
		return nostr.ParseMuteList(nil), nil
	}
	return list, nil
}

// ContactLists serves recipients' contact lists through the list
// cache.
type ContactLists struct {
	cache *listcache.Cache[*nostr.FollowSet]
}

// NewContactLists builds a cached contact-list source over q.
func NewContactLists(q Querier, ttl time.Duration, capacity int) *ContactLists {
	fetch := func(ctx context.Context, pubkey string) (*nostr.FollowSet, error) {
		metrics.ListCacheLookups.WithLabelValues("contact", "fetch").Inc()
		ev, err := q.FetchLatestByKind(ctx, pubkey, nostr.KindContactList)
		if err != nil {
			return nil, err
		}
		return nostr.ParseContactList(ev), nil
	}
	return &ContactLists{cache: listcache.New(fetch, ttl, capacity)}
}

// FollowsFor returns the recipient's follow set. Errors propagate so
// the caller can choose its failure posture.
func (c *ContactLists) FollowsFor(ctx context.Context, pubkey string) (*nostr.FollowSet, error) {
	metrics.ListCacheLookups.WithLabelValues("contact", "lookup").Inc()
	return c.cache.Get(ctx, pubkey)
}
