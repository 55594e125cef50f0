// Package history serves conversation history requests: cache first, then
// bounded upstream pagination to fill the gap.
package history

import (
	"context"
	"log/slog"
	"sort"

	"github.com/conduitmsg/conduit/internal/config"
	"github.com/conduitmsg/conduit/internal/conversation"
	"github.com/conduitmsg/conduit/internal/platform"
	"github.com/conduitmsg/conduit/internal/ratelimit"
	"github.com/conduitmsg/conduit/pkg/models"
)

// Fetcher assembles history slices for one adapter. Upstream pagination is
// capped by the adapter's page size and iteration ceiling; the fetcher never
// loops unbounded.
type Fetcher struct {
	log     *slog.Logger
	cfg     config.AdapterConfig
	driver  platform.Driver
	manager *conversation.Manager
	limiter *ratelimit.Limiter
}

// NewFetcher wires a fetcher onto the adapter's driver and conversation state.
func NewFetcher(log *slog.Logger, cfg config.AdapterConfig, driver platform.Driver, manager *conversation.Manager, limiter *ratelimit.Limiter) *Fetcher {
	return &Fetcher{log: log, cfg: cfg, driver: driver, manager: manager, limiter: limiter}
}

// Fetch returns up to limit messages of the conversation, ascending by
// timestamp with message id as tie-break. Exactly one of before / after
// bounds the window (Unix ms). Cached messages are consulted first; the
// remainder is paged from upstream when the platform supports it.
func (f *Fetcher) Fetch(ctx context.Context, conversationID string, limit int, before, after int64) ([]models.MessagePayload, error) {
	if limit <= 0 {
		limit = f.cfg.MaxHistoryLimit
	}

	byID := make(map[string]models.MessagePayload)
	for _, cached := range f.manager.Messages().Messages(conversationID) {
		if !inWindow(cached.Timestamp, before, after) {
			continue
		}
		byID[cached.MessageID] = f.manager.PayloadForCached(cached)
	}

	if len(byID) < limit && f.driver != nil && f.driver.Capabilities().SupportsHistory {
		if err := f.paginate(ctx, conversationID, limit, before, after, byID); err != nil {
			if len(byID) == 0 {
				return nil, err
			}
			f.log.Warn("history pagination failed, serving cached slice",
				"conversation_id", conversationID, "error", err)
		}
	}

	out := make([]models.MessagePayload, 0, len(byID))
	for _, p := range byID {
		out = append(out, p)
	}
	sortAscending(out)
	return truncate(out, limit, before != 0), nil
}

// paginate pulls upstream pages toward the window bound until the limit is
// met, a page comes back empty, or the iteration ceiling is hit.
func (f *Fetcher) paginate(ctx context.Context, conversationID string, limit int, before, after int64, byID map[string]models.MessagePayload) error {
	bound := boundFrom(byID, before, after)

	for iteration := 0; iteration < f.cfg.MaxPaginationIterations && len(byID) < limit; iteration++ {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx, "fetch_history", conversationID); err != nil {
				return err
			}
		}
		var pageBefore, pageAfter int64
		if before != 0 {
			pageBefore = bound
		} else {
			pageAfter = bound
		}
		page, err := f.driver.FetchHistoryPage(ctx, conversationID, pageBefore, pageAfter, f.cfg.MaxHistoryLimit)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}

		for _, msg := range page {
			if msg == nil || msg.ServiceMessage || msg.MessageID == "" {
				continue
			}
			if before != 0 && msg.Timestamp < bound {
				bound = msg.Timestamp
			}
			if after != 0 && msg.Timestamp > bound {
				bound = msg.Timestamp
			}
			if !inWindow(msg.Timestamp, before, after) {
				continue
			}
			if _, seen := byID[msg.MessageID]; seen {
				continue
			}
			byID[msg.MessageID] = f.normalize(msg)
		}
	}
	return nil
}

// normalize runs a fetched message through the same builder path as live
// messages, optionally folding it into the cache.
func (f *Fetcher) normalize(msg *platform.Message) models.MessagePayload {
	if f.cfg.CacheFetchedHistory {
		if delta := f.manager.AddMessage(msg); len(delta.AddedMessages) == 1 {
			return delta.AddedMessages[0]
		}
	}
	return f.manager.PayloadForMessage(msg)
}

func inWindow(ts, before, after int64) bool {
	if before != 0 && ts >= before {
		return false
	}
	if after != 0 && ts <= after {
		return false
	}
	return true
}

// boundFrom picks the pagination starting point: the cached edge nearest the
// missing window, or the request bound when nothing is cached.
func boundFrom(byID map[string]models.MessagePayload, before, after int64) int64 {
	if before != 0 {
		bound := before
		for _, p := range byID {
			if p.Timestamp < bound {
				bound = p.Timestamp
			}
		}
		return bound
	}
	bound := after
	for _, p := range byID {
		if p.Timestamp > bound {
			bound = p.Timestamp
		}
	}
	return bound
}

func sortAscending(msgs []models.MessagePayload) {
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].Timestamp != msgs[j].Timestamp {
			return msgs[i].Timestamp < msgs[j].Timestamp
		}
		return msgs[i].MessageID < msgs[j].MessageID
	})
}

// truncate keeps the messages nearest the window bound: the newest for a
// before-window, the oldest for an after-window.
func truncate(msgs []models.MessagePayload, limit int, beforeWindow bool) []models.MessagePayload {
	if len(msgs) <= limit {
		return msgs
	}
	if beforeWindow {
		return msgs[len(msgs)-limit:]
	}
	return msgs[:limit]
}
