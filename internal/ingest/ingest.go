// Package ingest drives full-history message ingestion: it walks a
// group's history page by page, converts the remote payload into
// database rows, and commits the snapshot atomically.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/edgard/groupstash/internal/apperrors"
	"github.com/edgard/groupstash/internal/database"
	"github.com/edgard/groupstash/internal/groupme"
)

// PageFetcher retrieves one page of a group's message history.
type PageFetcher interface {
	MessagePage(ctx context.Context, token, groupID, beforeID string) ([]groupme.Message, error)
}

// Store is the persistence surface ingestion needs.
type Store interface {
	InsertChatterIfAbsent(ctx context.Context, chatter database.Chatter) error
	InsertConversationIfAbsent(ctx context.Context, conv database.Conversation) error
	InsertMemberIfAbsent(ctx context.Context, member database.Member) error
	UnloadedGroups(ctx context.Context, ids []int64) ([]int64, error)
	ReplaceGroupMessages(ctx context.Context, groupID int64, messages []database.Message) error
	MarkGroupLoaded(ctx context.Context, groupID int64) error
}

// Per-group load outcomes.
const (
	StatusLoaded  = "loaded"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// GroupResult reports the outcome of one requested group.
type GroupResult struct {
	GroupID  int64  `json:"group_id"`
	Status   string `json:"status"`
	Messages int    `json:"messages,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Service coordinates ingestion. Concurrent load requests for the same
// group are collapsed onto a single in-flight run.
type Service struct {
	fetcher PageFetcher
	store   Store
	log     *slog.Logger
	flight  singleflight.Group
}

// NewService creates an ingestion service.
func NewService(fetcher PageFetcher, store Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		fetcher: fetcher,
		store:   store,
		log:     log.With("component", "ingest"),
	}
}

// RegisterLogin records the authenticated user and every group the
// remote API returned for them, inserting only what is not yet known.
func (s *Service) RegisterLogin(ctx context.Context, user *groupme.User, groups []groupme.Group) error {
	userID, err := strconv.ParseInt(user.ID, 10, 64)
	if err != nil {
		return apperrors.NewValidationError(
			fmt.Sprintf("remote user id %q is not numeric", user.ID), err)
	}

	if err := s.store.InsertChatterIfAbsent(ctx, database.Chatter{ID: userID, Name: user.Name}); err != nil {
		return apperrors.NewDatabaseError("failed to register user", err)
	}

	for _, g := range groups {
		groupID, err := strconv.ParseInt(g.ID, 10, 64)
		if err != nil {
			s.log.WarnContext(ctx, "Skipping group with non-numeric id", "group_id", g.ID)
			continue
		}

		err = s.store.InsertConversationIfAbsent(ctx, database.Conversation{
			ConvID:   groupID,
			Name:     g.Name,
			MsgCount: g.MessageTotal(),
		})
		if err != nil {
			return apperrors.NewDatabaseError(
				fmt.Sprintf("failed to register group %d", groupID), err)
		}

		for _, m := range g.Members {
			memberUserID, err := strconv.ParseInt(m.UserID, 10, 64)
			if err != nil {
				s.log.WarnContext(ctx, "Skipping member with non-numeric user id",
					"group_id", groupID, "user_id", m.UserID)
				continue
			}
			memID, err := strconv.ParseInt(m.ID, 10, 64)
			if err != nil {
				s.log.WarnContext(ctx, "Skipping member with non-numeric membership id",
					"group_id", groupID, "member_id", m.ID)
				continue
			}

			err = s.store.InsertMemberIfAbsent(ctx, database.Member{
				UserID:   memberUserID,
				MemID:    memID,
				GroupID:  groupID,
				Nickname: m.Nickname,
			})
			if err != nil {
				return apperrors.NewDatabaseError(
					fmt.Sprintf("failed to register membership in group %d", groupID), err)
			}
		}
	}

	s.log.InfoContext(ctx, "Login registered", "user_id", userID, "groups", len(groups))
	return nil
}

// LoadGroups ingests the full history of every requested group that is
// not already loaded. Already-loaded groups are reported as skipped; a
// failure in one group is reported in its result and does not stop the
// others.
func (s *Service) LoadGroups(ctx context.Context, token string, ids []int64) ([]GroupResult, error) {
	pending, err := s.store.UnloadedGroups(ctx, ids)
	if err != nil {
		return nil, apperrors.NewDatabaseError("failed to determine unloaded groups", err)
	}

	pendingSet := make(map[int64]struct{}, len(pending))
	for _, id := range pending {
		pendingSet[id] = struct{}{}
	}

	results := make([]GroupResult, 0, len(ids))
	for _, id := range ids {
		if _, ok := pendingSet[id]; !ok {
			s.log.DebugContext(ctx, "Group already loaded", "group_id", id)
			results = append(results, GroupResult{GroupID: id, Status: StatusSkipped})
			continue
		}

		count, err := s.loadOne(ctx, token, id)
		if err != nil {
			s.log.ErrorContext(ctx, "Group load failed", "group_id", id, "error", err)
			results = append(results, GroupResult{GroupID: id, Status: StatusFailed, Error: err.Error()})
			continue
		}
		results = append(results, GroupResult{GroupID: id, Status: StatusLoaded, Messages: count})
	}

	return results, nil
}

// loadOne drains and commits one group's history. singleflight keeps a
// second request for the same group from racing the delete-and-insert.
func (s *Service) loadOne(ctx context.Context, token string, groupID int64) (int, error) {
	v, err, _ := s.flight.Do(strconv.FormatInt(groupID, 10), func() (any, error) {
		history, err := s.drainHistory(ctx, token, groupID)
		if err != nil {
			return 0, err
		}

		rows := s.convertMessages(ctx, groupID, history)
		if len(rows) > 0 {
			if err := s.store.ReplaceGroupMessages(ctx, groupID, rows); err != nil {
				return 0, apperrors.NewDatabaseError(
					fmt.Sprintf("failed to store messages for group %d", groupID), err)
			}
		}
		if err := s.store.MarkGroupLoaded(ctx, groupID); err != nil {
			return 0, apperrors.NewDatabaseError(
				fmt.Sprintf("failed to mark group %d loaded", groupID), err)
		}

		s.log.InfoContext(ctx, "Group history loaded",
			"group_id", groupID, "messages", len(rows), "fetched", len(history))
		return len(rows), nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// drainHistory pages backwards through the group's history, newest
// first, until a short page signals the beginning of the conversation.
func (s *Service) drainHistory(ctx context.Context, token string, groupID int64) ([]groupme.Message, error) {
	groupIDStr := strconv.FormatInt(groupID, 10)

	var history []groupme.Message
	beforeID := ""
	for {
		page, err := s.fetcher.MessagePage(ctx, token, groupIDStr, beforeID)
		if err != nil {
			return nil, err
		}
		history = append(history, page...)

		if len(page) < groupme.PageSize {
			return history, nil
		}
		beforeID = page[len(page)-1].ID
	}
}

// convertMessages maps the remote payload to database rows. Messages
// with non-numeric ids or senders (system and bot posts) are dropped.
func (s *Service) convertMessages(ctx context.Context, groupID int64, msgs []groupme.Message) []database.Message {
	rows := make([]database.Message, 0, len(msgs))
	for _, m := range msgs {
		msgID, err := strconv.ParseInt(m.ID, 10, 64)
		if err != nil {
			s.log.DebugContext(ctx, "Dropping message with non-numeric id",
				"group_id", groupID, "msg_id", m.ID)
			continue
		}
		senderID, err := strconv.ParseInt(m.SenderID, 10, 64)
		if err != nil {
			s.log.DebugContext(ctx, "Dropping message with non-numeric sender",
				"group_id", groupID, "msg_id", m.ID, "sender_id", m.SenderID)
			continue
		}

		attachments := "[]"
		if len(m.Attachments) > 0 {
			attachments = string(m.Attachments)
		}

		rows = append(rows, database.Message{
			MsgID:       msgID,
			ConvID:      groupID,
			SenderID:    senderID,
			Text:        m.Text,
			TimeSent:    m.CreatedAt,
			NumLikes:    m.Likes(),
			Attachments: attachments,
		})
	}
	return rows
}
