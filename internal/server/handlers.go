package server

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/kataras/iris/v12"

	"github.com/edgard/groupstash/internal/apperrors"
	"github.com/edgard/groupstash/internal/database"
)

// token extracts the access token query parameter shared by every route.
func token(ctx iris.Context) (string, error) {
	t := ctx.URLParam("access_token")
	if t == "" {
		return "", apperrors.NewValidationError("missing required parameter: access_token", nil)
	}
	return t, nil
}

// groupID extracts and parses the groupID query parameter.
func groupID(ctx iris.Context) (int64, error) {
	raw := ctx.URLParam("groupID")
	if raw == "" {
		return 0, apperrors.NewValidationError("missing required parameter: groupID", nil)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperrors.NewValidationError(
			fmt.Sprintf("groupID %q is not a valid group id", raw), err)
	}
	return id, nil
}

// login authenticates the token against the remote API and registers
// the user, their groups, and group memberships.
func (h *handlers) login(ctx iris.Context) {
	tok, err := token(ctx)
	if err != nil {
		h.fail(ctx, err)
		return
	}

	reqCtx := ctx.Request().Context()
	user, err := h.client.Me(reqCtx, tok)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	groups, err := h.client.Groups(reqCtx, tok)
	if err != nil {
		h.fail(ctx, err)
		return
	}

	if err := h.ingest.RegisterLogin(reqCtx, user, groups); err != nil {
		h.fail(ctx, err)
		return
	}

	ctx.JSON(iris.Map{"user": user, "groups": groups})
}

// loadMessages ingests the full history of every requested group and
// reports a per-group outcome.
func (h *handlers) loadMessages(ctx iris.Context) {
	tok, err := token(ctx)
	if err != nil {
		h.fail(ctx, err)
		return
	}

	raw := ctx.URLParam("groupids")
	if raw == "" {
		h.fail(ctx, apperrors.NewValidationError("missing required parameter: groupids", nil))
		return
	}

	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			h.fail(ctx, apperrors.NewValidationError(
				fmt.Sprintf("groupids entry %q is not a valid group id", part), err))
			return
		}
		ids = append(ids, id)
	}

	results, err := h.ingest.LoadGroups(ctx.Request().Context(), tok, ids)
	if err != nil {
		h.fail(ctx, err)
		return
	}

	ctx.JSON(iris.Map{"results": results})
}

// groupSummary is the slim listing getGroups serves.
type groupSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// getGroups proxies the remote group index for the token's user,
// reduced to id and name.
func (h *handlers) getGroups(ctx iris.Context) {
	tok, err := token(ctx)
	if err != nil {
		h.fail(ctx, err)
		return
	}

	groups, err := h.client.Groups(ctx.Request().Context(), tok)
	if err != nil {
		h.fail(ctx, err)
		return
	}

	summaries := make([]groupSummary, 0, len(groups))
	for _, g := range groups {
		summaries = append(summaries, groupSummary{ID: g.ID, Name: g.Name})
	}
	ctx.JSON(summaries)
}

// getLoadedGroups resolves the token's user and returns the stored
// conversations already marked loaded for them.
func (h *handlers) getLoadedGroups(ctx iris.Context) {
	tok, err := token(ctx)
	if err != nil {
		h.fail(ctx, err)
		return
	}

	reqCtx := ctx.Request().Context()
	user, err := h.client.Me(reqCtx, tok)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	userID, err := strconv.ParseInt(user.ID, 10, 64)
	if err != nil {
		h.fail(ctx, apperrors.NewValidationError(
			fmt.Sprintf("remote user id %q is not numeric", user.ID), err))
		return
	}

	convs, err := h.store.LoadedConversations(reqCtx, userID)
	if err != nil {
		h.fail(ctx, apperrors.NewDatabaseError("failed to query loaded conversations", err))
		return
	}

	ctx.JSON(convs)
}

func (h *handlers) avgLikes(ctx iris.Context) {
	h.leaderboard(ctx, h.store.AverageLikes, "average likes")
}

func (h *handlers) totalMessages(ctx iris.Context) {
	h.leaderboard(ctx, h.store.MessageCounts, "message counts")
}

func (h *handlers) totalLikes(ctx iris.Context) {
	h.leaderboard(ctx, h.store.TotalLikes, "total likes")
}

func (h *handlers) leaderboard(
	ctx iris.Context,
	query func(context.Context, int64) ([]database.LeaderboardRow, error),
	what string,
) {
	id, err := groupID(ctx)
	if err != nil {
		h.fail(ctx, err)
		return
	}

	rows, err := query(ctx.Request().Context(), id)
	if err != nil {
		h.fail(ctx, apperrors.NewDatabaseError("failed to compute "+what, err))
		return
	}

	ctx.JSON(rows)
}

func (h *handlers) mostLiked(ctx iris.Context) {
	id, err := groupID(ctx)
	if err != nil {
		h.fail(ctx, err)
		return
	}

	rows, err := h.store.MostLiked(ctx.Request().Context(), id)
	if err != nil {
		h.fail(ctx, apperrors.NewDatabaseError("failed to query most liked messages", err))
		return
	}

	ctx.JSON(rows)
}

// random returns a single uniformly random message, wrapped in an array
// that is empty when the group holds no messages.
func (h *handlers) random(ctx iris.Context) {
	id, err := groupID(ctx)
	if err != nil {
		h.fail(ctx, err)
		return
	}

	row, err := h.store.RandomMessage(ctx.Request().Context(), id)
	if err != nil {
		h.fail(ctx, apperrors.NewDatabaseError("failed to pick a random message", err))
		return
	}

	rows := []database.MessageRow{}
	if row != nil {
		rows = append(rows, *row)
	}
	ctx.JSON(rows)
}

// custom runs the parameterized search: an optional like-count
// comparison selected by an integer op code and an optional nickname
// substring filter.
func (h *handlers) custom(ctx iris.Context) {
	id, err := groupID(ctx)
	if err != nil {
		h.fail(ctx, err)
		return
	}

	q := database.SearchQuery{GroupID: id}

	if raw := ctx.URLParam("likes"); raw != "" {
		op, err := strconv.Atoi(raw)
		if err != nil || !database.LikeOp(op).Valid() {
			h.fail(ctx, apperrors.NewValidationError(
				fmt.Sprintf("likes %q is not a valid operator code", raw), err))
			return
		}
		q.LikeOp = database.LikeOp(op)
	}
	if q.LikeOp != database.LikeOpNone {
		raw := ctx.URLParam("likesValue")
		value, err := strconv.Atoi(raw)
		if err != nil {
			h.fail(ctx, apperrors.NewValidationError(
				fmt.Sprintf("likesValue %q is not a valid number", raw), err))
			return
		}
		q.LikeValue = value
	}

	if raw := ctx.URLParam("fromUser"); raw != "" {
		enabled, err := strconv.Atoi(raw)
		if err != nil {
			h.fail(ctx, apperrors.NewValidationError(
				fmt.Sprintf("fromUser %q is not a valid flag", raw), err))
			return
		}
		if enabled > 0 {
			q.Nickname = ctx.URLParam("fromUserValue")
			if q.Nickname == "" {
				h.fail(ctx, apperrors.NewValidationError(
					"fromUserValue is required when fromUser is set", nil))
				return
			}
		}
	}

	rows, err := h.store.SearchMessages(ctx.Request().Context(), q)
	if err != nil {
		h.fail(ctx, apperrors.NewDatabaseError("failed to search messages", err))
		return
	}

	ctx.JSON(rows)
}
