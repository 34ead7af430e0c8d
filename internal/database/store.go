package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Store defines the interface for database operations. Methods accept
// context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// InsertChatterIfAbsent registers a user, doing nothing when a row
	// with the same id already exists. Existing rows are never updated.
	InsertChatterIfAbsent(ctx context.Context, chatter Chatter) error

	// InsertConversationIfAbsent registers a discovered group with
	// loaded=false, doing nothing when the group already exists.
	InsertConversationIfAbsent(ctx context.Context, conv Conversation) error

	// InsertMemberIfAbsent registers a group membership, doing nothing
	// when a row for the (userid, groupid) pair already exists. The
	// nickname snapshot is never refreshed afterwards.
	InsertMemberIfAbsent(ctx context.Context, member Member) error

	// UnloadedGroups returns the subset of ids whose loaded flag is not
	// yet true, preserving the input order.
	UnloadedGroups(ctx context.Context, ids []int64) ([]int64, error)

	// ReplaceGroupMessages replaces the group's entire stored message set
	// within one transaction: delete all existing rows for the group,
	// then insert every given message.
	ReplaceGroupMessages(ctx context.Context, groupID int64, messages []Message) error

	// MarkGroupLoaded sets loaded=true for the group. Idempotent: no
	// write occurs when the flag is already true.
	MarkGroupLoaded(ctx context.Context, groupID int64) error

	// LoadedConversations returns the loaded conversations joined to the
	// given user's memberships.
	LoadedConversations(ctx context.Context, userID int64) ([]LoadedConversation, error)

	// AverageLikes returns per-nickname average like counts, descending.
	AverageLikes(ctx context.Context, groupID int64) ([]LeaderboardRow, error)

	// MessageCounts returns per-nickname message counts, descending.
	MessageCounts(ctx context.Context, groupID int64) ([]LeaderboardRow, error)

	// TotalLikes returns per-nickname like sums, descending.
	TotalLikes(ctx context.Context, groupID int64) ([]LeaderboardRow, error)

	// MostLiked returns the messages carrying the group's maximum like count.
	MostLiked(ctx context.Context, groupID int64) ([]MessageRow, error)

	// RandomMessage returns one uniformly random message from the group,
	// or nil when the group has no messages.
	RandomMessage(ctx context.Context, groupID int64) (*MessageRow, error)

	// SearchMessages returns up to 20 messages matching the query's
	// optional like-count and nickname predicates.
	SearchMessages(ctx context.Context, q SearchQuery) ([]MessageRow, error)

	// RunMaintenance performs database maintenance tasks like VACUUM.
	RunMaintenance(ctx context.Context) error
}

// LikeOp selects the like-count comparison for SearchMessages. The
// integer codes are part of the HTTP contract.
type LikeOp int

const (
	LikeOpNone         LikeOp = 0
	LikeOpGreater      LikeOp = 1
	LikeOpLess         LikeOp = 2
	LikeOpEqual        LikeOp = 3
	LikeOpGreaterEqual LikeOp = 4
	LikeOpLessEqual    LikeOp = 5
)

var likeOperators = map[LikeOp]string{
	LikeOpGreater:      ">",
	LikeOpLess:         "<",
	LikeOpEqual:        "=",
	LikeOpGreaterEqual: ">=",
	LikeOpLessEqual:    "<=",
}

// Valid reports whether op is LikeOpNone or one of the comparison codes.
func (op LikeOp) Valid() bool {
	if op == LikeOpNone {
		return true
	}
	_, ok := likeOperators[op]
	return ok
}

// SearchQuery holds the custom-search predicates. A zero LikeOp omits
// the like clause; an empty Nickname omits the nickname clause.
type SearchQuery struct {
	GroupID   int64
	LikeOp    LikeOp
	LikeValue int
	Nickname  string
}

// searchLimit caps the custom-search result set.
const searchLimit = 20

// insertChunk bounds the rows per bulk insert statement so the bound
// parameter count stays under every driver's limit.
const insertChunk = 500

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db  *sqlx.DB
	log *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
func NewStore(db *sqlx.DB, log *slog.Logger) Store {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:  db,
		log: log.With("component", "store"),
	}
}

func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) InsertChatterIfAbsent(ctx context.Context, chatter Chatter) error {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		s.db.Rebind(`SELECT EXISTS (SELECT 1 FROM chatters WHERE id = ?)`), chatter.ID)
	if err != nil {
		return fmt.Errorf("failed to check chatter %d: %w", chatter.ID, err)
	}
	if exists {
		s.log.DebugContext(ctx, "Chatter already registered", "chatter_id", chatter.ID)
		return nil
	}

	_, err = s.db.NamedExecContext(ctx,
		`INSERT INTO chatters (id, name) VALUES (:id, :name)`, chatter)
	if err != nil {
		return fmt.Errorf("failed to insert chatter %d: %w", chatter.ID, err)
	}

	s.log.DebugContext(ctx, "Chatter registered", "chatter_id", chatter.ID)
	return nil
}

func (s *sqlxStore) InsertConversationIfAbsent(ctx context.Context, conv Conversation) error {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		s.db.Rebind(`SELECT EXISTS (SELECT 1 FROM conversations WHERE conv_id = ?)`), conv.ConvID)
	if err != nil {
		return fmt.Errorf("failed to check conversation %d: %w", conv.ConvID, err)
	}
	if exists {
		s.log.DebugContext(ctx, "Conversation already registered", "conv_id", conv.ConvID)
		return nil
	}

	// Discovery always starts unloaded, whatever the caller passed.
	conv.Loaded = false
	_, err = s.db.NamedExecContext(ctx,
		`INSERT INTO conversations (conv_id, name, msg_count, loaded)
		 VALUES (:conv_id, :name, :msg_count, :loaded)`, conv)
	if err != nil {
		return fmt.Errorf("failed to insert conversation %d: %w", conv.ConvID, err)
	}

	s.log.DebugContext(ctx, "Conversation registered", "conv_id", conv.ConvID, "name", conv.Name)
	return nil
}

func (s *sqlxStore) InsertMemberIfAbsent(ctx context.Context, member Member) error {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		s.db.Rebind(`SELECT EXISTS (SELECT 1 FROM member WHERE userid = ? AND groupid = ?)`),
		member.UserID, member.GroupID)
	if err != nil {
		return fmt.Errorf("failed to check membership (user %d, group %d): %w",
			member.UserID, member.GroupID, err)
	}
	if exists {
		return nil
	}

	_, err = s.db.NamedExecContext(ctx,
		`INSERT INTO member (userid, memid, groupid, nickname)
		 VALUES (:userid, :memid, :groupid, :nickname)`, member)
	if err != nil {
		return fmt.Errorf("failed to insert membership (user %d, group %d): %w",
			member.UserID, member.GroupID, err)
	}

	s.log.DebugContext(ctx, "Membership registered",
		"user_id", member.UserID, "group_id", member.GroupID, "nickname", member.Nickname)
	return nil
}

func (s *sqlxStore) UnloadedGroups(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(
		`SELECT conv_id FROM conversations WHERE loaded = ? AND conv_id IN (?)`, true, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build unloaded-groups query: %w", err)
	}

	var loaded []int64
	if err := s.db.SelectContext(ctx, &loaded, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query loaded groups: %w", err)
	}

	loadedSet := make(map[int64]struct{}, len(loaded))
	for _, id := range loaded {
		loadedSet[id] = struct{}{}
	}

	remaining := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := loadedSet[id]; !ok {
			remaining = append(remaining, id)
		}
	}
	return remaining, nil
}

func (s *sqlxStore) ReplaceGroupMessages(ctx context.Context, groupID int64, messages []Message) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for group %d: %w", groupID, err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.log.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
				}
			}
		}
	}()

	if _, err := tx.ExecContext(ctx,
		tx.Rebind(`DELETE FROM messages WHERE conv_id = ?`), groupID); err != nil {
		return fmt.Errorf("failed to delete messages for group %d: %w", groupID, err)
	}

	const insertQuery = `
		INSERT INTO messages (msg_id, conv_id, sender_id, text, time_sent, num_likes, attachments)
		VALUES (:msg_id, :conv_id, :sender_id, :text, :time_sent, :num_likes, :attachments)`

	for start := 0; start < len(messages); start += insertChunk {
		end := min(start+insertChunk, len(messages))
		if _, err := tx.NamedExecContext(ctx, insertQuery, messages[start:end]); err != nil {
			return fmt.Errorf("failed to insert messages for group %d: %w", groupID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit message replacement for group %d: %w", groupID, err)
	}
	tx = nil

	s.log.DebugContext(ctx, "Group messages replaced", "group_id", groupID, "count", len(messages))
	return nil
}

func (s *sqlxStore) MarkGroupLoaded(ctx context.Context, groupID int64) error {
	// The loaded guard makes the call idempotent: already-loaded groups
	// see zero affected rows and no write.
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind(`UPDATE conversations SET loaded = ? WHERE conv_id = ? AND loaded = ?`),
		true, groupID, false)
	if err != nil {
		return fmt.Errorf("failed to mark group %d loaded: %w", groupID, err)
	}

	if affected, err := result.RowsAffected(); err == nil && affected > 0 {
		s.log.InfoContext(ctx, "Group marked loaded", "group_id", groupID)
	}
	return nil
}

func (s *sqlxStore) LoadedConversations(ctx context.Context, userID int64) ([]LoadedConversation, error) {
	query := `
		SELECT c.conv_id, c.name, c.msg_count, c.loaded,
		       m.userid, m.memid, m.groupid, m.nickname
		FROM conversations c
		JOIN member m ON c.conv_id = m.groupid
		WHERE c.loaded = ? AND m.userid = ?`

	convs := []LoadedConversation{}
	if err := s.db.SelectContext(ctx, &convs, s.db.Rebind(query), true, userID); err != nil {
		return nil, fmt.Errorf("failed to get loaded conversations for user %d: %w", userID, err)
	}
	return convs, nil
}

func (s *sqlxStore) AverageLikes(ctx context.Context, groupID int64) ([]LeaderboardRow, error) {
	query := `
		SELECT m2.nickname AS name, AVG(m.num_likes) AS value
		FROM messages m
		JOIN member m2 ON m.sender_id = m2.userid AND m.conv_id = m2.groupid
		WHERE m.conv_id = ?
		GROUP BY m2.nickname
		ORDER BY AVG(m.num_likes) DESC`

	return s.leaderboard(ctx, query, groupID, "average likes")
}

func (s *sqlxStore) MessageCounts(ctx context.Context, groupID int64) ([]LeaderboardRow, error) {
	query := `
		SELECT m2.nickname AS name, COUNT(*) AS value
		FROM messages m
		JOIN member m2 ON m.sender_id = m2.userid AND m.conv_id = m2.groupid
		WHERE m.conv_id = ?
		GROUP BY m2.nickname
		ORDER BY COUNT(*) DESC`

	return s.leaderboard(ctx, query, groupID, "message counts")
}

func (s *sqlxStore) TotalLikes(ctx context.Context, groupID int64) ([]LeaderboardRow, error) {
	query := `
		SELECT m2.nickname AS name, SUM(m.num_likes) AS value
		FROM messages m
		JOIN member m2 ON m.sender_id = m2.userid AND m.conv_id = m2.groupid
		WHERE m.conv_id = ?
		GROUP BY m2.nickname
		ORDER BY SUM(m.num_likes) DESC`

	return s.leaderboard(ctx, query, groupID, "total likes")
}

func (s *sqlxStore) leaderboard(ctx context.Context, query string, groupID int64, what string) ([]LeaderboardRow, error) {
	rows := []LeaderboardRow{}
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), groupID); err != nil {
		return nil, fmt.Errorf("failed to get %s for group %d: %w", what, groupID, err)
	}
	return rows, nil
}

func (s *sqlxStore) MostLiked(ctx context.Context, groupID int64) ([]MessageRow, error) {
	query := `
		SELECT m2.nickname AS name, m.num_likes AS likes, m.text AS msg, m.attachments AS atch
		FROM messages m
		JOIN member m2 ON m.sender_id = m2.userid AND m.conv_id = m2.groupid
		WHERE m.conv_id = ?
		  AND m.num_likes = (SELECT MAX(num_likes) FROM messages WHERE conv_id = ?)`

	rows := []MessageRow{}
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), groupID, groupID); err != nil {
		return nil, fmt.Errorf("failed to get most liked messages for group %d: %w", groupID, err)
	}
	return rows, nil
}

func (s *sqlxStore) RandomMessage(ctx context.Context, groupID int64) (*MessageRow, error) {
	query := `
		SELECT m2.nickname AS name, m.num_likes AS likes, m.text AS msg, m.attachments AS atch
		FROM messages m
		JOIN member m2 ON m.sender_id = m2.userid AND m.conv_id = m2.groupid
		WHERE m.conv_id = ?
		ORDER BY random()
		LIMIT 1`

	var row MessageRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(query), groupID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to get random message for group %d: %w", groupID, err)
	}
	return &row, nil
}

func (s *sqlxStore) SearchMessages(ctx context.Context, q SearchQuery) ([]MessageRow, error) {
	if !q.LikeOp.Valid() {
		return nil, fmt.Errorf("invalid like operator code %d", q.LikeOp)
	}

	query := `
		SELECT m2.nickname AS name, m.num_likes AS likes, m.text AS msg, m.attachments AS atch
		FROM messages m
		JOIN member m2 ON m.sender_id = m2.userid AND m.conv_id = m2.groupid
		WHERE m.conv_id = ?`
	args := []any{q.GroupID}

	if q.LikeOp != LikeOpNone {
		query += ` AND m.num_likes ` + likeOperators[q.LikeOp] + ` ?`
		args = append(args, q.LikeValue)
	}
	if q.Nickname != "" {
		query += ` AND m2.nickname LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLikePattern(q.Nickname)+"%")
	}
	query += fmt.Sprintf(` LIMIT %d`, searchLimit)

	rows := []MessageRow{}
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to search messages for group %d: %w", q.GroupID, err)
	}
	return rows, nil
}

// escapeLikePattern neutralizes LIKE wildcards so the nickname filter
// is a literal substring match.
func escapeLikePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// RunMaintenance executes a VACUUM, reclaiming space after message
// replacements. VACUUM must run outside a transaction.
func (s *sqlxStore) RunMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.log.InfoContext(ctx, "Starting database maintenance (VACUUM)")
	if _, err := s.db.ExecContext(ctx, "VACUUM;"); err != nil {
		return fmt.Errorf("failed to execute VACUUM: %w", err)
	}
	s.log.InfoContext(ctx, "Database maintenance completed")
	return nil
}
