package database

// Chatter is a registered user. Attributes are never mutated after the
// first insert; there is no profile-update path.
type Chatter struct {
	ID   int64  `db:"id"   json:"id"`
	Name string `db:"name" json:"name"`
}

// Conversation is a discovered group. MsgCount is the total the remote
// API reported at discovery time; Loaded flips false to true once the
// group's full message history has been committed, and never back.
type Conversation struct {
	ConvID   int64  `db:"conv_id"   json:"conv_id"`
	Name     string `db:"name"      json:"name"`
	MsgCount int64  `db:"msg_count" json:"msg_count"`
	Loaded   bool   `db:"loaded"    json:"loaded"`
}

// Member ties a user to a group under a per-group membership id and the
// nickname snapshot taken when the group was first processed.
type Member struct {
	UserID   int64  `db:"userid"   json:"userid"`
	MemID    int64  `db:"memid"    json:"memid"`
	GroupID  int64  `db:"groupid"  json:"groupid"`
	Nickname string `db:"nickname" json:"nickname"`
}

// Message is one persisted chat message. Text is nullable; Attachments
// holds the serialized attachment payload.
type Message struct {
	MsgID       int64   `db:"msg_id"      json:"msg_id"`
	ConvID      int64   `db:"conv_id"     json:"conv_id"`
	SenderID    int64   `db:"sender_id"   json:"sender_id"`
	Text        *string `db:"text"        json:"text"`
	TimeSent    int64   `db:"time_sent"   json:"time_sent"`
	NumLikes    int     `db:"num_likes"   json:"num_likes"`
	Attachments string  `db:"attachments" json:"attachments"`
}

// LoadedConversation is a conversations row joined to one of the
// requesting user's memberships.
type LoadedConversation struct {
	Conversation
	Member
}

// LeaderboardRow is one per-nickname aggregate row (average, count, or
// sum of likes depending on the query).
type LeaderboardRow struct {
	Name  string  `db:"name"  json:"name"`
	Value float64 `db:"value" json:"value"`
}

// MessageRow is one message joined to the sender's nickname, as served
// by the mostLiked, random, and custom endpoints.
type MessageRow struct {
	Name        string  `db:"name"  json:"name"`
	Likes       int     `db:"likes" json:"likes"`
	Msg         *string `db:"msg"   json:"msg"`
	Attachments string  `db:"atch"  json:"atch"`
}
