package groupme

import "encoding/json"

// User is the authenticated GroupMe account. The API transmits ids as
// JSON strings; callers parse them where numeric identity is required.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Member is a user's identity within one group. ID is the per-group
// membership id, distinct from the global UserID.
type Member struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname"`
}

// MessageCount carries the group's reported message total.
type MessageCount struct {
	Count int64 `json:"count"`
}

// Group is one conversation the user belongs to, including its member
// list as of discovery time.
type Group struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	MembersCount int          `json:"members_count"`
	Members      []Member     `json:"members"`
	Messages     MessageCount `json:"messages"`
}

// MessageTotal returns the message count the API reported for the group.
func (g *Group) MessageTotal() int64 {
	return g.Messages.Count
}

// Reaction is one reaction kind on a message with its voter list.
type Reaction struct {
	UserIDs []string `json:"user_ids"`
}

// Message is one chat message as returned by the message index.
// Attachments are kept opaque; they are persisted as serialized JSON.
type Message struct {
	ID          string          `json:"id"`
	GroupID     string          `json:"group_id"`
	SenderID    string          `json:"sender_id"`
	Text        *string         `json:"text"`
	CreatedAt   int64           `json:"created_at"`
	Reactions   []Reaction      `json:"reactions"`
	Attachments json.RawMessage `json:"attachments"`
}

// Likes returns the size of the first reaction group's voter list, or
// zero when the message carries no reactions.
func (m *Message) Likes() int {
	if len(m.Reactions) == 0 {
		return 0
	}
	return len(m.Reactions[0].UserIDs)
}
