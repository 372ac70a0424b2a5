package resolve

import (
	"slices"
	"strings"

	"receipt-agent/internal/domain"
	"receipt-agent/internal/jsonvalue"
)

const untitledChat = "Untitled chat"

var (
	chatID        = IDAt("chat_id", "chatId", "id", "thread_id", "threadId")
	chatTitle     = StringAt("title", "name", "subject", "summary", "preview")
	chatUpdatedAt = TimeAt("updated_at", "updatedAt", "last_message_at", "lastMessageAt", "last_activity_at")
	chatCreatedAt = TimeAt("created_at", "createdAt")
	chatCount     = NumberAt("message_count", "messageCount", "messages_count", "count")

	messageRole      = StringAt("role", "sender", "author")
	messageContent   = TextAt("\n", "content", "text", "message", "body")
	messageCreatedAt = TimeAt("created_at", "createdAt", "timestamp", "time")
)

// Chats resolves a history listing, most recently active first.
// Rows without a chat id are dropped.
func (r *Resolver) Chats(body []byte) ([]domain.ChatSummary, error) {
	doc, err := Document(body)
	if err != nil {
		return nil, err
	}
	rows := r.Rows("chats", doc, ChatListKeys)

	out := make([]domain.ChatSummary, 0, len(rows))
	for _, row := range rows {
		if c, ok := chatFromRow(row); ok {
			out = append(out, c)
		}
	}
	slices.SortStableFunc(out, func(a, b domain.ChatSummary) int {
		return b.ActivityAt().Compare(a.ActivityAt())
	})
	return out, nil
}

func chatFromRow(row jsonvalue.Object) (domain.ChatSummary, bool) {
	id, ok := field(row, chatID)
	if !ok {
		return domain.ChatSummary{}, false
	}
	c := domain.ChatSummary{ChatID: id, Title: untitledChat}
	if title, ok := field(row, chatTitle); ok {
		c.Title = title
	}
	if t, ok := field(row, chatUpdatedAt); ok {
		c.UpdatedAt = &t
	}
	if t, ok := field(row, chatCreatedAt); ok {
		c.CreatedAt = &t
	}
	if n, ok := field(row, chatCount); ok && n >= 0 {
		count := int(n)
		c.MessageCount = &count
	}
	return c, true
}

// Messages resolves one thread's turns in server order. Turns without
// content are dropped; a missing role reads as "assistant".
func (r *Resolver) Messages(body []byte) ([]domain.HistoryMessage, error) {
	doc, err := Document(body)
	if err != nil {
		return nil, err
	}
	rows := r.Rows("messages", doc, MessageKeys)

	out := make([]domain.HistoryMessage, 0, len(rows))
	for _, row := range rows {
		content, ok := field(row, messageContent)
		if !ok {
			continue
		}
		m := domain.HistoryMessage{Role: "assistant", Content: content}
		if role, ok := field(row, messageRole); ok {
			m.Role = strings.ToLower(role)
		}
		if t, ok := field(row, messageCreatedAt); ok {
			m.CreatedAt = &t
		}
		out = append(out, m)
	}
	return out, nil
}
