// Package mention contains the core domain types for the mention notification bot.
package mention

// Category classifies which text field of an item produced a mention.
type Category string

const (
	Comment  Category = "comment"
	Title    Category = "title"
	SelfText Category = "selftext"
)

// Label returns the human-readable name used in notification messages.
func (c Category) Label() string {
	switch c {
	case Title:
		return "submission title"
	case SelfText:
		return "submission"
	default:
		return "comment"
	}
}

// Account is a resolved platform user. Names are case-sensitive.
type Account struct {
	Name string `json:"name"`
}

// Item is a comment or a submission pulled from a platform feed.
type Item struct {
	ID        string // Stable identifier (fullname, e.g. t1_abc123)
	Permalink string // Absolute link to the item
	Author    string // Empty when the author is deleted or unknown
	Body      string // Comment body
	Title     string // Submission title
	SelfText  string // Submission self-text
}

// Message is a direct message read from the bot's inbox.
type Message struct {
	ID      string // Fullname, used to mark the message read
	Author  string
	Subject string
	Body    string
}
