package message

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"mentioned-bot/pkg/mention"
)

// MaxBodyLength is the platform's hard limit on a direct message body, in characters.
const MaxBodyLength = 10000

// Subject is the subject line of every mention notification.
const Subject = "You have been mentioned in a comment."

const deletedAuthor = "[deleted]"

const notificationTemplate = "You have been mentioned in a [%s](%s) by %s.\n\n" +
	"%s\n\n" +
	"Note: Replying to this message will not send a reply to the original %s.\n\n" +
	"---\n\n" +
	"^[[Stop receiving notifications](%s)] ^| ^[[Report an issue](%s)] ^| ^[[Source](%s)]"

// Composer renders notification bodies.
type Composer struct {
	stopURL   string
	reportURL string
	sourceURL string
}

// NewComposer creates a composer whose footer links point at the bot account,
// the maintainer account and the source repository.
func NewComposer(botName, maintainer, sourceURL string) *Composer {
	stop := url.Values{}
	stop.Set("to", botName)
	stop.Set("subject", "Press send to stop receiving notifications")
	stop.Set("message", "ignore")

	report := url.Values{}
	report.Set("to", maintainer)
	report.Set("subject", "Issue with "+botName)

	return &Composer{
		stopURL:   "https://www.reddit.com/message/compose?" + stop.Encode(),
		reportURL: "https://www.reddit.com/message/compose?" + report.Encode(),
		sourceURL: sourceURL,
	}
}

// Compose builds the notification body for a mention found in text. The
// quoted excerpt is shortened two characters at a time until the body fits
// in MaxBodyLength.
func (c *Composer) Compose(category mention.Category, link, author, text string) string {
	quote := []rune(Quote(text))
	overhead := utf8.RuneCountInString(c.render(category, link, author, ""))

	for overhead+len(quote) > MaxBodyLength && len(quote) > 0 {
		quote = quote[:max(0, len(quote)-2)]
	}

	body := c.render(category, link, author, string(quote))
	if utf8.RuneCountInString(body) > MaxBodyLength {
		// Only reachable with an absurdly long link or author name.
		body = string([]rune(body)[:MaxBodyLength])
	}
	return body
}

func (c *Composer) render(category mention.Category, link, author, quote string) string {
	by := deletedAuthor
	if author != "" {
		by = "/u/" + author
	}
	label := category.Label()
	return fmt.Sprintf(notificationTemplate, label, link, by, quote, label, c.stopURL, c.reportURL, c.sourceURL)
}

// Quote renders text as a markdown blockquote, one quoted paragraph per
// blank-line separated block.
func Quote(text string) string {
	text = strings.ReplaceAll(strings.TrimSpace(text), "&gt;", ">")
	if text == "" {
		return ""
	}

	paragraphs := strings.Split(text, "\n\n")
	for i, p := range paragraphs {
		paragraphs[i] = "> " + p
	}
	return strings.Join(paragraphs, "\n\n")
}
