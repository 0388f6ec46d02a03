package markup

import (
	"regexp"
	"strconv"
	"strings"
)

// replyFlag is the Chatwork reply token; it carries no payload.
const replyFlag = "[返信]"

// quoteLimit is the maximum rune length of a quoted original body.
const quoteLimit = 100

// Resolver maps a display name to a numeric account id, typically backed by
// the current room roster.
type Resolver interface {
	Resolve(name string) (int64, bool)
}

// Outgoing describes a message to be encoded for transmission.
type Outgoing struct {
	ToNames     []string
	ReplyToBody string // original body when replying; empty otherwise
	Text        string
}

var anyTagRe = regexp.MustCompile(`\[.*?\]`)

// Encode builds the raw markup for an outgoing message: TO tokens first,
// then the reply flag and a truncated quote of the original body, then the
// free text. A name the resolver cannot map is emitted literally so the user
// is never blocked from sending.
func Encode(out Outgoing, r Resolver) string {
	var b strings.Builder
	if len(out.ToNames) > 0 {
		tokens := make([]string, len(out.ToNames))
		for i, name := range out.ToNames {
			if id, ok := r.Resolve(name); ok {
				tokens[i] = "[To:" + strconv.FormatInt(id, 10) + "]"
			} else {
				tokens[i] = "[To:" + name + "]"
			}
		}
		b.WriteString(strings.Join(tokens, " "))
		b.WriteString(" ")
	}
	if out.ReplyToBody != "" {
		b.WriteString(replyFlag)
		b.WriteString(" ")
		b.WriteString("[qt]")
		b.WriteString(truncateQuote(out.ReplyToBody))
		b.WriteString("[/qt]\n")
	}
	b.WriteString(out.Text)
	return b.String()
}

// EncodeQuote builds a standalone quote message with an optional comment.
func EncodeQuote(originalBody, comment string) string {
	body := "[qt]" + truncateQuote(originalBody) + "[/qt]"
	if comment != "" {
		body += "\n" + comment
	}
	return body
}

// reactionEmojis maps dashboard reaction keywords to the emoji sent in their
// place; the service has no reaction endpoint of its own.
var reactionEmojis = map[string]string{
	"thumbsup":   "👍",
	"thumbsdown": "👎",
	"clap":       "👏",
	"love":       "❤️",
	"smile":      "😄",
	"surprised":  "😲",
}

// EncodeReaction returns the emoji body for a reaction keyword. Unknown
// keywords pass through unchanged.
func EncodeReaction(kind string) string {
	if emoji, ok := reactionEmojis[kind]; ok {
		return emoji
	}
	return kind
}

// truncateQuote strips markup tags from the original body and truncates it
// to quoteLimit runes, appending an ellipsis when cut.
func truncateQuote(body string) string {
	clean := strings.TrimSpace(anyTagRe.ReplaceAllString(body, ""))
	runes := []rune(clean)
	if len(runes) <= quoteLimit {
		return clean
	}
	return string(runes[:quoteLimit]) + "..."
}
