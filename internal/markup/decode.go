// Package markup implements the Chatwork inline markup codec: decoding raw
// message bodies into a render-ready form and encoding dashboard actions
// (reply, mention, quote) back into markup for transmission.
package markup

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

// Decoded is the render-ready form of one message body. It is derived
// deterministically from the raw body and never mutated.
type Decoded struct {
	// SystemNotice is set when the body is a system message; BodyHTML then
	// carries only the notice block.
	SystemNotice string
	// ToTargets holds the numeric account ids of [To:<id>] tags, in order.
	ToTargets []string
	// IsReply reports whether the body carried a [返信] flag.
	IsReply bool
	// QuotedText is the raw inner text of the first [qt] block, if any.
	QuotedText string
	// BodyHTML is safe display markup; raw user text embedded inside task,
	// quote and code blocks has been escaped, everything else is emitted by
	// the stages themselves.
	BodyHTML string
}

const (
	deletedBadge  = `<span class="deleted-tag-mark">🗑️ 削除済み</span>`
	mentionMarker = `<span class="mention">@メンション</span>`
	replyBadge    = `<span class="reply-mark">返信</span>`
	genericNotice = `<div class="system-message">💬 システムメッセージ</div>`
)

var (
	deleteRe    = regexp.MustCompile(`\[delete(d)?\]`)
	chatNameRe  = regexp.MustCompile(`\[dtext:chatroom_chatname_is\](.*?)\[dtext:chatroom_set\]`)
	wholeInfoRe = regexp.MustCompile(`(?s)^\[info\].*\[/info\]$`)
	mentionRe   = regexp.MustCompile(`\[To:(\d+)\]`)
	taskRe      = regexp.MustCompile(`(?s)\[task\](.*?)\[/task\]`)
	quoteRe     = regexp.MustCompile(`(?s)\[qt\](.*?)\[/qt\]`)
	codeRe      = regexp.MustCompile(`(?s)\[code\](.*?)\[/code\]`)
	urlRe       = regexp.MustCompile(`https?://[^\s<]+`)
)

// decodeState carries the body through the stage pipeline. Each stage's
// precondition is that all earlier stages have already rewritten their tags,
// so later regexes never see them as raw markup.
type decodeState struct {
	body string
	out  Decoded
	done bool // a system-info stage produced the final result
}

type stage struct {
	name  string
	apply func(*decodeState)
}

// pipeline runs in this exact order; reordering breaks the precedence
// contract (system-info short-circuits, escaping happens inside the tag
// stages, URLs and line breaks come last).
var pipeline = []stage{
	{"deleted", stageDeleted},
	{"systemInfo", stageSystemInfo},
	{"mention", stageMention},
	{"replyFlag", stageReplyFlag},
	{"task", stageTask},
	{"quote", stageQuote},
	{"code", stageCode},
	{"autolink", stageAutolink},
	{"linebreak", stageLinebreak},
}

// Decode converts a raw markup body into its display form. It is a pure
// function: decoding the same body twice yields identical output.
func Decode(raw string) Decoded {
	if raw == "" {
		return Decoded{}
	}
	st := &decodeState{body: raw}
	for _, s := range pipeline {
		s.apply(st)
		if st.done {
			return st.out
		}
	}
	st.out.BodyHTML = st.body
	return st.out
}

// HasDeleteTag reports whether a raw body carries a deletion marker. The sync
// engine uses it to tell an edited-to-deleted message from an ordinary edit.
func HasDeleteTag(raw string) bool {
	return deleteRe.MatchString(raw)
}

// stageDeleted rewrites every [delete]/[deleted] marker into the deleted
// badge. It never short-circuits; a later system-info match discards it.
func stageDeleted(st *decodeState) {
	st.body = deleteRe.ReplaceAllString(st.body, deletedBadge)
}

// stageSystemInfo handles [info] blocks. A "group chat created" body is
// replaced wholesale by a synthesized notice; a body that is exactly one
// info block becomes the generic notice. Both end the pipeline.
func stageSystemInfo(st *decodeState) {
	if !strings.Contains(st.body, "[info]") {
		return
	}
	if strings.Contains(st.body, "[dtext:chatroom_groupchat_created]") {
		name := ""
		if m := chatNameRe.FindStringSubmatch(st.body); m != nil {
			name = m[1]
		}
		notice := fmt.Sprintf("📝 グループチャット「%s」が作成されました", html.EscapeString(name))
		st.out = Decoded{
			SystemNotice: notice,
			BodyHTML:     `<div class="system-message">` + notice + `</div>`,
		}
		st.done = true
		return
	}
	if wholeInfoRe.MatchString(st.body) {
		st.out = Decoded{
			SystemNotice: "システムメッセージ",
			BodyHTML:     genericNotice,
		}
		st.done = true
	}
}

func stageMention(st *decodeState) {
	st.body = mentionRe.ReplaceAllStringFunc(st.body, func(tag string) string {
		id := mentionRe.FindStringSubmatch(tag)[1]
		st.out.ToTargets = append(st.out.ToTargets, id)
		return mentionMarker
	})
}

func stageReplyFlag(st *decodeState) {
	if strings.Contains(st.body, replyFlag) {
		st.out.IsReply = true
		st.body = strings.ReplaceAll(st.body, replyFlag, replyBadge)
	}
}

func stageTask(st *decodeState) {
	st.body = taskRe.ReplaceAllStringFunc(st.body, func(tag string) string {
		inner := taskRe.FindStringSubmatch(tag)[1]
		return `<div class="task-mention">📋 ` + html.EscapeString(inner) + `</div>`
	})
}

// stageQuote wraps [qt] content in a blockquote. Quote content is treated as
// literal text, not re-run through the earlier stages.
func stageQuote(st *decodeState) {
	st.body = quoteRe.ReplaceAllStringFunc(st.body, func(tag string) string {
		inner := quoteRe.FindStringSubmatch(tag)[1]
		if st.out.QuotedText == "" {
			st.out.QuotedText = strings.TrimSpace(inner)
		}
		return `<blockquote>` + html.EscapeString(inner) + `</blockquote>`
	})
}

func stageCode(st *decodeState) {
	st.body = codeRe.ReplaceAllStringFunc(st.body, func(tag string) string {
		inner := codeRe.FindStringSubmatch(tag)[1]
		return `<pre><code>` + html.EscapeString(inner) + `</code></pre>`
	})
}

func stageAutolink(st *decodeState) {
	st.body = urlRe.ReplaceAllStringFunc(st.body, func(u string) string {
		return `<a href="` + u + `" target="_blank">` + u + `</a>`
	})
}

func stageLinebreak(st *decodeState) {
	st.body = strings.ReplaceAll(st.body, "\n", "<br>")
}
