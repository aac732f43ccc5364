// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package meshfmt converts Matrix message content to the plain text that
// mesh radios display.
package meshfmt

import (
	"html"
	"regexp"
	"strconv"
	"strings"

	"maunium.net/go/mautrix/event"
)

var (
	replyRe      = regexp.MustCompile(`(?s)<mx-reply>.*?</mx-reply>`)
	preRe        = regexp.MustCompile(`(?s)<pre><code[^>]*>(.*?)</code></pre>`)
	inlineRe     = regexp.MustCompile(`</?(?:strong|b|em|i|del|s|u|code|span|font)(?:\s[^>]*)?>`)
	linkRe       = regexp.MustCompile(`<a href="([^"]+)"[^>]*>(.*?)</a>`)
	brRe         = regexp.MustCompile(`<br\s*/?>`)
	blockquoteRe = regexp.MustCompile(`(?s)<blockquote>(.*?)</blockquote>`)
	headingRe    = regexp.MustCompile(`<h[1-6]>(.*?)</h[1-6]>`)
	ulRe         = regexp.MustCompile(`(?s)<ul>(.*?)</ul>`)
	olRe         = regexp.MustCompile(`(?s)<ol>(.*?)</ol>`)
	liRe         = regexp.MustCompile(`(?s)<li>(.*?)</li>`)
	pRe          = regexp.MustCompile(`(?s)<p>(.*?)</p>`)
	tagRe        = regexp.MustCompile(`<[^>]+>`)
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
)

// Parse converts Matrix message content to plain mesh text. Reply
// fallbacks are dropped and emotes are rendered as "* text".
func Parse(content *event.MessageEventContent) string {
	if content == nil {
		return ""
	}

	var text string
	if content.Format != event.FormatHTML || content.FormattedBody == "" {
		text = content.Body
		if isReply(content) {
			text = stripPlainReplyFallback(text)
		}
	} else {
		text = parseHTML(content.FormattedBody)
	}

	text = strings.TrimSpace(text)
	if content.MsgType == event.MsgEmote && text != "" {
		text = "* " + text
	}
	return text
}

func isReply(content *event.MessageEventContent) bool {
	return content.RelatesTo != nil && content.RelatesTo.InReplyTo != nil
}

// stripPlainReplyFallback removes the leading "> " quote block that clients
// put in front of reply bodies.
func stripPlainReplyFallback(body string) string {
	lines := strings.Split(body, "\n")
	i := 0
	for i < len(lines) && strings.HasPrefix(lines[i], ">") {
		i++
	}
	if i == 0 {
		return body
	}
	if i < len(lines) && lines[i] == "" {
		i++
	}
	return strings.Join(lines[i:], "\n")
}

func parseHTML(text string) string {
	text = replyRe.ReplaceAllString(text, "")

	text = preRe.ReplaceAllString(text, "$1\n")
	text = inlineRe.ReplaceAllString(text, "")

	text = linkRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := linkRe.FindStringSubmatch(match)
		href, label := parts[1], tagRe.ReplaceAllString(parts[2], "")
		if label == "" || label == href || strings.HasPrefix(href, "https://matrix.to/") {
			if label != "" {
				return label
			}
			return href
		}
		return label + " (" + href + ")"
	})

	text = headingRe.ReplaceAllString(text, "$1\n")

	text = blockquoteRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := blockquoteRe.FindStringSubmatch(match)
		inner := brRe.ReplaceAllString(parts[1], "\n")
		inner = pRe.ReplaceAllString(inner, "$1\n")
		lines := strings.Split(strings.TrimSpace(inner), "\n")
		for i, line := range lines {
			lines[i] = "> " + strings.TrimSpace(line)
		}
		return strings.Join(lines, "\n") + "\n"
	})

	text = ulRe.ReplaceAllStringFunc(text, func(match string) string {
		items := liRe.FindAllStringSubmatch(match, -1)
		result := make([]string, 0, len(items))
		for _, item := range items {
			result = append(result, "- "+strings.TrimSpace(item[1]))
		}
		return strings.Join(result, "\n") + "\n"
	})

	text = olRe.ReplaceAllStringFunc(text, func(match string) string {
		items := liRe.FindAllStringSubmatch(match, -1)
		result := make([]string, 0, len(items))
		for i, item := range items {
			result = append(result, strconv.Itoa(i+1)+". "+strings.TrimSpace(item[1]))
		}
		return strings.Join(result, "\n") + "\n"
	})

	text = pRe.ReplaceAllString(text, "$1\n\n")
	text = brRe.ReplaceAllString(text, "\n")
	text = tagRe.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	text = blankLinesRe.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}
