package service

import (
	"bytes"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	markdownEngine = goldmark.New(
		goldmark.WithExtensions(extension.GFM, extension.Linkify, extension.Table),
		goldmark.WithRendererOptions(html.WithHardWraps(), html.WithXHTML()),
	)
	sanitizer = bluemonday.UGCPolicy()
)

const defaultExcerptRunes = 200

// RenderMarkdown 把 Markdown 正文渲染为净化后的 HTML，
// 作为文章的 rendered 形态存储。
func RenderMarkdown(content string) (string, error) {
	var buf bytes.Buffer
	if err := markdownEngine.Convert([]byte(content), &buf); err != nil {
		return "", err
	}
	safe := sanitizer.SanitizeBytes(buf.Bytes())
	return string(safe), nil
}

// BuildExcerpt 从正文提取纯文本摘要：跳过标题行，去掉少量行内标记，
// 截断到 limit 个 rune。
func BuildExcerpt(content string, limit int) string {
	if limit <= 0 {
		limit = defaultExcerptRunes
	}

	var parts []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		parts = append(parts, trimmed)
		if len(strings.Join(parts, " ")) >= limit*4 {
			break
		}
	}

	plain := strings.Join(parts, " ")
	plain = strings.NewReplacer("**", "", "*", "", "`", "", ">", "").Replace(plain)
	plain = strings.TrimSpace(plain)

	runes := []rune(plain)
	if len(runes) <= limit {
		return plain
	}
	return strings.TrimSpace(string(runes[:limit])) + "…"
}

// FirstMarkdownHeading 返回正文首个一级/二级标题文本，没有则返回空串。
func FirstMarkdownHeading(content string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			return strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		}
	}
	return ""
}
