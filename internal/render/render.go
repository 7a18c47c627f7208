// Package render turns a capture into the Markdown document stored in the vault.
package render

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"

	"github.com/hpungsan/stash/internal/capture"
)

const frontmatterDelimiter = "---"

// maxTitleRunes bounds titles derived from the first line of content.
const maxTitleRunes = 80

// Frontmatter is the YAML header of an exported note.
type Frontmatter struct {
	ID              string            `yaml:"id"`
	Source          capture.Source    `yaml:"source"`
	Title           string            `yaml:"title,omitempty"`
	Channel         string            `yaml:"channel,omitempty"`
	ChannelNativeID string            `yaml:"channel_native_id,omitempty"`
	CapturedAt      string            `yaml:"captured_at"`
	ContentHash     string            `yaml:"content_hash,omitempty"`
	Extra           map[string]string `yaml:"extra,omitempty"`
}

// Render produces the vault document for c. Output depends only on the
// capture's stored fields, so rendering the same capture twice yields the
// same bytes.
func Render(c *capture.Capture) ([]byte, error) {
	fm := Frontmatter{
		ID:              c.ID,
		Source:          c.Source,
		Title:           Title(c),
		Channel:         c.Meta.Channel,
		ChannelNativeID: c.Meta.ChannelNativeID,
		CapturedAt:      time.UnixMilli(c.CreatedAt).UTC().Format(time.RFC3339),
		Extra:           c.Meta.Extra,
	}
	if c.ContentHash != nil {
		fm.ContentHash = *c.ContentHash
	}

	header, err := yaml.Marshal(&fm)
	if err != nil {
		return nil, fmt.Errorf("render: frontmatter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(frontmatterDelimiter + "\n")
	buf.Write(header)
	buf.WriteString(frontmatterDelimiter + "\n\n")
	body := capture.NormalizeContent(c.RawContent)
	if body != "" {
		buf.WriteString(body)
		buf.WriteString("\n")
	}
	return buf.Bytes(), nil
}

// Parse splits a rendered document into its frontmatter and body.
func Parse(raw []byte) (*Frontmatter, string, error) {
	s := string(raw)
	if !strings.HasPrefix(s, frontmatterDelimiter+"\n") {
		return nil, "", fmt.Errorf("render: missing frontmatter delimiter")
	}
	rest := s[len(frontmatterDelimiter):]
	closing := "\n" + frontmatterDelimiter + "\n"
	idx := strings.Index(rest, closing)
	if idx == -1 {
		return nil, "", fmt.Errorf("render: unclosed frontmatter block")
	}
	var fm Frontmatter
	if err := yaml.Unmarshal([]byte(rest[:idx]), &fm); err != nil {
		return nil, "", fmt.Errorf("render: frontmatter parse error: %w", err)
	}
	body := strings.TrimPrefix(rest[idx+len(closing):], "\n")
	return &fm, strings.TrimSuffix(body, "\n"), nil
}

// Title picks a note title: the email subject when present, else the first
// Markdown heading, else the first line of content.
func Title(c *capture.Capture) string {
	if subject := strings.TrimSpace(c.Meta.Extra["subject"]); subject != "" {
		return subject
	}
	content := capture.NormalizeContent(c.RawContent)
	if content == "" {
		return ""
	}
	if h := firstHeading([]byte(content)); h != "" {
		return h
	}
	line, _, _ := strings.Cut(content, "\n")
	return truncate(strings.TrimSpace(line), maxTitleRunes)
}

// firstHeading returns the text of the first heading in src, or "".
func firstHeading(src []byte) string {
	doc := goldmark.DefaultParser().Parse(text.NewReader(src))
	var title string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if h, ok := n.(*ast.Heading); ok {
			title = strings.TrimSpace(string(h.Lines().Value(src)))
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return title
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "…"
}
