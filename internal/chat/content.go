package chat

import (
	"fmt"
	"regexp"
	"strings"
)

// ContentPart is one piece of multimodal content: TextPart, ImagePart or FilePart.
type ContentPart interface {
	isContentPart()
}

// TextPart is literal text.
type TextPart struct {
	Text string
}

// ImagePart is an inline base64 image.
type ImagePart struct {
	MimeType string
	Data     string
	Filename string
}

// FilePart is an inline base64 document.
type FilePart struct {
	MimeType string
	Data     string
	Filename string
}

func (TextPart) isContentPart()  {}
func (ImagePart) isContentPart() {}
func (FilePart) isContentPart()  {}

// Attachments are embedded in message text as
//
//	<attachment type="image" mime="image/png" name="cat.png">BASE64</attachment>
//
// type is image or file; name is required for files.
var (
	attachmentTag  = regexp.MustCompile(`(?s)<attachment\b([^>]*)>(.*?)</attachment>`)
	attachmentAttr = regexp.MustCompile(`(\w+)="([^"]*)"`)
)

// FormatAttachment renders an image or file part as inline markup.
// Text parts are returned unchanged.
func FormatAttachment(part ContentPart) string {
	switch p := part.(type) {
	case ImagePart:
		return formatTag("image", p.MimeType, p.Filename, p.Data)
	case FilePart:
		return formatTag("file", p.MimeType, p.Filename, p.Data)
	case TextPart:
		return p.Text
	}
	return ""
}

func formatTag(kind, mime, name, data string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<attachment type="%s" mime="%s"`, kind, mime)
	if name != "" {
		fmt.Fprintf(&b, ` name="%s"`, name)
	}
	b.WriteString(">")
	b.WriteString(data)
	b.WriteString("</attachment>")
	return b.String()
}

// ParseContent splits text with inline attachment markup into parts.
// A tag with missing or malformed fields stays in the surrounding text.
// Empty text segments are omitted.
func ParseContent(text string) []ContentPart {
	var parts []ContentPart
	var pending strings.Builder
	last := 0
	for _, loc := range attachmentTag.FindAllStringSubmatchIndex(text, -1) {
		part, ok := parseTag(text[loc[2]:loc[3]], text[loc[4]:loc[5]])
		if !ok {
			continue
		}
		pending.WriteString(text[last:loc[0]])
		if pending.Len() > 0 {
			parts = append(parts, TextPart{Text: pending.String()})
			pending.Reset()
		}
		parts = append(parts, part)
		last = loc[1]
	}
	pending.WriteString(text[last:])
	if pending.Len() > 0 {
		parts = append(parts, TextPart{Text: pending.String()})
	}
	return parts
}

// ParseParts re-parses the text parts of an already split sequence. Image
// and file parts pass through unchanged, so ParseParts(ParseContent(s))
// equals ParseContent(s).
func ParseParts(parts []ContentPart) []ContentPart {
	var out []ContentPart
	for _, part := range parts {
		text, ok := part.(TextPart)
		if !ok {
			out = append(out, part)
			continue
		}
		out = append(out, ParseContent(text.Text)...)
	}
	return out
}

func parseTag(attrs, body string) (ContentPart, bool) {
	fields := map[string]string{}
	for _, m := range attachmentAttr.FindAllStringSubmatch(attrs, -1) {
		fields[strings.ToLower(m[1])] = strings.TrimSpace(m[2])
	}
	mime := strings.ToLower(fields["mime"])
	data := strings.TrimSpace(body)
	if data == "" || !strings.Contains(mime, "/") {
		return nil, false
	}
	switch fields["type"] {
	case "image":
		if !strings.HasPrefix(mime, "image/") {
			return nil, false
		}
		return ImagePart{MimeType: mime, Data: data, Filename: fields["name"]}, true
	case "file":
		if fields["name"] == "" {
			return nil, false
		}
		return FilePart{MimeType: mime, Data: data, Filename: fields["name"]}, true
	}
	return nil, false
}

// PlainText concatenates the text parts of parts.
func PlainText(parts []ContentPart) string {
	var b strings.Builder
	for _, part := range parts {
		if t, ok := part.(TextPart); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}
