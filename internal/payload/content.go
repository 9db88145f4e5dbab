package payload

import (
	"encoding/base64"
	"fmt"
	"slices"
	"strings"

	"github.com/neoclaw-ai/turnrouter/internal/chat"
	"github.com/neoclaw-ai/turnrouter/internal/logging"
)

// media describes which attachments a family+model accepts natively.
type media struct {
	images bool
	// imageTypes limits the accepted image mime types. Nil accepts any.
	imageTypes func(mime string) bool
	files      func(mime string) bool
}

func acceptsNone(string) bool { return false }

func acceptsMIME(types ...string) func(string) bool {
	return func(mime string) bool {
		mime = strings.ToLower(strings.TrimSpace(mime))
		return slices.Contains(types, mime)
	}
}

var (
	commonImageTypes = acceptsMIME("image/jpeg", "image/png", "image/gif", "image/webp")
	geminiImageTypes = acceptsMIME("image/jpeg", "image/png", "image/webp", "image/heic", "image/heif")
)

func acceptsPDF(mime string) bool { return mime == "application/pdf" }

// renderable replaces every attachment the target cannot take with a text
// part: undecodable data becomes a note naming the file, text documents are
// inlined, anything else becomes an "unsupported" note.
func renderable(parts []chat.ContentPart, m media) []chat.ContentPart {
	out := make([]chat.ContentPart, 0, len(parts))
	for _, part := range parts {
		switch p := part.(type) {
		case chat.ImagePart:
			switch {
			case !validBase64(p.Data):
				out = append(out, undecodable(p.Filename, p.MimeType))
			case !m.images:
				out = append(out, chat.TextPart{Text: fmt.Sprintf("[image %s omitted: this model does not accept images]", displayName(p.Filename, p.MimeType))})
			case m.imageTypes != nil && !m.imageTypes(p.MimeType):
				logging.Logger().Warn("omitting image with unsupported type", "file", p.Filename, "mime", p.MimeType)
				out = append(out, chat.TextPart{Text: fmt.Sprintf("[image %s omitted: unsupported type %s]", displayName(p.Filename, p.MimeType), p.MimeType)})
			default:
				out = append(out, p)
			}
		case chat.FilePart:
			switch {
			case !validBase64(p.Data):
				out = append(out, undecodable(p.Filename, p.MimeType))
			case m.files != nil && m.files(p.MimeType):
				out = append(out, p)
			case strings.HasPrefix(p.MimeType, "text/"):
				out = append(out, inlineText(p))
			default:
				out = append(out, chat.TextPart{Text: fmt.Sprintf("[file %s (%s) is not supported by this model]", p.Filename, p.MimeType)})
			}
		default:
			out = append(out, part)
		}
	}
	return out
}

func undecodable(name, mime string) chat.ContentPart {
	logging.Logger().Warn("attachment is not valid base64", "file", name, "mime", mime)
	return chat.TextPart{Text: fmt.Sprintf("[attachment %s could not be decoded]", displayName(name, mime))}
}

func inlineText(p chat.FilePart) chat.ContentPart {
	raw, _ := decodeBase64(p.Data)
	return chat.TextPart{Text: fmt.Sprintf("[file %s]\n%s", p.Filename, raw)}
}

func displayName(name, mime string) string {
	if name != "" {
		return name
	}
	return "(" + mime + ")"
}

func decodeBase64(data string) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, data)
	raw, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		return base64.RawStdEncoding.DecodeString(clean)
	}
	return raw, nil
}

func validBase64(data string) bool {
	_, err := decodeBase64(data)
	return err == nil && strings.TrimSpace(data) != ""
}

func dataURL(mime, data string) string {
	return "data:" + mime + ";base64," + data
}

// textOf concatenates the text parts of parts.
func textOf(parts []chat.ContentPart) string {
	return chat.PlainText(parts)
}

// textOnly reports whether parts has no attachments.
func textOnly(parts []chat.ContentPart) bool {
	for _, p := range parts {
		if _, ok := p.(chat.TextPart); !ok {
			return false
		}
	}
	return true
}
