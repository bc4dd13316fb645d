// Package icon turns Miniflux feed icons into message attachments.
package icon

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"fluxhook/internal/miniflux"
	"fluxhook/internal/notification"
)

var ErrMalformedData = errors.New("icon: malformed data")

// ParseData splits Miniflux icon data ("image/png;base64,<payload>") on the
// first comma. The MIME type comes from the prefix, or fallback when the
// prefix carries none.
func ParseData(data, fallback string) (mime string, raw []byte, err error) {
	prefix, payload, ok := strings.Cut(data, ",")
	if !ok {
		return "", nil, ErrMalformedData
	}
	prefix = strings.TrimPrefix(strings.TrimSpace(prefix), "data:")
	mime, params, _ := strings.Cut(prefix, ";")
	mime = strings.ToLower(strings.TrimSpace(mime))
	if mime == "" {
		mime = strings.ToLower(strings.TrimSpace(fallback))
	}

	if !strings.Contains(params, "base64") {
		return mime, []byte(payload), nil
	}
	raw, err = base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		// Some icons are stored unpadded.
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(strings.TrimSpace(payload), "="))
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrMalformedData, err)
		}
	}
	return mime, raw, nil
}

var extensions = map[string]string{
	"image/png":                "png",
	"image/jpeg":               "jpg",
	"image/jpg":                "jpg",
	"image/gif":                "gif",
	"image/webp":               "webp",
	"image/avif":               "avif",
	"image/svg+xml":            "svg",
	"image/bmp":                "bmp",
	"image/x-icon":             "ico",
	"image/vnd.microsoft.icon": "ico",
	"image/ico":                "ico",
}

// Extension maps a MIME type to a file extension, defaulting to png.
func Extension(mime string) string {
	if ext, ok := extensions[strings.ToLower(strings.TrimSpace(mime))]; ok {
		return ext
	}
	return "png"
}

// Attachment decodes ic into a named attachment. ICO containers are
// converted to PNG when convertICO is set; if conversion fails the raw bytes
// are kept with their native extension.
func Attachment(ic *miniflux.Icon, convertICO bool) (*notification.Attachment, error) {
	if ic == nil {
		return nil, nil
	}
	mime, raw, err := ParseData(ic.Data, ic.MimeType)
	if err != nil {
		return nil, fmt.Errorf("icon %d: %w", ic.ID, err)
	}
	ext := Extension(mime)
	if ext == "ico" && convertICO {
		if png, cerr := ICOToPNG(raw); cerr == nil {
			raw, mime, ext = png, "image/png", "png"
		}
	}
	return &notification.Attachment{
		Name:        fmt.Sprintf("icon-%d.%s", ic.ID, ext),
		ContentType: mime,
		Data:        raw,
	}, nil
}
