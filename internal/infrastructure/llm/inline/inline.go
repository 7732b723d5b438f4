// Package inline carries attachments as data URIs for providers that have
// no files API.
package inline

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"search-agent/internal/domain/entity"
)

// Uploader embeds the bytes in the returned handle.
type Uploader struct{}

func (Uploader) UploadFile(_ context.Context, data []byte, mimeType, displayName string) (entity.FileRef, error) {
	return entity.FileRef{
		URI:      "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data),
		MIMEType: mimeType,
		Name:     displayName,
	}, nil
}

// Decode returns the payload of a base64 data URI.
func Decode(uri string) ([]byte, bool) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, false
	}
	_, payload, ok := strings.Cut(rest, ";base64,")
	if !ok {
		return nil, false
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, false
	}
	return data, true
}

func IsImage(f entity.FileRef) bool {
	return strings.HasPrefix(f.MIMEType, "image/")
}

// Text renders a non-image attachment as a text block.
func Text(f entity.FileRef) string {
	if data, ok := Decode(f.URI); ok {
		return fmt.Sprintf("<file name=%q>\n%s\n</file>", f.Name, data)
	}
	return fmt.Sprintf("<file name=%q uri=%q/>", f.Name, f.URI)
}
