// ABOUTME: Credential file handling for the keydrop bot
// ABOUTME: Downloads attached files, decrypting them in encrypted rooms

package bot

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"maunium.net/go/mautrix/event"
)

// maxUploadBytes caps how large a credential file may be. Pool uploads are
// plain text lists; anything bigger than this is a mistake.
const maxUploadBytes = 1 << 20

// fetchFileText downloads the file attached to a message and returns its
// content as text. In encrypted rooms the attachment itself is encrypted
// separately from the event and is decrypted after download.
func (b *Bot) fetchFileText(ctx context.Context, content *event.MessageEventContent) (string, error) {
	if content.Info != nil && content.Info.Size > maxUploadBytes {
		return "", fmt.Errorf("file too large (%d bytes, limit %d)", content.Info.Size, maxUploadBytes)
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	var data []byte
	if content.File != nil {
		uri, err := content.File.URL.Parse()
		if err != nil {
			return "", fmt.Errorf("parsing encrypted file URL: %w", err)
		}
		data, err = b.client.DownloadBytes(ctx, uri)
		if err != nil {
			return "", fmt.Errorf("downloading file: %w", err)
		}
		if err := content.File.DecryptInPlace(data); err != nil {
			return "", fmt.Errorf("decrypting file: %w", err)
		}
	} else {
		uri, err := content.URL.Parse()
		if err != nil {
			return "", fmt.Errorf("parsing file URL: %w", err)
		}
		data, err = b.client.DownloadBytes(ctx, uri)
		if err != nil {
			return "", fmt.Errorf("downloading file: %w", err)
		}
	}

	// The size hint in the event is client-supplied; check the real size too.
	if len(data) > maxUploadBytes {
		return "", fmt.Errorf("file too large (%d bytes, limit %d)", len(data), maxUploadBytes)
	}
	if !utf8.Valid(data) {
		return "", errors.New("file is not valid UTF-8 text")
	}
	return string(data), nil
}
