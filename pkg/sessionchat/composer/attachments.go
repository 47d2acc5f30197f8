package composer

import (
	"encoding/base64"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hshinosa/coregula/pkg/sessionchat/wire"
)

// Stage adds one selected file to the draft. Image files get an inline
// preview; staging never blocks the send path, the full transcode happens
// at submit time.
func (c *Composer) Stage(src FileSource) (string, error) {
	if src == nil {
		return "", errors.New("nil file source")
	}
	mimeType, preview, err := sniff(src)
	if err != nil {
		return "", errors.Wrapf(err, "staging %s", src.Name())
	}
	att := PendingAttachment{
		LocalID:        uuid.NewString(),
		Name:           src.Name(),
		MimeType:       mimeType,
		PreviewDataURI: preview,
		src:            src,
	}
	c.mu.Lock()
	c.attachments = append(c.attachments, att)
	c.mu.Unlock()
	return att.LocalID, nil
}

// Unstage removes a staged attachment and releases its preview.
func (c *Composer) Unstage(localID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, att := range c.attachments {
		if att.LocalID == localID {
			c.attachments = append(c.attachments[:i], c.attachments[i+1:]...)
			return true
		}
	}
	return false
}

// Attachments returns the staged attachments in staging order.
func (c *Composer) Attachments() []PendingAttachment {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PendingAttachment, len(c.attachments))
	copy(out, c.attachments)
	return out
}

// HasAttachments reports whether any file is staged.
func (c *Composer) HasAttachments() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.attachments) > 0
}

// sniff reads the file once to detect its MIME type and, for images, build
// the inline preview.
func sniff(src FileSource) (mimeType, preview string, err error) {
	rc, err := src.Open()
	if err != nil {
		return "", "", err
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return "", "", err
	}
	mimeType = http.DetectContentType(data)
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	if strings.HasPrefix(mimeType, "image/") {
		preview = dataURI(mimeType, data)
	}
	return mimeType, preview, nil
}

func dataURI(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// transcodeAll converts every staged file into its self-contained wire
// form. Files are read concurrently and independently; one failing file is
// logged and skipped, the rest still go out.
func (c *Composer) transcodeAll(staged []PendingAttachment) []wire.Attachment {
	results := make([]*wire.Attachment, len(staged))
	var g errgroup.Group
	for i, att := range staged {
		i, att := i, att
		g.Go(func() error {
			rc, err := att.src.Open()
			if err != nil {
				c.logger.Warn().Err(err).Str("attachment", att.Name).Msg("attachment transcode failed, skipping")
				return nil
			}
			defer func() { _ = rc.Close() }()
			data, err := io.ReadAll(rc)
			if err != nil {
				c.logger.Warn().Err(err).Str("attachment", att.Name).Msg("attachment transcode failed, skipping")
				return nil
			}
			results[i] = &wire.Attachment{
				Name:     att.Name,
				MimeType: att.MimeType,
				DataURI:  dataURI(att.MimeType, data),
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]wire.Attachment, 0, len(staged))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}
