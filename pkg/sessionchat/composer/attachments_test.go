package composer

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/hshinosa/coregula/pkg/sessionchat/wire"
)

type memSource struct {
	name     string
	data     []byte
	failOpen bool
	failRead bool
}

func (s *memSource) Name() string { return s.name }

func (s *memSource) Open() (io.ReadCloser, error) {
	if s.failOpen {
		return nil, errors.New("open failed")
	}
	if s.failRead {
		return io.NopCloser(&failingReader{}), nil
	}
	return io.NopCloser(bytes.NewReader(s.data)), nil
}

type failingReader struct{}

func (*failingReader) Read([]byte) (int, error) { return 0, errors.New("read failed") }

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

func TestStage_ImageGetsPreview(t *testing.T) {
	c := newTestComposer(t, nil)
	id, err := c.Stage(&memSource{name: "shot.png", data: pngHeader})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	atts := c.Attachments()
	require.Len(t, atts, 1)
	require.Equal(t, "image/png", atts[0].MimeType)
	require.True(t, strings.HasPrefix(atts[0].PreviewDataURI, "data:image/png;base64,"))
	require.True(t, c.HasAttachments())
}

func TestStage_NonImageHasNoPreview(t *testing.T) {
	c := newTestComposer(t, nil)
	_, err := c.Stage(&memSource{name: "notes.txt", data: []byte("plain words")})
	require.NoError(t, err)

	atts := c.Attachments()
	require.Len(t, atts, 1)
	require.Equal(t, "text/plain", atts[0].MimeType)
	require.Empty(t, atts[0].PreviewDataURI)
}

func TestStage_OpenFailureSurfaces(t *testing.T) {
	c := newTestComposer(t, nil)
	_, err := c.Stage(&memSource{name: "gone.bin", failOpen: true})
	require.ErrorContains(t, err, "staging gone.bin")
	require.False(t, c.HasAttachments())
}

func TestUnstage_RemovesByLocalID(t *testing.T) {
	c := newTestComposer(t, nil)
	id1, err := c.Stage(&memSource{name: "a.txt", data: []byte("a")})
	require.NoError(t, err)
	_, err = c.Stage(&memSource{name: "b.txt", data: []byte("b")})
	require.NoError(t, err)

	require.True(t, c.Unstage(id1))
	require.False(t, c.Unstage(id1))
	atts := c.Attachments()
	require.Len(t, atts, 1)
	require.Equal(t, "b.txt", atts[0].Name)
}

func TestSend_TranscodesAttachmentsInline(t *testing.T) {
	var got wire.SendMessage
	c := newTestComposer(t, func(ev wire.SendMessage) error { got = ev; return nil })

	_, err := c.Stage(&memSource{name: "notes.txt", data: []byte("hi")})
	require.NoError(t, err)
	c.SetText("see attachment", 14)
	require.NoError(t, c.Send())

	require.Len(t, got.Attachments, 1)
	require.Equal(t, "notes.txt", got.Attachments[0].Name)
	require.Equal(t, "data:text/plain;base64,aGk=", got.Attachments[0].DataURI)
	require.False(t, c.HasAttachments())
}

func TestSend_AttachmentOnlyDraftIsSendable(t *testing.T) {
	var got wire.SendMessage
	c := newTestComposer(t, func(ev wire.SendMessage) error { got = ev; return nil })
	_, err := c.Stage(&memSource{name: "a.txt", data: []byte("a")})
	require.NoError(t, err)
	require.NoError(t, c.Send())
	require.Len(t, got.Attachments, 1)
	require.Empty(t, got.Content)
}

func TestSend_OneFailingTranscodeDoesNotAbortOthers(t *testing.T) {
	var got wire.SendMessage
	c := newTestComposer(t, func(ev wire.SendMessage) error { got = ev; return nil })

	_, err := c.Stage(&memSource{name: "ok1.txt", data: []byte("one")})
	require.NoError(t, err)
	bad := &memSource{name: "bad.txt", data: []byte("x")}
	_, err = c.Stage(bad)
	require.NoError(t, err)
	_, err = c.Stage(&memSource{name: "ok2.txt", data: []byte("two")})
	require.NoError(t, err)

	// the file disappears between staging and send
	bad.failRead = true

	require.NoError(t, c.Send())
	require.Len(t, got.Attachments, 2)
	require.Equal(t, "ok1.txt", got.Attachments[0].Name)
	require.Equal(t, "ok2.txt", got.Attachments[1].Name)
}
