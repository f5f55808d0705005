package cdp

import (
	"encoding/base64"
	"testing"

	"piper/pkg/model"
	"piper/pkg/traffic"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pausedRequest() *fetch.RequestPausedReply {
	body := `{"q":1}`
	return &fetch.RequestPausedReply{
		RequestID: "r-1",
		Request: network.Request{
			URL:      "https://example.com/search?q=go",
			Method:   "POST",
			Headers:  network.Headers(`{"User-Agent":"test","Accept":"*/*"}`),
			PostData: &body,
		},
	}
}

func TestRequestMessage(t *testing.T) {
	msg := RequestMessage(pausedRequest())
	want := "POST /search?q=go HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"Accept: */*\r\n" +
		"User-Agent: test\r\n" +
		"\r\n" +
		`{"q":1}`
	assert.Equal(t, want, string(msg.Bytes))
	assert.Equal(t, `{"q":1}`, string(msg.Body()))
	assert.True(t, msg.IsRequest())
	assert.Equal(t, model.SourceProxy, msg.Source)
}

func TestResponseMessage(t *testing.T) {
	code := 201
	ev := pausedRequest()
	ev.ResponseStatusCode = &code
	ev.ResponseHeaders = []fetch.HeaderEntry{{Name: "Content-Type", Value: "text/plain"}}
	require.True(t, IsResponseStage(ev))
	assert.False(t, IsResponseStage(pausedRequest()))

	msg := ResponseMessage(ev, []byte("ok"))
	assert.Equal(t, "HTTP/1.1 201 Created\r\nContent-Type: text/plain\r\n\r\nok", string(msg.Bytes))
	assert.False(t, msg.IsRequest())
}

func TestContinueArgs_FromEditedMessage(t *testing.T) {
	ev := pausedRequest()
	msg := RequestMessage(ev)
	req, err := traffic.ParseRequest(msg)
	require.NoError(t, err)
	req.Method = "PUT"
	req.Target = "/other?x=2"
	req.Header.Set("Content-Length", "99")
	req.Header.Set("X-Added", "yes")
	req.Body = []byte("new")

	args, err := ContinueArgs(ev, req.Message(model.SourceProxy))
	require.NoError(t, err)
	assert.Equal(t, fetch.RequestID("r-1"), args.RequestID)
	assert.Equal(t, "https://example.com/other?x=2", *args.URL)
	assert.Equal(t, "PUT", *args.Method)
	assert.Equal(t, []byte("new"), args.PostData)
	assert.Equal(t, []fetch.HeaderEntry{
		{Name: "Accept", Value: "*/*"},
		{Name: "User-Agent", Value: "test"},
		{Name: "X-Added", Value: "yes"},
	}, args.Headers)

	_, err = ContinueArgs(ev, traffic.NewMessage([]byte("nonsense"), traffic.DirectionRequest, ""))
	assert.ErrorIs(t, err, traffic.ErrMalformed)
}

func TestFulfillArgs(t *testing.T) {
	ev := pausedRequest()
	msg := traffic.NewMessage([]byte("HTTP/1.1 418 Teapot\r\nContent-Length: 3\r\nX-A: b\r\n\r\nbrew"), traffic.DirectionResponse, model.SourceProxy)
	args, err := FulfillArgs(ev, msg)
	require.NoError(t, err)
	assert.Equal(t, 418, args.ResponseCode)
	assert.Equal(t, "Teapot", *args.ResponsePhrase)
	assert.Equal(t, []byte("brew"), args.Body)
	assert.Equal(t, []fetch.HeaderEntry{{Name: "X-A", Value: "b"}}, args.ResponseHeaders)
}

func TestDecodeBody(t *testing.T) {
	b, err := DecodeBody(&fetch.GetResponseBodyReply{Body: "plain"})
	require.NoError(t, err)
	assert.Equal(t, []byte("plain"), b)

	b, err = DecodeBody(&fetch.GetResponseBodyReply{Body: base64.StdEncoding.EncodeToString([]byte{0, 1, 2}), Base64Encoded: true})
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2}, b)

	_, err = DecodeBody(&fetch.GetResponseBodyReply{Body: "!!", Base64Encoded: true})
	assert.Error(t, err)
}
