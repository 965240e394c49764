package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visionlink/endpoint"
	"visionlink/link"
	"visionlink/protocol"
	"visionlink/recording"
	"visionlink/stream"
)

func newTestClient(t *testing.T) *client {
	t.Helper()
	m := link.New(link.Options{})
	r := link.NewRouter(m, nil)
	return &client{
		store:    endpoint.NewStore(filepath.Join(t.TempDir(), "addr")),
		manager:  m,
		router:   r,
		request:  stream.NewRequester(r, stream.RequesterOptions{}),
		recorder: recording.New(recording.Options{Open: recording.DirOpener(t.TempDir(), 0, 0)}),
	}
}

func TestConsole_Commands(t *testing.T) {
	c := newTestClient(t)
	var out bytes.Buffer
	in := strings.NewReader(strings.Join([]string{
		"source processed",
		"toggle",
		"endpoint 127.0.0.1:5800",
		"record start",
		"record stop",
		"signal switch-feed",
		"bogus",
		"status",
		"quit",
		"status",
	}, "\n"))

	c.console(context.Background(), in, &out)

	text := out.String()
	assert.Contains(t, text, "source: PROCESSED")
	assert.Contains(t, text, "source: PLAIN")
	assert.Contains(t, text, "endpoint: 127.0.0.1:5800")
	assert.Contains(t, text, "unknown command: bogus")
	assert.Contains(t, text, "sent SWITCH_FEED")
	assert.True(t, strings.HasSuffix(text, "bye\n"))
	assert.Equal(t, 1, strings.Count(text, "connection:"))

	assert.Equal(t, protocol.SourcePlain, c.request.Source())
	assert.Equal(t, endpoint.Endpoint{Host: "127.0.0.1", Port: 5800}, c.manager.Endpoint())
	saved, err := c.store.Load()
	require.NoError(t, err)
	assert.Equal(t, c.manager.Endpoint(), saved)

	_, outbound := c.manager.Pending()
	assert.Equal(t, 1, outbound, "signal queued for the next connection")
}

func TestConsole_UsageErrors(t *testing.T) {
	c := newTestClient(t)
	var out bytes.Buffer
	for _, line := range []string{"source infrared", "record pause", "signal reboot", "endpoint nowhere"} {
		assert.False(t, c.exec(line, &out))
	}
	text := out.String()
	assert.Contains(t, text, "usage: source")
	assert.Contains(t, text, "usage: record")
	assert.Contains(t, text, "usage: signal")
	assert.Contains(t, text, "error:")
}
