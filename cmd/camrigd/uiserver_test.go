package main

import (
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFrames struct {
	still  []byte
	frames [][]byte
	err    error
}

func (f *fakeFrames) Snapshot(context.Context) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.still, nil
}

func (f *fakeFrames) Frames(_ context.Context, fn func([]byte) error) error {
	if f.err != nil {
		return f.err
	}
	for _, fr := range f.frames {
		if err := fn(fr); err != nil {
			return err
		}
	}
	return nil
}

func newUITestServer(t *testing.T, frames FrameSource) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	events := make(chan Event, 8)
	ws := NewServer(ctx, discardLogger(), events, ServerConfig{})
	srv := httptest.NewServer(newUIMux(ws, frames, discardLogger()))
	t.Cleanup(srv.Close)
	return srv
}

func TestUIServer_Healthz(t *testing.T) {
	srv := newUITestServer(t, nil)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	resp2, err := http.Post(srv.URL+"/healthz", "text/plain", nil)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp2.StatusCode)
}

func TestUIServer_CameraRoutesNeedFrameSource(t *testing.T) {
	srv := newUITestServer(t, nil)

	resp, err := http.Get(srv.URL + "/snapshot.jpg")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUIServer_Snapshot(t *testing.T) {
	srv := newUITestServer(t, &fakeFrames{still: []byte("\xff\xd8jpeg\xff\xd9")})

	resp, err := http.Get(srv.URL + "/snapshot.jpg")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	assert.Equal(t, "\xff\xd8jpeg\xff\xd9", string(body))
}

func TestUIServer_SnapshotUpstreamError(t *testing.T) {
	srv := newUITestServer(t, &fakeFrames{err: &APIError{Status: 503, Message: "camera busy"}})

	resp, err := http.Get(srv.URL + "/snapshot.jpg")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, string(body), "camera busy")
}

func TestUIServer_StreamRelaysFrames(t *testing.T) {
	srv := newUITestServer(t, &fakeFrames{frames: [][]byte{[]byte("frame-1"), []byte("frame-2")}})

	resp, err := http.Get(srv.URL + "/stream.mjpg")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/x-mixed-replace", mediaType)

	mr := multipart.NewReader(resp.Body, params["boundary"])
	var got []string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))
		b, err := io.ReadAll(part)
		require.NoError(t, err)
		got = append(got, string(b))
	}
	assert.Equal(t, []string{"frame-1", "frame-2"}, got)
}

func TestUIServer_StreamUpstreamErrorBeforeFirstFrame(t *testing.T) {
	srv := newUITestServer(t, &fakeFrames{err: errors.New("connection refused")})

	resp, err := http.Get(srv.URL + "/stream.mjpg")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, string(body), "connection refused")
}
