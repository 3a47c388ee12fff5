package images

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryCount = 0
	cfg.Referer = "https://catalogue.example/parts"
	return cfg
}

func TestFetchDownloadsAndCaches(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://catalogue.example/img/e12.png",
		func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "https://catalogue.example/parts", req.Header.Get("Referer"))
			res := httpmock.NewBytesResponse(http.StatusOK, pngBytes)
			res.Header.Set("Content-Type", "image/png")
			return res, nil
		})

	f := New(testConfig(), transport, nil)
	img, err := f.Fetch(context.Background(), "https://catalogue.example/img/e12.png")
	require.NoError(t, err)
	require.Equal(t, "image/png", img.ContentType)
	require.Equal(t, pngBytes, img.Data)

	_, err = f.Fetch(context.Background(), "https://catalogue.example/img/e12.png")
	require.NoError(t, err)
	require.Equal(t, 1, transport.GetTotalCallCount())
}

func TestFetchSniffsMissingContentType(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://catalogue.example/img/f3",
		httpmock.NewBytesResponder(http.StatusOK, pngBytes))

	img, err := New(testConfig(), transport, nil).Fetch(context.Background(), "https://catalogue.example/img/f3")
	require.NoError(t, err)
	require.Equal(t, "image/png", img.ContentType)
}

func TestFetchErrors(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://catalogue.example/missing.png",
		httpmock.NewStringResponder(http.StatusNotFound, "not found"))
	transport.RegisterResponder(http.MethodGet, "https://catalogue.example/empty.png",
		httpmock.NewBytesResponder(http.StatusOK, nil))

	f := New(testConfig(), transport, nil)
	_, err := f.Fetch(context.Background(), "https://catalogue.example/missing.png")
	require.ErrorContains(t, err, "status 404")
	_, err = f.Fetch(context.Background(), "https://catalogue.example/empty.png")
	require.ErrorContains(t, err, "empty body")
	_, err = f.Fetch(context.Background(), "")
	require.Error(t, err)
}

func TestFetchRetriesServerErrors(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	calls := 0
	transport.RegisterResponder(http.MethodGet, "https://catalogue.example/flaky.png",
		func(*http.Request) (*http.Response, error) {
			calls++
			if calls == 1 {
				return httpmock.NewStringResponse(http.StatusBadGateway, ""), nil
			}
			return httpmock.NewBytesResponse(http.StatusOK, pngBytes), nil
		})

	cfg := testConfig()
	cfg.RetryCount = 2
	cfg.RetryWait = time.Millisecond
	_, err := New(cfg, transport, nil).Fetch(context.Background(), "https://catalogue.example/flaky.png")
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}
