package fixture

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dnrharness/internal/browsertest"
)

func get(t *testing.T, h http.Handler, url string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerServesFixturePages(t *testing.T) {
	h := Handler(nil)
	f := Fixtures()

	tests := []struct {
		url      string
		contains string
	}{
		{f.Root, "<iframe"},
		{f.RequestBlocking, "results.results.push"},
		{f.TrackerImage, "https://facebook.com/tr/"},
		{f.TrackerSurrogate, "https://doubleclick.net/instream/ad_status.js"},
		{f.QueryParams, "Query parameters"},
		{f.Undeclared, "Example Domain"},
		{f.GPC, "No Sec-GPC header"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			rec := get(t, h, tt.url)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
			assert.Contains(t, rec.Body.String(), tt.contains)
		})
	}
}

func TestBlockingPageRecordsEveryResource(t *testing.T) {
	body := get(t, Handler(nil), Fixtures().RequestBlocking).Body.String()
	for _, id := range []string{"script", "xmlhttprequest", "image"} {
		assert.Contains(t, body, id+": (r) =>")
	}
	assert.Contains(t, body, `status: "not loaded"`)
}

func TestGPCEchoesHeader(t *testing.T) {
	rec := get(t, Handler(nil), Fixtures().GPC, "Sec-GPC", "1")
	assert.Contains(t, rec.Body.String(), `<code>Sec-GPC: "1"</code>`)

	rec = get(t, Handler(nil), Fixtures().GPC, "Sec-GPC", `<b>`)
	assert.Contains(t, rec.Body.String(), "&lt;b&gt;")
}

func TestThirdPartyResources(t *testing.T) {
	h := Handler(nil)
	for url, ct := range map[string]string{
		browsertest.BlockedScriptURL: "text/javascript",
		browsertest.BlockedXHRURL:    "application/json",
		browsertest.BlockedImageURL:  "image/gif",
		browsertest.TrackerPixelURL:  "image/gif",
		browsertest.TrackerScriptURL: "text/javascript",
	} {
		rec := get(t, h, url)
		require.Equal(t, http.StatusOK, rec.Code, url)
		assert.Equal(t, ct, rec.Header().Get("Content-Type"), url)
	}
	assert.Equal(t, pixelGIF, get(t, h, browsertest.TrackerPixelURL).Body.Bytes())
	assert.NotContains(t, get(t, h, browsertest.TrackerScriptURL).Body.String(), "surrogate_test")
}

func TestUnknownHostIsNotFound(t *testing.T) {
	rec := get(t, Handler(nil), "https://unknown.test/")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(t, Handler(nil), "https://"+ThirdPartyHost+"/")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHostResolverRules(t *testing.T) {
	rules := HostResolverRules("127.0.0.1:4443")
	for _, h := range Hosts() {
		assert.Contains(t, rules, "MAP "+h+" 127.0.0.1:4443")
	}
	assert.Equal(t, len(Hosts())-1, strings.Count(rules, ", "))
}

func TestServerStartStop(t *testing.T) {
	srv := NewServer(DefaultConfig())
	assert.Empty(t, srv.Addr())

	addr, err := srv.Start()
	require.NoError(t, err)
	require.NotEmpty(t, addr)
	assert.Equal(t, addr, srv.Addr())

	again, err := srv.Start()
	require.NoError(t, err)
	assert.Equal(t, addr, again)

	req, err := http.NewRequest(http.MethodGet, "https://"+addr+"/", nil)
	require.NoError(t, err)
	req.Host = PagesHost
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Privacy test pages")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.Empty(t, srv.Addr())
	require.NoError(t, srv.Shutdown(ctx))
}
