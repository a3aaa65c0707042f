package fixture

import (
	"encoding/base64"
	"html/template"
	"net/http"

	"dnrharness/internal/logger"
)

const blockingPage = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>Request blocking</title></head>
<body>
<p>Requests to bad.third-party.site</p>
<img id="img">
<script>
const results = { date: null, results: [] };
const base = "https://bad.third-party.site/privacy-protections/request-blocking/block-me/";
const record = (id) => {
  const r = { id, status: "not loaded" };
  results.results.push(r);
  return r;
};
const tests = {
  script: (r) => {
    const s = document.createElement("script");
    s.onload = () => { r.status = "loaded"; };
    s.onerror = () => { r.status = "failed"; };
    s.src = base + "script.js";
    document.body.appendChild(s);
  },
  xmlhttprequest: (r) => {
    const x = new XMLHttpRequest();
    x.onload = () => { r.status = "loaded"; };
    x.onerror = () => { r.status = "failed"; };
    x.open("GET", base + "xhr.json");
    x.send();
  },
  image: (r) => {
    const img = document.getElementById("img");
    img.onload = () => { r.status = "loaded"; };
    img.onerror = () => { r.status = "failed"; };
    img.src = base + "image.png";
  },
};
if (location.search.includes("run")) {
  results.date = new Date().toUTCString();
  for (const [id, run] of Object.entries(tests)) {
    run(record(id));
  }
}
</script>
</body>
</html>`

const trackerImagePage = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>Tracker via img</title></head>
<body>
<img src="https://facebook.com/tr/?id=1&amp;ev=PageView">
</body>
</html>`

const trackerSurrogatePage = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>Tracker with surrogate</title></head>
<body>
<script src="https://doubleclick.net/instream/ad_status.js"></script>
</body>
</html>`

const simplePage = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>{{.}}</title></head>
<body><p>{{.}}</p></body>
</html>`

const rootPage = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>Privacy test pages</title></head>
<body>
<p>Privacy test pages</p>
<iframe src="about:blank"></iframe>
</body>
</html>`

const gpcPage = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>Global Privacy Control</title></head>
<body>
<div class="gpc-value"><code>{{if .}}Sec-GPC: "{{.}}"{{else}}No Sec-GPC header{{end}}</code></div>
</body>
</html>`

// 1x1 透明 GIF
var pixelGIF, _ = base64.StdEncoding.DecodeString("R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBRAA7")

var (
	simpleTmpl = template.Must(template.New("simple").Parse(simplePage))
	gpcTmpl    = template.Must(template.New("gpc").Parse(gpcPage))
)

// Handler 按 Host 分发的测试页面
func Handler(l logger.Logger) http.Handler {
	if l == nil {
		l = logger.NewNop()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+PagesHost+"/{$}", html(rootPage))
	mux.HandleFunc("GET "+PagesHost+"/privacy-protections/request-blocking/", html(blockingPage))
	mux.HandleFunc("GET "+PagesHost+"/tracker-reporting/1major-via-img.html", html(trackerImagePage))
	mux.HandleFunc("GET "+PagesHost+"/tracker-reporting/1major-with-surrogate.html", html(trackerSurrogatePage))
	mux.HandleFunc("GET "+PagesHost+"/privacy-protections/query-parameters/query.html", render(simpleTmpl, func(*http.Request) any {
		return "Query parameters"
	}))

	mux.HandleFunc("GET "+GPCHost+"/{$}", render(gpcTmpl, func(r *http.Request) any {
		return r.Header.Get("Sec-GPC")
	}))

	mux.HandleFunc("GET "+ThirdPartyHost+"/privacy-protections/request-blocking/block-me/script.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/javascript")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		_, _ = w.Write([]byte("window.blockMeLoaded = true;\n"))
	})
	mux.HandleFunc("GET "+ThirdPartyHost+"/privacy-protections/request-blocking/block-me/xhr.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		_, _ = w.Write([]byte(`{"loaded":true}`))
	})
	mux.HandleFunc("GET "+ThirdPartyHost+"/privacy-protections/request-blocking/block-me/image.png", pixel)

	mux.HandleFunc("GET "+PixelHost+"/tr/", pixel)
	mux.HandleFunc("GET "+AdHost+"/instream/ad_status.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/javascript")
		_, _ = w.Write([]byte("window.google_ad_status = 1;\n"))
	})

	mux.HandleFunc("GET "+UndeclaredHost+"/{$}", render(simpleTmpl, func(*http.Request) any {
		return "Example Domain"
	}))

	return logRequests(mux, l)
}

func html(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}
}

func render(t *template.Template, data func(*http.Request) any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := t.Execute(w, data(r)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

func pixel(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(pixelGIF)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		l.Debug("测试页面请求", "host", r.Host, "path", r.URL.Path, "status", rec.status)
	})
}
