package api

import (
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"gcodesync/internal/status"
)

var uiTemplates = template.Must(template.New("layout").Funcs(template.FuncMap{
	"when": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return t.Local().Format("2006-01-02 15:04:05")
	},
	"ok": func(s status.Status) bool { return s == status.OK },
}).Parse(`{{define "home"}}
<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  <meta http-equiv="refresh" content="10"/>
  <title>gcodesync</title>
  <style>
    body{font-family:system-ui,-apple-system,Segoe UI,Roboto,Ubuntu,sans-serif;max-width:760px;margin:24px auto;padding:0 16px;color:#0b0b0b;background:#fafafa}
    h1{font-size:22px;margin:0 0 8px}
    .card{background:#fff;border:1px solid #e9e9e9;border-radius:10px;padding:16px;margin:12px 0}
    .btn{display:inline-block;background:#0b63e5;color:#fff;border:none;padding:10px 14px;border-radius:8px;cursor:pointer}
    .muted{color:#666}
    .mono{font-family:ui-monospace,SFMono-Regular,Menlo,Monaco,Consolas,monospace}
    .list{margin:0;padding-left:18px}
    .flag{display:inline-block;padding:4px 10px;border-radius:6px;font-weight:600;color:#fff;background:#b3261e}
    .flag.ok{background:#1e7d32}
  </style>
</head>
<body>
  <h1>gcodesync</h1>
  {{if .Notice}}<div class="card muted">{{.Notice}}</div>{{end}}
  <div class="card">
    <div>Server: <span class="flag{{if ok .State.Status}} ok{{end}}">{{.State.Status}}</span></div>
    <div class="muted">Last success: {{when .State.LastSuccess}} · cycles: {{.State.Cycles}} · consecutive failures: {{.State.ConsecutiveFailures}}</div>
    {{with .State.LastCycle}}
    <div class="muted">Last cycle <span class="mono">{{.CycleID}}</span>: {{.Orders}} orders{{if .FetchError}} · error: {{.FetchError}}{{end}}</div>
    {{end}}
    <form method="post" action="/ui/sync" style="margin-top:12px">
      <button class="btn" type="submit">Sync now</button>
    </form>
  </div>
  <div class="card">
    <h3>Programs in <span class="mono">{{.Dir}}</span></h3>
    {{if .Files}}
    <ul class="list">{{range .Files}}<li class="mono">{{.}}</li>{{end}}</ul>
    {{else}}
    <div class="muted">No programs yet</div>
    {{end}}
  </div>
</body>
</html>
{{end}}`))

// RegisterUIRoutes registers a minimal no-JS status page for the machine operator
func (a *API) RegisterUIRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(uiTemplates)
	router.GET("/", a.UIHome)
	router.POST("/ui/sync", a.UISync)
}

// UIHome renders the status page
func (a *API) UIHome(c *gin.Context) {
	a.renderHome(c, c.Query("notice"))
}

// UISync triggers a cycle and redirects back home
func (a *API) UISync(c *gin.Context) {
	notice := "sync queued"
	switch {
	case a.trigger == nil:
		notice = "sync trigger unavailable"
	case !a.trigger.Trigger():
		notice = "sync already pending"
	}
	c.Redirect(http.StatusSeeOther, "/?notice="+template.URLQueryEscaper(notice))
}

func (a *API) renderHome(c *gin.Context, notice string) {
	files, err := a.listFiles()
	if err != nil {
		notice = "cannot list files: " + err.Error()
	}
	c.HTML(http.StatusOK, "home", gin.H{
		"State":  a.state.Snapshot(),
		"Dir":    a.opts.DownloadDir,
		"Files":  files,
		"Notice": notice,
	})
}
