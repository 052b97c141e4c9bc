package http

import (
	"html/template"
	"net/http"
)

const pageLayout = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>{{template "title" .}}</title></head>
<body>
<h1>{{template "title" .}}</h1>
<p>{{template "body" .}}</p>
</body>
</html>`

var (
	pageConnected = mustPage(
		`Connected to Strava`,
		`{{if .AthleteName}}Thanks, {{.AthleteName}}. {{end}}New backcountry ski activities will get the avalanche forecast for their start point.`)
	pageDenied = mustPage(
		`Authorization declined`,
		`You declined access on Strava, so nothing was connected. You can start again at any time.`)
	pageMissingCode = mustPage(
		`Authorization incomplete`,
		`Strava did not return an authorization code. Please start the connection again.`)
	pageInvalidState = mustPage(
		`Authorization rejected`,
		`This authorization link has expired or was already used. Please start the connection again.`)
	pageFailed = mustPage(
		`Something went wrong`,
		`We could not finish connecting your Strava account. Please try again later.`)
)

func mustPage(title, body string) *template.Template {
	t := template.Must(template.New("page").Parse(pageLayout))
	template.Must(t.New("title").Parse(title))
	template.Must(t.New("body").Parse(body))
	return t
}

func renderPage(w http.ResponseWriter, status int, page *template.Template, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	page.Execute(w, data) //nolint:errcheck // headers already sent
}
