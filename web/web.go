// Package web embeds the HTML templates and static assets served by the pages
package web

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strconv"
	"time"
)

//go:embed templates/*.html
var templates embed.FS

//go:embed static
var static embed.FS

var funcs = template.FuncMap{
	"price": func(p float64) string {
		return strconv.FormatFloat(p, 'f', -1, 64)
	},
	"date": func(ms int64) string {
		return time.UnixMilli(ms).UTC().Format("02 Jan 2006")
	},
}

// Templates parses every page template
func Templates() (*template.Template, error) {
	t, err := template.New("").Funcs(funcs).ParseFS(templates, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates, %w", err)
	}

	return t, nil
}

func Static() http.FileSystem {
	sub, err := fs.Sub(static, "static")
	if err != nil {
		panic(err)
	}

	return http.FS(sub)
}
