package classifier

import (
	"bytes"
	"embed"
	"strings"
	"text/template"
)

//go:embed prompts/*.tmpl
var promptFiles embed.FS

var prompts = template.Must(
	template.New("prompts").
		Funcs(template.FuncMap{"join": strings.Join}).
		ParseFS(promptFiles, "prompts/*.tmpl"),
)

type evaluateParams struct {
	Handle      string
	DisplayName string
	Bio         string
	Followers   int64
	Following   int64
	Posts       []string
	Categories  []string
	EntityTypes []string
}

type classifyParams struct {
	Accounts    string
	EntityTypes []string
}

type listRequestParams struct {
	Transcript string
}

func render(name string, params any) (string, error) {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name, params); err != nil {
		return "", err
	}
	return buf.String(), nil
}
