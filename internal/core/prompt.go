package core

import (
	"strings"
	"text/template"
)

// PromptData is what a section prompt template can reference.
type PromptData struct {
	Premise        string
	Protagonist    string
	Theme          string
	Digest         string
	Index          int
	Number         int
	MaxSections    int
	Position       string
	TargetLength   TargetLength
	LengthGuidance string
	Budget         int
	CurrentLength  int
	EndMarker      string
}

// PromptFuncs are available to built-in and user supplied templates.
func PromptFuncs() template.FuncMap {
	return template.FuncMap{
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"trim":  strings.TrimSpace,
	}
}

const defaultSectionTemplate = `You are a novelist writing a story one section at a time.

Story premise:
{{.Premise}}
{{- if .Protagonist}}
Protagonist: {{.Protagonist}}
{{- end}}
{{- if .Theme}}
Theme: {{.Theme}}
{{- end}}

{{if .Digest -}}
Story so far ({{.CurrentLength}} characters written):
{{.Digest}}
{{- else -}}
Nothing has been written yet.
{{- end}}

Write section {{.Number}} of at most {{.MaxSections}} (section index {{.Index}}). This is the {{.Position}} of the story.
{{.LengthGuidance}}
Keep this section under {{.Budget}} characters and continue directly from where the story left off.
{{- if .EndMarker}}
If the story reaches its natural ending in this section, finish the content with the line {{.EndMarker}}.
{{- end}}

Answer in this format:
<section>
<content>
[the narrative text of this section only, plain prose]
</content>
<summary>[two or three sentences summarizing what happened in this section]</summary>
<progress><percentage>[overall story progress from 0 to 100]</percentage></progress>
</section>
`

var builtinTemplate = template.Must(template.New("section").Funcs(PromptFuncs()).Parse(defaultSectionTemplate))

// position names where a section falls in the arc.
func position(index, maxSections int) string {
	switch {
	case index >= maxSections-1:
		return "final section"
	case index == 0:
		return "opening"
	}

	ratio := float64(index+1) / float64(maxSections)
	switch {
	case ratio <= 1.0/3:
		return "early act"
	case ratio >= 0.8:
		return "closing section"
	default:
		return "middle"
	}
}
