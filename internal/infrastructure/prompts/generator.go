package prompts

import (
	"bytes"
	"sort"
	"text/template"
	"time"

	"search-agent/internal/application/port/output"
)

type ToolInfo struct {
	Name        string
	Description string
}

type SystemPromptData struct {
	Date  string
	Tools []ToolInfo
}

// GenerateSystemPrompt renders baseTemplate with the registered tools,
// sorted by name, and the given date.
func GenerateSystemPrompt(baseTemplate string, tools output.ToolRegistry, now time.Time) (string, error) {
	defs := tools.Definitions()
	infos := make([]ToolInfo, 0, len(defs))

	for _, d := range defs {
		infos = append(infos, ToolInfo{
			Name:        d.Name,
			Description: d.Description,
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})

	data := SystemPromptData{
		Date:  now.Format("2006-01-02"),
		Tools: infos,
	}

	tmpl, err := template.New("system").Parse(baseTemplate)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}
