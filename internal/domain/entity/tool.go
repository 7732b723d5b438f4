package entity

type ToolName = string

const ToolSearchWithContents ToolName = "search_with_contents"

// ToolDefinition is the declaration advertised to the model.
// Parameters is a JSON-schema object: {type, properties, required}.
type ToolDefinition struct {
	Name        ToolName
	Description string
	Parameters  map[string]any
}

// ParameterNames lists the property names declared in Parameters.
func (d ToolDefinition) ParameterNames() []string {
	props, _ := d.Parameters["properties"].(map[string]any)
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	return names
}

// RequiredParameters lists the names under "required", accepting either
// []string or the []any shape produced by JSON decoding.
func (d ToolDefinition) RequiredParameters() []string {
	switch req := d.Parameters["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, v := range req {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
