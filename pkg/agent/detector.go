package agent

// HasToolCalls reports whether a model response contains actionable tool
// invocations. Tool calls take precedence over any accompanying text: a
// response with both text and tool calls still continues the loop.
func HasToolCalls(response *Response) bool {
	return response != nil && len(response.ToolCalls) > 0
}
