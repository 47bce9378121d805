package rag

import (
	"bytes"
	"fmt"
	"text/template"
)

const (
	SystemInstruction = `You are a legal and document assistant. Answer ONLY with information from the provided context. ` +
		`If the context does not contain the answer, say that you could not find it in the documents. ` +
		`Cite the sources (document and page) you used.`

	questionPromptTmpl = `Context:
{{.Context}}

Question: {{.Question}}`
)

var questionPrompt = template.Must(template.New("question").Parse(questionPromptTmpl))

type promptData struct {
	Context  string
	Question string
}

// BuildPrompt renders the prompt for a question over an assembled context.
func BuildPrompt(context, question string) (Prompt, error) {
	var buf bytes.Buffer
	if err := questionPrompt.Execute(&buf, promptData{Context: context, Question: question}); err != nil {
		return Prompt{}, fmt.Errorf("failed to execute question template: %w", err)
	}
	return Prompt{System: SystemInstruction, User: buf.String()}, nil
}
