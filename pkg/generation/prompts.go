package generation

import (
	"strings"
	"text/template"
)

const systemPrompt = "You are LexAI, an AI assistant for legal professionals in India."

var pdfQueryTemplate = template.Must(template.New("pdf_query").Parse(`Use the following pieces of context to answer the user's question.
If you don't know the answer, just say that you don't know, don't try to make up an answer.
Always cite specific sections or page numbers when referencing information from the document.

Context:
{{.Context}}

Question: {{.Question}}

Answer:`))

var legalArgumentTemplate = template.Must(template.New("legal_argument").Parse(`Generate structured legal arguments for the {{.Side}} based on the following case details.
Your response should follow formal legal argument structure with citations to relevant laws, precedents, and sections.
Focus on Indian legal context and jurisdiction.

Case Title: {{.Title}}
Jurisdiction: {{.Jurisdiction}}
Case Type: {{.Type}}
Relevant Acts/Sections: {{.Acts}}

Case Facts:
{{.Facts}}

Generate a formal legal argument with:
1. Introduction/Summary
2. 3-5 main arguments with supporting citations
3. Conclusion
4. Format as if it's a formal legal submission

Your response:`))

var lawSearchTemplate = template.Must(template.New("law_search").Parse(`Provide a clear, concise explanation of the following legal query:

Query: {{.Query}}

Explain this legal concept, section, or act in the context of Indian law. Include:
1. The exact text of the section/act (if applicable)
2. Key interpretations from important case laws
3. Recent amendments or changes (if any)
4. Practical application in legal proceedings

Your response:`))

func render(t *template.Template, data any) (string, error) {
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}
