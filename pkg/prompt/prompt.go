// Package prompt assembles the generation prompt from retrieved document
// chunks and the caller's session objects.
package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xhad/docchat/internal/models"
)

// SystemPrompt is sent as the system message of every chat turn.
const SystemPrompt = `You are an intelligent assistant that helps users by answering questions based on two sources of information:

1. **Document Knowledge**: Information retrieved from uploaded PDF documents. This is persistent knowledge that provides context, rules, regulations, or reference material.

2. **Session Objects**: A dynamic list of objects provided by the user for the current session. These are ephemeral, session-specific data points that may represent items, drawings, entities, or any structured data the user wants to analyze.

When answering questions:
- Consider both the document knowledge and session objects together
- If a question relates to the session objects, analyze them in the context of any relevant rules or information from the documents
- Be precise and cite specific information from the documents when relevant
- When analyzing session objects, be specific about which objects you're referring to
- If you cannot find relevant information in either source, clearly state that

Format your responses clearly and concisely. When referencing document sources, indicate which document the information came from.`

const (
	documentHeader  = "## Retrieved Document Context\n\n"
	noDocuments     = "No relevant documents found."
	objectsHeader   = "## Session Objects\n\n"
	noObjects       = "No session objects provided."
	questionHeader  = "## User Question\n\n"
	unknownFilename = "Unknown"
)

// Compose renders the prompt body: document context, then session objects,
// then the question.
func Compose(query string, chunks []models.RetrievedChunk, objects []json.RawMessage) (string, error) {
	objs, err := objectsBlock(objects)
	if err != nil {
		return "", err
	}
	return documentBlock(chunks) + "\n\n" + objs + "\n\n" + questionHeader + query, nil
}

func documentBlock(chunks []models.RetrievedChunk) string {
	if len(chunks) == 0 {
		return documentHeader + noDocuments
	}

	sections := make([]string, len(chunks))
	for i, c := range chunks {
		filename := c.Metadata.Filename
		if filename == "" {
			filename = unknownFilename
		}
		sections[i] = fmt.Sprintf("### Source %d (%s)\n%s", i+1, filename, c.Content)
	}
	return documentHeader + strings.Join(sections, "\n\n")
}

func objectsBlock(objects []json.RawMessage) (string, error) {
	if len(objects) == 0 {
		return objectsHeader + noObjects, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(objects); err != nil {
		return "", fmt.Errorf("%w: session objects are not valid JSON: %v", models.ErrValidation, err)
	}

	return objectsHeader + "```json\n" + strings.TrimSuffix(buf.String(), "\n") + "\n```", nil
}
