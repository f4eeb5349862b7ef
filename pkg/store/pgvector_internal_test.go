package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNearestQuery_OrderUsesIndexOperator(t *testing.T) {
	query := nearestQuery(`"pdf_documents"`)

	assert.Contains(t, query, `FROM "pdf_documents"`)
	orderBy := query[strings.Index(query, "ORDER BY"):]
	orderBy = strings.TrimSpace(orderBy[:strings.Index(orderBy, "LIMIT")])
	assert.Equal(t, "ORDER BY embedding <=> $1", orderBy)
}
