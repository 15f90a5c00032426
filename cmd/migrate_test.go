package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitStatements(t *testing.T) {
	sql := `
-- orders
CREATE TABLE a (id INT);

CREATE TABLE b (
    id INT
);
-- trailing comment;
`
	assert.Equal(t, []string{
		"CREATE TABLE a (id INT)",
		"CREATE TABLE b (\n    id INT\n)",
	}, splitStatements(sql))

	assert.Empty(t, splitStatements("  \n-- nothing here\n"))
}
