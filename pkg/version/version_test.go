package version_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Sumatoshi-tech/genexbench/pkg/version"
)

func TestString(t *testing.T) {
	t.Parallel()

	version.InitBinaryVersion()

	assert.Contains(t, version.String(), "genexbench ")
	assert.Contains(t, version.String(), "(commit: ")
}
