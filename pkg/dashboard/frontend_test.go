package dashboard

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insider-intel/pkg/insider"
)

func TestStylesheetOnlyStylesRenderedClasses(t *testing.T) {
	start := strings.Index(frontendHTML, "<style>")
	end := strings.Index(frontendHTML, "</style>")
	require.True(t, start >= 0 && end > start)
	css, script := frontendHTML[start:end], frontendHTML[end:]

	statuses := []insider.Status{insider.StatusActive, insider.StatusMonitoring, insider.StatusCooldown, insider.StatusBlacklisted}
	classes := regexp.MustCompile(`\.([a-z][a-z0-9-]*)`).FindAllStringSubmatch(css, -1)
	require.NotEmpty(t, classes)
	for _, m := range classes {
		class := m[1]
		if status, ok := strings.CutPrefix(class, "bg-"); ok {
			assert.Contains(t, statuses, insider.Status(status), "badge for unknown status .%s", class)
			continue
		}
		used := regexp.MustCompile(`["' ]` + regexp.QuoteMeta(class) + `["' ]`)
		assert.True(t, used.MatchString(script), "no element uses .%s", class)
	}
}
