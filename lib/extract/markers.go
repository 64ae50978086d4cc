package extract

import (
	"fmt"
	"strings"

	"github.com/ipsleuth/ipsleuth/data"
	"github.com/ipsleuth/ipsleuth/lib/fault"
	"gopkg.in/yaml.v3"
)

type marker struct {
	Code    fault.Code `yaml:"code"`
	Status  int        `yaml:"status"`
	Message string     `yaml:"message"`
	Phrases []string   `yaml:"phrases"`
}

type markerFile struct {
	Markers []marker `yaml:"markers"`
}

var errorMarkers = mustLoadMarkers()

func mustLoadMarkers() []marker {
	var parsed markerFile
	if err := yaml.Unmarshal(data.Markers, &parsed); err != nil {
		panic(fmt.Sprintf("extract: embedded marker table is malformed: %v", err))
	}
	return parsed.Markers
}

// classifyErrorPage matches the page's visible text against the known
// error-page phrase markers. Returns nil when no marker matches.
func classifyErrorPage(bodyText string) *fault.Error {
	lowered := strings.ToLower(bodyText)

	for _, m := range errorMarkers {
		for _, phrase := range m.Phrases {
			if strings.Contains(lowered, strings.ToLower(phrase)) {
				if m.Status != 0 {
					return fault.WithStatus(m.Code, m.Status, "%s", m.Message)
				}
				return fault.New(m.Code, "%s", m.Message)
			}
		}
	}

	return nil
}
