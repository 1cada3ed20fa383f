package logging

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// LoggerPatternConfig sets the level of every logger whose dotted name matches Pattern.
// A "*" section matches any run of characters, e.g. "abdrive.*" or "*.drive".
type LoggerPatternConfig struct {
	Pattern string `json:"pattern"`
	Level   string `json:"level"`
}

const (
	// e.g. "drive".
	validLoggerSectionName = `[a-zA-Z0-9]+([_-]*[a-zA-Z0-9]+)*`
	// e.g. "drive" or "*".
	validLoggerSectionNameWithWildcard = `(` + validLoggerSectionName + `|\*)`
	// e.g. "abdrive.*.board".
	validLoggerSectionsWithWildcard = validLoggerSectionNameWithWildcard + `(\.` + validLoggerSectionNameWithWildcard + `)*`
	validLoggerName                 = `^` + validLoggerSectionsWithWildcard + `$`
)

var loggerPatternRegexp = regexp.MustCompile(validLoggerName)

// Validate ensures the pattern is well formed and the level is known.
func (lpc LoggerPatternConfig) Validate(path string) error {
	if !loggerPatternRegexp.MatchString(lpc.Pattern) {
		return errors.Errorf("%s: invalid logger pattern %q", path, lpc.Pattern)
	}
	if _, err := LevelFromString(lpc.Level); err != nil {
		return errors.Wrap(err, path)
	}
	return nil
}

func (lpc LoggerPatternConfig) matcher() *regexp.Regexp {
	var b strings.Builder
	b.WriteRune('^')
	for _, ch := range lpc.Pattern {
		switch ch {
		case '*':
			b.WriteString(`.*`)
		case '.':
			b.WriteString(`\.`)
		default:
			b.WriteRune(ch)
		}
	}
	b.WriteRune('$')
	return regexp.MustCompile(b.String())
}
