package logger

import (
	"strconv"
	"strings"
)

const (
	dateToken    = "YYYYMMDD"
	rollNumToken = "ROLLNUM"
	// datePattern matches any date in place of dateToken when globbing.
	datePattern = "????????"
)

// GenerateFileName expands a log path template. An empty date strips the
// YYYYMMDD token together with one preceding separator. A rollNum of zero
// strips ROLLNUM the same way; a positive rollNum replaces the token, or is
// appended as ".N" when the template has no token.
func GenerateFileName(template, date string, rollNum int) string {
	name := template
	if strings.Contains(name, dateToken) {
		if date == "" {
			name = stripToken(name, dateToken)
		} else {
			name = strings.ReplaceAll(name, dateToken, date)
		}
	}
	if strings.Contains(name, rollNumToken) {
		if rollNum <= 0 {
			name = stripToken(name, rollNumToken)
		} else {
			name = strings.ReplaceAll(name, rollNumToken, strconv.Itoa(rollNum))
		}
	} else if rollNum > 0 {
		name += "." + strconv.Itoa(rollNum)
	}
	return name
}

func stripToken(name, token string) string {
	for _, sep := range []string{"-", "_", "."} {
		name = strings.ReplaceAll(name, sep+token, "")
	}
	return strings.ReplaceAll(name, token, "")
}
