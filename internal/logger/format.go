package logger

import (
	"fmt"
	"time"
)

// Default column layouts.
const (
	DefaultConsoleFormat = "PM"
	DefaultFileFormat    = "LPTM"
)

const columnSep = " | "

// appendLine renders one log line for format into dst. Recognised letters:
//
//	P source   L level   D thread slot   Q queued marker
//	T time     Z time with millis       M message
//
// Other letters are ignored.
func appendLine(dst []byte, format string, source int, level Level, slot Slot, queued bool, now time.Time, msg string) []byte {
	columns := 0
	for i := 0; i < len(format); i++ {
		switch format[i] {
		case 'P', 'L', 'D', 'Q', 'T', 'Z', 'M':
			columns++
		}
	}
	col := 0
	for i := 0; i < len(format); i++ {
		handled := true
		switch format[i] {
		case 'P':
			dst = appendSource(dst, source)
		case 'L':
			dst = fmt.Appendf(dst, "%-6s", level.String())
		case 'D':
			dst = fmt.Appendf(dst, "%-7s", slot.String())
		case 'Q':
			if queued {
				dst = append(dst, 'Q')
			} else {
				dst = append(dst, ' ')
			}
		case 'T':
			dst = now.AppendFormat(dst, "2006/01/02 15:04:05")
		case 'Z':
			dst = now.AppendFormat(dst, "2006/01/02 15:04:05.000")
		case 'M':
			dst = append(dst, msg...)
		default:
			handled = false
		}
		if handled {
			col++
			if col != columns {
				dst = append(dst, columnSep...)
			}
		}
	}
	return dst
}

func appendSource(dst []byte, source int) []byte {
	switch source {
	case SourceWrapper:
		return append(dst, "wrapper "...)
	case SourceProtocol:
		return append(dst, "wrapperp"...)
	}
	return fmt.Appendf(dst, "jvm %-4d", source)
}
