package session

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

var sizeUnits = []string{"KB", "MB", "GB", "TB", "PB"}

// humanSize renders a byte count for notifications. Negative sizes are
// unknown.
func humanSize(n int64) string {
	if n < 0 {
		return "-"
	}
	if n < 1024 {
		return printer.Sprintf("%d B", n)
	}
	v := float64(n) / 1024
	unit := 0
	for v >= 1024 && unit < len(sizeUnits)-1 {
		v /= 1024
		unit++
	}
	return printer.Sprintf("%.2f %s", v, sizeUnits[unit])
}
