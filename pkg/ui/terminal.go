package ui

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"golang.org/x/term"
)

// Banner is printed when a crawl starts
const Banner = `
    ╔══════════════════════════════════════════════╗
    ║  H A R V E S T E R   ·   medicine crawler     ║
    ╚══════════════════════════════════════════════╝
`

var (
	Cyan    = colorize("\033[36m%s\033[0m")
	Yellow  = colorize("\033[33m%s\033[0m")
	Red     = colorize("\033[31m%s\033[0m")
	Green   = colorize("\033[32m%s\033[0m")
	Magenta = colorize("\033[35m%s\033[0m")
	Dim     = colorize("\033[2m%s\033[0m")
)

var (
	out     io.Writer = os.Stdout
	quiet   atomic.Bool
	noColor atomic.Bool
)

func init() {
	if os.Getenv("NO_COLOR") != "" || !term.IsTerminal(int(os.Stdout.Fd())) {
		noColor.Store(true)
	}
}

// SetOutput redirects all terminal output
func SetOutput(w io.Writer) {
	out = w
}

// SetQuietMode suppresses everything but errors
func SetQuietMode(q bool) {
	quiet.Store(q)
}

// IsQuiet reports whether quiet mode is on
func IsQuiet() bool {
	return quiet.Load()
}

// SetColor turns ANSI colours on or off
func SetColor(enabled bool) {
	noColor.Store(!enabled)
}

func colorize(colorString string) func(string) string {
	return func(text string) string {
		if noColor.Load() {
			return text
		}
		return fmt.Sprintf(colorString, text)
	}
}

func PrintBanner() {
	if quiet.Load() {
		return
	}
	fmt.Fprint(out, Cyan(Banner))
}

// PrintError is printed even in quiet mode
func PrintError(msg string, args ...interface{}) {
	if len(args) > 0 {
		fmt.Fprintln(out, Red(msg+": "+fmt.Sprintf("%v", args[0])))
	} else {
		fmt.Fprintln(out, Red(msg))
	}
}

func PrintSuccess(msg string) {
	if quiet.Load() {
		return
	}
	fmt.Fprintln(out, Green(msg))
}

func PrintInfo(label string, value string) {
	if quiet.Load() {
		return
	}
	fmt.Fprintf(out, "%s: %s\n", Cyan(label), Yellow(value))
}

func PrintWarning(msg string, args ...interface{}) {
	if quiet.Load() {
		return
	}
	if len(args) > 0 {
		fmt.Fprintln(out, Yellow(msg+": "+fmt.Sprintf("%v", args[0])))
	} else {
		fmt.Fprintln(out, Yellow(msg))
	}
}

func PrintHighlight(msg string) {
	if quiet.Load() {
		return
	}
	fmt.Fprintln(out, Magenta(msg))
}
