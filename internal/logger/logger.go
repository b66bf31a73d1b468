package logger

import (
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// ANSI color codes used for console output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

var colorEnabled = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

func paint(color, s string) string {
	if !colorEnabled {
		return s
	}
	return color + s + colorReset
}

func stamp() string {
	return time.Now().Format("15:04:05")
}

func line(color, level, tag, msg string) {
	fmt.Printf("%s %s %s %s\n",
		paint(colorGray, stamp()),
		paint(color, level),
		paint(colorCyan, "["+tag+"]"),
		msg)
}

// Info logs an informational message with a component tag.
func Info(tag, msg string) {
	line(colorCyan, "INFO", tag, msg)
}

// Success logs a success message.
func Success(tag, msg string) {
	line(colorGreen, " OK ", tag, msg)
}

// Warn logs a warning.
func Warn(tag, msg string) {
	line(colorYellow, "WARN", tag, msg)
}

// Error logs an error.
func Error(tag, msg string) {
	line(colorRed, "FAIL", tag, msg)
}

// Banner prints the startup banner with the build version.
func Banner(version string) {
	if version == "" {
		version = "dev"
	}
	fmt.Println(paint(colorCyan, `
  __  __  ___   ___  _  ___      ___  _____ ___ _  _
 |  \/  |/ _ \ / _ \| \| \ \    / /_\|_   _/ __| || |
 | |\/| | (_) | (_) | .  |\ \/\/ / _ \ | || (__| __ |
 |_|  |_|\___/ \___/|_|\_| \_/\_/_/ \_\|_| \___|_||_|
`))
	fmt.Printf("  moonwatch %s - moon mining extraction tracker\n\n", version)
}

// Section prints a visual separator with a title.
func Section(title string) {
	fmt.Printf("\n%s %s\n", paint(colorGray, "──"), paint(colorCyan, title))
}

// Stats prints a single key/value statistic line.
func Stats(key string, value interface{}) {
	fmt.Printf("   %s %v\n", paint(colorGray, key+":"), value)
}

// Server logs the listen address once the HTTP server is up.
func Server(addr string) {
	Success("Server", fmt.Sprintf("Listening on http://%s", addr))
}
