// Package ui provides colored console output for the command-line flows.
package ui

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

const headerWidth = 60

var (
	headerColor  = color.New(color.FgCyan, color.Bold)
	successColor = color.New(color.FgGreen)
	infoColor    = color.New(color.FgWhite)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed, color.Bold)
	stepColor    = color.New(color.FgBlue, color.Bold)
	blue         = color.New(color.FgBlue)
	yellow       = color.New(color.FgYellow)
)

// Header prints a banner with the given title centered in a rule box.
func Header(title string) {
	line := strings.Repeat("=", headerWidth)
	headerColor.Println(line)
	headerColor.Println(center(title, headerWidth))
	headerColor.Println(line)
}

// Step prints a numbered progress step, e.g. "[2/5] Parsing statement".
func Step(n, total int, msg string) {
	stepColor.Printf("[%d/%d] ", n, total)
	fmt.Println(msg)
}

// Success prints a green checkmark line.
func Success(msg string) {
	successColor.Printf("✓ %s\n", msg)
}

// Info prints a plain informational line.
func Info(msg string) {
	infoColor.Println(msg)
}

// Warning prints a yellow warning line.
func Warning(msg string) {
	warnColor.Printf("⚠ %s\n", msg)
}

// Error prints a red error line.
func Error(msg string) {
	errorColor.Printf("✗ %s\n", msg)
}

// BlueText prints msg in blue.
func BlueText(msg string) {
	blue.Println(msg)
}

// YellowText prints msg in yellow.
func YellowText(msg string) {
	yellow.Println(msg)
}

// center left-pads text so it sits centered within width. Text wider than
// width is returned unchanged.
func center(text string, width int) string {
	if len(text) >= width {
		return text
	}
	pad := (width - len(text)) / 2
	return strings.Repeat(" ", pad) + text
}
