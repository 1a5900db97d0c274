package util

import (
	"fmt"
	"strings"
	"text/tabwriter"
)

// TabbedStringBuilder builds tab-aligned text in memory.
// The underlying tabwriter always writes to a strings.Builder, which never fails, so unlike
// *tabwriter.Writer none of the methods here return an error.
type TabbedStringBuilder struct {
	sb     *strings.Builder
	writer *tabwriter.Writer
	indent string
}

// NewTabbedStringBuilder creates a new TabbedStringBuilder. All parameters are equivalent to those defined in tabwriter.NewWriter
func NewTabbedStringBuilder(minwidth, tabwidth, padding int, padchar byte, flags uint) *TabbedStringBuilder {
	sb := &strings.Builder{}
	return &TabbedStringBuilder{
		sb:     sb,
		writer: tabwriter.NewWriter(sb, minwidth, tabwidth, padding, padchar, flags),
	}
}

// Indent sets the prefix written before every subsequent Row and Linef.
func (t *TabbedStringBuilder) Indent(prefix string) {
	t.indent = prefix
}

// Writef formats according to a format specifier and writes to the underlying writer
func (t *TabbedStringBuilder) Writef(format string, a ...any) {
	_, _ = fmt.Fprintf(t.writer, format, a...)
}

// Write the string to the underlying writer
func (t *TabbedStringBuilder) Write(a ...any) {
	_, _ = fmt.Fprint(t.writer, a...)
}

// Linef writes a single indented line.
func (t *TabbedStringBuilder) Linef(format string, a ...any) {
	_, _ = fmt.Fprintf(t.writer, t.indent+format+"\n", a...)
}

// Row writes cells as one indented line, each cell in its own aligned column.
func (t *TabbedStringBuilder) Row(cells ...any) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprint(cell)
	}
	_, _ = fmt.Fprint(t.writer, t.indent+strings.Join(parts, "\t")+"\n")
}

// Blank writes an empty line. This also ends the current block of aligned columns.
func (t *TabbedStringBuilder) Blank() {
	_, _ = fmt.Fprint(t.writer, "\n")
}

// String returns the accumulated string.
// Flush on the underlying writer is automatically called
func (t *TabbedStringBuilder) String() string {
	_ = t.writer.Flush()
	return t.sb.String()
}
