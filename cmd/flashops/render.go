package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"go.tigermatt.uk/flashops"
)

var (
	timeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)

	categoryStyles = map[flashops.Category]lipgloss.Style{
		flashops.CategoryInfo:         lipgloss.NewStyle().Foreground(lipgloss.Color("#60A5FA")),
		flashops.CategorySuccess:      lipgloss.NewStyle().Foreground(lipgloss.Color("#34D399")),
		flashops.CategoryError:        lipgloss.NewStyle().Foreground(lipgloss.Color("#F87171")).Bold(true),
		flashops.CategoryWarning:      lipgloss.NewStyle().Foreground(lipgloss.Color("#FBBF24")),
		flashops.CategoryDeviceOutput: lipgloss.NewStyle(),
		flashops.CategorySystem:       lipgloss.NewStyle().Foreground(lipgloss.Color("#A78BFA")).Italic(true),
	}
)

func renderEntry(e flashops.LogEntry) string {
	style, ok := categoryStyles[e.Category]
	if !ok {
		style = lipgloss.NewStyle()
	}

	ts := timeStyle.Render(e.Timestamp.Format("15:04:05.000"))
	lines := strings.Split(e.Message, "\n")
	for i, l := range lines {
		lines[i] = fmt.Sprintf("%s %s", ts, style.Render(l))
	}
	return strings.Join(lines, "\n")
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func renderPartitions(parts []flashops.Partition) string {
	if len(parts) == 0 {
		return "No partition table found."
	}

	t := newTable("Label", "Type", "Subtype", "Offset", "Size")
	for _, p := range parts {
		t.Row(p.Label, p.TypeLabel(), fmt.Sprintf("0x%02X", p.Subtype), p.ReadableOffset(), p.ReadableSize())
	}
	return t.String()
}

func renderChip(c *flashops.ChipInfo) string {
	if c == nil {
		return "Chip not identified."
	}

	t := newTable("Chip", "MAC", "Flash", "Revision", "Crystal", "Features")
	t.Row(c.Name, c.MAC, c.ReadableFlashSize(), c.Revision, c.CrystalFreq, strings.Join(c.Features, ", "))
	return t.String()
}

func renderPorts(ports []flashops.PortInfo) string {
	if len(ports) == 0 {
		return "No serial ports found."
	}

	t := newTable("Port", "VID:PID", "Serial", "Product")
	for _, p := range ports {
		id := ""
		if p.USB {
			id = p.VID + ":" + p.PID
		}
		t.Row(p.Name, id, p.SerialNumber, p.Product)
	}
	return t.String()
}
