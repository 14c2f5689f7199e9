package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	ltable "github.com/charmbracelet/lipgloss/table"
	"google.golang.org/protobuf/types/known/structpb"

	"gossimon/internal/provider"
	"gossimon/internal/vector"
)

var (
	colorGreen = lipgloss.Color("#10b981")
	colorRed   = lipgloss.Color("#ef4444")
	colorGray  = lipgloss.Color("#6b7280")
)

var (
	styleHeader = lipgloss.NewStyle().Bold(true).Foreground(colorGray)
	styleAlive  = lipgloss.NewStyle().Foreground(colorGreen)
	styleDead   = lipgloss.NewStyle().Foreground(colorRed)
)

// newTable returns a borderless table with a header rule.
func newTable(headers ...string) *ltable.Table {
	return ltable.New().
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == ltable.HeaderRow {
				return styleHeader
			}
			return lipgloss.NewStyle().PaddingRight(1)
		}).
		BorderStyle(lipgloss.NewStyle().Foreground(colorGray)).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderHeader(true).
		BorderColumn(false)
}

// formatValue renders a protobuf value without trailing float noise.
func formatValue(v *structpb.Value) string {
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		return strconv.FormatFloat(k.NumberValue, 'f', -1, 64)
	case *structpb.Value_StringValue:
		return k.StringValue
	case *structpb.Value_BoolValue:
		return strconv.FormatBool(k.BoolValue)
	default:
		return fmt.Sprint(v.AsInterface())
	}
}

// renderFields prints a struct as sorted key/value rows.
func renderFields(s *structpb.Struct) string {
	keys := make([]string, 0, len(s.GetFields()))
	for k := range s.GetFields() {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	t := newTable("FIELD", "VALUE")
	for _, k := range keys {
		t = t.Row(k, formatValue(s.GetFields()[k]))
	}
	return t.String()
}

// renderRecords prints a list of structs stored under key, one row each.
func renderRecords(s *structpb.Struct, key string, columns ...string) string {
	headers := make([]string, len(columns))
	for i, c := range columns {
		headers[i] = strings.ToUpper(c)
	}
	t := newTable(headers...)
	for _, item := range s.GetFields()[key].GetListValue().GetValues() {
		f := item.GetStructValue().GetFields()
		cells := make([]string, len(columns))
		for i, c := range columns {
			if v, ok := f[c]; ok {
				cells[i] = formatValue(v)
			}
		}
		t = t.Row(cells...)
	}
	return t.String()
}

// renderEntries prints query reply entries, decoding load information when
// the payload carries it.
func renderEntries(entries []*vector.Entry, now time.Time) string {
	t := newTable("NAME", "IP", "ID", "STATE", "AGE", "LOAD1", "FREE MEM", "PROCS")
	for _, e := range entries {
		if e == nil {
			t = t.Row("-", "-", "-", "not in cluster", "", "", "", "")
			continue
		}
		state := styleAlive.Render("alive")
		if e.Dead {
			state = styleDead.Render(e.Info.Cause.String())
		}
		age := "never"
		if e.Info.Timestamp > 0 {
			age = (time.Duration(e.Age(now.UnixMilli())) * time.Millisecond).Truncate(time.Millisecond).String()
		}
		load, mem, procs := "", "", ""
		if li, err := provider.DecodeLoadInfo(e.Info.Payload); err == nil {
			load = strconv.FormatFloat(li.Load1, 'f', 2, 64)
			mem = formatBytes(li.FreeRAM)
			procs = strconv.Itoa(int(li.Procs))
		}
		t = t.Row(e.Name, e.Info.IP.String(), strconv.FormatUint(uint64(e.Info.NodeID), 10), state, age, load, mem, procs)
	}
	return t.String()
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
