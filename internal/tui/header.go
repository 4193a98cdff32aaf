package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"sysmate/internal/modules"
	"sysmate/internal/registry"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	okStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	warnStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

var sparkChars = []rune("▁▂▃▄▅▆▇█")

// history keeps the last CPU readings for the header sparkline.
type history struct {
	data []float64
	max  int
}

func (h *history) push(v float64) {
	h.data = append(h.data, v)
	if len(h.data) > h.max {
		h.data = h.data[len(h.data)-h.max:]
	}
}

func (h *history) sparkline() string {
	var b strings.Builder
	for _, v := range h.data {
		idx := int(v / 100 * float64(len(sparkChars)-1))
		idx = max(0, min(idx, len(sparkChars)-1))
		b.WriteRune(sparkChars[idx])
	}
	return b.String()
}

// renderHeader shows machine-wide usage from the registry snapshot.
func renderHeader(meta registry.Meta, cpu *history, width int) string {
	sys := meta.System
	title := titleStyle.Render("sysmate")
	if !sys.Valid {
		return title + mutedStyle.Render("  waiting for the second sample…")
	}
	line1 := fmt.Sprintf("CPU %5.1f%% %s  MEM %5.1f%% (%s/%s)  SWAP %4.1f%%",
		sys.CPUPercent, cpu.sparkline(), sys.MemPercent,
		modules.FormatSize(sys.MemUsedBytes), modules.FormatSize(sys.MemTotalBytes), sys.SwapPercent)
	line2 := fmt.Sprintf("load %.2f %.2f %.2f  up %s  disk r/w %s/s %s/s  net rx/tx %s/s %s/s  procs %d",
		sys.Load1, sys.Load5, sys.Load15,
		(time.Duration(sys.UptimeSeconds) * time.Second).String(),
		modules.FormatSize(uint64(sys.DiskReadBps)), modules.FormatSize(uint64(sys.DiskWriteBps)),
		modules.FormatSize(uint64(sys.NetRxBps)), modules.FormatSize(uint64(sys.NetTxBps)),
		meta.Active)
	body := title + "  " + line1 + "\n" + mutedStyle.Render(line2)
	if meta.Stale {
		body += "\n" + warnStyle.Render(fmt.Sprintf("sampling failing (%d in a row); data is stale", meta.Failures))
	}
	if width > 0 {
		return lipgloss.NewStyle().MaxWidth(width).Render(body)
	}
	return body
}
