package tui

import (
	"fmt"
	"strings"
	"time"

	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/evanschultz/poa/internal/domain"
)

// palette colors shared by dashboard sections.
var (
	colorAccent  = lipgloss.Color("62")
	colorMuted   = lipgloss.Color("241")
	colorDim     = lipgloss.Color("239")
	colorPending = lipgloss.Color("214")
	colorSuccess = lipgloss.Color("42")
	colorFailure = lipgloss.Color("203")
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	sectionStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	mutedStyle    = lipgloss.NewStyle().Foreground(colorMuted)
	statusStyle   = lipgloss.NewStyle().Foreground(colorDim)
	cursorStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	urgentStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorFailure)
	warningStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorPending)
	approvedStyle = lipgloss.NewStyle().Foreground(colorSuccess)
)

// View handles view.
func (m Model) View() tea.View {
	v := tea.NewView(m.render())
	v.AltScreen = true
	return v
}

// render builds the full dashboard text.
func (m Model) render() string {
	if m.err != nil {
		return "error: " + m.err.Error() + "\n\npress r to retry • q quit\n"
	}
	if !m.ready {
		return "loading..."
	}

	now := m.now()
	width := max(m.width, 40)
	sections := []string{m.renderHeader(now)}
	if len(m.requests) == 0 {
		sections = append(sections,
			"",
			"No requests yet.",
			"Press d to load the demo scenario, or create one with `poa create`.",
		)
	} else {
		sections = append(sections, "", m.renderSection("Pending", m.pending, 0, now, width))
		sections = append(sections, "", m.renderSection("Completed", m.completed, len(m.pending), now, width))
		if m.showDetail {
			if req, ok := m.selectedRequest(); ok {
				sections = append(sections, "", m.renderDetail(req, now, width))
			}
		}
	}
	if strings.TrimSpace(m.status) != "" {
		sections = append(sections, "", statusStyle.Render(m.status))
	}
	content := strings.Join(sections, "\n")

	helpBubble := m.help
	helpBubble.SetWidth(max(0, width-2))
	helpLine := lipgloss.NewStyle().
		Foreground(colorMuted).
		BorderTop(true).
		BorderForeground(colorDim).
		Padding(0, 1).
		Width(width).
		Render(helpBubble.View(m.keys))
	if m.height > 0 {
		content = fitLines(content, max(0, m.height-lipgloss.Height(helpLine)))
	}
	return content + "\n" + helpLine
}

// renderHeader renders the title, identity, and analytics lines.
func (m Model) renderHeader(now time.Time) string {
	lines := []string{titleStyle.Render("Proof of Absence")}

	id := m.identity()
	switch {
	case id.Connected:
		lines = append(lines, approvedStyle.Render("● ")+id.Address+mutedStyle.Render(" ("+string(id.Network)+")"))
		if id.IsMainnet() {
			lines = append(lines, warningStyle.Render("mainnet wallet connected; this demo runs on testnet"))
		}
	default:
		lines = append(lines, mutedStyle.Render("○ no wallet connected (press c to connect)"))
	}

	s := domain.Summarize(m.requests)
	lines = append(lines, mutedStyle.Render(fmt.Sprintf(
		"%d requests • %d pending • %d fulfilled • %d failed • approval rate %d%% • response rate %d%% • avg approvals %s",
		s.Total, s.Pending, s.Fulfilled, s.Failed, s.ApprovalRate, s.ActorResponseRate, s.AverageApprovalsLabel(),
	)))
	return strings.Join(lines, "\n")
}

// renderSection renders one titled group of request rows.
func (m Model) renderSection(title string, reqs []domain.Request, offset int, now time.Time, width int) string {
	lines := []string{sectionStyle.Render(fmt.Sprintf("%s (%d)", title, len(reqs)))}
	if len(reqs) == 0 {
		return strings.Join(append(lines, mutedStyle.Render("  none")), "\n")
	}
	for i, req := range reqs {
		cursor := "  "
		if offset+i == m.selected {
			cursor = cursorStyle.Render("› ")
		}
		badge := statusBadge(req.Status)
		counts := fmt.Sprintf("%d/%d approved, needs %d", req.ApprovedCount(), len(req.Actors), req.MinimumApprovals)
		var when string
		if req.Status == domain.StatusPending {
			cd := domain.CountdownUntil(req.Deadline, now)
			when = cd.String()
			if cd.Urgent || cd.Expired {
				when = urgentStyle.Render(when)
			}
		} else if req.FinalizedAt != nil {
			when = mutedStyle.Render("finalized " + req.FinalizedAt.Local().Format("Jan 2 15:04"))
		}
		titleWidth := max(12, width-lipgloss.Width(counts)-lipgloss.Width(badge)-lipgloss.Width(when)-10)
		lines = append(lines, fmt.Sprintf("%s%s %s  %s  %s", cursor, badge, truncate(req.Title, titleWidth), mutedStyle.Render(counts), when))
	}
	return strings.Join(lines, "\n")
}

// renderDetail renders the detail pane for one request.
func (m Model) renderDetail(req domain.Request, now time.Time, width int) string {
	lines := []string{
		titleStyle.Render(req.Title) + "  " + statusBadge(req.Status),
		mutedStyle.Render("id ") + req.ID,
		mutedStyle.Render("deadline ") + req.Deadline.Local().Format(time.RFC1123),
	}
	if req.Status == domain.StatusPending {
		lines = append(lines, mutedStyle.Render("time left ")+domain.CountdownUntil(req.Deadline, now).String())
	}
	lines = append(lines, mutedStyle.Render("threshold ")+fmt.Sprintf("%d of %d actors", req.MinimumApprovals, len(req.Actors)))
	if req.CreatedBy != "" {
		lines = append(lines, mutedStyle.Render("created by ")+req.CreatedBy)
	}
	if req.TxHash != "" {
		lines = append(lines, mutedStyle.Render("settlement ")+req.TxHash)
	}
	if desc := m.md.render(req.Description, width-4); desc != "" {
		lines = append(lines, "", desc, "")
	}

	me := m.identity()
	lines = append(lines, sectionStyle.Render("Actors"))
	for _, a := range req.Actors {
		mark := mutedStyle.Render("·")
		if a.HasApproved {
			mark = approvedStyle.Render("✓")
		}
		name := a.Address
		if a.Label != "" {
			name = a.Label + " " + mutedStyle.Render(a.Address)
		}
		if me.Connected && a.Address == me.Address {
			name += cursorStyle.Render(" (you)")
		}
		line := fmt.Sprintf("  %s %s", mark, name)
		if a.ApprovedAt != nil {
			line += mutedStyle.Render(" approved " + a.ApprovedAt.Local().Format("Jan 2 15:04:05"))
		}
		lines = append(lines, line)
	}
	lines = append(lines, "", approvalHint(req, me.Address, me.Connected))

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorDim).
		Padding(0, 1).
		Width(width).
		Render(strings.Join(lines, "\n"))
}

// approvalHint tells the viewer whether they can act on req.
func approvalHint(req domain.Request, address string, connected bool) string {
	if !connected {
		return mutedStyle.Render("connect a wallet to approve")
	}
	if err := req.CanApprove(address); err != nil {
		return warningStyle.Render(describeError(err))
	}
	return approvedStyle.Render("you may approve this request (press a)")
}

// statusBadge renders a colored status label.
func statusBadge(status domain.Status) string {
	style := lipgloss.NewStyle().Bold(true)
	switch status {
	case domain.StatusFulfilled:
		style = style.Foreground(colorSuccess)
	case domain.StatusFailed:
		style = style.Foreground(colorFailure)
	default:
		style = style.Foreground(colorPending)
	}
	return style.Render(strings.ToUpper(string(status)))
}

// fitLines fits content to exactly maxLines, marking truncation with an ellipsis.
func fitLines(content string, maxLines int) string {
	if maxLines <= 0 {
		return ""
	}
	lines := strings.Split(content, "\n")
	switch {
	case len(lines) > maxLines:
		if maxLines == 1 {
			lines = []string{"…"}
		} else {
			lines = append(lines[:maxLines-1], "…")
		}
	case len(lines) < maxLines:
		lines = append(lines, make([]string, maxLines-len(lines))...)
	}
	return strings.Join(lines, "\n")
}

// truncate shortens s to n runes with a trailing ellipsis.
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	if n == 1 {
		return string(rs[:1])
	}
	return string(rs[:n-1]) + "…"
}
