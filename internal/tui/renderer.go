// Package tui renders ledger state for terminal output.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Dhoini/billing-scheduler/internal/domain"
	"github.com/Dhoini/billing-scheduler/internal/repository"
	"github.com/Dhoini/billing-scheduler/internal/scheduler"
)

var (
	accent  = lipgloss.Color("#2563EB") // blue
	fg      = lipgloss.Color("#E5E7EB") // light gray
	dim     = lipgloss.Color("#6B7280") // muted gray
	success = lipgloss.Color("#22C55E") // green
	danger  = lipgloss.Color("#EF4444") // red
	warning = lipgloss.Color("#F59E0B") // amber
	pending = lipgloss.Color("#A78BFA") // violet
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(accent)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(0, 2)

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(fg)
	dimStyle   = lipgloss.NewStyle().Foreground(dim)

	transactionColors = map[domain.TransactionStatus]lipgloss.Color{
		domain.TransactionStatusPending:    pending,
		domain.TransactionStatusProcessing: accent,
		domain.TransactionStatusSucceeded:  success,
		domain.TransactionStatusRetrying:   warning,
		domain.TransactionStatusFailed:     danger,
	}

	subscriptionColors = map[domain.SubscriptionStatus]lipgloss.Color{
		domain.SubscriptionStatusActive:    success,
		domain.SubscriptionStatusPaused:    warning,
		domain.SubscriptionStatusCancelled: dim,
	}
)

// Badge renders a status word in its color
func Badge[S ~string](status S, colors map[S]lipgloss.Color) string {
	color, ok := colors[status]
	if !ok {
		color = fg
	}
	return lipgloss.NewStyle().Foreground(color).Bold(true).Render(strings.ToUpper(string(status)))
}

// RenderReport renders one batch summary box
func RenderReport(tick int, now time.Time, report scheduler.BatchReport) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("Tick %d", tick)))
	b.WriteString(dimStyle.Render("  " + now.Format(time.RFC3339)))
	b.WriteString("\n")
	fmt.Fprintf(&b, "due %d  ", report.Due)
	b.WriteString(Badge(domain.TransactionStatusSucceeded, transactionColors))
	fmt.Fprintf(&b, " %d  ", report.Succeeded)
	b.WriteString(Badge(domain.TransactionStatusRetrying, transactionColors))
	fmt.Fprintf(&b, " %d  ", report.Retrying)
	b.WriteString(Badge(domain.TransactionStatusFailed, transactionColors))
	fmt.Fprintf(&b, " %d\n", report.Failed)
	fmt.Fprintf(&b, "renewed %d  skipped %d  coalesced %d", report.Renewed, report.SkippedRenewals, report.Coalesced)
	return boxStyle.Render(b.String())
}

// RenderLedger renders subscriptions and transactions as two plain tables
func RenderLedger(snap repository.Snapshot) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Subscriptions"))
	b.WriteString("\n")
	for _, sub := range snap.Subscriptions {
		fmt.Fprintf(&b, "  %-8s %-16s %10s %s  %-8s next %s  %s\n",
			sub.ID,
			sub.CustomerName,
			sub.Amount.StringFixed(2),
			sub.Currency,
			sub.Frequency,
			sub.NextBillingDate.Format(time.DateOnly),
			Badge(sub.Status, subscriptionColors),
		)
	}

	b.WriteString(titleStyle.Render("Transactions"))
	b.WriteString("\n")
	for _, txn := range snap.Transactions {
		kind := txn.SubscriptionID
		if txn.IsOneTime() {
			kind = "one-time"
		}
		fmt.Fprintf(&b, "  %-14s %-16s %10s %s  %-9s %s  attempts %d  %s\n",
			shortID(txn.ID),
			txn.CustomerName,
			txn.Amount.StringFixed(2),
			txn.Currency,
			kind,
			txn.ScheduledDate.Format(time.DateTime),
			txn.Attempts,
			Badge(txn.Status, transactionColors),
		)
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) <= 14 {
		return id
	}
	return id[:13] + "…"
}
