package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Palette
	slateBlue = lipgloss.Color("#6a9bcc")
	rust      = lipgloss.Color("#d97757")
	moss      = lipgloss.Color("#788c5d")
	stone     = lipgloss.Color("#b0aea5")

	primaryColor = rust
	accentColor  = slateBlue
	successColor = moss
	errorColor   = lipgloss.Color("#c45c4a")
	warningColor = rust
	dimTextColor = stone

	// App frame
	appStyle = lipgloss.NewStyle().
			Padding(1, 2)

	logoStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(accentColor)

	// Stat counters in the header
	statLabelStyle = lipgloss.NewStyle().
			Foreground(dimTextColor)

	statValueStyle = lipgloss.NewStyle().
			Foreground(accentColor).
			Bold(true)

	statAlertStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	// Prompt box for search and reject reason
	promptStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accentColor).
			Padding(0, 1)

	rejectPromptStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(errorColor).
				Padding(0, 1)

	// Stage indicators
	statusOK = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	statusFail = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	statusRunning = lipgloss.NewStyle().
			Foreground(warningColor).
			Bold(true)

	statusPending = lipgloss.NewStyle().
			Foreground(dimTextColor)

	// Help
	helpKeyStyle = lipgloss.NewStyle().
			Foreground(accentColor).
			Bold(true)

	helpDescStyle = lipgloss.NewStyle().
			Foreground(dimTextColor)

	// Misc
	subtitleStyle = lipgloss.NewStyle().
			Foreground(dimTextColor).
			Italic(true)

	errorMsgStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	successMsgStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	emptyBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(dimTextColor).
			Foreground(dimTextColor).
			Padding(2, 4).
			Align(lipgloss.Center)

	dividerStyle = lipgloss.NewStyle().
			Foreground(dimTextColor)
)
