// Package tui is the terminal front end for one recording session.
package tui

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bosley/recordnote/audio"
	"github.com/bosley/recordnote/scribe"
	"github.com/bosley/recordnote/session"

	tea "github.com/charmbracelet/bubbletea"
)

const (
	tickInterval  = 200 * time.Millisecond
	noticeTimeout = 5 * time.Second
	maxTitleRunes = 200
	defaultWidth  = 80
)

// Session is the command surface the model drives. *session.Session
// satisfies it.
type Session interface {
	BeginRecording() error
	EndRecording() error
	Reset() error
	SetTitle(title string)
	Export(target string) (string, error)
	Snapshot() session.Snapshot
}

// Models selects the transcription model size. *scribe.Service satisfies
// it.
type Models interface {
	Info() scribe.Info
	SetModelSize(size scribe.ModelSize) error
}

// LevelSource reports the live input level. *audio.Capture satisfies it.
type LevelSource interface {
	Level() audio.Level
}

// Model is the root bubbletea model.
type Model struct {
	sess      Session
	models    Models
	levels    LevelSource
	outputDir string

	snap  session.Snapshot
	info  scribe.Info
	level audio.Level

	editing bool
	input   string

	notice    string
	savedPath string

	width  int
	height int
}

// New creates a model for sess. levels may be nil.
func New(sess Session, models Models, levels LevelSource, outputDir string) Model {
	return Model{
		sess:      sess,
		models:    models,
		levels:    levels,
		outputDir: outputDir,
		snap:      sess.Snapshot(),
		info:      models.Info(),
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func runCmd(fn func() error) tea.Cmd {
	return func() tea.Msg {
		return commandDoneMsg{Err: fn()}
	}
}

func exportCmd(sess Session, dir string) tea.Cmd {
	return func() tea.Msg {
		path, err := sess.Export(dir)
		if err != nil {
			return commandDoneMsg{Err: err}
		}
		return savedMsg{Path: path}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func clearNoticeCmd() tea.Cmd {
	return tea.Tick(noticeTimeout, func(time.Time) tea.Msg {
		return clearNoticeMsg{}
	})
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		if m.editing {
			return m.handleEditKey(msg)
		}
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case SnapshotMsg:
		return m.applySnapshot(msg.Snapshot)

	case tickMsg:
		if m.snap.State != session.Recording {
			return m, nil
		}
		if m.levels != nil {
			m.level = m.levels.Level()
		}
		next, _ := m.applySnapshot(m.sess.Snapshot())
		return next, tickCmd()

	case commandDoneMsg:
		if msg.Err != nil {
			m.notice = msg.Err.Error()
			return m, clearNoticeCmd()
		}
		return m, nil

	case savedMsg:
		m.savedPath = msg.Path
		return m, nil

	case clearNoticeMsg:
		m.notice = ""
		return m, nil
	}

	return m, nil
}

// applySnapshot ignores snapshots older than the one shown.
func (m Model) applySnapshot(snap session.Snapshot) (tea.Model, tea.Cmd) {
	if snap.Seq < m.snap.Seq {
		return m, nil
	}
	prev := m.snap.State
	m.snap = snap

	if snap.State == session.Recording && prev != session.Recording {
		m.savedPath = ""
		return m, tickCmd()
	}
	if snap.State == session.Idle && prev != session.Idle {
		m.savedPath = ""
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case KeyQuit, KeyQuitUpper, KeyCtrlC:
		return m, tea.Quit

	case KeySpace:
		if m.snap.State == session.Recording {
			return m, runCmd(m.sess.EndRecording)
		}
		return m, runCmd(m.sess.BeginRecording)

	case KeyReset:
		return m, runCmd(m.sess.Reset)

	case KeySave:
		if m.snap.State != session.Completed {
			m.notice = "保存できる議事録がありません"
			return m, clearNoticeCmd()
		}
		return m, exportCmd(m.sess, m.outputDir)

	case KeyTitle:
		m.editing = true
		m.input = m.snap.Title
		return m, nil

	case KeyModel:
		next := m.info.ModelSize.Next()
		if err := m.models.SetModelSize(next); err != nil {
			m.notice = err.Error()
			return m, clearNoticeCmd()
		}
		m.info = m.models.Info()
		return m, nil
	}
	return m, nil
}

func (m Model) handleEditKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		m.editing = false
		sess, title := m.sess, m.input
		// SetTitle publishes a snapshot back into the program, so it must
		// not run inside Update.
		return m, runCmd(func() error {
			sess.SetTitle(title)
			return nil
		})
	case tea.KeyEsc:
		m.editing = false
		return m, nil
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyBackspace:
		if m.input != "" {
			_, size := utf8.DecodeLastRuneInString(m.input)
			m.input = m.input[:len(m.input)-size]
		}
		return m, nil
	case tea.KeySpace:
		m.input = appendLimited(m.input, " ")
		return m, nil
	case tea.KeyRunes:
		m.input = appendLimited(m.input, string(msg.Runes))
		return m, nil
	}
	return m, nil
}

// appendLimited appends as much of add as fits in maxTitleRunes.
func appendLimited(s, add string) string {
	room := maxTitleRunes - utf8.RuneCountInString(s)
	if room <= 0 {
		return s
	}
	if r := []rune(add); len(r) > room {
		add = string(r[:room])
	}
	return s + add
}

// View renders the full TUI.
func (m Model) View() string {
	width := m.width
	if width == 0 {
		width = defaultWidth
	}
	divider := dividerStyle.Render(strings.Repeat("─", width))

	sections := []string{
		m.renderHeader(),
		m.renderStatus(),
		m.renderTitle(),
		divider,
	}

	if m.snap.State == session.Completed {
		sections = append(sections, m.renderDocument())
		if m.snap.Stats != nil {
			sections = append(sections, dimStyle.Render(strings.Join(m.snap.Stats.Lines(), "  ")))
		}
		sections = append(sections, divider)
	}

	if m.savedPath != "" {
		sections = append(sections, savedStyle.Render("保存しました: "+m.savedPath))
	}
	if m.snap.Error != "" {
		sections = append(sections, errorStyle.Render("エラー: "+m.snap.Error))
	}
	if m.notice != "" {
		sections = append(sections, errorStyle.Render(m.notice))
	}

	sections = append(sections, m.renderFooter())
	return strings.Join(sections, "\n")
}

func (m Model) renderHeader() string {
	model := fmt.Sprintf("  %s/%s", m.info.Engine, m.info.ModelSize)
	if m.info.Loaded {
		model += " (loaded)"
	}
	return titleStyle.Render("RECORDNOTE") + dimStyle.Render(model)
}

func (m Model) renderStatus() string {
	switch m.snap.State {
	case session.Recording:
		return recordingDotStyle.Render("● 録音中") +
			fmt.Sprintf(" %.1f秒  ", m.snap.Duration) +
			renderLevelMeter(m.level)
	case session.Processing:
		return processingStyle.Render("⟳ 文字起こし中...") + dimStyle.Render(fmt.Sprintf(" (%.1f秒の音声)", m.snap.Duration))
	case session.Completed:
		return completedStyle.Render("✓ 完了")
	default:
		return idleDotStyle.Render("○ 待機中")
	}
}

func (m Model) renderTitle() string {
	if m.editing {
		return editStyle.Render("タイトル: " + m.input + "█")
	}
	return dimStyle.Render("タイトル: ") + m.snap.Title
}

// renderDocument shows as much of the document as fits.
func (m Model) renderDocument() string {
	lines := strings.Split(strings.TrimRight(m.snap.Document, "\n"), "\n")
	if m.height > 0 {
		limit := max(5, m.height-12)
		if len(lines) > limit {
			lines = append(lines[:limit], dimStyle.Render("…"))
		}
	}
	return documentStyle.Render(strings.Join(lines, "\n"))
}

func renderLevelMeter(level audio.Level) string {
	const barLen = 8
	filled := int(level.Amplitude * 4 * barLen)
	if filled > barLen {
		filled = barLen
	}

	var bar strings.Builder
	for i := 0; i < barLen; i++ {
		if i < filled {
			if float64(i)/barLen > 0.6 {
				bar.WriteString(levelYellowStyle.Render("█"))
			} else {
				bar.WriteString(levelGreenStyle.Render("█"))
			}
		} else {
			bar.WriteString(levelGrayStyle.Render("░"))
		}
	}

	label := dimStyle.Render("MIC ")
	if level.Speech {
		label = levelGreenStyle.Render("MIC ")
	}
	return label + bar.String()
}

func (m Model) renderFooter() string {
	if m.editing {
		return footerKeyStyle.Render("enter") + footerDescStyle.Render(" 決定  ") +
			footerKeyStyle.Render("esc") + footerDescStyle.Render(" 取消")
	}

	keys := []struct{ key, desc string }{
		{"space", "録音開始/停止"},
		{"r", "リセット"},
		{"s", "保存"},
		{"t", "タイトル"},
		{"m", "モデル"},
		{"q", "終了"},
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, footerKeyStyle.Render(k.key)+" "+footerDescStyle.Render(k.desc))
	}
	return strings.Join(parts, "  ")
}
