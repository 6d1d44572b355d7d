package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/brensch/lscollection/internal/processor"
)

// --- Styles ---
var (
	titleStyle                   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	errorStyle                   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	infoStyle                    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	progressBarStyle             = lipgloss.NewStyle().Padding(0, 1)
	partitionProgressHeaderStyle = lipgloss.NewStyle().Bold(true).MarginBottom(1)
	partitionStatusStyle         = map[string]lipgloss.Style{
		StatusHarvesting: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		StatusComplete:   lipgloss.NewStyle().Foreground(lipgloss.Color("46")),
		StatusError:      lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		StatusQueued:     lipgloss.NewStyle().Foreground(lipgloss.Color("248")),
	}
)

// Task is the background work shown by the app. It must close progress
// before it returns.
type Task func(progress chan<- processor.ProcessProgress) error

// --- Model ---

type PartitionProgress struct {
	Status      string
	Current     int64
	Total       int64
	CurrentFile string
	ErrMsg      string
	Start       time.Time
	Elapsed     time.Duration
}

// AppModel shows overall and per partition progress of one Task.
type AppModel struct {
	Tag              string
	State            AppState
	spinner          spinner.Model
	overallProgress  progress.Model
	progressBarWidth int

	mu             sync.RWMutex
	partitions     map[int]*PartitionProgress
	overallTotal   int64
	overallCurrent int64
	partitionTotal int64 // sum of the partition totals seen so far
	lastActivity   string
	taskStartTime  time.Time
	summary        string

	lastError error
	Quitting  bool

	termWidth  int
	termHeight int

	task      Task
	cancel    context.CancelFunc
	uiMsgChan chan tea.Msg
	stop      chan struct{}
	stopOnce  sync.Once
	taskDone  chan struct{}
	taskErr   error
}

// NewAppModel prepares a model for task. totalEntries sizes the overall bar;
// cancel is called when the user quits before the task finished.
func NewAppModel(tag string, totalEntries int64, task Task, cancel context.CancelFunc) *AppModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return &AppModel{
		Tag:             tag,
		State:           Running,
		spinner:         s,
		overallProgress: progress.New(progress.WithDefaultGradient()),
		partitions:      make(map[int]*PartitionProgress),
		overallTotal:    totalEntries,
		taskStartTime:   time.Now(),
		termWidth:       100,
		termHeight:      30,
		task:            task,
		cancel:          cancel,
		uiMsgChan:       make(chan tea.Msg, 64),
		stop:            make(chan struct{}),
		taskDone:        make(chan struct{}),
	}
}

// Wait blocks until the task has returned and reports its error.
func (m *AppModel) Wait() error {
	<-m.taskDone
	return m.taskErr
}

// --- Bubbletea Interface ---

func (m *AppModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.startTask(), m.waitForActivityCmd(m.uiMsgChan))
}

func (m *AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	fromTask := false

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.State == Running && m.cancel != nil {
				m.cancel()
			}
			m.Quitting = true
			m.State = Exiting
			m.quit()
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.termWidth = msg.Width
		m.termHeight = msg.Height
		m.progressBarWidth = max(0, m.termWidth-4)
		m.overallProgress.Width = m.progressBarWidth
	case ProgressMsg:
		fromTask = true
		m.mu.Lock()
		m.overallCurrent = msg.Current
		m.overallTotal = msg.Total
		m.lastActivity = msg.Activity
		m.mu.Unlock()
		cmds = append(cmds, m.overallProgress.SetPercent(m.percent()))
	case PartitionProgressMsg:
		fromTask = true
		m.applyPartition(msg)
		cmds = append(cmds, m.overallProgress.SetPercent(m.percent()))
	case TaskFinishedMsg:
		m.uiMsgChan = nil
		m.summary = fmt.Sprintf("%s finished in %s.", msg.Tag, msg.EndTime.Sub(msg.StartTime).Round(time.Millisecond))
		if msg.Err != nil {
			m.lastError = fmt.Errorf("task '%s' failed: %w", msg.Tag, msg.Err)
			m.State = ShowError
		} else {
			m.State = Finished
		}
		m.quit()
		return m, tea.Quit
	case GeneralErrorMsg:
		fromTask = true
		m.lastError = msg.Err
	case spinner.TickMsg:
		if m.State == Running {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}
	case progress.FrameMsg:
		progModel, frameCmd := m.overallProgress.Update(msg)
		if newModel, ok := progModel.(progress.Model); ok {
			m.overallProgress = newModel
			cmds = append(cmds, frameCmd)
		}
	}

	if fromTask && m.uiMsgChan != nil {
		cmds = append(cmds, m.waitForActivityCmd(m.uiMsgChan))
	}
	return m, tea.Batch(cmds...)
}

func (m *AppModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("--- Collection Completeness " + m.Tag + " ---"))
	b.WriteString("\n\n")

	switch m.State {
	case Running:
		b.WriteString(m.viewProgress())
		b.WriteString("\n")
		b.WriteString(infoStyle.Render("Task running... 'q' or Ctrl+C to cancel."))
	case Finished:
		b.WriteString(m.viewProgress())
		b.WriteString("\n")
		b.WriteString(infoStyle.Render(m.summary))
	case ShowError:
		b.WriteString(m.viewProgress())
		b.WriteString("\n")
		b.WriteString(m.viewError())
	case Exiting:
		b.WriteString(infoStyle.Render("Cancelling, waiting for running partitions..."))
	}
	b.WriteString("\n")
	return b.String()
}

// --- View Helpers ---

func (m *AppModel) viewProgress() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %s %s\n", m.spinner.View(), m.Tag, m.lastActivity))
	b.WriteString(progressBarStyle.Render(m.overallProgress.ViewAs(m.percentLocked())))
	b.WriteString(fmt.Sprintf(" (%d/%d)\n\n", m.overallCurrent, m.overallTotal))

	order := make([]int, 0, len(m.partitions))
	for i := range m.partitions {
		order = append(order, i)
	}
	sort.Ints(order)

	maxLines := max(1, m.termHeight-10)
	startIdx := 0
	if len(order) > maxLines {
		startIdx = len(order) - maxLines
	}
	if len(order) == 0 {
		return b.String()
	}

	b.WriteString(partitionProgressHeaderStyle.Render(fmt.Sprintf("%-10s | %-12s | %-15s | %s", "Partition", "Status", "Entries", "Elapsed")))
	b.WriteString("\n")
	b.WriteString(strings.Repeat("-", m.termWidth))
	b.WriteString("\n")
	for _, i := range order[startIdx:] {
		pp := m.partitions[i]
		statusStyled, ok := partitionStatusStyle[pp.Status]
		if !ok {
			statusStyled = infoStyle
		}
		elapsedStr := ""
		if pp.Elapsed > 0 {
			elapsedStr = pp.Elapsed.Round(time.Millisecond).String()
		}
		entries := fmt.Sprintf("%d/%d", pp.Current, pp.Total)
		b.WriteString(fmt.Sprintf("%-10d | %-12s | %-15s | %s", i, statusStyled.Render(pp.Status), entries, elapsedStr))
		if pp.Status == StatusError && pp.ErrMsg != "" {
			errMsg := fmt.Sprintf("  -> Error: %s", pp.ErrMsg)
			if len(errMsg) >= m.termWidth {
				errMsg = errMsg[:m.termWidth-1]
			}
			b.WriteString("\n")
			b.WriteString(errorStyle.Render(errMsg))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m *AppModel) viewError() string {
	var b strings.Builder
	b.WriteString(errorStyle.Render("An error occurred:"))
	b.WriteString("\n\n")
	if m.lastError != nil {
		b.WriteString(wrapText(m.lastError.Error(), m.termWidth-4))
	} else {
		b.WriteString("Unknown error.")
	}
	b.WriteString("\n")
	return b.String()
}

// --- Update Helpers ---

func (m *AppModel) applyPartition(msg PartitionProgressMsg) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pp, ok := m.partitions[msg.Partition]
	if !ok {
		pp = &PartitionProgress{Status: StatusQueued, Start: time.Now()}
		m.partitions[msg.Partition] = pp
	}
	m.overallCurrent += msg.Current - pp.Current
	if msg.Total != pp.Total {
		m.partitionTotal += msg.Total - pp.Total
		m.overallTotal = max(m.overallTotal, m.partitionTotal)
	}
	pp.Status = msg.Status
	pp.Current = msg.Current
	pp.Total = msg.Total
	pp.CurrentFile = msg.CurrentFile
	pp.ErrMsg = msg.ErrMsg
	if msg.ElapsedTime > 0 {
		pp.Elapsed = msg.ElapsedTime
	}
	if msg.CurrentFile != "" {
		m.lastActivity = msg.CurrentFile
	}
}

func (m *AppModel) percent() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.percentLocked()
}

func (m *AppModel) percentLocked() float64 {
	if m.overallTotal <= 0 {
		return 0
	}
	return min(1, float64(m.overallCurrent)/float64(m.overallTotal))
}

func (m *AppModel) quit() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *AppModel) waitForActivityCmd(uiMsgChan chan tea.Msg) tea.Cmd {
	if uiMsgChan == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-uiMsgChan
		if !ok {
			return nil
		}
		return msg
	}
}

// send delivers msg to the UI unless the UI has already quit.
func (m *AppModel) send(msg tea.Msg) {
	select {
	case m.uiMsgChan <- msg:
	case <-m.stop:
	}
}

// --- Task Starter ---

// startTask runs the task and a translator from worker progress to UI
// messages. The translator drains progress until the task closes it.
func (m *AppModel) startTask() tea.Cmd {
	tag, start, task := m.Tag, m.taskStartTime, m.task
	return func() tea.Msg {
		workerProgressChan := make(chan processor.ProcessProgress)
		translated := make(chan struct{})
		go func() {
			defer close(translated)
			for p := range workerProgressChan {
				m.send(NewPartitionProgress(p))
			}
		}()
		go func() {
			err := task(workerProgressChan)
			<-translated
			m.taskErr = err
			close(m.taskDone)
			m.send(NewTaskFinished(tag, start, err, ""))
		}()
		return nil
	}
}

// --- Helpers ---
func wrapText(text string, maxWidth int) string {
	if maxWidth <= 0 {
		return text
	}
	var result strings.Builder
	var currentLine strings.Builder
	for _, word := range strings.Fields(text) {
		if currentLine.Len() > 0 && currentLine.Len()+len(word)+1 > maxWidth {
			result.WriteString(currentLine.String())
			result.WriteString("\n")
			currentLine.Reset()
		}
		if currentLine.Len() > 0 {
			currentLine.WriteString(" ")
		}
		currentLine.WriteString(word)
	}
	result.WriteString(currentLine.String())
	return result.String()
}
