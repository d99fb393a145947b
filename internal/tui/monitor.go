// Package tui is the terminal monitor: scan results, open sessions, live
// readings and the log, side by side.
package tui

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/go_func_utils"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/sensor"
)

const (
	refreshInterval = 500 * time.Millisecond
	maxLogLines     = 1000
	feedBufferSize  = 64
)

// Hub is the part of the sensor hub the monitor drives.
type Hub interface {
	Scan(ctx context.Context, timeout time.Duration) ([]sensor.Descriptor, error)
	Connect(key string) (sensor.SessionInfo, error)
	Disconnect(key string) error
	Sessions() []sensor.SessionInfo
	SubscribeReadings(ch chan<- sensor.ReadingUpdate) func()
}

type Monitor struct {
	logger      *log.Logger
	app         *tview.Application
	hub         Hub
	scanTimeout time.Duration
	logLines    <-chan string

	scanList      *tview.List
	sessionsTable *tview.Table
	readingsTable *tview.Table
	logView       *tview.TextView
	root          *tview.Flex

	// queueUpdate runs f on the UI goroutine.
	queueUpdate func(f func())

	mu       sync.Mutex
	scanned  []sensor.Descriptor
	readings map[string]sensor.ReadingUpdate
	dirty    bool
	scanning bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds the monitor. logLines may be nil when logs are not mirrored.
func New(app *tview.Application, hub Hub, logger *log.Logger, logLines <-chan string, scanTimeout time.Duration) *Monitor {
	if app == nil {
		panic("Monitor: app cannot be nil")
	}
	if hub == nil {
		panic("Monitor: hub cannot be nil")
	}
	if logger == nil {
		panic("Monitor: logger cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		logger:      logger,
		app:         app,
		hub:         hub,
		scanTimeout: scanTimeout,
		logLines:    logLines,
		readings:    make(map[string]sensor.ReadingUpdate),
		ctx:         ctx,
		cancel:      cancel,
	}
	m.queueUpdate = func(f func()) { m.app.QueueUpdateDraw(f) }
	m.initialize()
	return m
}

func (m *Monitor) initialize() {
	instructions := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	instructions.SetText("[yellow]S[white] Scan  |  [yellow]Enter[white] Connect  |  [yellow]D[white] Disconnect  |  [yellow]Tab[white] Switch pane  |  [yellow]Esc[white] Quit")

	m.scanList = tview.NewList().
		ShowSecondaryText(false).
		SetSelectedFunc(func(index int, _, _ string, _ rune) {
			m.connectIndex(index)
		})
	m.scanList.SetBorder(true).SetTitle(" Scan Results ")

	m.sessionsTable = tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0)
	m.sessionsTable.SetBorder(true).SetTitle(" Sessions ")

	m.readingsTable = tview.NewTable().
		SetFixed(1, 0)
	m.readingsTable.SetBorder(true).SetTitle(" Readings ")

	// No SetChangedFunc(app.Draw): writes come through queueUpdate, which
	// already redraws, and a draw after Stop hangs shutdown.
	m.logView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false).
		SetMaxLines(maxLogLines)
	m.logView.SetBorder(true).SetTitle(" Logs ")

	left := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(m.scanList, 0, 1, true).
		AddItem(m.sessionsTable, 0, 1, false)
	right := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(m.readingsTable, 0, 1, false).
		AddItem(m.logView, 0, 1, false)
	body := tview.NewFlex().
		AddItem(left, 0, 1, true).
		AddItem(right, 0, 1, false)
	m.root = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(instructions, 1, 0, false).
		AddItem(body, 0, 1, true)

	m.renderSessions()
	m.renderReadings()
	m.setupKeyboardHandlers()
}

func (m *Monitor) setupKeyboardHandlers() {
	m.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEscape:
			m.app.Stop()
			return nil
		case tcell.KeyTab:
			if m.scanList.HasFocus() {
				m.app.SetFocus(m.sessionsTable)
			} else {
				m.app.SetFocus(m.scanList)
			}
			return nil
		case tcell.KeyRune:
			switch event.Rune() {
			case 's', 'S':
				m.startScan()
				return nil
			case 'd', 'D':
				m.disconnectSelected(m.sessionsTable.HasFocus())
				return nil
			}
		}
		return event
	})
}

// Run shows the monitor and blocks until Esc is pressed or Stop is called.
func (m *Monitor) Run() error {
	m.wg.Add(2)
	go_func_utils.SafeGo(m.logger, m.followReadings)
	go_func_utils.SafeGo(m.logger, m.followLog)

	m.startScan()

	m.app.SetRoot(m.root, true)
	m.app.SetFocus(m.scanList)
	err := m.app.Run()
	m.Shutdown()
	return err
}

func (m *Monitor) Stop() {
	m.app.Stop()
}

// Shutdown stops the background goroutines.
func (m *Monitor) Shutdown() {
	m.cancel()
	m.wg.Wait()
}

// startScan scans in the background unless a scan is already running.
func (m *Monitor) startScan() {
	m.mu.Lock()
	if m.scanning {
		m.mu.Unlock()
		m.logger.Printf("Monitor: already scanning")
		return
	}
	m.scanning = true
	m.mu.Unlock()

	go_func_utils.SafeGo(m.logger, m.scan)
}

func (m *Monitor) scan() {
	defer func() {
		m.mu.Lock()
		m.scanning = false
		m.mu.Unlock()
	}()

	m.logger.Printf("Monitor: scanning for %v", m.scanTimeout)
	found, err := m.hub.Scan(m.ctx, m.scanTimeout)
	if err != nil {
		m.logger.Printf("Monitor: scan failed: %v", err)
		return
	}
	m.logger.Printf("Monitor: found %d sensor(s)", len(found))

	m.mu.Lock()
	m.scanned = found
	m.mu.Unlock()
	m.queueUpdate(m.renderScanList)
}

func (m *Monitor) connectIndex(index int) {
	m.mu.Lock()
	if index < 0 || index >= len(m.scanned) {
		m.mu.Unlock()
		return
	}
	d := m.scanned[index]
	m.mu.Unlock()

	go_func_utils.SafeGo(m.logger, func() {
		info, err := m.hub.Connect(d.Key)
		if err != nil {
			m.logger.Printf("Monitor: connect %s failed: %v", d.Label, err)
			return
		}
		m.logger.Printf("Monitor: %s connected on channel %d", info.Label, info.Channel)
		m.queueUpdate(m.renderSessions)
	})
}

// disconnectSelected disconnects the selected session row, or the selected
// scan result when fromSessions is false.
func (m *Monitor) disconnectSelected(fromSessions bool) {
	var key string
	if fromSessions {
		row, _ := m.sessionsTable.GetSelection()
		if row < 1 || row >= m.sessionsTable.GetRowCount() {
			return
		}
		if ref, ok := m.sessionsTable.GetCell(row, 0).GetReference().(string); ok {
			key = ref
		}
	} else {
		index := m.scanList.GetCurrentItem()
		m.mu.Lock()
		if index >= 0 && index < len(m.scanned) {
			key = m.scanned[index].Key
		}
		m.mu.Unlock()
	}
	if key == "" {
		return
	}

	go_func_utils.SafeGo(m.logger, func() {
		if err := m.hub.Disconnect(key); err != nil {
			m.logger.Printf("Monitor: disconnect %s failed: %v", key, err)
			return
		}
		m.mu.Lock()
		delete(m.readings, key)
		m.dirty = true
		m.mu.Unlock()
		m.logger.Printf("Monitor: %s disconnected", key)
		m.queueUpdate(m.renderSessions)
	})
}

// followReadings collects reading updates and redraws at most every
// refreshInterval.
func (m *Monitor) followReadings() {
	defer m.wg.Done()

	updates := make(chan sensor.ReadingUpdate, feedBufferSize)
	unsubscribe := m.hub.SubscribeReadings(updates)
	defer unsubscribe()

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case update := <-updates:
			m.recordReading(update)
		case <-ticker.C:
			m.mu.Lock()
			dirty := m.dirty
			m.dirty = false
			m.mu.Unlock()
			if dirty {
				m.queueUpdate(func() {
					m.renderReadings()
					m.renderSessions()
				})
			}
		}
	}
}

func (m *Monitor) recordReading(update sensor.ReadingUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readings[update.Key] = update
	m.dirty = true
}

func (m *Monitor) followLog() {
	defer m.wg.Done()
	if m.logLines == nil {
		return
	}
	for {
		select {
		case <-m.ctx.Done():
			return
		case line := <-m.logLines:
			m.queueUpdate(func() { m.writeLogLine(line) })
		}
	}
}

func (m *Monitor) writeLogLine(line string) {
	fmt.Fprintln(m.logView, tview.Escape(line))
	m.logView.ScrollToEnd()
}

// renderScanList refills the scan list, keeping the selected item.
func (m *Monitor) renderScanList() {
	m.mu.Lock()
	items := make([]string, len(m.scanned))
	for i, d := range m.scanned {
		items[i] = formatDescriptor(d)
	}
	m.mu.Unlock()

	var selected string
	if current := m.scanList.GetCurrentItem(); current < m.scanList.GetItemCount() {
		selected, _ = m.scanList.GetItemText(current)
	}

	m.scanList.Clear()
	selectedIdx := -1
	for i, item := range items {
		if item == selected {
			selectedIdx = i
		}
		m.scanList.AddItem(item, "", 0, nil)
	}
	if selectedIdx > -1 {
		m.scanList.SetCurrentItem(selectedIdx)
	}
}

func (m *Monitor) renderSessions() {
	m.sessionsTable.Clear()
	setHeader(m.sessionsTable, "Ch", "Sensor", "Profile", "State")
	for i, s := range m.hub.Sessions() {
		row := i + 1
		m.sessionsTable.SetCell(row, 0, tview.NewTableCell(fmt.Sprintf("%d", s.Channel)).SetReference(s.Key))
		m.sessionsTable.SetCell(row, 1, tview.NewTableCell(tview.Escape(s.Label)))
		m.sessionsTable.SetCell(row, 2, tview.NewTableCell(s.Profile.String()))
		m.sessionsTable.SetCell(row, 3, tview.NewTableCell(s.State.String()).SetTextColor(stateColor(s.State)))
	}
}

func (m *Monitor) renderReadings() {
	m.mu.Lock()
	rows := make([]sensor.ReadingUpdate, 0, len(m.readings))
	for _, update := range m.readings {
		rows = append(rows, update)
	}
	m.mu.Unlock()
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })

	m.readingsTable.Clear()
	setHeader(m.readingsTable, "Sensor", "Reading", "Received")
	for i, update := range rows {
		row := i + 1
		m.readingsTable.SetCell(row, 0, tview.NewTableCell(tview.Escape(update.Label)))
		m.readingsTable.SetCell(row, 1, tview.NewTableCell(formatReading(update.Reading)))
		m.readingsTable.SetCell(row, 2, tview.NewTableCell(formatReceived(update.Reading.ReceivedAt)))
	}
}

func setHeader(table *tview.Table, titles ...string) {
	for col, title := range titles {
		table.SetCell(0, col, tview.NewTableCell(title).
			SetTextColor(tcell.ColorYellow).
			SetSelectable(false))
	}
}

func stateColor(state sensor.State) tcell.Color {
	switch state {
	case sensor.Open:
		return tcell.ColorGreen
	case sensor.Faulted:
		return tcell.ColorRed
	default:
		return tcell.ColorGray
	}
}

func formatDescriptor(d sensor.Descriptor) string {
	return fmt.Sprintf("%s (%s)", d.Label, d.Key)
}

func formatReading(r sensor.Reading) string {
	switch r.Kind {
	case sensor.KindHeartRate:
		return fmt.Sprintf("%d bpm", r.BPM)
	case sensor.KindPower:
		if r.CadenceRPM != nil {
			return fmt.Sprintf("%d W @ %d rpm", r.Watts, *r.CadenceRPM)
		}
		return fmt.Sprintf("%d W", r.Watts)
	default:
		if len(r.Fields) == 0 {
			return "-"
		}
		names := make([]string, 0, len(r.Fields))
		for name := range r.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, len(names))
		for i, name := range names {
			parts[i] = fmt.Sprintf("%s=%g", name, r.Fields[name])
		}
		return strings.Join(parts, " ")
	}
}

func formatReceived(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("15:04:05")
}
