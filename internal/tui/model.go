package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"charm.land/bubbles/v2/help"
	"charm.land/bubbles/v2/key"
	tea "charm.land/bubbletea/v2"

	"github.com/evanschultz/poa/internal/adapters/wallet"
	"github.com/evanschultz/poa/internal/app"
	"github.com/evanschultz/poa/internal/domain"
)

// Service represents the engine operations the dashboard uses.
type Service interface {
	List(context.Context) ([]domain.Request, error)
	Approve(ctx context.Context, requestID, address string) (domain.Request, error)
	LoadDemoScenario(context.Context) ([]domain.Request, error)
}

// Wallet represents the connected identity used for approvals.
type Wallet interface {
	Current() wallet.Identity
	Connect(context.Context, wallet.Network) (wallet.Identity, error)
	Disconnect() error
}

// Model is the request dashboard.
type Model struct {
	svc    Service
	wallet Wallet
	now    func() time.Time
	copy   func(string) error

	refreshEvery time.Duration
	keys         keyMap
	help         help.Model
	md           *markdownRenderer

	ready  bool
	width  int
	height int

	requests   []domain.Request
	pending    []domain.Request
	completed  []domain.Request
	selected   int
	selectedID string
	showDetail bool

	busy   string
	status string
	err    error
}

// loadedMsg carries message data through update handling.
type loadedMsg struct {
	requests []domain.Request
	err      error
}

// tickMsg drives periodic refresh.
type tickMsg time.Time

// actionMsg carries the result of one mutation.
type actionMsg struct {
	status string
	err    error
}

// walletMsg carries the result of a connect or disconnect.
type walletMsg struct {
	identity wallet.Identity
	err      error
}

// NewModel constructs a new value for this package.
func NewModel(svc Service, opts ...Option) Model {
	h := help.New()
	h.ShowAll = false
	m := Model{
		svc:          svc,
		now:          time.Now,
		copy:         systemClipboard,
		refreshEvery: DefaultRefreshInterval,
		keys:         newKeyMap(),
		help:         h,
		md:           &markdownRenderer{},
		status:       "loading...",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&m)
		}
	}
	return m
}

// Init handles init.
func (m Model) Init() tea.Cmd {
	if m.refreshEvery <= 0 {
		return m.loadData
	}
	return tea.Batch(m.loadData, m.tick())
}

// Update updates state for the requested operation.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.setRequests(msg.requests)
		if m.status == "loading..." {
			m.status = "ready"
		}
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.loadData, m.tick())

	case actionMsg:
		m.busy = ""
		if msg.err != nil {
			m.status = describeError(msg.err)
			return m, m.loadData
		}
		m.status = msg.status
		return m, m.loadData

	case walletMsg:
		m.busy = ""
		if msg.err != nil {
			m.status = describeError(msg.err)
			return m, nil
		}
		if msg.identity.Connected {
			m.status = fmt.Sprintf("connected %s on %s", msg.identity.Address, msg.identity.Network)
		} else {
			m.status = "wallet disconnected"
		}
		return m, nil

	case tea.KeyPressMsg:
		return m.handleKey(msg)

	default:
		return m, nil
	}
}

// handleKey dispatches one key press.
func (m Model) handleKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.toggleHelp):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case key.Matches(msg, m.keys.reload):
		m.status = "reloading..."
		return m, m.loadData
	case key.Matches(msg, m.keys.moveDown):
		m.moveSelection(1)
		return m, nil
	case key.Matches(msg, m.keys.moveUp):
		m.moveSelection(-1)
		return m, nil
	case key.Matches(msg, m.keys.detail):
		if _, ok := m.selectedRequest(); ok {
			m.showDetail = !m.showDetail
		}
		return m, nil
	case key.Matches(msg, m.keys.copyID):
		return m.copySelectedID()
	}

	if m.busy != "" {
		m.status = m.busy
		return m, nil
	}
	switch {
	case key.Matches(msg, m.keys.approve):
		return m.approveSelected()
	case key.Matches(msg, m.keys.loadDemo):
		m.busy = "loading demo scenario..."
		m.status = m.busy
		return m, m.loadDemo
	case key.Matches(msg, m.keys.connect):
		return m.connectWallet()
	case key.Matches(msg, m.keys.disconnect):
		return m.disconnectWallet()
	}
	return m, nil
}

// approveSelected validates locally, then approves as the connected identity.
func (m Model) approveSelected() (tea.Model, tea.Cmd) {
	req, ok := m.selectedRequest()
	if !ok {
		m.status = "no request selected"
		return m, nil
	}
	id := m.identity()
	if !id.Connected {
		m.status = wallet.ErrNotConnected.Error()
		return m, nil
	}
	if err := req.CanApprove(id.Address); err != nil {
		m.status = describeError(err)
		return m, nil
	}
	m.busy = "confirming approval..."
	m.status = m.busy
	svc := m.svc
	requestID, address := req.ID, id.Address
	return m, func() tea.Msg {
		ctx := app.WithMutationSource(context.Background(), app.MutationSource{Channel: app.ChannelTUI, Caller: address})
		updated, err := svc.Approve(ctx, requestID, address)
		if err != nil {
			return actionMsg{err: err}
		}
		if updated.Status == domain.StatusFulfilled {
			return actionMsg{status: fmt.Sprintf("approved; %q is fulfilled", updated.Title)}
		}
		return actionMsg{status: fmt.Sprintf("approved %q (%d/%d)", updated.Title, updated.ApprovedCount(), updated.MinimumApprovals)}
	}
}

// copySelectedID copies the selected request id.
func (m Model) copySelectedID() (tea.Model, tea.Cmd) {
	req, ok := m.selectedRequest()
	if !ok {
		m.status = "no request selected"
		return m, nil
	}
	if err := m.copy(req.ID); err != nil {
		m.status = "copy failed: " + err.Error()
		return m, nil
	}
	m.status = "copied " + req.ID
	return m, nil
}

// connectWallet starts the simulated testnet handshake.
func (m Model) connectWallet() (tea.Model, tea.Cmd) {
	if m.wallet == nil {
		m.status = "no wallet configured"
		return m, nil
	}
	m.busy = "connecting wallet..."
	m.status = m.busy
	w := m.wallet
	return m, func() tea.Msg {
		id, err := w.Connect(context.Background(), wallet.NetworkTestnet)
		return walletMsg{identity: id, err: err}
	}
}

// disconnectWallet clears the identity.
func (m Model) disconnectWallet() (tea.Model, tea.Cmd) {
	if m.wallet == nil {
		m.status = "no wallet configured"
		return m, nil
	}
	w := m.wallet
	return m, func() tea.Msg {
		return walletMsg{err: w.Disconnect()}
	}
}

// loadData loads required data for the current operation.
func (m Model) loadData() tea.Msg {
	reqs, err := m.svc.List(context.Background())
	return loadedMsg{requests: reqs, err: err}
}

// loadDemo replaces the collection with the demo scenario.
func (m Model) loadDemo() tea.Msg {
	ctx := app.WithMutationSource(context.Background(), app.MutationSource{Channel: app.ChannelTUI})
	if _, err := m.svc.LoadDemoScenario(ctx); err != nil {
		return actionMsg{err: err}
	}
	return actionMsg{status: "demo scenario loaded"}
}

// tick schedules the next refresh.
func (m Model) tick() tea.Cmd {
	return tea.Tick(m.refreshEvery, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// identity returns the connected identity, or the zero value without a wallet.
func (m Model) identity() wallet.Identity {
	if m.wallet == nil {
		return wallet.Identity{}
	}
	return m.wallet.Current()
}

// setRequests groups requests into pending and completed, keeping the selection on the same id.
func (m *Model) setRequests(reqs []domain.Request) {
	m.requests = reqs
	m.pending, m.completed = nil, nil
	for _, req := range reqs {
		if req.Status == domain.StatusPending {
			m.pending = append(m.pending, req)
		} else {
			m.completed = append(m.completed, req)
		}
	}
	rows := m.rows()
	if m.selectedID != "" {
		for idx, req := range rows {
			if req.ID == m.selectedID {
				m.selected = idx
				return
			}
		}
	}
	m.selected = clamp(m.selected, 0, len(rows)-1)
	if len(rows) == 0 {
		m.selectedID = ""
		m.showDetail = false
		return
	}
	m.selectedID = rows[m.selected].ID
}

// rows returns requests in display order: pending first, then completed.
func (m Model) rows() []domain.Request {
	out := make([]domain.Request, 0, len(m.pending)+len(m.completed))
	out = append(out, m.pending...)
	return append(out, m.completed...)
}

// selectedRequest returns the request under the cursor.
func (m Model) selectedRequest() (domain.Request, bool) {
	rows := m.rows()
	if len(rows) == 0 {
		return domain.Request{}, false
	}
	return rows[clamp(m.selected, 0, len(rows)-1)], true
}

// moveSelection moves the cursor by delta rows.
func (m *Model) moveSelection(delta int) {
	rows := m.rows()
	if len(rows) == 0 {
		return
	}
	m.selected = clamp(m.selected+delta, 0, len(rows)-1)
	m.selectedID = rows[m.selected].ID
}

// describeError renders engine and wallet errors as status text.
func describeError(err error) string {
	switch {
	case errors.Is(err, app.ErrUnauthorizedActor):
		return "you are not an actor on this request"
	case errors.Is(err, app.ErrAlreadyFinalized):
		return "too late: this request is already finalized"
	case errors.Is(err, app.ErrAlreadyApproved):
		return "you already approved this request"
	case errors.Is(err, app.ErrTimedOut):
		return "settlement was not confirmed in time; try again"
	case errors.Is(err, wallet.ErrNotConnected):
		return wallet.ErrNotConnected.Error()
	default:
		return "error: " + err.Error()
	}
}

// clamp bounds v to [minV, maxV].
func clamp(v, minV, maxV int) int {
	if maxV < minV {
		return minV
	}
	if v < minV {
		return minV
	}
	if v > maxV {
		return maxV
	}
	return v
}
