// Package dashboard is the operator console: a tview/tcell screen attached
// directly to an in-process Gateway, showing live connections by device,
// pending pairing requests, and pending exec approvals. Adapted from the
// teacher's pkg/ui/app.go screen-manager pattern (Application embedding,
// tview.Flex layout, periodic QueueUpdateDraw refresh) heavily trimmed: no
// command input, no autocomplete, read-only live view plus single-key
// approve/deny actions.
package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	execpkg "github.com/cloudbro-kube-ai/k13d/pkg/exec"
	"github.com/cloudbro-kube-ai/k13d/pkg/pairing"
	"github.com/cloudbro-kube-ai/k13d/pkg/registry"
)

// Source is the subset of *server.Gateway the dashboard reads from. Declared
// as an interface here so pkg/dashboard never imports pkg/server, keeping
// the dependency edge one-directional.
type Source interface {
	ListConnections() []registry.Connection
	ListPairing(channels []string) []pairing.Request
	ListApprovals() []*execpkg.Approval
	ResolveApproval(approvalID string, decision execpkg.Decision, resolvedBy string) error
	ApprovePairing(channel, sender string) error
	DenyPairing(channel, sender string) error
}

// Console is the running dashboard screen.
type Console struct {
	*tview.Application

	src      Source
	channels []string
	addr     string

	conns     *tview.Table
	pending   *tview.Table
	approvals *tview.Table
	status    *tview.TextView

	selectedApproval string
	selectedPairing  [2]string // channel, sender
}

// New builds a Console over src, listening for pairing requests on the given
// channel names (the gateway's configured channel accounts) and displaying
// addr as the operator-facing connect URL.
func New(src Source, channels []string, addr string) *Console {
	c := &Console{
		Application: tview.NewApplication(),
		src:         src,
		channels:    channels,
		addr:        addr,
	}
	c.setupUI()
	return c
}

func (c *Console) setupUI() {
	header := tview.NewTextView().SetDynamicColors(true).
		SetText(fmt.Sprintf("[::b]gateway operator console[::-]  connect: %s", c.addr))

	c.conns = tview.NewTable().SetBorders(false)
	c.conns.SetTitle(" connections ").SetBorder(true)

	c.pending = tview.NewTable().SetBorders(false).SetSelectable(true, false)
	c.pending.SetTitle(" pairing requests (a=approve d=deny) ").SetBorder(true)
	c.pending.SetSelectionChangedFunc(func(row, _ int) {
		if row <= 0 {
			return
		}
		cell := c.pending.GetCell(row, 0)
		if ref, ok := cell.GetReference().([2]string); ok {
			c.selectedPairing = ref
		}
	})

	c.approvals = tview.NewTable().SetBorders(false).SetSelectable(true, false)
	c.approvals.SetTitle(" exec approvals (y=allow-once Y=allow-and-add n=deny) ").SetBorder(true)
	c.approvals.SetSelectionChangedFunc(func(row, _ int) {
		if row <= 0 {
			return
		}
		cell := c.approvals.GetCell(row, 0)
		if id, ok := cell.GetReference().(string); ok {
			c.selectedApproval = id
		}
	})

	c.status = tview.NewTextView().SetDynamicColors(true).SetText("[grey]q to quit[-]")

	body := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(c.conns, 0, 1, false).
		AddItem(tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(c.pending, 0, 1, true).
			AddItem(c.approvals, 0, 1, false), 0, 2, true)

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(header, 1, 0, false).
		AddItem(body, 0, 1, true).
		AddItem(c.status, 1, 0, false)

	c.SetRoot(root, true)
	c.setupKeybindings()
}

func (c *Console) setupKeybindings() {
	c.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		switch ev.Rune() {
		case 'q':
			c.Stop()
			return nil
		case 'a':
			c.actPairing(true)
			return nil
		case 'd':
			c.actPairing(false)
			return nil
		case 'y':
			c.actApproval(execpkg.DecisionAllowOnce)
			return nil
		case 'Y':
			c.actApproval(execpkg.DecisionAllowAndAdd)
			return nil
		case 'n':
			c.actApproval(execpkg.DecisionDeny)
			return nil
		}
		return ev
	})
}

func (c *Console) actPairing(approve bool) {
	channel, sender := c.selectedPairing[0], c.selectedPairing[1]
	if channel == "" && sender == "" {
		return
	}
	var err error
	if approve {
		err = c.src.ApprovePairing(channel, sender)
	} else {
		err = c.src.DenyPairing(channel, sender)
	}
	c.flash(err)
}

func (c *Console) actApproval(decision execpkg.Decision) {
	if c.selectedApproval == "" {
		return
	}
	err := c.src.ResolveApproval(c.selectedApproval, decision, "dashboard-operator")
	c.flash(err)
}

func (c *Console) flash(err error) {
	c.QueueUpdateDraw(func() {
		if err != nil {
			c.status.SetText(fmt.Sprintf("[red]error: %v[-]", err))
		} else {
			c.status.SetText("[green]ok[-]  q to quit")
		}
	})
}

// Run starts the refresh loop and blocks until the operator quits (q) or ctx
// is cancelled.
func (c *Console) Run(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	go func() {
		c.refresh()
		for {
			select {
			case <-ticker.C:
				c.refresh()
			case <-ctx.Done():
				c.Stop()
				return
			}
		}
	}()

	return c.Application.Run()
}

func (c *Console) refresh() {
	conns := c.src.ListConnections()
	pend := c.src.ListPairing(c.channels)
	appr := c.src.ListApprovals()

	c.QueueUpdateDraw(func() {
		c.conns.Clear()
		c.conns.SetCell(0, 0, tview.NewTableCell("[::b]device").SetSelectable(false))
		c.conns.SetCell(0, 1, tview.NewTableCell("[::b]role").SetSelectable(false))
		c.conns.SetCell(0, 2, tview.NewTableCell("[::b]last seen").SetSelectable(false))
		for i, conn := range conns {
			row := i + 1
			c.conns.SetCell(row, 0, tview.NewTableCell(conn.DeviceID))
			c.conns.SetCell(row, 1, tview.NewTableCell(string(conn.Role)))
			c.conns.SetCell(row, 2, tview.NewTableCell(conn.LastSeenAt.Format(time.Kitchen)))
		}

		c.pending.Clear()
		c.pending.SetCell(0, 0, tview.NewTableCell("[::b]channel").SetSelectable(false))
		c.pending.SetCell(0, 1, tview.NewTableCell("[::b]sender").SetSelectable(false))
		c.pending.SetCell(0, 2, tview.NewTableCell("[::b]code").SetSelectable(false))
		for i, req := range pend {
			row := i + 1
			cell := tview.NewTableCell(req.Channel).SetReference([2]string{req.Channel, req.Sender})
			c.pending.SetCell(row, 0, cell)
			c.pending.SetCell(row, 1, tview.NewTableCell(req.Sender))
			c.pending.SetCell(row, 2, tview.NewTableCell(req.Code))
		}

		c.approvals.Clear()
		c.approvals.SetCell(0, 0, tview.NewTableCell("[::b]id").SetSelectable(false))
		c.approvals.SetCell(0, 1, tview.NewTableCell("[::b]command").SetSelectable(false))
		c.approvals.SetCell(0, 2, tview.NewTableCell("[::b]session").SetSelectable(false))
		for i, a := range appr {
			row := i + 1
			cell := tview.NewTableCell(a.ApprovalID).SetReference(a.ApprovalID)
			c.approvals.SetCell(row, 0, cell)
			c.approvals.SetCell(row, 1, tview.NewTableCell(a.Command))
			c.approvals.SetCell(row, 2, tview.NewTableCell(a.SessionKey))
		}
	})
}
