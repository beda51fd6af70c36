package label

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

var (
	ErrPrinterOffline     = errors.New("printer is offline")
	ErrPrinterCannotPrint = errors.New("printer cannot print in current state")
	ErrInvalidStatus      = errors.New("invalid status response")
)

const (
	defaultPrinterPort    = "9100"
	defaultPrinterTimeout = 10 * time.Second
	statusCommand         = "\x1b!?"
)

var printerStates = map[byte]string{
	'@': "normal",
	'F': "feeding",
	'P': "paused",
	'E': "error",
	'H': "head_open",
	'S': "standby",
	'L': "label_waiting",
	'I': "idle",
}

var printerWarnings = map[byte]string{
	'@': "none",
	'A': "paper_low",
	'B': "ribbon_low",
	'C': "paper_and_ribbon_low",
}

var printerErrors = map[byte]string{
	'@': "none",
	'A': "head_overheat",
	'B': "motor_overheat",
	'C': "head_and_motor_overheat",
	'D': "head_error",
	'E': "cutter_error",
	'F': "rtc_error",
}

var mediaErrors = map[byte]string{
	'@': "none",
	'A': "paper_empty",
	'B': "ribbon_empty",
	'C': "paper_and_ribbon_empty",
	'D': "takeup_reel_full",
	'`': "head_open",
}

// PrinterStatus is the decoded 4-byte reply to the TSPL status query.
type PrinterStatus struct {
	State      string `json:"state"`
	Warning    string `json:"warning"`
	Error      string `json:"error"`
	MediaError string `json:"media_error"`
	CanPrint   bool   `json:"can_print"`
}

// Printer talks to raw-TCP label printers (port 9100 unless the address
// says otherwise). A zero Printer is usable.
type Printer struct {
	Timeout time.Duration
	// CheckStatus queries the printer before sending a job and refuses
	// to print when it is paused or in error.
	CheckStatus bool
}

func (p *Printer) timeout() time.Duration {
	if p.Timeout <= 0 {
		return defaultPrinterTimeout
	}
	return p.Timeout
}

func (p *Printer) dial(ctx context.Context, addr string) (net.Conn, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, defaultPrinterPort)
	}
	d := net.Dialer{Timeout: p.timeout()}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPrinterOffline, err)
	}
	_ = conn.SetDeadline(time.Now().Add(p.timeout()))
	return conn, nil
}

// Status asks the printer at addr for its state.
func (p *Printer) Status(ctx context.Context, addr string) (*PrinterStatus, error) {
	conn, err := p.dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if _, err := conn.Write([]byte(statusCommand)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPrinterOffline, err)
	}
	reply := make([]byte, 4)
	if _, err := io.ReadFull(conn, reply); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStatus, err)
	}
	return parseStatus(reply), nil
}

// Send streams a TSPL program to the printer at addr.
func (p *Printer) Send(ctx context.Context, addr, tspl string) error {
	if p.CheckStatus {
		st, err := p.Status(ctx, addr)
		if err != nil {
			return err
		}
		if !st.CanPrint {
			return fmt.Errorf("%w: %s", ErrPrinterCannotPrint, st.State)
		}
	}

	conn, err := p.dial(ctx, addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if _, err := io.WriteString(conn, tspl); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to send label to %s: %w", addr, err)
	}
	return nil
}

func parseStatus(b []byte) *PrinterStatus {
	lookup := func(m map[byte]string, c byte) string {
		if v, ok := m[c]; ok {
			return v
		}
		return "unknown"
	}
	st := &PrinterStatus{
		State:      lookup(printerStates, b[0]),
		Warning:    lookup(printerWarnings, b[1]),
		Error:      lookup(printerErrors, b[2]),
		MediaError: lookup(mediaErrors, b[3]),
	}
	switch st.State {
	case "normal", "standby", "idle":
		st.CanPrint = st.Error == "none" && st.MediaError == "none"
	}
	return st
}
