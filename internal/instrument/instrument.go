// Package instrument maps trading symbols to broker security ids.
package instrument

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

var ErrUnknownSymbol = errors.New("instrument: unknown symbol")

type Resolver interface {
	SecurityID(symbol string) (string, error)
}

// Column names of the scrip-master CSV.
const (
	colExchange   = "SEM_EXM_EXCH_ID"
	colSegment    = "SEM_SEGMENT"
	colSeries     = "SEM_SERIES"
	colSymbol     = "SEM_TRADING_SYMBOL"
	colSecurityID = "SEM_SMST_SECURITY_ID"
)

// Filter selects which scrip-master rows are loaded.
type Filter struct {
	Exchange string
	Segment  string
	Series   string
}

// NSEEquity keeps NSE cash-segment EQ series rows.
var NSEEquity = Filter{Exchange: "NSE", Segment: "E", Series: "EQ"}

func (f Filter) match(exchange, segment, series string) bool {
	return (f.Exchange == "" || f.Exchange == exchange) &&
		(f.Segment == "" || f.Segment == segment) &&
		(f.Series == "" || f.Series == series)
}

// Table is a symbol -> security id lookup, safe for concurrent use.
type Table struct {
	mu  sync.RWMutex
	ids map[string]string
}

// NewTable builds a table from a symbol -> id map. Symbols are upper-cased.
func NewTable(ids map[string]string) *Table {
	t := &Table{ids: make(map[string]string, len(ids))}
	for sym, id := range ids {
		t.ids[strings.ToUpper(sym)] = id
	}
	return t
}

func (t *Table) SecurityID(symbol string) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.ids[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return id, nil
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.ids)
}

// LoadFile reads a scrip-master CSV from disk.
func LoadFile(path string, f Filter) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open instrument file: %w", err)
	}
	defer file.Close()
	return Load(file, f)
}

// Load parses a scrip-master CSV. Only the header columns it needs must be
// present; column order does not matter.
func Load(r io.Reader, f Filter) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read instrument header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	for _, c := range []string{colExchange, colSegment, colSeries, colSymbol, colSecurityID} {
		if _, ok := idx[c]; !ok {
			return nil, fmt.Errorf("instrument file: missing column %s", c)
		}
	}

	get := func(rec []string, col string) string {
		i := idx[col]
		if i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	t := &Table{ids: make(map[string]string)}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("instrument file line %d: %w", line, err)
		}
		if !f.match(get(rec, colExchange), get(rec, colSegment), get(rec, colSeries)) {
			continue
		}
		sym := strings.ToUpper(get(rec, colSymbol))
		id := get(rec, colSecurityID)
		if sym == "" || id == "" {
			continue
		}
		t.ids[sym] = id
	}
	return t, nil
}

// Identity resolves every symbol to itself, upper-cased. Used when no
// instrument master is configured, e.g. for Wallex markets addressed by name.
type Identity struct{}

func (Identity) SecurityID(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return "", fmt.Errorf("%w: empty symbol", ErrUnknownSymbol)
	}
	return s, nil
}
