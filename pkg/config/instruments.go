package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Instrument is one tradable symbol entry in the instruments YAML.
type Instrument struct {
	Symbol      string  `yaml:"symbol"`
	Leverage    int     `yaml:"leverage"`
	NotionalUSD float64 `yaml:"notional_usd"`
	Interval    string  `yaml:"interval"`
	Enabled     *bool   `yaml:"enabled"`
}

// Notional returns the configured notional as a decimal.
func (i Instrument) Notional() decimal.Decimal {
	return decimal.NewFromFloat(i.NotionalUSD)
}

// IsEnabled treats a missing enabled flag as true.
func (i Instrument) IsEnabled() bool {
	return i.Enabled == nil || *i.Enabled
}

type instrumentsFile struct {
	Instruments []Instrument `yaml:"instruments"`
}

// DefaultInstruments is used when no instruments file is configured.
func DefaultInstruments() []Instrument {
	return []Instrument{{Symbol: "BTCUSDT", Leverage: 5, NotionalUSD: 100, Interval: "1m"}}
}

// LoadInstruments reads the enabled instruments from a YAML file. An empty
// path yields DefaultInstruments.
func LoadInstruments(path string) ([]Instrument, error) {
	if path == "" {
		return DefaultInstruments(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseInstruments(data)
}

// ParseInstruments decodes and validates instruments YAML.
func ParseInstruments(data []byte) ([]Instrument, error) {
	var file instrumentsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	out := make([]Instrument, 0, len(file.Instruments))
	for _, in := range file.Instruments {
		in.Symbol = strings.ToUpper(strings.TrimSpace(in.Symbol))
		if in.Symbol == "" {
			return nil, fmt.Errorf("instrument without symbol")
		}
		if seen[in.Symbol] {
			return nil, fmt.Errorf("instrument %s listed twice", in.Symbol)
		}
		seen[in.Symbol] = true
		if !in.IsEnabled() {
			continue
		}
		if in.Leverage == 0 {
			in.Leverage = 5
		}
		if in.NotionalUSD <= 0 {
			return nil, fmt.Errorf("instrument %s: notional_usd must be positive", in.Symbol)
		}
		if in.Interval == "" {
			in.Interval = "1m"
		}
		out = append(out, in)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no enabled instruments")
	}
	return out, nil
}

// Symbols lists the instrument symbols in file order.
func Symbols(ins []Instrument) []string {
	out := make([]string, len(ins))
	for i, in := range ins {
		out[i] = in.Symbol
	}
	return out
}
