package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charlesren/bgp_peer_manager/audit"
	"github.com/charlesren/bgp_peer_manager/errdefs"
	"github.com/charlesren/bgp_peer_manager/manager"
	"github.com/charlesren/bgp_peer_manager/mutation"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type outputFormat string

const (
	outputTable outputFormat = "table"
	outputJSON  outputFormat = "json"
	outputYAML  outputFormat = "yaml"
)

var (
	headerStyle      = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle        = lipgloss.NewStyle().Padding(0, 1)
	establishedStyle = cellStyle.Foreground(lipgloss.Color("2"))
	downStyle        = cellStyle.Foreground(lipgloss.Color("1"))
)

func addOutputFlag(fs *pflag.FlagSet, target *string) {
	fs.StringVarP(target, "output", "o", string(outputTable), "output format: table, json or yaml")
}

func parseOutput(s string) (outputFormat, error) {
	switch f := outputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case outputTable, outputJSON, outputYAML:
		return f, nil
	default:
		return "", errdefs.InvalidInput("output", "must be one of table, json, yaml").AddDetail("value", s)
	}
}

// encode json/yaml 两种格式通用
func encode(w io.Writer, format outputFormat, v interface{}) error {
	switch format {
	case outputJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

func renderPeers(w io.Writer, format outputFormat, r *manager.QueryResult) error {
	if format != outputTable {
		return encode(w, format, r)
	}
	if len(r.Peers) == 0 {
		_, err := fmt.Fprintf(w, "No BGP sessions %s found.\n", r.Filter.Label())
		return err
	}

	rows := make([][]string, 0, len(r.Peers))
	for _, p := range r.Peers {
		rows = append(rows, []string{p.Address, p.ASN, p.State, p.Group})
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("PEER ADDRESS", "PEER AS", "STATE", "GROUP").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 2 && r.Peers[row].IsEstablished():
				return establishedStyle
			case col == 2:
				return downStyle
			default:
				return cellStyle
			}
		})

	_, err := fmt.Fprintf(w, "%s\n%s: %d %s of %d peers (%d established, %d not established)\n",
		t.String(), r.Host, len(r.Peers), strings.ToLower(r.Filter.Label()),
		r.Summary.Total, r.Summary.Established, r.Summary.NotEstablished)
	return err
}

func renderAudit(w io.Writer, format outputFormat, entries []audit.Entry) error {
	if format != outputTable {
		return encode(w, format, entries)
	}
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "No deactivations recorded.")
		return err
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		result := "ok"
		if !e.Success {
			result = e.ErrorCode
		}
		rows = append(rows, []string{
			e.StartedAt.Local().Format(time.DateTime),
			e.Host,
			e.Group,
			e.Address,
			e.FinalPhase,
			result,
			strconv.FormatBool(e.Discarded),
		})
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("STARTED", "HOST", "GROUP", "ADDRESS", "PHASE", "RESULT", "DISCARDED").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 5 && entries[row].Success:
				return establishedStyle
			case col == 5:
				return downStyle
			default:
				return cellStyle
			}
		})
	_, err := fmt.Fprintln(w, t.String())
	return err
}

// renderOutcome 停用结果；失败时附带处理建议
func renderOutcome(w io.Writer, format outputFormat, o *mutation.Outcome) error {
	if format != outputTable {
		return encode(w, format, outcomeView{Outcome: *o, Error: errorView(o.Err)})
	}

	if o.Succeeded() {
		_, err := fmt.Fprintf(w, "BGP session %s in group %s deactivated on %s.\n", o.Address, o.Group, o.Host)
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Could not deactivate BGP session %s in group %s on %s.\n", o.Address, o.Group, o.Host)
	fmt.Fprintf(&b, "  phase:  %s\n", o.Phase)
	fmt.Fprintf(&b, "  error:  %v\n", o.Err)
	for _, m := range o.ValidationMessages {
		fmt.Fprintf(&b, "  device: %s\n", m)
	}
	fmt.Fprintf(&b, "  hint:   %s\n", errdefs.RecoveryHint(o.Err))
	_, err := io.WriteString(w, b.String())
	return err
}

type outcomeView struct {
	mutation.Outcome `yaml:",inline"`
	Error            *errorDetail `json:"error,omitempty" yaml:"error,omitempty"`
}

type errorDetail struct {
	Code    errdefs.ErrorCode `json:"code" yaml:"code"`
	Message string            `json:"message" yaml:"message"`
	Hint    string            `json:"hint" yaml:"hint"`
}

func errorView(err error) *errorDetail {
	if err == nil {
		return nil
	}
	return &errorDetail{
		Code:    errdefs.CodeOf(err),
		Message: err.Error(),
		Hint:    errdefs.RecoveryHint(err),
	}
}
