package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gateway-fm/txprober/pkg/types"
)

// maxSeriesRows caps the confirmation rows rendered in one tool result.
const maxSeriesRows = 30

// RegisterTools registers all prober tools on the MCP server.
func RegisterTools(s *server.MCPServer, client *Client) {
	registerStatus(s, client)
	registerConfirmations(s, client)
	registerCounts(s, client)
	registerGas(s, client)
	registerSpeed(s, client)
	registerLastError(s, client)
	registerHistory(s, client)
	registerHealth(s, client)
}

// readTool registers a no-argument tool that GETs path and renders it.
func readTool(s *server.MCPServer, client *Client, name, description, path string, format func(json.RawMessage) string) {
	tool := gomcp.NewTool(name, gomcp.WithDescription(description))
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get(ctx, path)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Prober unreachable: %v\n\nIs the prober running? Check PROBER_URL.", err)), nil
		}
		return gomcp.NewToolResultText(format(raw)), nil
	})
}

func registerStatus(s *server.MCPServer, client *Client) {
	readTool(s, client, "prober_status",
		"Get prober status: scheduler state, active account pair, probe counts, latency and gas summary.",
		"/v1/status", formatStatus)
}

func registerConfirmations(s *server.MCPServer, client *Client) {
	readTool(s, client, "prober_confirmations",
		"List confirmation latencies (seconds) over the retention window, oldest first.",
		"/v1/metrics/confirmation-times", formatConfirmations)
}

func registerCounts(s *server.MCPServer, client *Client) {
	readTool(s, client, "prober_counts",
		"Get windowed success/failure counts and success rate.",
		"/v1/metrics/transaction-counts", formatCounts)
}

func registerGas(s *server.MCPServer, client *Client) {
	readTool(s, client, "prober_gas",
		"Get average gas price and cumulative gas spent, in gwei.",
		"/v1/metrics/gas", formatGas)
}

func registerSpeed(s *server.MCPServer, client *Client) {
	readTool(s, client, "prober_speed",
		"Get average, fastest and slowest confirmation time and the number of pending probes.",
		"/v1/metrics/speed", formatSpeed)
}

func registerLastError(s *server.MCPServer, client *Client) {
	readTool(s, client, "prober_last_error",
		"Get the most recent probe failure, if any.",
		"/v1/metrics/last-error", formatLastError)
}

func registerHealth(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("prober_health",
		gomcp.WithDescription("Quick health check for the prober. Checks RPC connectivity and scheduler state."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get(ctx, "/ready")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Prober unhealthy: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHealth(raw)), nil
	})
}

func registerHistory(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("prober_history",
		gomcp.WithDescription("List journaled probes, newest first (paginated). Requires the probe journal to be enabled."),
		gomcp.WithNumber("limit",
			gomcp.Description("Max results to return (default: 20, max: 500)"),
		),
		gomcp.WithNumber("offset",
			gomcp.Description("Results offset for pagination (default: 0)"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		offset := req.GetInt("offset", 0)
		raw, err := client.Get(ctx, fmt.Sprintf("/v1/history?limit=%d&offset=%d", limit, offset))
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Failed to get history: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHistory(raw)), nil
	})
}

// Response formatting functions

func formatStatus(raw json.RawMessage) string {
	var st types.Status
	if err := json.Unmarshal(raw, &st); err != nil {
		return fmt.Sprintf("Error parsing status: %v", err)
	}

	lines := joinLines(
		section("Prober Status"),
		kv("State", st.State),
		kv("Chain ID", st.ChainID),
		kv("Interval", fmt.Sprintf("%.1fs", float64(st.IntervalMs)/1000)),
		kv("Probes Started", formatNumber(st.ProbesStarted)),
		kv("Skipped Ticks", formatNumber(st.SkippedTicks)),
		kv("Journal", st.JournalEnabled),
	)

	lines += "\n\n" + joinLines(
		section("Active Account"),
		kv("Index", st.ActiveAccount.Index),
		kv("Sender", st.ActiveAccount.Sender),
		kv("Receiver", st.ActiveAccount.Receiver),
		kv("Active Since", formatStamp(st.ActiveAccount.ActiveSince)),
	)

	sum := st.Summary
	lines += "\n\n" + countsLines(sum.Counts)
	lines += "\n\n" + speedLines(sum.Speed)
	lines += "\n\n" + gasLines(sum.Gas)
	if sum.LastError != nil {
		lines += "\n\n" + lastErrorLines(sum.LastError)
	}
	return lines
}

func formatConfirmations(raw json.RawMessage) string {
	var points []types.ConfirmationPoint
	if err := json.Unmarshal(raw, &points); err != nil {
		return fmt.Sprintf("Error parsing confirmations: %v", err)
	}

	lines := joinLines(
		section("Confirmation Times"),
		kv("Samples", formatNumber(len(points))),
	) + "\n\n"
	if len(points) == 0 {
		return lines + "No confirmations in the window."
	}

	// Most recent rows only.
	skipped := 0
	if len(points) > maxSeriesRows {
		skipped = len(points) - maxSeriesRows
		points = points[skipped:]
	}

	var b strings.Builder
	b.WriteString(lines)
	if skipped > 0 {
		fmt.Fprintf(&b, "... %d earlier samples omitted\n", skipped)
	}
	for _, p := range points {
		fmt.Fprintf(&b, "  %d  %s\n", p.Timestamp, formatSeconds(p.Value))
	}
	return b.String()
}

func formatCounts(raw json.RawMessage) string {
	var c types.TransactionCounts
	if err := json.Unmarshal(raw, &c); err != nil {
		return fmt.Sprintf("Error parsing counts: %v", err)
	}
	return countsLines(c)
}

func formatGas(raw json.RawMessage) string {
	var g types.GasMetrics
	if err := json.Unmarshal(raw, &g); err != nil {
		return fmt.Sprintf("Error parsing gas metrics: %v", err)
	}
	return gasLines(g)
}

func formatSpeed(raw json.RawMessage) string {
	var m types.SpeedMetrics
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing speed metrics: %v", err)
	}
	return speedLines(m)
}

func formatLastError(raw json.RawMessage) string {
	var e *types.LastError
	if err := json.Unmarshal(raw, &e); err != nil {
		return fmt.Sprintf("Error parsing last error: %v", err)
	}
	if e == nil {
		return joinLines(section("Last Error"), "No errors recorded.")
	}
	return lastErrorLines(e)
}

func formatHealth(raw json.RawMessage) string {
	var m struct {
		Ready  bool                   `json:"ready"`
		Checks []types.ReadinessCheck `json:"checks"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing health: %v", err)
	}

	state := "READY"
	if !m.Ready {
		state = "NOT READY"
	}

	lines := section("Prober Health: " + state)
	for _, check := range m.Checks {
		status := "ok"
		if !check.Healthy {
			status = "failed"
		}
		line := fmt.Sprintf("  %-15s %s", check.Name, status)
		if check.Message != "" {
			line += " - " + check.Message
		}
		lines += "\n" + line
	}
	return lines
}

func formatHistory(raw json.RawMessage) string {
	var page types.PaginatedProbes
	if err := json.Unmarshal(raw, &page); err != nil {
		return fmt.Sprintf("Error parsing history: %v", err)
	}

	lines := joinLines(
		section("Probe History"),
		kv("Total Probes", formatNumber(page.Total)),
	) + "\n\n"
	if len(page.Probes) == 0 {
		return lines + "No probes found."
	}

	var b strings.Builder
	b.WriteString(lines)
	for _, p := range page.Probes {
		outcome := "failed"
		if p.Success {
			outcome = "confirmed"
		}
		latency := "-"
		if p.LatencySeconds != nil {
			latency = formatSeconds(*p.LatencySeconds)
		}
		hash := p.TxHash
		if hash == "" {
			hash = "(not submitted)"
		}
		fmt.Fprintf(&b, "  [%d] %s  %-9s  %s  account=%d  %s\n",
			p.ID, shortHash(hash), outcome, latency, p.Account,
			formatStamp(p.CompletedAt))
		if p.Error != "" {
			fmt.Fprintf(&b, "       error: %s\n", p.Error)
		}
	}
	return b.String()
}

func countsLines(c types.TransactionCounts) string {
	return joinLines(
		section("Transaction Counts"),
		kv("Success", formatNumber(c.Success)),
		kv("Failure", formatNumber(c.Failure)),
		kv("Total", formatNumber(c.Total)),
		kv("Success Rate", formatPct(c.SuccessRate)),
	)
}

func speedLines(m types.SpeedMetrics) string {
	return joinLines(
		section("Confirmation Speed"),
		kv("Average", formatSeconds(m.Average)),
		kv("Fastest", formatSeconds(m.Fastest)),
		kv("Slowest", formatSeconds(m.Slowest)),
		kv("Pending", formatNumber(m.Pending)),
	)
}

func gasLines(g types.GasMetrics) string {
	return joinLines(
		section("Gas"),
		kv("Average Price", formatGwei(g.AveragePrice)),
		kv("Total Spent", formatGwei(g.TotalUsed)),
	)
}

func lastErrorLines(e *types.LastError) string {
	return joinLines(
		section("Last Error"),
		kv("Message", e.Message),
		kv("At", formatStamp(e.Timestamp)),
	)
}
