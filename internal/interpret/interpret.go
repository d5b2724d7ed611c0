// Package interpret turns unwrapped tool-call results into display-ready
// structures. Each interpreter is stateless and never lets a parse failure
// escape: internal errors are downgraded to an Error field in the output.
package interpret

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ContentItem is one element of a tool result's content list.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolContent struct {
	Content []ContentItem `json:"content"`
}

// QueryKind classifies a generated SQL statement.
type QueryKind string

const (
	QueryAggregation QueryKind = "aggregation"
	QueryDistinct    QueryKind = "distinct"
	QueryCount       QueryKind = "count"
	QuerySelect      QueryKind = "select"
)

// ClassifyQuery buckets a statement by case-insensitive substring tests, in
// priority order: aggregation needs both a count token and a grouping token.
func ClassifyQuery(sql string) QueryKind {
	s := strings.ToLower(sql)
	switch {
	case strings.Contains(s, "count(") && strings.Contains(s, "group by"):
		return QueryAggregation
	case strings.Contains(s, "select distinct"):
		return QueryDistinct
	case strings.Contains(s, "count("):
		return QueryCount
	default:
		return QuerySelect
	}
}

// Analysis is the normalized output of the analyst interpreter.
type Analysis struct {
	Type          string    `json:"type"`
	SQLQuery      string    `json:"sql_query,omitempty"`
	Explanation   string    `json:"explanation"`
	Executed      bool      `json:"executed"`
	ExecutionNote string    `json:"execution_note,omitempty"`
	QueryKind     QueryKind `json:"query_type,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// AnalystResult extracts the generated SQL statement from an analyst tool
// result. The first textual content item is parsed as JSON looking for a
// statement field; non-JSON text is treated as the statement itself.
func AnalystResult(raw json.RawMessage, query string) Analysis {
	var res toolContent
	if err := json.Unmarshal(raw, &res); err != nil {
		return Analysis{
			Type:        "analysis",
			SQLQuery:    string(raw),
			Explanation: "Analysis for: " + query,
			Error:       err.Error(),
		}
	}

	var statement string
	for _, item := range res.Content {
		if item.Type != "text" || item.Text == "" {
			continue
		}
		var parsed map[string]any
		if err := json.Unmarshal([]byte(item.Text), &parsed); err != nil {
			statement = item.Text
			continue
		}
		if st, ok := parsed["statement"].(string); ok {
			statement = st
			break
		}
	}

	statement = strings.TrimSpace(statement)
	if statement == "" {
		return Analysis{
			Type:        "analysis",
			Explanation: "Generated analysis for: " + query,
			Error:       "no SQL statement found in response",
		}
	}

	return Analysis{
		Type:          "analysis",
		SQLQuery:      statement,
		Explanation:   "SQL analysis generated for: " + query,
		ExecutionNote: "SQL generated by the analyst tool. Execute it to get results.",
		QueryKind:     ClassifyQuery(statement),
	}
}

// ResultMetadata describes the column layout of an executed result set.
type ResultMetadata struct {
	Columns []string `json:"columns"`
	NumRows int      `json:"num_rows"`
}

// SQLExecution is the normalized output of the execution-result interpreter.
type SQLExecution struct {
	Type          string           `json:"type"`
	SQLQuery      string           `json:"sql_query"`
	Executed      bool             `json:"executed"`
	Rows          []map[string]any `json:"execution_results"`
	Metadata      *ResultMetadata  `json:"result_metadata,omitempty"`
	RowCount      int              `json:"row_count"`
	ExecutionNote string           `json:"execution_note,omitempty"`
	Error         string           `json:"error,omitempty"`
}

type resultSetEnvelope struct {
	ResultSet *resultSet `json:"result_set"`
}

type resultSet struct {
	Metadata *resultSetMetaData `json:"resultSetMetaData"`
	Data     [][]any            `json:"data"`
}

type resultSetMetaData struct {
	NumRows int `json:"numRows"`
	RowType []struct {
		Name string `json:"name"`
	} `json:"rowType"`
}

// SQLResult converts a row-oriented execution result into named-column rows.
// Rows whose width does not match the column count fall back to synthetic
// column_<index> names. Missing metadata yields zero rows, not an error.
func SQLResult(raw json.RawMessage, sqlQuery string) SQLExecution {
	var res toolContent
	if err := json.Unmarshal(raw, &res); err != nil {
		return SQLExecution{
			Type:     "sql_execution",
			SQLQuery: sqlQuery,
			Rows:     []map[string]any{},
			Error:    err.Error(),
		}
	}

	rows := []map[string]any{}
	var metadata *ResultMetadata

	for _, item := range res.Content {
		if item.Type != "text" || item.Text == "" {
			continue
		}

		var envelope resultSetEnvelope
		if err := json.Unmarshal([]byte(item.Text), &envelope); err != nil {
			rows = append(rows, map[string]any{"result": item.Text})
			continue
		}

		if envelope.ResultSet == nil {
			// Not a result set; surface the whole payload as one row.
			var generic map[string]any
			if err := json.Unmarshal([]byte(item.Text), &generic); err == nil && generic != nil {
				rows = append(rows, generic)
			} else {
				rows = append(rows, map[string]any{"result": item.Text})
			}
			continue
		}

		rs := envelope.ResultSet
		var columns []string
		if rs.Metadata != nil {
			for _, col := range rs.Metadata.RowType {
				columns = append(columns, col.Name)
			}
			metadata = &ResultMetadata{Columns: columns, NumRows: rs.Metadata.NumRows}
		}
		if len(columns) == 0 {
			continue
		}

		for _, row := range rs.Data {
			entry := make(map[string]any, len(row))
			if len(row) == len(columns) {
				for i, name := range columns {
					entry[name] = row[i]
				}
			} else {
				for i, val := range row {
					entry[fmt.Sprintf("column_%d", i)] = val
				}
			}
			rows = append(rows, entry)
		}
	}

	return SQLExecution{
		Type:          "sql_execution",
		SQLQuery:      sqlQuery,
		Executed:      true,
		Rows:          rows,
		Metadata:      metadata,
		RowCount:      len(rows),
		ExecutionNote: "SQL executed via the upstream tool server.",
	}
}

// AgentResponse is the normalized output of the free-text interpreter.
type AgentResponse struct {
	Type          string `json:"type"`
	Message       string `json:"message"`
	Response      string `json:"response"`
	ExecutionNote string `json:"execution_note,omitempty"`
	Error         string `json:"error,omitempty"`
}

// AgentResult concatenates every textual content item into one string. Empty
// input falls back to a raw rendering of the result.
func AgentResult(raw json.RawMessage, message string) AgentResponse {
	var res toolContent
	if err := json.Unmarshal(raw, &res); err != nil {
		return AgentResponse{
			Type:     "agent_response",
			Message:  message,
			Response: "Error processing agent response: " + err.Error(),
			Error:    err.Error(),
		}
	}

	var parts []string
	for _, item := range res.Content {
		if item.Type == "text" && item.Text != "" {
			parts = append(parts, item.Text)
		}
	}

	response := strings.TrimSpace(strings.Join(parts, "\n"))
	if response == "" {
		response = string(raw)
	}

	return AgentResponse{
		Type:          "agent_response",
		Message:       message,
		Response:      response,
		ExecutionNote: "Response generated by the agent tool.",
	}
}
