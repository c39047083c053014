// Package sheets talks to the Google Sheets spreadsheet that holds the raw
// transactions tab (filled by bank-alert importers) and the reviewed tab
// (filled by the bot once a user categorizes a transaction).
package sheets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const (
	// Size of a freshly created tab.
	newSheetRows    = 100
	newSheetColumns = 20

	valueInputUserEntered = "USER_ENTERED"
	valueInputRaw         = "RAW"
	insertRows            = "INSERT_ROWS"
	renderFormatted       = "FORMATTED_VALUE"
)

// Client wraps a Sheets service bound to one spreadsheet. The service can be
// rebuilt with Reconnect; concurrent callers always see a complete service.
type Client struct {
	spreadsheetID string
	opts          []option.ClientOption
	log           zerolog.Logger

	mu  sync.RWMutex
	svc *sheets.Service
}

// New connects to the spreadsheet with a service-account credentials file.
func New(ctx context.Context, spreadsheetID, credentialsFile string, log zerolog.Logger) (*Client, error) {
	opts := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	return NewWithOptions(ctx, spreadsheetID, log, opts...)
}

// NewWithOptions connects with arbitrary client options (custom endpoint,
// HTTP client, token source).
func NewWithOptions(ctx context.Context, spreadsheetID string, log zerolog.Logger, opts ...option.ClientOption) (*Client, error) {
	c := &Client{
		spreadsheetID: spreadsheetID,
		opts:          opts,
		log:           log.With().Str("component", "sheets").Str("spreadsheet_id", spreadsheetID).Logger(),
	}
	if err := c.Reconnect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Reconnect builds a new Sheets service.
func (c *Client) Reconnect(ctx context.Context) error {
	svc, err := sheets.NewService(ctx, c.opts...)
	if err != nil {
		return fmt.Errorf("sheets.Reconnect: creating service: %w", err)
	}
	c.mu.Lock()
	c.svc = svc
	c.mu.Unlock()
	c.log.Info().Msg("connected to Google Sheets")
	return nil
}

func (c *Client) service() *sheets.Service {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.svc
}

// EnsureSheets creates any of the named tabs that do not exist yet.
func (c *Client) EnsureSheets(ctx context.Context, titles ...string) error {
	ss, err := c.service().Spreadsheets.Get(c.spreadsheetID).
		Fields("sheets.properties.title").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("EnsureSheets: reading spreadsheet: %w", err)
	}

	existing := make(map[string]bool, len(ss.Sheets))
	for _, s := range ss.Sheets {
		if s.Properties != nil {
			existing[s.Properties.Title] = true
		}
	}

	var requests []*sheets.Request
	for _, title := range titles {
		if existing[title] {
			continue
		}
		existing[title] = true
		requests = append(requests, &sheets.Request{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{
					Title: title,
					GridProperties: &sheets.GridProperties{
						RowCount:    newSheetRows,
						ColumnCount: newSheetColumns,
					},
				},
			},
		})
		c.log.Info().Str("sheet", title).Msg("creating missing sheet")
	}
	if len(requests) == 0 {
		return nil
	}

	_, err = c.service().Spreadsheets.BatchUpdate(c.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: requests,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("EnsureSheets: adding sheets: %w", err)
	}
	return nil
}

// Values returns every populated row of the tab as display strings.
func (c *Client) Values(ctx context.Context, sheet string) ([][]string, error) {
	resp, err := c.service().Spreadsheets.Values.Get(c.spreadsheetID, quoteTitle(sheet)).
		ValueRenderOption(renderFormatted).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("Values: reading %s: %w", sheet, err)
	}
	return cellStrings(resp.Values), nil
}

func (c *Client) headerRow(ctx context.Context, sheet string) ([]string, error) {
	resp, err := c.service().Spreadsheets.Values.Get(c.spreadsheetID, quoteTitle(sheet)+"!1:1").
		ValueRenderOption(renderFormatted).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("headerRow: reading %s: %w", sheet, err)
	}
	rows := cellStrings(resp.Values)
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (c *Client) writeHeader(ctx context.Context, sheet string, header []string) error {
	row := make([]interface{}, len(header))
	for i, h := range header {
		row[i] = h
	}
	_, err := c.service().Spreadsheets.Values.Update(c.spreadsheetID, quoteTitle(sheet)+"!A1",
		&sheets.ValueRange{Values: [][]interface{}{row}}).
		ValueInputOption(valueInputRaw).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("writeHeader: updating %s: %w", sheet, err)
	}
	return nil
}

func (c *Client) appendRow(ctx context.Context, sheet string, row []interface{}) error {
	_, err := c.service().Spreadsheets.Values.Append(c.spreadsheetID, quoteTitle(sheet),
		&sheets.ValueRange{Values: [][]interface{}{row}}).
		ValueInputOption(valueInputUserEntered).
		InsertDataOption(insertRows).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("appendRow: appending to %s: %w", sheet, err)
	}
	return nil
}

// appendWithHeader makes sure every expected column is present in the
// tab's header row, then appends values in header order.
func (c *Client) appendWithHeader(ctx context.Context, sheet string, expected []string, values map[string]string) error {
	current, err := c.headerRow(ctx, sheet)
	if err != nil {
		return err
	}
	header, changed := reconcileHeader(current, expected)
	if changed {
		c.log.Info().Str("sheet", sheet).Strs("header", header).Msg("adding missing header columns")
		if err := c.writeHeader(ctx, sheet, header); err != nil {
			return err
		}
	}
	return c.appendRow(ctx, sheet, buildRow(header, values))
}

// StatusCode extracts the HTTP status of a Sheets API error, or 0.
func StatusCode(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return 0
}

// quoteTitle renders a tab title for A1 notation.
func quoteTitle(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

func cellStrings(values [][]interface{}) [][]string {
	rows := make([][]string, len(values))
	for i, v := range values {
		row := make([]string, len(v))
		for j, cell := range v {
			if cell != nil {
				row[j] = fmt.Sprint(cell)
			}
		}
		rows[i] = row
	}
	return rows
}

// reconcileHeader appends every expected column missing from current,
// leaving existing columns where they are.
func reconcileHeader(current, expected []string) ([]string, bool) {
	header := append([]string(nil), current...)
	seen := make(map[string]bool, len(header))
	for _, h := range header {
		seen[h] = true
	}

	changed := false
	for _, col := range expected {
		if !seen[col] {
			header = append(header, col)
			seen[col] = true
			changed = true
		}
	}
	return header, changed
}

// buildRow lays values out by header position. Columns with no value are
// left blank.
func buildRow(header []string, values map[string]string) []interface{} {
	row := make([]interface{}, len(header))
	for i, col := range header {
		row[i] = values[col]
	}
	return row
}
