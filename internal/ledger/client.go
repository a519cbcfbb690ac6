// internal/ledger/client.go
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"mailmerge-workers/internal/common/config"
	apperrors "mailmerge-workers/internal/common/errors"
	commonhttp "mailmerge-workers/internal/common/http"
)

// Source yields transactions from the bank.
type Source interface {
	// FetchSinceCursor returns everything since the last download and advances the
	// server-side cursor.
	FetchSinceCursor(ctx context.Context) ([]Transaction, error)
	FetchPeriod(ctx context.Context, from, to time.Time) ([]Transaction, error)
}

// Client talks to a Fio-style REST API where the token is part of the path.
type Client struct {
	baseURL string
	token   string
	http    *commonhttp.Client
}

func NewClient(baseURL, token string, http *commonhttp.Client) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   strings.TrimSpace(token),
		http:    http,
	}
}

func (c *Client) FetchSinceCursor(ctx context.Context) ([]Transaction, error) {
	return c.fetch(ctx, func(token string) string {
		return fmt.Sprintf("%s/last/%s/transactions.json", c.baseURL, token)
	})
}

func (c *Client) FetchPeriod(ctx context.Context, from, to time.Time) ([]Transaction, error) {
	if to.Before(from) {
		return nil, apperrors.NewInvalidInputError("period", "to is before from")
	}
	return c.fetch(ctx, func(token string) string {
		return fmt.Sprintf("%s/periods/%s/%s/%s/transactions.json",
			c.baseURL, token, from.Format(dateLayout), to.Format(dateLayout))
	})
}

func (c *Client) fetch(ctx context.Context, urlFor func(token string) string) ([]Transaction, error) {
	if c.token == "" || c.token == config.PlaceholderLedgerToken {
		return nil, apperrors.NewConfigurationError("ledger API token is not configured")
	}

	body, _, err := c.http.GetBytes(ctx, urlFor(c.token))
	if err != nil {
		return nil, apperrors.NewLedgerFetchFailedError(c.redact(err))
	}

	txs, err := decodeStatement(body)
	if err != nil {
		return nil, apperrors.NewLedgerFetchFailedError(err)
	}
	return txs, nil
}

// redact strips the token from transport errors, which carry the request URL.
func (c *Client) redact(err error) error {
	var status *commonhttp.StatusError
	if errors.As(err, &status) {
		if status.StatusCode == 409 {
			return fmt.Errorf("ledger API rate limit hit (status 409)")
		}
		return fmt.Errorf("ledger API returned status %d", status.StatusCode)
	}
	return errors.New(strings.ReplaceAll(err.Error(), c.token, "***"))
}

type statement struct {
	AccountStatement struct {
		TransactionList struct {
			Transaction []map[string]*column `json:"transaction"`
		} `json:"transactionList"`
	} `json:"accountStatement"`
}

type column struct {
	Value json.RawMessage `json:"value"`
	Name  string          `json:"name"`
	ID    int             `json:"id"`
}

// Column numbers of the statement JSON.
const (
	colDate           = "column0"
	colAmount         = "column1"
	colAccount        = "column2"
	colBankCode       = "column3"
	colVS             = "column5"
	colType           = "column8"
	colSenderName     = "column10"
	colCurrency       = "column14"
	colMessage        = "column16"
	colMovementID     = "column22"
	colUserIdentifier = "column7"
)

func decodeStatement(body []byte) ([]Transaction, error) {
	var st statement
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, fmt.Errorf("decode statement: %w", err)
	}

	rows := st.AccountStatement.TransactionList.Transaction
	txs := make([]Transaction, 0, len(rows))
	for i, row := range rows {
		tx, err := toTransaction(row)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func toTransaction(row map[string]*column) (Transaction, error) {
	tx := Transaction{
		ID:             text(row, colMovementID),
		Currency:       text(row, colCurrency),
		AccountNumber:  text(row, colAccount),
		BankCode:       text(row, colBankCode),
		SenderName:     text(row, colSenderName),
		Type:           text(row, colType),
		Message:        text(row, colMessage),
		VariableSymbol: text(row, colVS),
	}
	if tx.Message == "" {
		tx.Message = text(row, colUserIdentifier)
	}
	if tx.ID == "" {
		return tx, errors.New("missing movement id")
	}

	if raw := text(row, colAmount); raw != "" {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return tx, fmt.Errorf("amount %q: %w", raw, err)
		}
		tx.Amount = amount
	}

	if raw := text(row, colDate); raw != "" {
		date, err := parseDate(raw)
		if err != nil {
			return tx, err
		}
		tx.Date = date
	}
	return tx, nil
}

// parseDate accepts "2024-03-01+0100" as well as a plain date.
func parseDate(raw string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02-0700", dateLayout} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("date %q: unrecognised format", raw)
}

// text renders a column value as a string. Numbers keep their JSON spelling.
func text(row map[string]*column, key string) string {
	col, ok := row[key]
	if !ok || col == nil || len(col.Value) == 0 || string(col.Value) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(col.Value, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(col.Value))
}
