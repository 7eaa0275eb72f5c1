package aptos

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// OctaDecimals is the fixed scale between octas and APT.
const OctaDecimals = 8

// DefaultCoinType is the fungible asset queried when no coin type is configured.
const DefaultCoinType = "0x1::aptos_coin::AptosCoin"

// Field holds a JSON value copied verbatim from an API response. The node
// encodes u64 values as strings and nested values as objects, so callers only
// ever need its text form.
type Field []byte

// UnmarshalJSON implements json.Unmarshaler.
func (f *Field) UnmarshalJSON(data []byte) error {
	*f = append((*f)[:0], data...)
	return nil
}

// Present reports whether the field was set to a non-null value.
func (f Field) Present() bool {
	trimmed := bytes.TrimSpace(f)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// Text renders the field, or fallback when it is absent or null. Strings are
// unquoted; any other JSON value is rendered compactly.
func (f Field) Text(fallback string) string {
	if !f.Present() {
		return fallback
	}
	var s string
	if err := json.Unmarshal(f, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, f); err != nil {
		return string(f)
	}
	return buf.String()
}

// Balance is a coin balance in octas.
type Balance struct {
	Address  string
	CoinType string
	Octas    decimal.Decimal
}

// APT scales the raw octa amount by 10^8.
func (b Balance) APT() decimal.Decimal {
	return b.Octas.Shift(-OctaDecimals)
}

// Transaction carries the fields of /transactions/by_hash the tools report.
type Transaction struct {
	Type      Field `json:"type"`
	Sender    Field `json:"sender"`
	Hash      Field `json:"hash"`
	Success   bool  `json:"success"`
	VMStatus  Field `json:"vm_status"`
	GasUsed   Field `json:"gas_used"`
	Version   Field `json:"version"`
	Timestamp Field `json:"timestamp"`
}

// TransactionSummary is one entry of /accounts/{address}/transaction_summaries.
type TransactionSummary struct {
	Sender          Field `json:"sender"`
	Hash            Field `json:"hash"`
	Version         Field `json:"version"`
	ReplayProtector Field `json:"replay_protector"`
}

// GasEstimate is the /estimate_gas_price response, in octas per gas unit.
type GasEstimate struct {
	Deprioritized Field `json:"deprioritized_gas_estimate"`
	Normal        Field `json:"gas_estimate"`
	Prioritized   Field `json:"prioritized_gas_estimate"`
}

// Module is one published Move module.
type Module struct {
	Bytecode string     `json:"bytecode"`
	ABI      *ModuleABI `json:"abi"`
}

// ModuleABI is the subset of the module ABI the tools read.
type ModuleABI struct {
	Address Field  `json:"address"`
	Name    string `json:"name"`
}

// Name returns the ABI name or "?" when the node omitted the ABI.
func (m Module) Name() string {
	if m.ABI == nil || m.ABI.Name == "" {
		return "?"
	}
	return m.ABI.Name
}

// APIError is returned for any non-200 answer from the node. The body is
// parsed when it follows the node's error envelope.
type APIError struct {
	StatusCode  int    `json:"-"`
	Message     string `json:"message"`
	ErrorCode   string `json:"error_code"`
	VMErrorCode *int   `json:"vm_error_code,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.ErrorCode != "" {
		return fmt.Sprintf("aptos api error (%d): %s - %s", e.StatusCode, e.ErrorCode, e.Message)
	}
	if e.Message != "" {
		return fmt.Sprintf("aptos api error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("aptos api error (%d)", e.StatusCode)
}

// StatusCode extracts the HTTP status from an error chain carrying an
// *APIError.
func StatusCode(err error) (int, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, true
	}
	return 0, false
}
