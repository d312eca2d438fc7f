package ir

import "time"

// Field names of a portfolio configuration, in hash order.
const (
	FieldStockCodes   = "stock_codes"
	FieldMemos        = "memos"
	FieldHoldings     = "holdings"
	FieldAlertPrices  = "alert_prices"
	FieldIndexCodes   = "index_codes"
	FieldPinnedStocks = "pinned_stocks"
)

// FieldNames lists the configuration fields in their fixed hash order.
// The order is part of the data_hash contract and must never change.
var FieldNames = []string{
	FieldStockCodes,
	FieldMemos,
	FieldHoldings,
	FieldAlertPrices,
	FieldIndexCodes,
	FieldPinnedStocks,
}

// ConfigFields holds the six client-owned configuration fields.
// Absent fields are represented by the empty string.
type ConfigFields struct {
	StockCodes   string `json:"stock_codes"`
	Memos        string `json:"memos"`
	Holdings     string `json:"holdings"`
	AlertPrices  string `json:"alert_prices"`
	IndexCodes   string `json:"index_codes"`
	PinnedStocks string `json:"pinned_stocks"`
}

// Values returns the fields in FieldNames order.
func (f ConfigFields) Values() []string {
	return []string{
		f.StockCodes,
		f.Memos,
		f.Holdings,
		f.AlertPrices,
		f.IndexCodes,
		f.PinnedStocks,
	}
}

// FieldsFromMap builds ConfigFields from a name->value map.
// Missing keys become empty strings.
func FieldsFromMap(m map[string]string) ConfigFields {
	return ConfigFields{
		StockCodes:   m[FieldStockCodes],
		Memos:        m[FieldMemos],
		Holdings:     m[FieldHoldings],
		AlertPrices:  m[FieldAlertPrices],
		IndexCodes:   m[FieldIndexCodes],
		PinnedStocks: m[FieldPinnedStocks],
	}
}

// ConfigRecord is the single live configuration row of an account.
type ConfigRecord struct {
	AccountID string `json:"account_id"`
	ConfigFields
	Revision   int64     `json:"revision"`
	DataHash   string    `json:"data_hash"`
	LastClient *string   `json:"last_client"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Version returns the lightweight polling view of the record.
func (r ConfigRecord) Version() VersionInfo {
	updated := r.UpdatedAt
	return VersionInfo{
		Revision:  r.Revision,
		UpdatedAt: &updated,
		DataHash:  r.DataHash,
	}
}

// VersionInfo is returned by the version polling endpoint.
// An account without a record reports revision 0 and a nil UpdatedAt.
type VersionInfo struct {
	Revision  int64      `json:"revision"`
	UpdatedAt *time.Time `json:"updated_at"`
	DataHash  string     `json:"data_hash,omitempty"`
}

// AuditAction is the kind of sync event recorded in the audit log.
type AuditAction string

const (
	AuditRead     AuditAction = "read"
	AuditWrite    AuditAction = "write"
	AuditConflict AuditAction = "conflict"
	AuditMerge    AuditAction = "merge"
)

// Valid reports whether a is one of the known audit actions.
func (a AuditAction) Valid() bool {
	switch a {
	case AuditRead, AuditWrite, AuditConflict, AuditMerge:
		return true
	}
	return false
}

// AuditEntry is one append-only audit record.
// Optional revisions and hashes are nil when the event did not carry them.
type AuditEntry struct {
	ID             string      `json:"id"`
	AccountID      string      `json:"account_id"`
	Action         AuditAction `json:"action"`
	ClientRevision *int64      `json:"client_revision"`
	ServerRevision *int64      `json:"server_revision"`
	ClientHash     *string     `json:"client_hash"`
	ServerHash     *string     `json:"server_hash"`
	Merged         bool        `json:"merged"`
	ClientInfo     string      `json:"client_info"`
	CreatedAt      time.Time   `json:"created_at"`
}
